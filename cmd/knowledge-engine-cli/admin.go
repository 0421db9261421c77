package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	stdhttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	apigrpc "github.com/banks1923/email-sync/internal/api/grpc"
	apihttp "github.com/banks1923/email-sync/internal/api/http"
	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/health"
)

func newAdminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Administrative operations",
	}
	cmd.AddCommand(newAdminHealthCmd())
	cmd.AddCommand(newAdminServeCmd())
	return cmd
}

func newAdminServeCmd() *cobra.Command {
	var addr, grpcAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve C6/C7 over HTTP, with C7 mirrored onto the standard gRPC health protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repos := contentstore.NewRepositories(db)

			agg := health.New(db, repos.Embeddings, buildEmbedder(), buildIndex(), cfg.Mode, logger)
			watcher := apigrpc.NewWatcher(agg, logger, 15*time.Second)
			go watcher.Run(ctx)

			grpcLis, err := net.Listen("tcp", grpcAddr)
			if err != nil {
				return fmt.Errorf("listen grpc: %w", err)
			}
			grpcSrv := grpc.NewServer()
			healthpb.RegisterHealthServer(grpcSrv, watcher.Server())
			go func() {
				logger.Info().Str("addr", grpcAddr).Msg("serving grpc health check")
				if err := grpcSrv.Serve(grpcLis); err != nil {
					logger.Warn().Err(err).Msg("grpc health server stopped")
				}
			}()

			httpSrv := &stdhttp.Server{
				Addr:    addr,
				Handler: apihttp.NewServer(logger, buildEngine(repos), agg, 30*time.Second),
			}
			go func() {
				<-ctx.Done()
				grpcSrv.GracefulStop()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = httpSrv.Shutdown(shutdownCtx)
			}()

			logger.Info().Str("addr", addr).Msg("serving search/health over http")
			if err := httpSrv.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
				return fmt.Errorf("serve: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().StringVar(&grpcAddr, "grpc-addr", ":9090", "gRPC health-check listen address")
	return cmd
}

func newAdminHealthCmd() *cobra.Command {
	var deep bool
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report the aggregate health of C1 (db), C4 (embedding), and C5 (vector index)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
			defer cancel()

			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repos := contentstore.NewRepositories(db)

			agg := health.New(db, repos.Embeddings, buildEmbedder(), buildIndex(), cfg.Mode, logger)
			report := agg.Check(ctx, deep)

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				_ = enc.Encode(report)
			} else {
				ui.Section("Health")
				ui.KeyValue("status", report.Status)
				for k, v := range report.Metrics {
					ui.KeyValue(k, v)
				}
				for _, hint := range report.Hints {
					ui.Warning(hint)
				}
			}

			os.Exit(health.ExitCode(report, cfg.Mode.TestMode))
			return nil
		},
	}
	cmd.Flags().BoolVar(&deep, "deep", false, "also reconcile the vector index against every expected content id")
	return cmd
}
