// Package main provides the content-intelligence-engine CLI entrypoint.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	_ "github.com/mattn/go-sqlite3"

	"github.com/banks1923/email-sync/internal/cache"
	"github.com/banks1923/email-sync/internal/config"
	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/embedding"
	"github.com/banks1923/email-sync/internal/observability"
	"github.com/banks1923/email-sync/internal/retrieval"
	"github.com/banks1923/email-sync/internal/vectorindex"
)

var (
	cfgFile    string
	outputJSON bool
	noColor    bool

	cfg    *config.Config
	logger *observability.Logger
	ui     *UI
)

var rootCmd = &cobra.Command{
	Use:   "engine-cli",
	Short: "CLI for the content intelligence engine's search, admin, and quarantine operations",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		logFormat := "console"
		if outputJSON {
			logFormat = "json"
		}
		logger = observability.NewLogger(observability.LogConfig{
			Level:       cfg.Observability.LogLevel,
			Format:      logFormat,
			ServiceName: "engine-cli",
		})
		ui = NewUI(outputJSON, noColor || !IsTerminal())
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path (default: uses env vars)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(newSearchCmd())
	rootCmd.AddCommand(newAdminCmd())
	rootCmd.AddCommand(newQuarantineCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openDB opens and migrates the relational store for the loaded config.
func openDB(ctx context.Context) (*sql.DB, error) {
	db, err := contentstore.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	migrationDir := cfg.Database.MigrationDir
	if migrationDir == "" {
		migrationDir = "internal/contentstore/migrations"
	}
	mgr := contentstore.NewMigrationManager(db, migrationDir, cfg.Database.Driver)
	status, err := mgr.Check(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("check migrations: %w", err)
	}
	if err := mgr.Run(ctx, status); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// embedder is the local superset of embedding.Embedder that also exposes
// Health, satisfied structurally by both *embedding.Client and
// *embedding.MockClient — used so C7's health check can call .Health()
// without main needing a separate adapter type.
type embedder interface {
	embedding.Embedder
	Health(ctx context.Context) embedding.HealthStatus
}

// buildEmbedder constructs C4's embedder, falling back to the deterministic
// mock backend under TEST_MODE/SKIP_MODEL_LOAD.
func buildEmbedder() embedder {
	if cfg.Mode.Mock() {
		return embedding.NewMockClient(cfg.Embedding.Dimension)
	}
	client, err := embedding.NewClient(embedding.Config{
		APIKey:    os.Getenv("OPENROUTER_API_KEY"),
		Model:     cfg.Embedding.ModelName,
		Dimension: cfg.Embedding.Dimension,
		Device:    cfg.Embedding.Device,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to build embedding client, falling back to mock")
		return embedding.NewMockClient(cfg.Embedding.Dimension)
	}
	return client
}

// buildIndex constructs C5's vector adapter, using the in-memory index under
// TEST_MODE/SKIP_MODEL_LOAD and honoring QDRANT_DISABLED otherwise, and
// wraps it so repeated Available() probes within a short window (every
// semantic/hybrid query, every health check) reuse one result instead of
// re-dialing Qdrant each time.
func buildIndex() vectorindex.Adapter {
	if cfg.Mode.Mock() {
		return vectorindex.NewMemoryAdapter()
	}
	adapter, err := vectorindex.NewQdrantAdapter(vectorindex.QdrantConfig{
		URL:            cfg.Vector.URL,
		CollectionName: cfg.Vector.CollectionName,
		Dimension:      cfg.Embedding.Dimension,
		APIKey:         cfg.Vector.APIKey,
		Disabled:       cfg.Mode.QdrantDisabled,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to build qdrant adapter, falling back to in-memory index")
		return vectorindex.NewMemoryAdapter()
	}
	return vectorindex.NewCachedAvailability(adapter, buildCache(), 2*time.Second)
}

// buildCache constructs the ambient response-cache backend.
func buildCache() cache.Client {
	if cfg.Cache.Driver != "redis" {
		return cache.NewMemoryClient(10000)
	}
	client, err := cache.NewRedisClient(cache.RedisConfig{Addr: cfg.Cache.Addr, Prefix: "engine:"})
	if err != nil {
		logger.Warn().Err(err).Msg("failed to connect to redis, falling back to in-memory cache")
		return cache.NewMemoryClient(10000)
	}
	return client
}

// buildEngine wires C6 from the config-driven C1/C4/C5 + cache collaborators.
func buildEngine(repos *contentstore.Repositories) *retrieval.Engine {
	respCache := retrieval.NewResponseCache(buildCache(), logger, retrieval.DefaultResponseCacheConfig())
	return retrieval.New(repos.Content, buildEmbedder(), buildIndex(), respCache, cfg.Retrieval, logger)
}
