package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/retrieval"
)

func newSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Query content via semantic, literal, or hybrid retrieval",
	}
	cmd.AddCommand(newSearchSemanticCmd())
	cmd.AddCommand(newSearchLiteralCmd())
	cmd.AddCommand(newSearchHybridCmd())
	return cmd
}

func searchFlags(cmd *cobra.Command) (limit *int, why *bool) {
	limit = cmd.Flags().Int("limit", 20, "maximum number of results")
	why = cmd.Flags().Bool("why", false, "include match_sources/match_reasons")
	return
}

func newSearchSemanticCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "semantic <query>",
		Short: "Vector-similarity search over embedded content",
		Args:  cobra.ExactArgs(1),
	}
	limit, why := searchFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		repos := contentstore.NewRepositories(db)
		engine := buildEngine(repos)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		hits, err := engine.Semantic(ctx, args[0], *limit, retrieval.Filters{}, *why)
		if err != nil {
			return err
		}
		return printHits(hits)
	}
	return cmd
}

func newSearchLiteralCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "literal <query>",
		Short: "Exact/pattern substring search over content, ordered by recency",
		Args:  cobra.ExactArgs(1),
	}
	limit, why := searchFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		repos := contentstore.NewRepositories(db)
		engine := buildEngine(repos)

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()
		hits, err := engine.Literal(ctx, args[0], *limit, retrieval.Filters{}, nil, *why)
		if err != nil {
			return err
		}
		return printHits(hits)
	}
	return cmd
}

func newSearchHybridCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hybrid <query>",
		Short: "Reciprocal-rank-fusion merge of semantic and literal search",
		Args:  cobra.ExactArgs(1),
	}
	limit, why := searchFlags(cmd)
	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		db, err := openDB(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()
		repos := contentstore.NewRepositories(db)
		engine := buildEngine(repos)

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		hits, err := engine.Hybrid(ctx, args[0], *limit, retrieval.Filters{}, *why)
		if err != nil {
			return err
		}
		return printHits(hits)
	}
	return cmd
}

func printHits(hits []retrieval.Hit) error {
	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(hits)
	}
	if len(hits) == 0 {
		ui.Info("no results")
		return nil
	}
	rows := make([][]string, 0, len(hits))
	for _, h := range hits {
		rows = append(rows, []string{
			h.Content.ID.String(),
			h.Content.Title,
			fmt.Sprintf("%.4f", h.Score),
			fmt.Sprintf("%v", h.MatchSources),
		})
	}
	ui.Table([]string{"id", "title", "score", "sources"}, rows)
	return nil
}
