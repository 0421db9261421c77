package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/banks1923/email-sync/internal/config"
	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/validator"
	"github.com/banks1923/email-sync/internal/vectorindex"
)

// rawRow is the JSON-lines shape a quarantine scan/ci-gate input file uses,
// one row per line.
type rawRow struct {
	EmailID    string    `json:"email_id"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	DateSent   time.Time `json:"date_sent"`
	SourceType string    `json:"source_type"`
}

func loadRows(path string) ([]validator.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input file: %w", err)
	}
	defer f.Close()

	var rows []validator.Row
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var raw rawRow
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("decode row: %w", err)
		}
		sourceType := contentstore.SourceEmailMessage
		if raw.SourceType != "" {
			sourceType = contentstore.SourceType(raw.SourceType)
		}
		rows = append(rows, validator.Row{
			EmailID:    raw.EmailID,
			Subject:    raw.Subject,
			Body:       raw.Body,
			DateSent:   raw.DateSent,
			SourceType: sourceType,
		})
	}
	return rows, scanner.Err()
}

func validatorConfigFrom(c *config.Config) (validator.Config, error) {
	patterns, err := c.Validator.CompiledPatterns()
	if err != nil {
		return validator.Config{}, err
	}
	return validator.Config{
		TestDataPatterns: patterns,
		MinBodyChars:     c.Validator.MinBodyChars,
		MinYear:          c.Validator.MinYear,
	}, nil
}

func newQuarantineCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quarantine",
		Short: "Validate, quarantine, and manage rejected ingest rows (C2)",
	}
	cmd.AddCommand(newQuarantineScanCmd())
	cmd.AddCommand(newQuarantineRollbackCmd())
	cmd.AddCommand(newQuarantineCIGateCmd())
	return cmd
}

func newQuarantineScanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan <input.jsonl>",
		Short: "Validate every row in a JSON-lines file, quarantining the invalid ones",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := loadRows(args[0])
			if err != nil {
				return err
			}
			vcfg, err := validatorConfigFrom(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repos := contentstore.NewRepositories(db)

			result, err := validator.QuarantineBatch(ctx, repos.Quarantine, rows, vcfg, "cli scan: "+args[0])
			if err != nil {
				return err
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(result)
			}
			ui.Section("Quarantine Scan")
			ui.KeyValue("total_rows", len(rows))
			ui.KeyValue("accepted", len(result.Accepted))
			ui.KeyValue("quarantined", result.Quarantined)
			if result.BatchID != uuid.Nil {
				ui.KeyValue("batch_id", result.BatchID.String())
			}
			for cat, n := range result.ByViolation {
				ui.KeyValue(string(cat), n)
			}
			return nil
		},
	}
	return cmd
}

func newQuarantineRollbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollback <batch-id>",
		Short: "Mark a quarantine batch rolled back and restore its rows into the content store as pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid batch id: %w", err)
			}

			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repos := contentstore.NewRepositories(db)

			restored, err := validator.RollbackBatch(ctx, repos.Quarantine, repos.Content, batchID)
			if err != nil {
				return err
			}

			index := buildIndex()
			if lister, ok := index.(vectorindex.AllIDsLister); ok {
				expected, err := repos.Embeddings.AllContentIDs(ctx)
				if err != nil {
					logger.Warn().Err(err).Msg("failed to list expected embedding ids for post-rollback parity check")
				} else if reconciled, err := vectorindex.Reconcile(ctx, lister, expected, true); err != nil {
					logger.Warn().Err(err).Msg("post-rollback vector parity check failed")
				} else {
					logger.Info().Int("delta", reconciled.Delta).Int("missing_in_index", len(reconciled.MissingInIndex)).
						Msg("post-rollback vector parity check")
				}
			}

			if outputJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(restored)
			}
			ui.Success("rolled back batch %s: %d rows restored", batchID, len(restored))
			return nil
		},
	}
	return cmd
}

func newQuarantineCIGateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ci-gate <input.jsonl>",
		Short: "Validate a dataset and exit non-zero if any CI gate fails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := loadRows(args[0])
			if err != nil {
				return err
			}
			vcfg, err := validatorConfigFrom(cfg)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := openDB(ctx)
			if err != nil {
				return err
			}
			defer db.Close()
			repos := contentstore.NewRepositories(db)

			result, err := validator.QuarantineBatch(ctx, repos.Quarantine, rows, vcfg, "ci-gate: "+args[0])
			if err != nil {
				return err
			}
			report := validator.CIGate(len(rows), result)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(report)

			if !report.Passed() {
				os.Exit(1)
			}
			return nil
		},
	}
	return cmd
}
