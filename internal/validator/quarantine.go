package validator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/contentstore"
)

// BatchResult is the outcome of running a batch of rows through
// QuarantineBatch: how many passed straight through and how many were
// quarantined, by violation category.
type BatchResult struct {
	BatchID     uuid.UUID
	Accepted    []Row
	Quarantined int
	ByViolation map[contentstore.ViolationCategory]int
	StartedAt   time.Time
	Duration    time.Duration
}

// QuarantineBatch validates every row, storing the invalid ones as a single
// atomic quarantine batch and returning the rows that may proceed (§4.2).
func QuarantineBatch(ctx context.Context, repo *contentstore.QuarantineRepository, rows []Row, cfg Config, description string) (*BatchResult, error) {
	started := time.Now()
	result := &BatchResult{ByViolation: make(map[contentstore.ViolationCategory]int)}

	var quarantineRows []*contentstore.QuarantineRow
	for _, row := range rows {
		v := Validate(row, cfg)
		if v.Valid {
			result.Accepted = append(result.Accepted, row)
			continue
		}
		snapshot, err := Snapshot(row)
		if err != nil {
			return nil, fmt.Errorf("snapshot row %s: %w", row.EmailID, err)
		}
		// A row can trigger several violations at once; the batch records
		// one quarantine row per violation so ci_gate can count by category.
		for _, cat := range v.Violations {
			quarantineRows = append(quarantineRows, &contentstore.QuarantineRow{
				OriginalRowSnapshot: snapshot,
				ViolationCategory:   cat,
			})
			result.ByViolation[cat]++
		}
		result.Quarantined++
	}

	if len(quarantineRows) > 0 {
		batch, err := repo.CreateBatch(ctx, description, quarantineRows)
		if err != nil {
			return nil, err
		}
		result.BatchID = batch.BatchID
	}
	result.StartedAt = started
	result.Duration = time.Since(started)
	return result, nil
}

// RollbackBatch marks a batch rolled back and restores its quarantined rows
// as Content rows with their original sha256 and validation_status=pending
// (§4.2, §8: "corresponding Content is restored with original sha256 and
// validation_status=pending"), so they re-enter the normal C2/C8 pipeline on
// the next validation pass rather than merely being handed back as JSON.
// Callers that also run C5 should follow a successful rollback with a
// vectorindex.Reconcile pass against the restored ids, per §4.2's "also
// triggers vector parity check to re-enqueue embeddings".
func RollbackBatch(ctx context.Context, repo *contentstore.QuarantineRepository, content *contentstore.ContentRepository, batchID uuid.UUID) ([]*contentstore.Content, error) {
	quarantineRows, err := repo.Rows(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if err := repo.MarkRolledBack(ctx, batchID); err != nil {
		return nil, err
	}

	var restored []*contentstore.Content
	for _, qr := range quarantineRows {
		var snap struct {
			EmailID    string    `json:"email_id"`
			Subject    string    `json:"subject"`
			Body       string    `json:"body"`
			DateSent   time.Time `json:"date_sent"`
			SourceType string    `json:"source_type"`
		}
		if err := json.Unmarshal(qr.OriginalRowSnapshot, &snap); err != nil {
			return nil, fmt.Errorf("decode quarantine row %s: %w", qr.ID, err)
		}

		sourceType := contentstore.SourceType(snap.SourceType)
		c := &contentstore.Content{
			SourceType:       sourceType,
			SourceID:         snap.EmailID,
			Title:            snap.Subject,
			Body:             snap.Body,
			SHA256:           contentstore.ComputeSHA256(sourceType, snap.Subject, snap.Body),
			ValidationStatus: contentstore.ValidationPending,
		}
		// AddMerge: a row with several violations has one quarantine row per
		// violation, all with the same snapshot; the later ones update the
		// already-restored Content row in place instead of failing as a duplicate.
		if err := content.Add(ctx, c, contentstore.AddMerge, nil); err != nil {
			return nil, fmt.Errorf("restore content for quarantine row %s: %w", qr.ID, err)
		}
		restored = append(restored, c)
	}
	return restored, nil
}

// Report is the JSON shape CIGate emits for CI consumption.
type Report struct {
	Timestamp  time.Time                                `json:"ts"`
	Regex      string                                    `json:"regex"`
	DatasetScan DatasetScanReport                         `json:"dataset_scan"`
	Actions    []string                                   `json:"actions"`
	CIGates    map[string]bool                             `json:"ci_gates"`
	Notes      []string                                   `json:"notes"`
}

// DatasetScanReport summarizes one validation pass over a dataset.
type DatasetScanReport struct {
	TotalRows   int                                       `json:"total_rows"`
	Accepted    int                                       `json:"accepted"`
	Quarantined int                                       `json:"quarantined"`
	ByViolation map[contentstore.ViolationCategory]int     `json:"by_violation"`
}

// CIGate evaluates a BatchResult against a pass/fail policy and builds the
// JSON report a CI job can gate on. Per §4.2 ("ci_gate() → exit 0|1:
// non-zero iff any row fails current rules"), the gate fails whenever any
// row was quarantined under any violation category, not just a hand-picked
// subset; per-category gates are still reported individually so a CI job can
// see which rule tripped.
func CIGate(totalRows int, result *BatchResult) Report {
	gates := map[string]bool{
		"no_quarantined_rows": result.Quarantined == 0,
	}
	for cat, n := range result.ByViolation {
		gates["no_"+strings.ToLower(string(cat))] = n == 0
	}

	var notes []string
	if result.Quarantined > 0 {
		notes = append(notes, fmt.Sprintf("quarantined %d of %d rows into batch %s", result.Quarantined, totalRows, result.BatchID))
	}

	return Report{
		Timestamp: time.Now(),
		Regex:     emailIDPattern.String(),
		DatasetScan: DatasetScanReport{
			TotalRows:   totalRows,
			Accepted:    len(result.Accepted),
			Quarantined: result.Quarantined,
			ByViolation: result.ByViolation,
		},
		Actions: []string{"validate", "quarantine"},
		CIGates: gates,
		Notes:   notes,
	}
}

// Passed reports whether every CI gate in the report passed.
func (r Report) Passed() bool {
	for _, ok := range r.CIGates {
		if !ok {
			return false
		}
	}
	return true
}
