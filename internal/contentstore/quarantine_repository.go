package contentstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/errs"
)

// beginner is implemented by *sql.DB; quarantine batch creation uses it to
// write the batch header and its rows atomically when available.
type beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// QuarantineRepository persists invalid ingest rows and the batches that
// group them, per §4.2's quarantine_batch/rollback_batch operations.
type QuarantineRepository struct {
	db DB
}

// NewQuarantineRepository creates a new quarantine repository.
func NewQuarantineRepository(db DB) *QuarantineRepository {
	return &QuarantineRepository{db: db}
}

// CreateBatch writes a QuarantineBatch header and its rows as one unit. If
// the underlying DB supports transactions it does so atomically; otherwise
// it falls back to sequential inserts.
func (r *QuarantineRepository) CreateBatch(ctx context.Context, description string, rows []*QuarantineRow) (*QuarantineBatch, error) {
	batch := &QuarantineBatch{
		BatchID:     uuid.New(),
		CreatedAt:   time.Now(),
		Count:       len(rows),
		Description: description,
	}

	insertBatch := `INSERT INTO quarantine_batches (batch_id, created_at, count, description) VALUES ($1, $2, $3, $4)`
	insertRow := `INSERT INTO quarantine_rows (id, original_row_snapshot, batch_id, violation_category, created_at) VALUES ($1, $2, $3, $4, $5)`

	if b, ok := r.db.(beginner); ok {
		tx, err := b.BeginTx(ctx, nil)
		if err != nil {
			return nil, &errs.StorageError{Op: "quarantine.create_batch", Transient: isTransient(err), Err: err}
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, insertBatch, batch.BatchID, batch.CreatedAt, batch.Count, batch.Description); err != nil {
			return nil, &errs.StorageError{Op: "quarantine.create_batch", Transient: isTransient(err), Err: err}
		}
		for _, row := range rows {
			if row.ID == uuid.Nil {
				row.ID = uuid.New()
			}
			row.BatchID = batch.BatchID
			row.CreatedAt = batch.CreatedAt
			if _, err := tx.ExecContext(ctx, insertRow, row.ID, row.OriginalRowSnapshot, row.BatchID, row.ViolationCategory, row.CreatedAt); err != nil {
				return nil, &errs.StorageError{Op: "quarantine.create_batch", Transient: isTransient(err), Err: err}
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, &errs.StorageError{Op: "quarantine.create_batch", Transient: isTransient(err), Err: err}
		}
		return batch, nil
	}

	if _, err := r.db.ExecContext(ctx, insertBatch, batch.BatchID, batch.CreatedAt, batch.Count, batch.Description); err != nil {
		return nil, &errs.StorageError{Op: "quarantine.create_batch", Transient: isTransient(err), Err: err}
	}
	for _, row := range rows {
		if row.ID == uuid.Nil {
			row.ID = uuid.New()
		}
		row.BatchID = batch.BatchID
		row.CreatedAt = batch.CreatedAt
		if _, err := r.db.ExecContext(ctx, insertRow, row.ID, row.OriginalRowSnapshot, row.BatchID, row.ViolationCategory, row.CreatedAt); err != nil {
			return nil, &errs.StorageError{Op: "quarantine.create_batch", Transient: isTransient(err), Err: err}
		}
	}
	return batch, nil
}

// Rows lists the quarantined rows belonging to a batch, for rollback_batch
// to hand back to the validator for re-attempted ingestion.
func (r *QuarantineRepository) Rows(ctx context.Context, batchID uuid.UUID) ([]*QuarantineRow, error) {
	query := `
		SELECT id, original_row_snapshot, batch_id, violation_category, created_at
		FROM quarantine_rows WHERE batch_id = $1 ORDER BY created_at
	`
	rows, err := r.db.QueryContext(ctx, query, batchID)
	if err != nil {
		return nil, &errs.StorageError{Op: "quarantine.rows", Transient: isTransient(err), Err: err}
	}
	defer rows.Close()

	var out []*QuarantineRow
	for rows.Next() {
		q := &QuarantineRow{}
		if err := rows.Scan(&q.ID, &q.OriginalRowSnapshot, &q.BatchID, &q.ViolationCategory, &q.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// Batch retrieves a quarantine batch header by id.
func (r *QuarantineRepository) Batch(ctx context.Context, batchID uuid.UUID) (*QuarantineBatch, error) {
	query := `SELECT batch_id, created_at, rolled_back_at, count, description FROM quarantine_batches WHERE batch_id = $1`
	row := r.db.QueryRowContext(ctx, query, batchID)

	b := &QuarantineBatch{}
	var rolledBack sql.NullTime
	err := row.Scan(&b.BatchID, &b.CreatedAt, &rolledBack, &b.Count, &b.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if rolledBack.Valid {
		b.RolledBackAt = &rolledBack.Time
	}
	return b, nil
}

// MarkRolledBack stamps rolled_back_at on a batch so it is rolled back at
// most once: a second rollback of the same batch is rejected with ErrConflict.
func (r *QuarantineRepository) MarkRolledBack(ctx context.Context, batchID uuid.UUID) error {
	existing, err := r.Batch(ctx, batchID)
	if err != nil {
		return err
	}
	if existing.RolledBackAt != nil {
		return fmt.Errorf("%w: batch %s already rolled back", ErrConflict, batchID)
	}
	now := time.Now()
	_, err = r.db.ExecContext(ctx, "UPDATE quarantine_batches SET rolled_back_at = $1 WHERE batch_id = $2", now, batchID)
	if err != nil {
		return &errs.StorageError{Op: "quarantine.mark_rolled_back", Transient: isTransient(err), Err: err}
	}
	return nil
}
