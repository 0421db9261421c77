package contentstore

import (
	"context"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/errs"
)

// EntityRepository persists extracted entity spans against a content row.
// Extraction itself is an out-of-scope collaborator; this repository only
// stores and lists what it is given.
type EntityRepository struct {
	db DB
}

// NewEntityRepository creates a new entity repository.
func NewEntityRepository(db DB) *EntityRepository {
	return &EntityRepository{db: db}
}

// Put inserts an entity row.
func (r *EntityRepository) Put(ctx context.Context, e *Entity) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO entities (id, content_id, entity_type, entity_value, confidence, span_start, span_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query, e.ID, e.ContentID, e.EntityType, e.EntityValue, e.Confidence, e.SpanStart, e.SpanEnd)
	if err != nil {
		return &errs.StorageError{Op: "entity.put", Transient: isTransient(err), Err: err}
	}
	return nil
}

// ByContentID lists every entity recorded against a content row.
func (r *EntityRepository) ByContentID(ctx context.Context, contentID uuid.UUID) ([]*Entity, error) {
	query := `
		SELECT id, content_id, entity_type, entity_value, confidence, span_start, span_end
		FROM entities WHERE content_id = $1 ORDER BY span_start
	`
	rows, err := r.db.QueryContext(ctx, query, contentID)
	if err != nil {
		return nil, &errs.StorageError{Op: "entity.by_content", Transient: isTransient(err), Err: err}
	}
	defer rows.Close()

	var out []*Entity
	for rows.Next() {
		e := &Entity{}
		if err := rows.Scan(&e.ID, &e.ContentID, &e.EntityType, &e.EntityValue, &e.Confidence, &e.SpanStart, &e.SpanEnd); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
