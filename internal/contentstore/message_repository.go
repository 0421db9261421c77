package contentstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/errs"
)

// MessageRepository persists the IndividualMessage rows C3 produces, keyed
// by message_hash so repeated occurrences of the same message collapse.
type MessageRepository struct {
	db DB
}

// NewMessageRepository creates a new message repository.
func NewMessageRepository(db DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// Upsert inserts a new IndividualMessage or is a no-op if the message_hash
// already exists, per C3's "one Content per unique hash" rule.
func (r *MessageRepository) Upsert(ctx context.Context, m *IndividualMessage) (created bool, err error) {
	existing, err := r.Get(ctx, m.MessageHash)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	recipients, err := json.Marshal(m.Recipients)
	if err != nil {
		return false, err
	}
	now := time.Now()
	m.CreatedAt = now
	m.UpdatedAt = now

	query := `
		INSERT INTO individual_messages (message_hash, content, subject, sender_email, recipients,
			date_sent, message_id, thread_id, content_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = r.db.ExecContext(ctx, query,
		m.MessageHash, m.Content, m.Subject, m.SenderEmail, recipients,
		m.DateSent, m.MessageID, m.ThreadID, m.ContentType, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return false, &errs.StorageError{Op: "message.upsert", Transient: isTransient(err), Err: err}
	}
	return true, nil
}

// Get retrieves an IndividualMessage by message_hash.
func (r *MessageRepository) Get(ctx context.Context, messageHash string) (*IndividualMessage, error) {
	query := `
		SELECT message_hash, content, subject, sender_email, recipients, date_sent, message_id,
			thread_id, content_type, created_at, updated_at
		FROM individual_messages WHERE message_hash = $1
	`
	row := r.db.QueryRowContext(ctx, query, messageHash)
	m := &IndividualMessage{}
	var recipients []byte
	var messageID sql.NullString
	err := row.Scan(
		&m.MessageHash, &m.Content, &m.Subject, &m.SenderEmail, &recipients, &m.DateSent,
		&messageID, &m.ThreadID, &m.ContentType, &m.CreatedAt, &m.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if messageID.Valid {
		m.MessageID = &messageID.String
	}
	if len(recipients) > 0 {
		if err := json.Unmarshal(recipients, &m.Recipients); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// OccurrenceRepository persists the audit trail linking a message_hash to
// every email it appeared in (§4.3, C3 occurrence emission).
type OccurrenceRepository struct {
	db DB
}

// NewOccurrenceRepository creates a new occurrence repository.
func NewOccurrenceRepository(db DB) *OccurrenceRepository {
	return &OccurrenceRepository{db: db}
}

// Append records one occurrence of a message within an email.
func (r *OccurrenceRepository) Append(ctx context.Context, o *MessageOccurrence) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	o.CreatedAt = time.Now()
	query := `
		INSERT INTO message_occurrences (id, message_hash, email_id, position_in_email, context_type,
			quote_depth, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := r.db.ExecContext(ctx, query,
		o.ID, o.MessageHash, o.EmailID, o.PositionInEmail, o.ContextType, o.QuoteDepth, o.CreatedAt,
	)
	if err != nil {
		return &errs.StorageError{Op: "occurrence.append", Transient: isTransient(err), Err: err}
	}
	return nil
}

// ByMessageHash lists every recorded occurrence of a message, ordered by
// email then position, for audit/explainability use.
func (r *OccurrenceRepository) ByMessageHash(ctx context.Context, messageHash string) ([]*MessageOccurrence, error) {
	query := `
		SELECT id, message_hash, email_id, position_in_email, context_type, quote_depth, created_at
		FROM message_occurrences WHERE message_hash = $1
		ORDER BY email_id, position_in_email
	`
	rows, err := r.db.QueryContext(ctx, query, messageHash)
	if err != nil {
		return nil, &errs.StorageError{Op: "occurrence.by_hash", Transient: isTransient(err), Err: err}
	}
	defer rows.Close()

	var out []*MessageOccurrence
	for rows.Next() {
		o := &MessageOccurrence{}
		if err := rows.Scan(&o.ID, &o.MessageHash, &o.EmailID, &o.PositionInEmail, &o.ContextType, &o.QuoteDepth, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
