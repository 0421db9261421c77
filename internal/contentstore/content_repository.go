package contentstore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/errs"
)

// AddMode selects add_content's conflict behavior when a sha256 collision
// is found (§4.1).
type AddMode string

const (
	// AddStrict rejects a duplicate sha256 with DuplicateContentError.
	AddStrict AddMode = "strict"
	// AddMerge updates the existing row in place instead of rejecting it.
	AddMerge AddMode = "merge"
)

// ContentRepository implements the C1 content-row operations.
type ContentRepository struct {
	db DB
}

// NewContentRepository creates a new content repository.
func NewContentRepository(db DB) *ContentRepository {
	return &ContentRepository{db: db}
}

// ComputeSHA256 hashes title+body+source_type the way add_content expects
// callers to derive Content.SHA256 before calling Add.
func ComputeSHA256(sourceType SourceType, title, body string) string {
	h := sha256.New()
	h.Write([]byte(string(sourceType)))
	h.Write([]byte{0})
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// Add inserts a Content row, enforcing the test-data blocklist and the
// sha256 dedup policy selected by mode. testDataPatterns is the compiled
// validator blocklist (config.ValidatorConfig.CompiledPatterns).
func (r *ContentRepository) Add(ctx context.Context, c *Content, mode AddMode, testDataPatterns []*regexp.Regexp) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.SHA256 == "" {
		c.SHA256 = ComputeSHA256(c.SourceType, c.Title, c.Body)
	}
	now := time.Now()
	c.CreatedAt = now
	c.UpdatedAt = now
	if c.ValidationStatus == "" {
		c.ValidationStatus = ValidationPending
	}
	if c.Metadata == nil {
		c.Metadata = json.RawMessage("{}")
	}

	for _, pat := range testDataPatterns {
		if pat.MatchString(c.Title) || pat.MatchString(c.Body) {
			return &errs.TestDataBlockedException{
				Title:      c.Title,
				SourceType: string(c.SourceType),
				Pattern:    pat.String(),
			}
		}
	}

	existing, err := r.GetBySHA256(ctx, c.SHA256)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("lookup existing content by sha256: %w", err)
	}
	if existing != nil {
		if mode == AddStrict {
			return &errs.DuplicateContentError{SHA256: c.SHA256, ExistingID: existing.ID.String()}
		}
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		return r.update(ctx, c)
	}

	query := `
		INSERT INTO content (id, source_type, source_id, title, body, substantive_text, sha256,
			quality_score, embedding_generated, validation_status, ready_for_embedding, metadata,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`
	_, err = r.db.ExecContext(ctx, query,
		c.ID, c.SourceType, c.SourceID, c.Title, c.Body, c.SubstantiveText, c.SHA256,
		c.QualityScore, c.EmbeddingGenerated, c.ValidationStatus, c.ReadyForEmbedding, c.Metadata,
		c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return &errs.StorageError{Op: "content.add", Transient: isTransient(err), Err: err}
	}
	return nil
}

func (r *ContentRepository) update(ctx context.Context, c *Content) error {
	c.UpdatedAt = time.Now()
	query := `
		UPDATE content SET source_id = $1, title = $2, body = $3, substantive_text = $4,
			quality_score = $5, embedding_generated = $6, validation_status = $7,
			ready_for_embedding = $8, metadata = $9, updated_at = $10
		WHERE id = $11
	`
	_, err := r.db.ExecContext(ctx, query,
		c.SourceID, c.Title, c.Body, c.SubstantiveText, c.QualityScore, c.EmbeddingGenerated,
		c.ValidationStatus, c.ReadyForEmbedding, c.Metadata, c.UpdatedAt, c.ID,
	)
	if err != nil {
		return &errs.StorageError{Op: "content.update", Transient: isTransient(err), Err: err}
	}
	return nil
}

// GetByID retrieves a content row by id.
func (r *ContentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Content, error) {
	query := `
		SELECT id, source_type, source_id, title, body, substantive_text, sha256, quality_score,
			embedding_generated, validation_status, ready_for_embedding, metadata, created_at, updated_at
		FROM content WHERE id = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// GetBySHA256 retrieves a content row by its sha256, or ErrNotFound.
func (r *ContentRepository) GetBySHA256(ctx context.Context, sha string) (*Content, error) {
	query := `
		SELECT id, source_type, source_id, title, body, substantive_text, sha256, quality_score,
			embedding_generated, validation_status, ready_for_embedding, metadata, created_at, updated_at
		FROM content WHERE sha256 = $1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query, sha))
}

func (r *ContentRepository) scanOne(row *sql.Row) (*Content, error) {
	c := &Content{}
	var substantive sql.NullString
	err := row.Scan(
		&c.ID, &c.SourceType, &c.SourceID, &c.Title, &c.Body, &substantive, &c.SHA256,
		&c.QualityScore, &c.EmbeddingGenerated, &c.ValidationStatus, &c.ReadyForEmbedding,
		&c.Metadata, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if substantive.Valid {
		c.SubstantiveText = &substantive.String
	}
	return c, nil
}

// Search implements search_content: a case-insensitive substring match over
// title/body/substantive_text, ordered (updated_at DESC, id DESC), with
// filters applied (§4.1, §4.6.3). By default embeddable-chunk listings
// exclude the raw email source types as a defense-in-depth measure against
// accidentally re-embedding email bodies that C3 already normalized.
func (r *ContentRepository) Search(ctx context.Context, queryText string, f Filters, excludeEmailSourceTypes bool, limit, offset int) ([]*Content, error) {
	var clauses []string
	var args []interface{}
	argN := 1

	if queryText != "" {
		clauses = append(clauses, fmt.Sprintf(
			"(title LIKE $%d OR body LIKE $%d OR substantive_text LIKE $%d)", argN, argN+1, argN+2))
		like := "%" + escapeLike(queryText) + "%"
		args = append(args, like, like, like)
		argN += 3
	}
	if f.DateFrom != nil {
		clauses = append(clauses, fmt.Sprintf("created_at >= $%d", argN))
		args = append(args, *f.DateFrom)
		argN++
	}
	if f.DateTo != nil {
		clauses = append(clauses, fmt.Sprintf("created_at <= $%d", argN))
		args = append(args, *f.DateTo)
		argN++
	}
	if len(f.SourceTypes) > 0 {
		placeholders := make([]string, len(f.SourceTypes))
		for i, st := range f.SourceTypes {
			placeholders[i] = fmt.Sprintf("$%d", argN)
			args = append(args, st)
			argN++
		}
		clauses = append(clauses, fmt.Sprintf("source_type IN (%s)", strings.Join(placeholders, ", ")))
	} else if excludeEmailSourceTypes {
		clauses = append(clauses, fmt.Sprintf("source_type NOT IN ($%d, $%d)", argN, argN+1))
		args = append(args, SourceEmailMessage, SourceEmailSummary)
		argN += 2
	}

	query := `
		SELECT id, source_type, source_id, title, body, substantive_text, sha256, quality_score,
			embedding_generated, validation_status, ready_for_embedding, metadata, created_at, updated_at
		FROM content
	`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d OFFSET $%d", argN, argN+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &errs.StorageError{Op: "content.search", Transient: isTransient(err), Err: err}
	}
	defer rows.Close()

	var results []*Content
	for rows.Next() {
		c := &Content{}
		var substantive sql.NullString
		if err := rows.Scan(
			&c.ID, &c.SourceType, &c.SourceID, &c.Title, &c.Body, &substantive, &c.SHA256,
			&c.QualityScore, &c.EmbeddingGenerated, &c.ValidationStatus, &c.ReadyForEmbedding,
			&c.Metadata, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if substantive.Valid {
			c.SubstantiveText = &substantive.String
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// Stats implements get_content_stats.
func (r *ContentRepository) Stats(ctx context.Context) (*ContentStats, error) {
	stats := &ContentStats{BySourceType: make(map[SourceType]int)}

	rows, err := r.db.QueryContext(ctx, "SELECT source_type, COUNT(*) FROM content GROUP BY source_type")
	if err != nil {
		return nil, &errs.StorageError{Op: "content.stats", Transient: isTransient(err), Err: err}
	}
	defer rows.Close()
	for rows.Next() {
		var st SourceType
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		stats.BySourceType[st] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&stats.EmbeddingsCount); err != nil {
		return nil, err
	}
	if err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM content WHERE validation_status = $1", ValidationValidated,
	).Scan(&stats.ValidatedCount); err != nil {
		return nil, err
	}
	return stats, nil
}

// UpdateProcessingFlags updates quality_score/embedding_generated/
// validation_status/ready_for_embedding without touching the row's content.
func (r *ContentRepository) UpdateProcessingFlags(ctx context.Context, id uuid.UUID, qualityScore float64, embeddingGenerated bool, status ValidationStatus, readyForEmbedding bool) error {
	query := `
		UPDATE content SET quality_score = $1, embedding_generated = $2, validation_status = $3,
			ready_for_embedding = $4, updated_at = $5
		WHERE id = $6
	`
	result, err := r.db.ExecContext(ctx, query, qualityScore, embeddingGenerated, status, readyForEmbedding, time.Now(), id)
	if err != nil {
		return &errs.StorageError{Op: "content.update_flags", Transient: isTransient(err), Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes a content row; embeddings/entities cascade via the schema's
// ON DELETE CASCADE foreign keys.
func (r *ContentRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM content WHERE id = $1", id)
	if err != nil {
		return &errs.StorageError{Op: "content.delete", Transient: isTransient(err), Err: err}
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "too many connections")
}
