package contentstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/errs"
)

// EmbeddingRepository persists one dense vector per content row.
type EmbeddingRepository struct {
	db DB
}

// NewEmbeddingRepository creates a new embedding repository.
func NewEmbeddingRepository(db DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

// Put stores or replaces the embedding for a content row.
func (r *EmbeddingRepository) Put(ctx context.Context, e *Embedding) error {
	e.CreatedAt = time.Now()
	blob := float32SliceToBlob(e.Vector)

	query := `
		INSERT INTO embeddings (content_id, model_name, dimension, vector, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_id) DO UPDATE SET
			model_name = excluded.model_name, dimension = excluded.dimension,
			vector = excluded.vector, created_at = excluded.created_at
	`
	if _, err := r.db.ExecContext(ctx, query, e.ContentID, e.ModelName, e.Dimension, blob, e.CreatedAt); err != nil {
		return &errs.StorageError{Op: "embedding.put", Transient: isTransient(err), Err: err}
	}
	return nil
}

// Delete removes the embedding for a content row, the compensating action
// when a C5 vector upsert fails after the C1 embedding row was already
// written (§5's "on failure of C5 the C1 embedding row is rolled back").
func (r *EmbeddingRepository) Delete(ctx context.Context, contentID uuid.UUID) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM embeddings WHERE content_id = $1", contentID); err != nil {
		return &errs.StorageError{Op: "embedding.delete", Transient: isTransient(err), Err: err}
	}
	return nil
}

// Get retrieves the embedding for a content row.
func (r *EmbeddingRepository) Get(ctx context.Context, contentID uuid.UUID) (*Embedding, error) {
	query := `SELECT content_id, model_name, dimension, vector, created_at FROM embeddings WHERE content_id = $1`
	row := r.db.QueryRowContext(ctx, query, contentID)

	e := &Embedding{}
	var blob []byte
	err := row.Scan(&e.ContentID, &e.ModelName, &e.Dimension, &blob, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	e.Vector = blobToFloat32Slice(blob)
	return e, nil
}

// AllContentIDs lists every content id that has a stored embedding, used by
// C5's reconcile(expected_ids) to compare against the vector index.
func (r *EmbeddingRepository) AllContentIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT content_id FROM embeddings")
	if err != nil {
		return nil, &errs.StorageError{Op: "embedding.all_ids", Transient: isTransient(err), Err: err}
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// float32SliceToBlob packs a vector as little-endian float32 bytes, the
// same binary layout blobToFloat32Slice falls back to when parsed as JSON
// fails — kept as the primary format here since it is far more compact.
func float32SliceToBlob(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(f))
	}
	return buf
}

// blobToFloat32Slice converts a stored BLOB back to []float32, accepting
// either the binary layout Put writes or a JSON array (for rows imported
// from a JSON-based fixture).
func blobToFloat32Slice(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	if looksLikeJSON(blob) {
		var floats64 []float64
		if err := json.Unmarshal(blob, &floats64); err == nil {
			floats := make([]float32, len(floats64))
			for i, f := range floats64 {
				floats[i] = float32(f)
			}
			return floats
		}
	}
	if len(blob)%4 == 0 {
		floats := make([]float32, len(blob)/4)
		for i := range floats {
			bits := binary.LittleEndian.Uint32(blob[i*4 : (i+1)*4])
			floats[i] = math.Float32frombits(bits)
		}
		return floats
	}
	return nil
}

func looksLikeJSON(blob []byte) bool {
	for _, b := range blob {
		if b == ' ' || b == '\t' || b == '\n' {
			continue
		}
		return b == '['
	}
	return false
}
