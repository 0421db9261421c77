// Package ingest wires C2/C3/C8 (validation, deduplication, chunking) into
// C1/C4/C5 (content store, embedding, vector index): the end-to-end path a
// raw email or document takes from arrival to searchable content.
package ingest

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/banks1923/email-sync/internal/chunker"
	"github.com/banks1923/email-sync/internal/contentstore"
	"github.com/banks1923/email-sync/internal/dedup"
	"github.com/banks1923/email-sync/internal/embedding"
	"github.com/banks1923/email-sync/internal/errs"
	"github.com/banks1923/email-sync/internal/observability"
	"github.com/banks1923/email-sync/internal/validator"
	"github.com/banks1923/email-sync/internal/vectorindex"
)

// Config carries the tunable knobs the pipeline needs beyond what C2/C4/C8
// already expose through their own Config types.
type Config struct {
	Validator        validator.Config
	Chunker          chunker.Config
	EmbeddingBatch   int
	QuarantineReason string
}

// Pipeline orchestrates C2 -> C3/C8 -> C1 -> C4 -> C5 for one row or
// document at a time, per §5's transaction -> vector-call -> commit
// ordering (never holding a transaction across the vector call).
type Pipeline struct {
	logger     *observability.Logger
	cfg        Config
	content    *contentstore.ContentRepository
	embeddings *contentstore.EmbeddingRepository
	messages   *contentstore.MessageRepository
	occurs     *contentstore.OccurrenceRepository
	quarantine *contentstore.QuarantineRepository
	embedder   embedding.Embedder
	index      vectorindex.Adapter
	chunker    *chunker.Chunker
}

// New creates a Pipeline from C1's repository set plus the C4 embedder and
// C5 adapter it drives.
func New(logger *observability.Logger, cfg Config, repos *contentstore.Repositories, embedder embedding.Embedder, index vectorindex.Adapter) *Pipeline {
	return &Pipeline{
		logger:     logger,
		cfg:        cfg,
		content:    repos.Content,
		embeddings: repos.Embeddings,
		messages:   repos.Messages,
		occurs:     repos.Occurrences,
		quarantine: repos.Quarantine,
		embedder:   embedder,
		index:      index,
		chunker:    chunker.New(cfg.Chunker, nil),
	}
}

// EmailResult summarizes one email's pass through C2/C3/C1/C4/C5.
type EmailResult struct {
	Quarantined        bool
	ViolationCategories []contentstore.ViolationCategory
	MessagesCreated     int
	MessagesKnown       int
	ContentIDs          []uuid.UUID
	EmbeddingFailures   int
}

// IngestEmail validates a raw email row, quarantining it on any §4.2
// violation, otherwise splitting it into messages (C3), storing one
// Content row per newly created message (C1), and generating + upserting
// its embedding (C4/C5) with a compensating rollback on C5 failure.
func (p *Pipeline) IngestEmail(ctx context.Context, row validator.Row, hdr dedup.Headers, body string) (*EmailResult, error) {
	v := validator.Validate(row, p.cfg.Validator)
	if !v.Valid {
		snapshot, err := validator.Snapshot(row)
		if err != nil {
			return nil, fmt.Errorf("snapshot quarantined row: %w", err)
		}
		var qrows []*contentstore.QuarantineRow
		for _, cat := range v.Violations {
			qrows = append(qrows, &contentstore.QuarantineRow{OriginalRowSnapshot: snapshot, ViolationCategory: cat})
		}
		if _, err := p.quarantine.CreateBatch(ctx, p.cfg.QuarantineReason, qrows); err != nil {
			return nil, fmt.Errorf("quarantine row %s: %w", row.EmailID, err)
		}
		p.logger.Warn().Str("email_id", row.EmailID).Interface("violations", v.Violations).Msg("row quarantined")
		return &EmailResult{Quarantined: true, ViolationCategories: v.Violations}, nil
	}

	dedupResult, err := dedup.Process(ctx, p.messages, p.occurs, row.EmailID, hdr, body)
	if err != nil {
		return nil, fmt.Errorf("dedup email %s: %w", row.EmailID, err)
	}

	result := &EmailResult{MessagesCreated: dedupResult.MessagesCreated, MessagesKnown: dedupResult.MessagesKnown}

	for _, occ := range dedupResult.Occurrences {
		msg, err := p.messages.Get(ctx, occ.MessageHash)
		if err != nil {
			p.logger.Warn().Err(err).Str("message_hash", occ.MessageHash).Msg("message lookup failed after dedup")
			continue
		}
		c := &contentstore.Content{
			SourceType:        contentstore.SourceEmailMessage,
			SourceID:          row.EmailID,
			Title:             msg.Subject,
			Body:              msg.Content,
			ValidationStatus:  contentstore.ValidationValidated,
			ReadyForEmbedding: true,
		}
		if err := p.content.Add(ctx, c, contentstore.AddMerge, p.cfg.Validator.TestDataPatterns); err != nil {
			p.logger.Warn().Err(err).Str("message_hash", occ.MessageHash).Msg("content store failed for message")
			continue
		}
		result.ContentIDs = append(result.ContentIDs, c.ID)

		if err := p.embedAndIndex(ctx, c); err != nil {
			result.EmbeddingFailures++
			p.logger.Warn().Err(err).Str("content_id", c.ID.String()).Msg("embedding/index failed, content left ready_for_embedding")
		}
	}

	return result, nil
}

// DocumentResult summarizes one document's pass through C8/C1/C4/C5.
type DocumentResult struct {
	ParentContentID   uuid.UUID
	ChunksCreated     int
	ChunksSkipped     int
	EmbeddingFailures int
}

// IngestDocument stores a document's parent Content row, splits it into
// chunks (C8), and stores + embeds every chunk that clears the quality bar.
// Low-quality chunks are still stored (never silently dropped) but left
// with ready_for_embedding=false per §4.8.
func (p *Pipeline) IngestDocument(ctx context.Context, title, body string) (*DocumentResult, error) {
	sha256 := contentstore.ComputeSHA256(contentstore.SourceDocument, title, body)
	parent := &contentstore.Content{
		SourceType:        contentstore.SourceDocument,
		Title:             title,
		Body:              body,
		SHA256:            sha256,
		ReadyForEmbedding: false,
	}
	if err := p.content.Add(ctx, parent, contentstore.AddStrict, p.cfg.Validator.TestDataPatterns); err != nil {
		return nil, fmt.Errorf("store parent document: %w", err)
	}
	result := &DocumentResult{ParentContentID: parent.ID}

	chunks, err := p.chunker.Chunk(contentstore.SourceDocument, sha256, body)
	if err != nil {
		return nil, fmt.Errorf("chunk document %s: %w", parent.ID, err)
	}

	for _, chunk := range chunks {
		c := &contentstore.Content{
			SourceType:        contentstore.SourceDocumentChunk,
			SourceID:          chunk.ChunkID,
			Title:             title,
			Body:              chunk.Text,
			QualityScore:      chunk.QualityScore,
			ValidationStatus:  contentstore.ValidationValidated,
			ReadyForEmbedding: chunk.ReadyForEmbedding,
		}
		if err := p.content.Add(ctx, c, contentstore.AddStrict, p.cfg.Validator.TestDataPatterns); err != nil {
			p.logger.Warn().Err(err).Str("chunk_id", chunk.ChunkID).Msg("failed to store chunk")
			continue
		}

		if !chunk.ReadyForEmbedding {
			result.ChunksSkipped++
			continue
		}
		result.ChunksCreated++
		if err := p.embedAndIndex(ctx, c); err != nil {
			result.EmbeddingFailures++
			p.logger.Warn().Err(err).Str("chunk_id", chunk.ChunkID).Msg("embedding/index failed for chunk, left ready_for_embedding")
		}
	}

	return result, nil
}

// embedAndIndex generates an embedding for c and upserts it into C5,
// recording success via UpdateProcessingFlags. The transaction that wrote c
// has already committed by this point (§5: never hold a transaction across
// the vector call); on C5 failure the compensating action is to delete the
// C1 embedding row just written, leaving the content
// validated/ready_for_embedding=true/embedding_generated=false so a retry or
// reconcile pass re-attempts it instead of leaving an orphaned embedding row
// with no corresponding vector.
func (p *Pipeline) embedAndIndex(ctx context.Context, c *contentstore.Content) error {
	vectors, err := p.embedder.Embed(ctx, []string{c.Body})
	if err != nil {
		return &errs.ModelError{ModelName: p.embedder.Model(), Err: err}
	}
	vector := vectors[0]

	if err := p.embeddings.Put(ctx, &contentstore.Embedding{
		ContentID: c.ID,
		ModelName: p.embedder.Model(),
		Dimension: p.embedder.Dimension(),
		Vector:    vector,
	}); err != nil {
		return fmt.Errorf("persist embedding: %w", err)
	}

	payload := vectorindex.Payload{ContentID: c.ID, SourceType: string(c.SourceType)}
	if err := p.index.Upsert(ctx, c.ID, vector, payload); err != nil {
		if delErr := p.embeddings.Delete(ctx, c.ID); delErr != nil {
			p.logger.Warn().Err(delErr).Str("content_id", c.ID.String()).Msg("failed to roll back orphaned embedding row after upsert failure")
		}
		return &errs.VectorStoreError{Op: "upsert", Err: err}
	}

	if err := p.content.UpdateProcessingFlags(ctx, c.ID, c.QualityScore, true, contentstore.ValidationValidated, c.ReadyForEmbedding); err != nil {
		return fmt.Errorf("update processing flags: %w", err)
	}
	return nil
}
