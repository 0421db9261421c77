// Package contentstore provides the unified content store (C1): durable
// relational storage of content rows, messages, embeddings, entities, and
// quarantine, with the invariants from the data model enforced at the
// repository layer rather than left to callers.
package contentstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SourceType enumerates the kinds of unified content rows.
type SourceType string

const (
	SourceEmailMessage  SourceType = "email_message"
	SourceEmailSummary  SourceType = "email_summary"
	SourceDocument      SourceType = "document"
	SourceDocumentChunk SourceType = "document_chunk"
)

// ValidationStatus is the Content.validation_status state machine value.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationFailed    ValidationStatus = "failed"
)

// ContentType classifies an IndividualMessage's relationship to its thread.
type ContentType string

const (
	ContentTypeOriginal ContentType = "original"
	ContentTypeReply    ContentType = "reply"
	ContentTypeForward  ContentType = "forward"
)

// OccurrenceContext classifies where a MessageOccurrence appeared.
type OccurrenceContext string

const (
	OccurrenceOriginal  OccurrenceContext = "original"
	OccurrenceQuoted    OccurrenceContext = "quoted"
	OccurrenceForwarded OccurrenceContext = "forwarded"
)

// EntityType enumerates the entity kinds C1 can hold (populated by the
// out-of-scope entity extraction collaborator; C1 only stores them).
type EntityType string

const (
	EntityPerson        EntityType = "PERSON"
	EntityOrg           EntityType = "ORG"
	EntityDate          EntityType = "DATE"
	EntityCourt         EntityType = "COURT"
	EntityStatute       EntityType = "STATUTE"
	EntityMoney         EntityType = "MONEY"
	EntityLegalConcept  EntityType = "LEGAL_CONCEPT"
)

// Content is the unified record described in §3.
type Content struct {
	ID                 uuid.UUID
	SourceType         SourceType
	SourceID           string
	Title              string
	Body               string
	SubstantiveText    *string
	SHA256             string
	QualityScore       float64
	EmbeddingGenerated bool
	ValidationStatus   ValidationStatus
	ReadyForEmbedding  bool
	Metadata           json.RawMessage
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// IndividualMessage is keyed by message_hash, the SHA256 of normalized
// message text + sender + date.
type IndividualMessage struct {
	MessageHash string
	Content     string
	Subject     string
	SenderEmail string
	Recipients  []string
	DateSent    time.Time
	MessageID   *string
	ThreadID    string
	ContentType ContentType
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// MessageOccurrence is an audit row linking a message_hash to one
// appearance within a larger email.
type MessageOccurrence struct {
	ID              uuid.UUID
	MessageHash     string
	EmailID         string
	PositionInEmail int
	ContextType     OccurrenceContext
	QuoteDepth      int
	CreatedAt       time.Time
}

// Embedding stores a dense vector for a Content row, one-to-one.
type Embedding struct {
	ContentID uuid.UUID
	ModelName string
	Dimension int
	Vector    []float32
	CreatedAt time.Time
}

// Entity is an extracted span of interest within a Content body.
type Entity struct {
	ID         uuid.UUID
	ContentID  uuid.UUID
	EntityType EntityType
	EntityValue string
	Confidence float64
	SpanStart  int
	SpanEnd    int
}

// QuarantineBatch groups QuarantineRows created atomically by one
// ingestion batch.
type QuarantineBatch struct {
	BatchID      uuid.UUID
	CreatedAt    time.Time
	RolledBackAt *time.Time
	Count        int
	Description  string
}

// ViolationCategory enumerates §4.2 quarantine reasons.
type ViolationCategory string

const (
	ViolationBadID            ViolationCategory = "BAD_ID"
	ViolationNoSubject        ViolationCategory = "NO_SUBJECT"
	ViolationWhitespaceBody   ViolationCategory = "WHITESPACE_BODY"
	ViolationTinyBody         ViolationCategory = "TINY_BODY"
	ViolationOutOfRangeDate   ViolationCategory = "OUT_OF_RANGE_DATE"
	ViolationDuplicate        ViolationCategory = "DUPLICATE"
	ViolationTestDataBlocked  ViolationCategory = "TEST_DATA_BLOCKED"
)

// QuarantineRow holds the original row snapshot for an invalid ingest row.
type QuarantineRow struct {
	ID                   uuid.UUID
	OriginalRowSnapshot  json.RawMessage
	BatchID              uuid.UUID
	ViolationCategory    ViolationCategory
	CreatedAt            time.Time
}

// ContentStats is the result of get_content_stats.
type ContentStats struct {
	Total           int
	BySourceType    map[SourceType]int
	EmbeddingsCount int
	ValidatedCount  int
}

// Filters narrows search_content and the literal-search path (§4.6.1/4.6.3).
type Filters struct {
	DateFrom    *time.Time
	DateTo      *time.Time
	SourceTypes []SourceType
	Tags        []string
	TagLogic    TagLogic
}

// TagLogic selects ANY/ALL matching semantics for Filters.Tags.
type TagLogic string

const (
	TagLogicAny TagLogic = "ANY"
	TagLogicAll TagLogic = "ALL"
)
