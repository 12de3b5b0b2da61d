package core

import (
	"encoding/binary"
	"strconv"
	"time"

	"github.com/go-crypt/x/blake2b"
)

// ID is a unique identifier for content-addressed entities such as chunks.
// It is generated using content-based hashing.
type ID uint64

// IDFromContent generates a deterministic ID from text content using BLAKE2b hashing.
// This ensures that identical content produces identical IDs.
func IDFromContent(text string) ID {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(text))
	sum := h.Sum(nil)
	return ID(binary.LittleEndian.Uint64(sum))
}

// ChunkID derives the ID of a chunk from its document and ordinal.
// The derivation is stable so re-processing a document yields the same IDs.
func ChunkID(documentID string, ordinal int) ID {
	return IDFromContent(documentID + ":" + strconv.Itoa(ordinal))
}

// SourceType identifies the kind of source a document is loaded from.
type SourceType string

const (
	// SourcePDFURL is a PDF document fetched from a URL.
	SourcePDFURL SourceType = "pdf_url"
	// SourcePlainText is raw text supplied inline as the locator.
	SourcePlainText SourceType = "plain_text"
	// SourceWebsite is an HTML page fetched from a URL.
	SourceWebsite SourceType = "website"
)

// JobStatus is the lifecycle state of an ingestion job.
type JobStatus int

const (
	// JobPending means the job has been submitted but not picked up yet.
	JobPending JobStatus = iota + 1
	// JobInProgress means a worker has claimed the job.
	JobInProgress
	// JobCompleted means the document is fully ingested and searchable.
	JobCompleted
	// JobFailed means ingestion failed; ErrorMessage holds the reason.
	JobFailed
)

// Terminal reports whether the status is final. Terminal jobs are immutable.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobStatus) String() string {
	switch s {
	case JobPending:
		return "pending"
	case JobInProgress:
		return "in_progress"
	case JobCompleted:
		return "completed"
	case JobFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// IngestionJob tracks one submission through the ingestion pipeline.
// Status transitions are monotonic: Pending -> InProgress -> Completed|Failed.
// Jobs are mutated exclusively through conditional updates in the job repository.
type IngestionJob struct {
	JobID        string
	Source       SourceType
	Locator      string
	Status       JobStatus
	DocumentID   string // set when the job completes
	ChunkCount   int
	ErrorMessage string
	CreatedAt    time.Time
	StartedAt    time.Time
	CompletedAt  time.Time
}

// Visibility is the read-visibility state of a knowledge document.
type Visibility int

const (
	// VisibilityStaging marks a document whose chunks are being written.
	// Staged documents are never returned by searches or listings.
	VisibilityStaging Visibility = iota + 1
	// VisibilityReady marks a fully written, searchable document.
	VisibilityReady
)

// KnowledgeDocument is the unit of ingestion and deletion.
// A document flips from staging to ready atomically once all of its
// chunks are durably written; readers never observe a partial chunk set.
type KnowledgeDocument struct {
	DocumentID string
	Title      string
	SourceURL  string
	ChunkCount int
	IngestedAt time.Time
	Visibility Visibility

	// Generation names the chunk set this record points at. Re-ingestion
	// writes a fresh generation and the record adopts it on flip, so the
	// prior version stays readable until then.
	Generation uint64
}

// DocumentChunk is a bounded span of a document's text plus its embedding.
// Chunks are immutable once their document is ready. Ordinal numbering is
// stable across re-processing so citations stay valid.
type DocumentChunk struct {
	ChunkID    ID
	DocumentID string
	Ordinal    int
	Text       string
	Vector     []float32
	URL        string
	Page       int // 0 when the source has no page structure
}

// TurnRole identifies the author of a conversation turn.
type TurnRole int

const (
	// TurnRoleUser represents the human asking questions.
	TurnRoleUser TurnRole = iota + 1
	// TurnRoleAssistant represents the answering engine.
	TurnRoleAssistant
)

// ConversationTurn is a single message within a session.
type ConversationTurn struct {
	Role      TurnRole
	Content   string
	Timestamp time.Time
}

// Citation points at the chunk an answer statement is grounded on.
type Citation struct {
	DocumentID string
	URL        string
	Page       int
	Ordinal    int
}

// ScoredChunk pairs a retrieved chunk with its relevance score.
type ScoredChunk struct {
	Chunk *DocumentChunk
	Score float32
}

// QueryResult is the outcome of answering one question.
// Answerable is false for the guardrail result issued when no sufficiently
// relevant context exists; in that case Citations is empty and Answer holds
// a fixed, non-generated message.
type QueryResult struct {
	Answer     string
	Citations  []Citation
	Scores     []float32
	Answerable bool
}
