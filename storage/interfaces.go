// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package storage

import (
	"context"
	"time"

	"github.com/poiesic/ragit/core"
)

// JobRepository provides operations for managing ingestion job records.
// Implementations must be thread-safe and support concurrent access.
type JobRepository interface {
	// CreateJob persists a new job record.
	// Returns ErrDuplicateKey if a job with the same ID already exists.
	CreateJob(ctx context.Context, job *core.IngestionJob) error

	// GetJob retrieves a job by ID.
	// Returns ErrNotFound if the job doesn't exist.
	GetJob(ctx context.Context, jobID string) (*core.IngestionJob, error)

	// ListJobs retrieves all job records, most recently created first.
	ListJobs(ctx context.Context) ([]*core.IngestionJob, error)

	// TransitionJob conditionally moves a job from one status to another.
	// The update is applied only if the job's current status equals `from`
	// and the transition is monotonic. Returns ErrConflict when the current
	// status differs from `from` (another worker won the race) and
	// core.ErrInvalidTransition for non-monotonic transitions.
	// mutate, if non-nil, is applied to the record inside the same
	// transaction that flips the status.
	TransitionJob(ctx context.Context, jobID string, from, to core.JobStatus, mutate func(*core.IngestionJob)) (*core.IngestionJob, error)

	// PurgeJobsBefore deletes terminal job records created before cutoff.
	// Returns the number of records removed. Retention policy only; running
	// it never touches Pending or InProgress jobs.
	PurgeJobsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Close closes the repository and releases resources.
	Close() error
}

// KnowledgeRepository provides dual-indexed (vector + keyword) storage for
// document chunks with atomic per-document visibility.
type KnowledgeRepository interface {
	// UpsertDocument writes a document and all of its chunks, then flips the
	// document to ready in a single atomic visibility operation. Readers never
	// observe a partial chunk set. Re-ingestion of the same document ID
	// serializes with itself; the last completed write wins.
	// Returns ErrDimensionMismatch if chunk vectors disagree with the
	// dimension already established in the store.
	UpsertDocument(ctx context.Context, doc *core.KnowledgeDocument, chunks []*core.DocumentChunk) error

	// DeleteDocument removes the document and all of its chunks from both
	// indices atomically. A concurrent search sees either the full chunk set
	// or none. Returns ErrNotFound if the document doesn't exist.
	DeleteDocument(ctx context.Context, documentID string) error

	// GetDocument retrieves a ready document by ID.
	// Returns ErrNotFound if the document doesn't exist or is still staging.
	GetDocument(ctx context.Context, documentID string) (*core.KnowledgeDocument, error)

	// ListDocuments retrieves all ready documents, most recently ingested first.
	ListDocuments(ctx context.Context) ([]*core.KnowledgeDocument, error)

	// ListChunks retrieves all chunks of a ready document in ordinal order.
	// Returns ErrNotFound if the document doesn't exist or is still staging.
	ListChunks(ctx context.Context, documentID string) ([]*core.DocumentChunk, error)

	// SearchVector returns up to k chunks ranked by cosine similarity
	// against the query vector, highest first.
	SearchVector(ctx context.Context, vector []float32, k int) ([]*core.ScoredChunk, error)

	// SearchKeyword returns up to k chunks ranked by lexical (BM25)
	// relevance against the query text, highest first.
	SearchKeyword(ctx context.Context, text string, k int) ([]*core.ScoredChunk, error)

	// Compact reclaims space and rebuilds index structures. Safe to run
	// concurrently with reads: the exclusive critical section is limited to
	// the final index-pointer swap.
	Compact(ctx context.Context) error

	// Close closes the repository and releases resources.
	Close() error
}

// SessionRepository provides per-session ordered, append-only conversation
// turn history with truncation support.
type SessionRepository interface {
	// AppendTurns appends turns to a session in order, creating the session
	// on first use.
	AppendTurns(ctx context.Context, sessionID string, turns ...*core.ConversationTurn) error

	// GetTurns retrieves all turns of a session, oldest first.
	// Returns an empty slice for an unknown session.
	GetTurns(ctx context.Context, sessionID string) ([]*core.ConversationTurn, error)

	// TruncateOldest drops the oldest turns of a session, keeping the most
	// recent `keep` turns.
	TruncateOldest(ctx context.Context, sessionID string, keep int) error

	// DeleteSession removes a session and all of its turns.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close closes the repository and releases resources.
	Close() error
}
