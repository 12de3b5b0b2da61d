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


package reembed

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/poiesic/ragit/ai"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/ingestion"
	"github.com/poiesic/ragit/storage"
)

// Config holds configuration for the reembedding operation.
type Config struct {
	// BatchSize is the number of chunks to embed per API call
	BatchSize int

	// ReportInterval is how often to report progress (number of chunks)
	ReportInterval int

	// MaxRetries is the maximum number of retry attempts for failed operations
	MaxRetries int

	// RetryDelay is the base delay for exponential backoff
	RetryDelay time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BatchSize:      100,
		ReportInterval: 100,
		MaxRetries:     3,
		RetryDelay:     1 * time.Second,
	}
}

// Reembedder orchestrates the reembedding of every document in a knowledge
// store.
type Reembedder struct {
	knowledge storage.KnowledgeRepository
	embedder  ai.Embedder
	config    *Config
	progress  io.Writer
}

// NewReembedder creates a new reembedder.
// progress: where to write progress output (typically os.Stderr)
func NewReembedder(knowledge storage.KnowledgeRepository, embedder ai.Embedder, config *Config, progress io.Writer) *Reembedder {
	if config == nil {
		config = DefaultConfig()
	}
	return &Reembedder{
		knowledge: knowledge,
		embedder:  embedder,
		config:    config,
		progress:  progress,
	}
}

// Run re-embeds all ready documents. Each document is rewritten through the
// store's atomic visibility flip once all of its chunks carry new vectors,
// so concurrent searches always see either the old or the new embedding
// set, never a mix.
func (r *Reembedder) Run(ctx context.Context) error {
	docs, err := r.knowledge.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("listing documents: %w", err)
	}
	if len(docs) == 0 {
		fmt.Fprintf(r.progress, "No documents found in knowledge store\n")
		return nil
	}

	totalChunks := 0
	for _, doc := range docs {
		totalChunks += doc.ChunkCount
	}

	fmt.Fprintf(r.progress, "Starting reembedding of %d documents, %d chunks (batch size: %d)\n",
		len(docs), totalChunks, r.config.BatchSize)

	tracker := NewProgressTracker(r.progress, totalChunks, r.config.ReportInterval)
	tracker.Start()

	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.reembedDocument(ctx, doc, tracker); err != nil {
			return fmt.Errorf("reembedding document %s: %w", doc.DocumentID, err)
		}
	}

	tracker.Finish()
	fmt.Fprintf(r.progress, "Reembedded %d documents in %s\n", len(docs), tracker.Elapsed().Round(time.Second))
	return nil
}

// reembedDocument reads a document's chunks back, embeds them in batches
// with retry, and rewrites the whole document.
func (r *Reembedder) reembedDocument(ctx context.Context, doc *core.KnowledgeDocument, tracker *ProgressTracker) error {
	chunks, err := r.knowledge.ListChunks(ctx, doc.DocumentID)
	if err != nil {
		return err
	}

	for start := 0; start < len(chunks); start += r.config.BatchSize {
		end := start + r.config.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		var vectors [][]float32
		err := ingestion.RetryWithBackoff(ctx, func() error {
			var embedErr error
			vectors, embedErr = r.embedder.EmbedTexts(ctx, texts)
			return embedErr
		}, r.config.MaxRetries, r.config.RetryDelay)
		if err != nil {
			return fmt.Errorf("embedding batch after %d attempts: %w", r.config.MaxRetries, err)
		}
		if len(vectors) != len(batch) {
			return fmt.Errorf("embedding count mismatch: expected %d, got %d", len(batch), len(vectors))
		}

		for i := range vectors {
			batch[i].Vector = vectors[i]
		}
		tracker.Increment(len(batch))
	}

	return r.knowledge.UpsertDocument(ctx, doc, chunks)
}
