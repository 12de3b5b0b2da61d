package ingestion

import (
	"context"
	"fmt"

	"github.com/poiesic/ragit/core"
)

// embedChunks fills in every chunk's vector. Chunks are embedded in
// batches; when a batch call fails, its members are retried individually
// with exponential backoff. Exhausting the retries fails the whole
// operation.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []*core.DocumentChunk) error {
	for start := 0; start < len(chunks); start += p.embedBatchSize {
		end := start + p.embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Text
		}

		vectors, err := p.embedder.EmbedTexts(ctx, texts)
		if err == nil {
			if len(vectors) != len(batch) {
				return fmt.Errorf("embedding result mismatch. expected %d, received %d", len(batch), len(vectors))
			}
			for i := range vectors {
				batch[i].Vector = vectors[i]
			}
			continue
		}

		p.logger.Warn("batch embedding failed, retrying chunks individually",
			"batchStart", start, "batchSize", len(batch), "err", err)

		for _, chunk := range batch {
			retryErr := RetryWithBackoff(ctx, func() error {
				vector, embedErr := p.embedder.EmbedText(ctx, chunk.Text)
				if embedErr != nil {
					return embedErr
				}
				chunk.Vector = vector
				return nil
			}, p.embedMaxAttempts, p.embedBaseDelay)
			if retryErr != nil {
				return fmt.Errorf("embedding chunk %d: %w", chunk.Ordinal, retryErr)
			}
		}
	}
	return nil
}
