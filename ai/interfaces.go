package ai

import "context"

// Embedder generates vector embeddings from text for semantic similarity search.
// Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	// The returned vector represents the semantic meaning of the text.
	// Returns an error if the embedding generation fails.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates vector embeddings for multiple text strings in a batch.
	// Batch processing is more efficient than calling EmbedText multiple times.
	// The returned slice contains embeddings in the same order as the input texts.
	// Returns an error if any embedding generation fails.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Generator produces answer text from a fully assembled prompt.
// Implementations must be thread-safe for concurrent use.
type Generator interface {
	// Generate returns the model's completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Reranker scores passages for fine-grained relevance against a query.
// Implementations must be thread-safe for concurrent use.
type Reranker interface {
	// Rerank returns one relevance score in [0,1] per passage, aligned with
	// the input order. Callers treat an error as "re-ranking unavailable"
	// and fall back to their existing ordering.
	Rerank(ctx context.Context, query string, passages []string) ([]float32, error)
}

// TokenCounter estimates the token cost of text under the generation model's
// tokenizer. Used for context budgets and session truncation.
type TokenCounter interface {
	// Count returns the number of tokens in text.
	Count(text string) int
}

// Provider aggregates AI services for convenient initialization and
// lifecycle management. A provider creates and manages service instances,
// ensuring they share configuration and resources appropriately.
type Provider interface {
	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Generator returns the answer generation service.
	Generator() Generator

	// Reranker returns the passage re-ranking service.
	Reranker() Reranker

	// TokenCounter returns the token counting service.
	TokenCounter() TokenCounter

	// Close releases resources held by the provider and its services.
	// After Close is called, the provider and its services should not be used.
	Close() error
}
