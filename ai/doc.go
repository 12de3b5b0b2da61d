// Package ai defines the model collaborator interfaces consumed by the
// ingestion pipeline and the query engine: text embedding, answer
// generation, passage re-ranking, and token counting.
//
// Implementations live in subpackages: openai (OpenAI-compatible APIs via
// langchaingo) and mock (deterministic test doubles). All implementations
// must be thread-safe.
package ai
