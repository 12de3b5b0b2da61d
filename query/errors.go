package query

import "errors"

var (
	// ErrKnowledgeRepositoryRequired is returned when a knowledge repository is not provided.
	ErrKnowledgeRepositoryRequired = errors.New("knowledge repository required")

	// ErrMemoryStoreRequired is returned when a conversation memory store is not provided.
	ErrMemoryStoreRequired = errors.New("memory store required")

	// ErrAIProviderRequired is returned when an AI provider is not provided.
	ErrAIProviderRequired = errors.New("AI provider required")

	// ErrEmptyQuestion is returned when the question is blank.
	ErrEmptyQuestion = errors.New("question must not be empty")

	// ErrRetrievalUnavailable indicates both search branches failed; the
	// query cannot be answered and no generation is attempted.
	ErrRetrievalUnavailable = errors.New("retrieval unavailable")

	// ErrGenerationFailed indicates answer generation failed after a retry.
	// Retrieval succeeded; the caller may try again.
	ErrGenerationFailed = errors.New("answer generation failed")
)
