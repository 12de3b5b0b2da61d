package mock

import (
	"context"
	"strings"
)

// MockReranker is a test double for ai.Reranker.
// It allows custom behavior injection via function fields.
type MockReranker struct {
	// RerankFunc is called by Rerank if set.
	// If nil, uses default word-overlap scoring.
	RerankFunc func(ctx context.Context, query string, passages []string) ([]float32, error)

	callCount int
}

// NewMockReranker creates a mock reranker with default word-overlap scoring.
// Note: Returns concrete type to allow test assertions.
func NewMockReranker() *MockReranker {
	return &MockReranker{}
}

// Rerank scores each passage by the fraction of query words it contains.
func (m *MockReranker) Rerank(ctx context.Context, query string, passages []string) ([]float32, error) {
	m.callCount++

	if m.RerankFunc != nil {
		return m.RerankFunc(ctx, query, passages)
	}

	words := strings.Fields(strings.ToLower(query))
	scores := make([]float32, len(passages))
	if len(words) == 0 {
		return scores, nil
	}

	for i, passage := range passages {
		lowered := strings.ToLower(passage)
		matched := 0
		for _, word := range words {
			if strings.Contains(lowered, word) {
				matched++
			}
		}
		scores[i] = float32(matched) / float32(len(words))
	}
	return scores, nil
}

// CallCount returns the number of times Rerank was called.
func (m *MockReranker) CallCount() int {
	return m.callCount
}

// Reset clears the call count and custom functions.
func (m *MockReranker) Reset() {
	m.callCount = 0
	m.RerankFunc = nil
}
