package query

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragit/ai/mock"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/memory"
	"github.com/poiesic/ragit/storage"
	"github.com/poiesic/ragit/storage/badger"
)

type testEnv struct {
	knowledge storage.KnowledgeRepository
	memory    *memory.Store
	provider  *mock.MockProvider
	engine    *Engine
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	_, knowledge, sessions, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })

	provider := mock.NewMockProvider().(*mock.MockProvider)

	memoryStore, err := memory.NewStore(sessions, provider.TokenCounter())
	require.NoError(t, err)

	engine, err := NewEngine(knowledge, memoryStore, provider, opts...)
	require.NoError(t, err)

	return &testEnv{
		knowledge: knowledge,
		memory:    memoryStore,
		provider:  provider,
		engine:    engine,
	}
}

// seedDocument ingests a ready document whose chunk vectors come from the
// mock embedder, so query embeddings share the same dimension.
func (e *testEnv) seedDocument(t *testing.T, documentID string, texts ...string) {
	t.Helper()
	ctx := context.Background()

	chunks := make([]*core.DocumentChunk, len(texts))
	for i, text := range texts {
		vector, err := e.provider.Embedder().EmbedText(ctx, text)
		require.NoError(t, err)
		chunks[i] = &core.DocumentChunk{
			ChunkID:    core.ChunkID(documentID, i),
			DocumentID: documentID,
			Ordinal:    i,
			Text:       text,
			Vector:     vector,
			URL:        "https://example.com/" + documentID,
		}
	}

	doc := &core.KnowledgeDocument{
		DocumentID: documentID,
		Title:      documentID,
		SourceURL:  "https://example.com/" + documentID,
		ChunkCount: len(chunks),
		IngestedAt: time.Now().UTC(),
	}
	require.NoError(t, e.knowledge.UpsertDocument(ctx, doc, chunks))
}

func TestAnswerQueryReturnsCitations(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocument(t, "doc-1",
		"Compaction reclaims disk space and rebuilds the search index.",
		"The ingestion pipeline embeds chunks in batches.",
	)

	result, err := env.engine.AnswerQuery(ctx, "s1", "how does compaction reclaim space?")
	require.NoError(t, err)

	assert.True(t, result.Answerable)
	assert.NotEmpty(t, result.Answer)
	require.NotEmpty(t, result.Citations)
	assert.Equal(t, "doc-1", result.Citations[0].DocumentID)
	assert.Len(t, result.Scores, len(result.Citations))

	// The exchange must be recorded in session memory.
	turns, err := env.memory.History(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, turns, 2)
	assert.Equal(t, "how does compaction reclaim space?", turns[0].Content)
}

func TestGuardrailOnEmptyStore(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	result, err := env.engine.AnswerQuery(ctx, "s1", "anything at all?")
	require.NoError(t, err)

	assert.False(t, result.Answerable)
	assert.Equal(t, GuardrailAnswer, result.Answer)
	assert.Empty(t, result.Citations)
	assert.Zero(t, env.provider.GetMockGenerator().CallCount(),
		"generation must never run without retrieved context")
}

func TestGuardrailWhenAllBelowThreshold(t *testing.T) {
	env := newTestEnv(t, WithRerank(10, 0.9))
	ctx := context.Background()

	env.seedDocument(t, "doc-1", "Totally unrelated text about gardening tools.")

	env.provider.GetMockReranker().RerankFunc = func(ctx context.Context, query string, passages []string) ([]float32, error) {
		scores := make([]float32, len(passages))
		for i := range scores {
			scores[i] = 0.1
		}
		return scores, nil
	}

	result, err := env.engine.AnswerQuery(ctx, "s1", "how do I configure replication?")
	require.NoError(t, err)

	assert.False(t, result.Answerable)
	assert.Equal(t, GuardrailAnswer, result.Answer)
	assert.Empty(t, result.Citations)
}

func TestThresholdEnforcement(t *testing.T) {
	env := newTestEnv(t, WithRerank(10, 0.5))
	ctx := context.Background()

	env.seedDocument(t, "doc-1",
		"Replication copies data across nodes.",
		"Gardening tools need regular maintenance.",
	)

	// Score the replication chunk high, the gardening one low.
	env.provider.GetMockReranker().RerankFunc = func(ctx context.Context, query string, passages []string) ([]float32, error) {
		scores := make([]float32, len(passages))
		for i, passage := range passages {
			if passage == "Replication copies data across nodes." {
				scores[i] = 0.9
			} else {
				scores[i] = 0.1
			}
		}
		return scores, nil
	}

	result, err := env.engine.AnswerQuery(ctx, "s1", "how does replication work?")
	require.NoError(t, err)

	require.True(t, result.Answerable)
	require.Len(t, result.Citations, 1, "below-threshold chunks must not be cited")
	assert.Equal(t, 0, result.Citations[0].Ordinal)
	for _, score := range result.Scores {
		assert.GreaterOrEqual(t, score, float32(0.5))
	}
}

func TestRerankerFailureFallsBackToFusedOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocument(t, "doc-1", "The scheduler balances load across workers.")

	env.provider.GetMockReranker().RerankFunc = func(ctx context.Context, query string, passages []string) ([]float32, error) {
		return nil, errors.New("reranker offline")
	}

	result, err := env.engine.AnswerQuery(ctx, "s1", "what does the scheduler do?")
	require.NoError(t, err)
	assert.True(t, result.Answerable)
	assert.NotEmpty(t, result.Citations)
}

func TestRerankerShortScoresFallsBackToFusedOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocument(t, "doc-1",
		"The scheduler balances load across workers.",
		"Workers drain their queues before shutdown.",
	)

	// A re-ranker that returns fewer scores than passages must not be
	// trusted; the engine keeps the fused ranking instead.
	env.provider.GetMockReranker().RerankFunc = func(ctx context.Context, query string, passages []string) ([]float32, error) {
		return []float32{0.9}, nil
	}

	result, err := env.engine.AnswerQuery(ctx, "s1", "what does the scheduler do?")
	require.NoError(t, err)
	assert.True(t, result.Answerable)
	assert.NotEmpty(t, result.Citations)
}

func TestVectorBranchFailureDegradesToKeyword(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocument(t, "doc-1", "Snapshots capture the index state atomically.")

	env.provider.GetMockEmbedder().EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}

	result, err := env.engine.AnswerQuery(ctx, "s1", "snapshots index state")
	require.NoError(t, err)
	assert.True(t, result.Answerable, "keyword branch alone should carry the query")
	assert.NotEmpty(t, result.Citations)
}

// failingSearches wraps a knowledge repository with search branches that
// always fail.
type failingSearches struct {
	storage.KnowledgeRepository
}

func (f *failingSearches) SearchVector(ctx context.Context, vector []float32, k int) ([]*core.ScoredChunk, error) {
	return nil, errors.New("vector index down")
}

func (f *failingSearches) SearchKeyword(ctx context.Context, text string, k int) ([]*core.ScoredChunk, error) {
	return nil, errors.New("keyword index down")
}

func TestBothBranchesFailingSurfacesError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	provider := mock.NewMockProvider().(*mock.MockProvider)
	memoryStore := env.memory
	engine, err := NewEngine(&failingSearches{env.knowledge}, memoryStore, provider)
	require.NoError(t, err)

	_, err = engine.AnswerQuery(ctx, "s1", "anything?")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrievalUnavailable)
	assert.Zero(t, provider.GetMockGenerator().CallCount())
}

func TestGenerationRetriesOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocument(t, "doc-1", "Checkpoints bound recovery time after a crash.")

	calls := 0
	env.provider.GetMockGenerator().GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("transient model error")
		}
		return "checkpoints bound recovery time", nil
	}

	result, err := env.engine.AnswerQuery(ctx, "s1", "what do checkpoints do?")
	require.NoError(t, err)
	assert.True(t, result.Answerable)
	assert.Equal(t, 2, calls)
}

func TestGenerationFailureSurfaces(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocument(t, "doc-1", "Checkpoints bound recovery time after a crash.")

	env.provider.GetMockGenerator().GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		return "", errors.New("model down")
	}

	_, err := env.engine.AnswerQuery(ctx, "s1", "what do checkpoints do?")
	assert.ErrorIs(t, err, ErrGenerationFailed)

	// A failed query must not pollute the session history.
	turns, historyErr := env.memory.History(ctx, "s1")
	require.NoError(t, historyErr)
	assert.Empty(t, turns)
}

func TestEmptyQuestionRejected(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.engine.AnswerQuery(context.Background(), "s1", "   ")
	assert.ErrorIs(t, err, ErrEmptyQuestion)
}

func TestFollowUpQuestionIsContextualized(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.seedDocument(t, "doc-1", "Compaction reclaims disk space in the background.")

	require.NoError(t, env.memory.RecordExchange(ctx, "s1",
		"what is compaction?", "background space reclamation"))

	generator := env.provider.GetMockGenerator()
	generator.GenerateFunc = func(ctx context.Context, prompt string) (string, error) {
		// First call is the rewrite, later calls are answer generation.
		if generator.CallCount() == 1 {
			return "is compaction safe to run concurrently with reads?", nil
		}
		return "yes, reads continue during compaction", nil
	}

	result, err := env.engine.AnswerQuery(ctx, "s1", "is it safe to run concurrently?")
	require.NoError(t, err)
	require.True(t, result.Answerable)

	// Prompt 1 must be the contextualization request containing the history.
	prompts := generator.Prompts
	require.GreaterOrEqual(t, len(prompts), 2)
	assert.Contains(t, prompts[0], "what is compaction?")
	assert.Contains(t, prompts[0], "rewrite")
	// The answer prompt must carry the rewritten standalone question.
	assert.Contains(t, prompts[len(prompts)-1], "is compaction safe to run concurrently with reads?")
}

func TestFusionDeterministicScenario(t *testing.T) {
	c1 := &core.DocumentChunk{ChunkID: 1, DocumentID: "d", Ordinal: 0, Text: "c1"}
	c2 := &core.DocumentChunk{ChunkID: 2, DocumentID: "d", Ordinal: 1, Text: "c2"}
	c3 := &core.DocumentChunk{ChunkID: 3, DocumentID: "d", Ordinal: 2, Text: "c3"}

	vector := []*core.ScoredChunk{{Chunk: c1, Score: 0.9}, {Chunk: c2, Score: 0.4}}
	keyword := []*core.ScoredChunk{{Chunk: c2, Score: 0.8}, {Chunk: c3, Score: 0.3}}

	first := fuse(vector, keyword, 0.5)
	require.Len(t, first, 3)

	// Min-max normalization maps each branch to [0,1]:
	// vector: c1=1.0, c2=0.0; keyword: c2=1.0, c3=0.0.
	byID := map[core.ID]float32{}
	for _, hit := range first {
		byID[hit.Chunk.ChunkID] = hit.Score
	}
	assert.InDelta(t, 0.5, byID[1], 1e-6)
	assert.InDelta(t, 0.5, byID[2], 1e-6)
	assert.InDelta(t, 0.0, byID[3], 1e-6)

	// Repeated runs produce the identical ranking, including tie-breaks.
	for run := 0; run < 5; run++ {
		again := fuse(vector, keyword, 0.5)
		require.Equal(t, len(first), len(again), "run %d", run)
		for i := range first {
			assert.Equal(t, first[i].Chunk.ChunkID, again[i].Chunk.ChunkID, fmt.Sprintf("run %d position %d", run, i))
			assert.Equal(t, first[i].Score, again[i].Score)
		}
	}

	// c1 and c2 tie at 0.5; the lower chunk ID wins the tie-break.
	assert.Equal(t, core.ID(1), first[0].Chunk.ChunkID)
	assert.Equal(t, core.ID(2), first[1].Chunk.ChunkID)
	assert.Equal(t, core.ID(3), first[2].Chunk.ChunkID)
}

func TestMinMaxNormalize(t *testing.T) {
	c := &core.DocumentChunk{ChunkID: 1}

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, minMaxNormalize(nil))
	})

	t.Run("uniform scores normalize to ones", func(t *testing.T) {
		hits := []*core.ScoredChunk{{Chunk: c, Score: 0.7}, {Chunk: c, Score: 0.7}}
		assert.Equal(t, []float32{1, 1}, minMaxNormalize(hits))
	})

	t.Run("spread scores map onto unit interval", func(t *testing.T) {
		hits := []*core.ScoredChunk{{Chunk: c, Score: 0.2}, {Chunk: c, Score: 0.6}, {Chunk: c, Score: 1.0}}
		norm := minMaxNormalize(hits)
		assert.InDelta(t, 0.0, norm[0], 1e-6)
		assert.InDelta(t, 0.5, norm[1], 1e-6)
		assert.InDelta(t, 1.0, norm[2], 1e-6)
	})
}

func TestSelectWithinBudgetStopsAtLimit(t *testing.T) {
	env := newTestEnv(t, WithContextTokenBudget(10))

	long := &core.ScoredChunk{Chunk: &core.DocumentChunk{ChunkID: 1, Text: "this chunk is definitely longer than ten tokens worth of text"}, Score: 0.9}
	short := &core.ScoredChunk{Chunk: &core.DocumentChunk{ChunkID: 2, Text: "tiny"}, Score: 0.8}

	selected, used := env.engine.selectWithinBudget([]*core.ScoredChunk{short, long})
	require.Len(t, selected, 1)
	assert.Equal(t, core.ID(2), selected[0].Chunk.ChunkID)
	assert.LessOrEqual(t, used, 10)
}
