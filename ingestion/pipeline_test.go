package ingestion

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/ragit/ai/mock"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/loader"
	"github.com/poiesic/ragit/queue"
	"github.com/poiesic/ragit/storage"
	"github.com/poiesic/ragit/storage/badger"
)

// failingLoader always errors, standing in for an unreachable source.
type failingLoader struct{}

func (failingLoader) Load(ctx context.Context, locator string) (*loader.Document, error) {
	return nil, errors.New("source unreachable")
}

type testEnv struct {
	jobs      storage.JobRepository
	knowledge storage.KnowledgeRepository
	work      *queue.Queue
	loaders   *loader.Registry
	provider  *mock.MockProvider
	pipeline  *Pipeline
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()

	jobs, knowledge, sessions, backend, err := badger.NewMemoryRepositories()
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	_ = sessions

	work := queue.New(queue.WithVisibilityTimeout(time.Hour))
	t.Cleanup(func() { work.Close() })

	provider := mock.NewMockProvider().(*mock.MockProvider)
	loaders := loader.NewRegistry()

	opts = append([]Option{WithWorkerCount(2), WithEmbeddingRetry(1, time.Millisecond)}, opts...)
	pipeline, err := NewPipeline(jobs, knowledge, work, loaders, provider, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { pipeline.pool.Release() })

	return &testEnv{
		jobs:      jobs,
		knowledge: knowledge,
		work:      work,
		loaders:   loaders,
		provider:  provider,
		pipeline:  pipeline,
	}
}

func (e *testEnv) createJob(t *testing.T, jobID, locator string) *queue.Message {
	t.Helper()

	job := &core.IngestionJob{
		JobID:     jobID,
		Source:    core.SourcePlainText,
		Locator:   locator,
		Status:    core.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, e.jobs.CreateJob(context.Background(), job))
	return &queue.Message{JobID: jobID, Source: job.Source, Locator: locator}
}

func TestProcessCompletesJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := env.createJob(t, "job-1", "Release Notes\n\nThe quota subsystem was rewritten from scratch.")
	require.NoError(t, env.pipeline.Process(ctx, msg))

	job, err := env.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, job.Status)
	assert.Equal(t, "job-1", job.DocumentID)
	assert.Greater(t, job.ChunkCount, 0)
	assert.False(t, job.CompletedAt.IsZero())

	doc, err := env.knowledge.GetDocument(ctx, job.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, "Release Notes", doc.Title)
	assert.Equal(t, job.ChunkCount, doc.ChunkCount)

	hits, err := env.knowledge.SearchKeyword(ctx, "quota subsystem", 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, job.DocumentID, hits[0].Chunk.DocumentID)
}

func TestProcessDuplicateDeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := env.createJob(t, "job-1", "A short note about database compaction.")
	require.NoError(t, env.pipeline.Process(ctx, msg))

	embedCalls := env.provider.GetMockEmbedder().CallCount()

	// Redeliver the same message.
	require.NoError(t, env.pipeline.Process(ctx, msg))

	assert.Equal(t, embedCalls, env.provider.GetMockEmbedder().CallCount(),
		"duplicate delivery must not re-embed")

	docs, err := env.knowledge.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestProcessSkipsJobOwnedByAnotherWorker(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := env.createJob(t, "job-1", "some text")
	_, err := env.jobs.TransitionJob(ctx, "job-1", core.JobPending, core.JobInProgress, nil)
	require.NoError(t, err)

	require.NoError(t, env.pipeline.Process(ctx, msg))

	job, err := env.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobInProgress, job.Status, "losing the claim race must leave the job untouched")
}

func TestProcessConcurrentDuplicates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := env.createJob(t, "job-1", "Two workers racing over the same queue message.")

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, env.pipeline.Process(ctx, msg))
		}()
	}
	wg.Wait()

	job, err := env.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobCompleted, job.Status)

	docs, err := env.knowledge.ListDocuments(ctx)
	require.NoError(t, err)
	require.Len(t, docs, 1, "exactly one chunk set must exist")
	assert.Equal(t, job.ChunkCount, docs[0].ChunkCount)
}

func TestProcessLoaderFailureFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.loaders.Register(core.SourcePlainText, failingLoader{})

	msg := env.createJob(t, "job-1", "irrelevant")
	require.NoError(t, env.pipeline.Process(ctx, msg), "a loader failure settles the message")

	job, err := env.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "source unreachable")

	docs, err := env.knowledge.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestProcessEmbeddingFailureFailsJob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	embedder := env.provider.GetMockEmbedder()
	embedder.EmbedTextsFunc = func(ctx context.Context, texts []string) ([][]float32, error) {
		return nil, errors.New("embedding service down")
	}
	embedder.EmbedTextFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("embedding service down")
	}

	msg := env.createJob(t, "job-1", "text that cannot be embedded")
	require.NoError(t, env.pipeline.Process(ctx, msg))

	job, err := env.jobs.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, core.JobFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "embedding")

	docs, err := env.knowledge.ListDocuments(ctx)
	require.NoError(t, err)
	assert.Empty(t, docs, "no partial document may survive a failed job")
}

func TestChunkerDeterminism(t *testing.T) {
	doc := &loader.Document{
		Title: "spec",
		Pages: []loader.Page{
			{Number: 1, Text: strings.Repeat("alpha beta gamma delta. ", 80)},
			{Number: 2, Text: strings.Repeat("epsilon zeta eta theta. ", 80)},
		},
	}

	c := newChunker(200, 40)
	first, err := c.chunk("doc-1", doc)
	require.NoError(t, err)
	second, err := c.chunk("doc-1", doc)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
		assert.Equal(t, first[i].Ordinal, second[i].Ordinal)
		assert.Equal(t, first[i].Text, second[i].Text)
	}
	for i, chunk := range first {
		assert.Equal(t, i, chunk.Ordinal, "ordinals must be dense and stable")
	}
}

func TestWorkerLoopProcessesQueuedJobs(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	msg := env.createJob(t, "job-1", "A document that arrives through the queue.")
	require.NoError(t, env.pipeline.Start())
	defer env.pipeline.Stop()

	require.NoError(t, env.work.Enqueue(*msg))

	require.Eventually(t, func() bool {
		job, err := env.jobs.GetJob(ctx, "job-1")
		return err == nil && job.Status == core.JobCompleted
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := RetryWithBackoff(ctx, func() error {
			calls++
			if calls < 3 {
				return errors.New("transient")
			}
			return nil
		}, 5, time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("returns last error on exhaustion", func(t *testing.T) {
		err := RetryWithBackoff(ctx, func() error {
			return errors.New("persistent")
		}, 2, time.Millisecond)
		assert.EqualError(t, err, "persistent")
	})

	t.Run("rejects non-positive attempts", func(t *testing.T) {
		err := RetryWithBackoff(ctx, func() error { return nil }, 0, time.Millisecond)
		assert.ErrorIs(t, err, ErrInvalidMaxAttempts)
	})

	t.Run("honors context cancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := RetryWithBackoff(cancelled, func() error { return errors.New("x") }, 3, time.Minute)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
