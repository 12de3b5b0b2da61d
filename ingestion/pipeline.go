package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/ragit/ai"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/loader"
	"github.com/poiesic/ragit/queue"
	"github.com/poiesic/ragit/storage"
)

// Pipeline consumes ingestion messages and drives jobs to completion.
// It manages a pool of workers that process jobs concurrently; jobs for
// different documents are fully independent.
type Pipeline struct {
	jobs      storage.JobRepository
	knowledge storage.KnowledgeRepository
	work      *queue.Queue
	loaders   *loader.Registry
	embedder  ai.Embedder
	pool      *ants.Pool

	chunkSize        int
	chunkOverlap     int
	embedBatchSize   int
	embedMaxAttempts int
	embedBaseDelay   time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithWorkerCount sets the number of concurrent ingestion workers.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkerCount(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		if p.pool != nil {
			p.pool.Release()
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		p.pool = pool
		return nil
	}
}

// WithChunking sets the maximum chunk size and overlap, in characters.
// Defaults are 1000 and 200.
func WithChunking(size, overlap int) Option {
	return func(p *Pipeline) error {
		if size < 1 {
			return fmt.Errorf("chunk size must be positive, got %d", size)
		}
		if overlap < 0 || overlap >= size {
			return fmt.Errorf("chunk overlap must be in [0, size), got %d", overlap)
		}
		p.chunkSize = size
		p.chunkOverlap = overlap
		return nil
	}
}

// WithEmbeddingBatchSize sets how many chunks are embedded per batch call.
// Default is 16.
func WithEmbeddingBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		p.embedBatchSize = n
		return nil
	}
}

// WithEmbeddingRetry sets the per-chunk retry policy used when a batch
// embedding call fails. Defaults are 3 attempts with a 500ms base delay.
func WithEmbeddingRetry(maxAttempts int, baseDelay time.Duration) Option {
	return func(p *Pipeline) error {
		if maxAttempts < 1 {
			return ErrInvalidMaxAttempts
		}
		p.embedMaxAttempts = maxAttempts
		p.embedBaseDelay = baseDelay
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// NewPipeline creates an ingestion pipeline. Call Start to begin consuming
// the work queue and Stop to shut the workers down.
func NewPipeline(
	jobs storage.JobRepository,
	knowledge storage.KnowledgeRepository,
	work *queue.Queue,
	loaders *loader.Registry,
	provider ai.Provider,
	opts ...Option,
) (*Pipeline, error) {
	if jobs == nil {
		return nil, ErrJobRepositoryRequired
	}
	if knowledge == nil {
		return nil, ErrKnowledgeRepositoryRequired
	}
	if work == nil {
		return nil, ErrQueueRequired
	}
	if loaders == nil {
		return nil, ErrLoaderRegistryRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		jobs:             jobs,
		knowledge:        knowledge,
		work:             work,
		loaders:          loaders,
		embedder:         provider.Embedder(),
		pool:             pool,
		chunkSize:        1000,
		chunkOverlap:     200,
		embedBatchSize:   16,
		embedMaxAttempts: 3,
		embedBaseDelay:   500 * time.Millisecond,
		logger:           slog.Default(),
	}

	for _, opt := range opts {
		if optErr := opt(p); optErr != nil {
			p.pool.Release()
			return nil, optErr
		}
	}

	return p, nil
}

// Start launches one worker loop per pool slot. Workers run until Stop is
// called or the queue is closed.
func (p *Pipeline) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	for i := 0; i < p.pool.Cap(); i++ {
		p.wg.Add(1)
		if err := p.pool.Submit(func() {
			defer p.wg.Done()
			p.workerLoop(ctx)
		}); err != nil {
			p.wg.Done()
			cancel()
			return err
		}
	}

	p.logger.Info("ingestion pipeline started", "workers", p.pool.Cap())
	return nil
}

// Stop cancels the workers, waits for in-flight jobs to finish, and
// releases the pool. The pipeline should not be used after calling Stop.
func (p *Pipeline) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.pool.Release()
	p.logger.Info("ingestion pipeline stopped")
}

// workerLoop pulls messages until the context is cancelled or the queue
// closes. Transient processing errors return the message to the queue for
// redelivery; everything else is acknowledged.
func (p *Pipeline) workerLoop(ctx context.Context) {
	for {
		delivery, err := p.work.Receive(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) || errors.Is(err, context.Canceled) {
				return
			}
			p.logger.Error("error receiving from work queue", "err", err)
			return
		}

		if err := p.Process(ctx, &delivery.Message); err != nil {
			p.logger.Warn("job processing failed, message returned for redelivery",
				"jobID", delivery.JobID, "attempt", delivery.Attempt, "err", err)
			if nackErr := p.work.Nack(delivery.Receipt); nackErr != nil {
				p.logger.Error("error returning message to queue", "jobID", delivery.JobID, "err", nackErr)
			}
			continue
		}

		if ackErr := p.work.Ack(delivery.Receipt); ackErr != nil {
			// Visibility timeout expired mid-processing. The staging write
			// plus conditional status transitions keep the redelivery safe.
			p.logger.Warn("acknowledgement failed after processing", "jobID", delivery.JobID, "err", ackErr)
		}
	}
}

// Process runs one message through the job state machine. A nil return
// means the message is settled: the job completed, failed permanently, was
// already terminal, or is owned by another worker. A non-nil return means
// transient infrastructure trouble and the message should be redelivered.
func (p *Pipeline) Process(ctx context.Context, msg *queue.Message) error {
	logger := p.logger.With("jobID", msg.JobID)

	job, err := p.jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		return fmt.Errorf("reading job: %w", err)
	}

	// Idempotency guard: duplicate delivery of a finished job.
	if job.Status.Terminal() {
		logger.Debug("job already terminal, acknowledging duplicate delivery", "status", job.Status)
		return nil
	}

	// Claim the job. Losing the race means another worker owns it; exit
	// without side effects.
	job, err = p.jobs.TransitionJob(ctx, msg.JobID, core.JobPending, core.JobInProgress, nil)
	if errors.Is(err, storage.ErrConflict) {
		logger.Debug("job claimed by another worker, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("claiming job: %w", err)
	}

	logger.Info("processing ingestion job", "source", job.Source)

	doc, err := p.loaders.Load(ctx, job.Source, job.Locator)
	if err != nil {
		// Loader errors are not retried.
		return p.failJob(ctx, job.JobID, fmt.Errorf("loading document: %w", err))
	}

	documentID := job.JobID
	chunks, err := newChunker(p.chunkSize, p.chunkOverlap).chunk(documentID, doc)
	if err != nil {
		return p.failJob(ctx, job.JobID, fmt.Errorf("chunking document: %w", err))
	}
	if len(chunks) == 0 {
		return p.failJob(ctx, job.JobID, loader.ErrEmptyDocument)
	}

	if err := p.embedChunks(ctx, chunks); err != nil {
		return p.failJob(ctx, job.JobID, fmt.Errorf("embedding chunks: %w", err))
	}

	record := &core.KnowledgeDocument{
		DocumentID: documentID,
		Title:      doc.Title,
		SourceURL:  doc.SourceURL,
		ChunkCount: len(chunks),
		IngestedAt: time.Now().UTC(),
	}
	if err := p.knowledge.UpsertDocument(ctx, record, chunks); err != nil {
		p.rollback(ctx, documentID)
		return p.failJob(ctx, job.JobID, fmt.Errorf("writing document: %w", err))
	}

	_, err = p.jobs.TransitionJob(ctx, job.JobID, core.JobInProgress, core.JobCompleted, func(j *core.IngestionJob) {
		j.DocumentID = documentID
		j.ChunkCount = len(chunks)
	})
	if err != nil {
		return fmt.Errorf("completing job: %w", err)
	}

	logger.Info("ingestion job completed", "documentID", documentID, "chunks", len(chunks))
	return nil
}

// failJob records a permanent failure on the job. The returned error is nil
// when the failure is settled so the message gets acknowledged.
func (p *Pipeline) failJob(ctx context.Context, jobID string, cause error) error {
	p.logger.Error("ingestion job failed", "jobID", jobID, "err", cause)

	_, err := p.jobs.TransitionJob(ctx, jobID, core.JobInProgress, core.JobFailed, func(j *core.IngestionJob) {
		j.ErrorMessage = cause.Error()
	})
	if err != nil {
		return fmt.Errorf("marking job failed: %w", err)
	}
	return nil
}

// rollback removes staged chunks after a partial write so the store never
// holds an orphaned partial document.
func (p *Pipeline) rollback(ctx context.Context, documentID string) {
	err := p.knowledge.DeleteDocument(ctx, documentID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		p.logger.Error("error rolling back staged chunks", "documentID", documentID, "err", err)
	}
}
