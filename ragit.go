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


package ragit

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/poiesic/ragit/ai"
	"github.com/poiesic/ragit/ai/openai"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/ingestion"
	"github.com/poiesic/ragit/loader"
	"github.com/poiesic/ragit/memory"
	"github.com/poiesic/ragit/query"
	"github.com/poiesic/ragit/queue"
	"github.com/poiesic/ragit/reembed"
	"github.com/poiesic/ragit/storage"
	"github.com/poiesic/ragit/storage/badger"
)

// ParseSourceType converts a string into a SourceType, rejecting values
// the system doesn't recognize.
func ParseSourceType(s string) (core.SourceType, error) {
	source := core.SourceType(s)
	if err := core.ValidateSourceType(source); err != nil {
		return "", err
	}
	return source, nil
}

// KnowledgeBase wires storage, the work queue, the ingestion pipeline, and
// the query engine into a single handle. Create one with NewKnowledgeBase
// and Close it when done.
type KnowledgeBase struct {
	backend       *badger.Backend
	jobRepo       storage.JobRepository
	knowledgeRepo storage.KnowledgeRepository
	sessionRepo   storage.SessionRepository
	provider      ai.Provider
	work          *queue.Queue
	pipeline      *ingestion.Pipeline
	memoryStore   *memory.Store
	engine        *query.Engine
	logger        *slog.Logger
}

// KnowledgeBaseOption configures a KnowledgeBase.
type KnowledgeBaseOption func(*knowledgeBaseOptions)

type knowledgeBaseOptions struct {
	aiConfig     *ai.Config
	provider     ai.Provider
	inMemory     bool
	queueOpts    []queue.Option
	pipelineOpts []ingestion.Option
	memoryOpts   []memory.Option
	engineOpts   []query.Option
}

// WithAIConfig sets the AI service configuration used to build the default
// OpenAI-compatible provider.
func WithAIConfig(config *ai.Config) KnowledgeBaseOption {
	return func(o *knowledgeBaseOptions) {
		o.aiConfig = config
	}
}

// WithAIProvider supplies a pre-built AI provider instead of constructing
// one from config. Mainly useful for tests.
func WithAIProvider(provider ai.Provider) KnowledgeBaseOption {
	return func(o *knowledgeBaseOptions) {
		o.provider = provider
	}
}

// WithInMemoryStorage keeps all data in memory. Ignores the file path.
func WithInMemoryStorage() KnowledgeBaseOption {
	return func(o *knowledgeBaseOptions) {
		o.inMemory = true
	}
}

// WithQueueOptions forwards options to the work queue.
func WithQueueOptions(opts ...queue.Option) KnowledgeBaseOption {
	return func(o *knowledgeBaseOptions) {
		o.queueOpts = append(o.queueOpts, opts...)
	}
}

// WithPipelineOptions forwards options to the ingestion pipeline.
func WithPipelineOptions(opts ...ingestion.Option) KnowledgeBaseOption {
	return func(o *knowledgeBaseOptions) {
		o.pipelineOpts = append(o.pipelineOpts, opts...)
	}
}

// WithMemoryOptions forwards options to the conversation memory store.
func WithMemoryOptions(opts ...memory.Option) KnowledgeBaseOption {
	return func(o *knowledgeBaseOptions) {
		o.memoryOpts = append(o.memoryOpts, opts...)
	}
}

// WithEngineOptions forwards options to the query engine.
func WithEngineOptions(opts ...query.Option) KnowledgeBaseOption {
	return func(o *knowledgeBaseOptions) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// NewKnowledgeBase opens the store at filePath and assembles the full
// system: repositories, AI provider, loaders, work queue, ingestion
// pipeline (started), conversation memory, and the query engine.
func NewKnowledgeBase(filePath string, opts ...KnowledgeBaseOption) (*KnowledgeBase, error) {
	options := &knowledgeBaseOptions{
		aiConfig: ai.DefaultConfig(),
	}
	for _, opt := range opts {
		opt(options)
	}

	backend, err := badger.OpenBackend(filePath, options.inMemory)
	if err != nil {
		return nil, err
	}

	jobRepo := badger.NewJobRepository(backend)

	knowledgeRepo, err := badger.NewKnowledgeRepository(backend)
	if err != nil {
		backend.Close()
		return nil, err
	}

	sessionRepo := badger.NewSessionRepository(backend)

	provider := options.provider
	if provider == nil {
		provider, err = openai.NewProvider(options.aiConfig)
		if err != nil {
			knowledgeRepo.Close()
			backend.Close()
			return nil, err
		}
	}

	work := queue.New(options.queueOpts...)

	pipeline, err := ingestion.NewPipeline(jobRepo, knowledgeRepo, work, loader.NewRegistry(), provider, options.pipelineOpts...)
	if err != nil {
		work.Close()
		provider.Close()
		knowledgeRepo.Close()
		backend.Close()
		return nil, err
	}

	memoryStore, err := memory.NewStore(sessionRepo, provider.TokenCounter(), options.memoryOpts...)
	if err != nil {
		work.Close()
		provider.Close()
		knowledgeRepo.Close()
		backend.Close()
		return nil, err
	}

	engine, err := query.NewEngine(knowledgeRepo, memoryStore, provider, options.engineOpts...)
	if err != nil {
		work.Close()
		provider.Close()
		knowledgeRepo.Close()
		backend.Close()
		return nil, err
	}

	if err := pipeline.Start(); err != nil {
		work.Close()
		provider.Close()
		knowledgeRepo.Close()
		backend.Close()
		return nil, err
	}

	return &KnowledgeBase{
		backend:       backend,
		jobRepo:       jobRepo,
		knowledgeRepo: knowledgeRepo,
		sessionRepo:   sessionRepo,
		provider:      provider,
		work:          work,
		pipeline:      pipeline,
		memoryStore:   memoryStore,
		engine:        engine,
		logger:        slog.Default(),
	}, nil
}

// Close stops the pipeline workers, then closes the queue, AI provider,
// repositories, and backend in reverse creation order.
func (kb *KnowledgeBase) Close() error {
	kb.pipeline.Stop()
	kb.work.Close()

	if err := kb.provider.Close(); err != nil {
		kb.logger.Error("error closing AI provider", "err", err)
	}

	if err := kb.sessionRepo.Close(); err != nil {
		kb.logger.Error("error closing session repository", "err", err)
		return err
	}
	if err := kb.knowledgeRepo.Close(); err != nil {
		kb.logger.Error("error closing knowledge repository", "err", err)
		return err
	}
	if err := kb.jobRepo.Close(); err != nil {
		kb.logger.Error("error closing job repository", "err", err)
		return err
	}

	if err := kb.backend.Close(); err != nil {
		kb.logger.Error("error closing backend storage", "err", err)
		return err
	}
	return nil
}

// SubmitIngestion records a pending ingestion job and queues it for the
// pipeline workers. Returns immediately with the job ID; poll Job to watch
// the job progress.
func (kb *KnowledgeBase) SubmitIngestion(ctx context.Context, source core.SourceType, locator string) (string, error) {
	if err := core.ValidateSourceType(source); err != nil {
		return "", err
	}
	if locator == "" {
		return "", core.ErrEmptyLocator
	}

	job := &core.IngestionJob{
		JobID:     uuid.NewString(),
		Source:    source,
		Locator:   locator,
		Status:    core.JobPending,
		CreatedAt: time.Now().UTC(),
	}
	if err := kb.jobRepo.CreateJob(ctx, job); err != nil {
		return "", err
	}

	if err := kb.work.Enqueue(queue.Message{JobID: job.JobID, Source: source, Locator: locator}); err != nil {
		// Leave the pending record in place; a requeue can pick it up later.
		kb.logger.Error("failed to enqueue ingestion job", "job_id", job.JobID, "err", err)
		return "", err
	}

	kb.logger.Info("ingestion job submitted", "job_id", job.JobID, "source", source)
	return job.JobID, nil
}

// Job returns the current state of an ingestion job.
func (kb *KnowledgeBase) Job(ctx context.Context, jobID string) (*core.IngestionJob, error) {
	return kb.jobRepo.GetJob(ctx, jobID)
}

// ListJobs returns all ingestion jobs, most recent first.
func (kb *KnowledgeBase) ListJobs(ctx context.Context) ([]*core.IngestionJob, error) {
	return kb.jobRepo.ListJobs(ctx)
}

// PurgeJobsBefore deletes terminal job records created before the cutoff.
// Returns the number of records removed.
func (kb *KnowledgeBase) PurgeJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return kb.jobRepo.PurgeJobsBefore(ctx, cutoff)
}

// ListDocuments returns all ready documents in the knowledge store.
func (kb *KnowledgeBase) ListDocuments(ctx context.Context) ([]*core.KnowledgeDocument, error) {
	return kb.knowledgeRepo.ListDocuments(ctx)
}

// DeleteDocument removes a document and all of its chunks.
func (kb *KnowledgeBase) DeleteDocument(ctx context.Context, documentID string) error {
	return kb.knowledgeRepo.DeleteDocument(ctx, documentID)
}

// AnswerQuery runs the retrieval pipeline and generates a grounded answer
// for the question within the given conversation session.
func (kb *KnowledgeBase) AnswerQuery(ctx context.Context, sessionID, question string) (*core.QueryResult, error) {
	return kb.engine.AnswerQuery(ctx, sessionID, question)
}

// DeleteSession discards a session's conversation history.
func (kb *KnowledgeBase) DeleteSession(ctx context.Context, sessionID string) error {
	return kb.memoryStore.DeleteSession(ctx, sessionID)
}

// Compact reclaims storage space and rebuilds the search index.
func (kb *KnowledgeBase) Compact(ctx context.Context) error {
	return kb.knowledgeRepo.Compact(ctx)
}

// NewReembedder builds a re-embedder over this knowledge base using the
// configured provider's embedding model.
func (kb *KnowledgeBase) NewReembedder(config *reembed.Config, progress io.Writer) *reembed.Reembedder {
	return reembed.NewReembedder(kb.knowledgeRepo, kb.provider.Embedder(), config, progress)
}

// JobRepository exposes the underlying job repository.
func (kb *KnowledgeBase) JobRepository() storage.JobRepository {
	return kb.jobRepo
}

// KnowledgeRepository exposes the underlying knowledge repository.
func (kb *KnowledgeBase) KnowledgeRepository() storage.KnowledgeRepository {
	return kb.knowledgeRepo
}

// SessionRepository exposes the underlying session repository.
func (kb *KnowledgeBase) SessionRepository() storage.SessionRepository {
	return kb.sessionRepo
}
