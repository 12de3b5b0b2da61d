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


package query

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/poiesic/ragit/ai"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/memory"
	"github.com/poiesic/ragit/storage"
)

// Engine answers questions over the knowledge store with hybrid retrieval,
// re-ranking and budgeted generation.
type Engine struct {
	knowledge storage.KnowledgeRepository
	memory    *memory.Store
	embedder  ai.Embedder
	generator ai.Generator
	reranker  ai.Reranker
	tokens    ai.TokenCounter

	vectorK            int
	keywordK           int
	alpha              float32
	rerankTopM         int
	rerankThreshold    float32
	contextTokenBudget int
	historyTokenBudget int
	searchTimeout      time.Duration

	sessionLocks sync.Map // sessionID -> *sync.Mutex
	logger       *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine) error

// WithTopK sets how many candidates each search branch returns.
// Defaults are 20 for both branches.
func WithTopK(vectorK, keywordK int) Option {
	return func(e *Engine) error {
		if vectorK < 1 || keywordK < 1 {
			return fmt.Errorf("top-k values must be positive, got %d and %d", vectorK, keywordK)
		}
		e.vectorK = vectorK
		e.keywordK = keywordK
		return nil
	}
}

// WithFusionWeight sets the fused-score weight alpha: the vector branch
// contributes alpha, the keyword branch 1-alpha. Default is 0.5.
func WithFusionWeight(alpha float32) Option {
	return func(e *Engine) error {
		if alpha < 0 || alpha > 1 {
			return fmt.Errorf("fusion weight must be in [0,1], got %f", alpha)
		}
		e.alpha = alpha
		return nil
	}
}

// WithRerank sets how many fused candidates are re-ranked and the relevance
// threshold below which re-ranked candidates are dropped. Defaults are 10
// and 0.2.
func WithRerank(topM int, threshold float32) Option {
	return func(e *Engine) error {
		if topM < 1 {
			return fmt.Errorf("rerank top-m must be positive, got %d", topM)
		}
		e.rerankTopM = topM
		e.rerankThreshold = threshold
		return nil
	}
}

// WithContextTokenBudget caps the tokens spent on retrieved passages in the
// generation prompt. Default is 3000.
func WithContextTokenBudget(budget int) Option {
	return func(e *Engine) error {
		if budget < 1 {
			return fmt.Errorf("context token budget must be positive, got %d", budget)
		}
		e.contextTokenBudget = budget
		return nil
	}
}

// WithHistoryTokenBudget caps the tokens spent on conversation history in
// the generation prompt. Default is 1000.
func WithHistoryTokenBudget(budget int) Option {
	return func(e *Engine) error {
		if budget < 0 {
			return fmt.Errorf("history token budget must not be negative, got %d", budget)
		}
		e.historyTokenBudget = budget
		return nil
	}
}

// WithSearchTimeout bounds how long the two search branches may take
// together. Default is 10s.
func WithSearchTimeout(d time.Duration) Option {
	return func(e *Engine) error {
		if d <= 0 {
			return fmt.Errorf("search timeout must be positive, got %v", d)
		}
		e.searchTimeout = d
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) error {
		if logger == nil {
			logger = slog.Default()
		}
		e.logger = logger
		return nil
	}
}

// NewEngine creates a query engine.
func NewEngine(
	knowledge storage.KnowledgeRepository,
	memoryStore *memory.Store,
	provider ai.Provider,
	opts ...Option,
) (*Engine, error) {
	if knowledge == nil {
		return nil, ErrKnowledgeRepositoryRequired
	}
	if memoryStore == nil {
		return nil, ErrMemoryStoreRequired
	}
	if provider == nil {
		return nil, ErrAIProviderRequired
	}

	e := &Engine{
		knowledge:          knowledge,
		memory:             memoryStore,
		embedder:           provider.Embedder(),
		generator:          provider.Generator(),
		reranker:           provider.Reranker(),
		tokens:             provider.TokenCounter(),
		vectorK:            20,
		keywordK:           20,
		alpha:              0.5,
		rerankTopM:         10,
		rerankThreshold:    0.2,
		contextTokenBudget: 3000,
		historyTokenBudget: 1000,
		searchTimeout:      10 * time.Second,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// AnswerQuery answers a question within a session.
func (e *Engine) AnswerQuery(ctx context.Context, sessionID, question string) (*core.QueryResult, error) {
	return e.AnswerQueryWithMonitor(ctx, sessionID, question, nil)
}

// AnswerQueryWithMonitor answers a question within a session, reporting
// each pipeline stage to the monitor. Questions in the same session
// serialize; different sessions proceed independently.
func (e *Engine) AnswerQueryWithMonitor(ctx context.Context, sessionID, question string, monitor QueryMonitor) (*core.QueryResult, error) {
	if monitor == nil {
		monitor = &noopMonitor{}
	}
	if strings.TrimSpace(question) == "" {
		return nil, ErrEmptyQuestion
	}

	lock := e.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	monitor.Start(sessionID, question)

	history, err := e.memory.History(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("reading session history: %w", err)
	}

	standalone := e.contextualize(ctx, history, question)
	monitor.AfterContextualize(standalone)

	vectorHits, keywordHits, err := e.searchBoth(ctx, standalone, monitor)
	if err != nil {
		return nil, err
	}

	fused := fuse(vectorHits, keywordHits, e.alpha)
	monitor.AfterFusion(fused)

	final, fellBack := e.rerank(ctx, standalone, fused)
	monitor.AfterRerank(final, fellBack)

	selected, used := e.selectWithinBudget(final)
	monitor.AfterSelection(selected, used)

	// Guardrail: never generate without retrieved context.
	if len(selected) == 0 {
		monitor.Guardrail()
		result := &core.QueryResult{Answer: GuardrailAnswer, Answerable: false}
		monitor.Finish(result)
		return result, nil
	}

	recent := e.recentHistory(history)
	answer, err := e.generate(ctx, buildAnswerPrompt(standalone, selected, recent))
	if err != nil {
		return nil, err
	}

	if err := e.memory.RecordExchange(ctx, sessionID, question, answer); err != nil {
		return nil, fmt.Errorf("recording exchange: %w", err)
	}

	result := &core.QueryResult{
		Answer:     answer,
		Citations:  citations(selected),
		Scores:     scores(selected),
		Answerable: true,
	}
	monitor.Finish(result)
	return result, nil
}

// contextualize rewrites a follow-up question into a standalone query when
// history exists. A rewrite failure falls back to the original question;
// losing pronoun resolution degrades quality but never blocks the query.
func (e *Engine) contextualize(ctx context.Context, history []*core.ConversationTurn, question string) string {
	if len(history) == 0 {
		return question
	}

	standalone, err := e.generator.Generate(ctx, buildContextualizePrompt(e.recentHistory(history), question))
	if err != nil || strings.TrimSpace(standalone) == "" {
		e.logger.Warn("question contextualization failed, using original question", "err", err)
		return question
	}
	return standalone
}

// searchBoth runs the vector and keyword branches concurrently under one
// timeout. A single failed branch degrades the query to the surviving
// branch; both failing aborts it.
func (e *Engine) searchBoth(ctx context.Context, standalone string, monitor QueryMonitor) (vectorHits, keywordHits []*core.ScoredChunk, err error) {
	searchCtx, cancel := context.WithTimeout(ctx, e.searchTimeout)
	defer cancel()

	var vectorErr, keywordErr error
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		embedding, embedErr := e.embedder.EmbedText(searchCtx, standalone)
		if embedErr != nil {
			vectorErr = fmt.Errorf("embedding query: %w", embedErr)
			return
		}
		vectorHits, vectorErr = e.knowledge.SearchVector(searchCtx, embedding, e.vectorK)
	}()

	go func() {
		defer wg.Done()
		keywordHits, keywordErr = e.knowledge.SearchKeyword(searchCtx, standalone, e.keywordK)
	}()

	wg.Wait()
	monitor.AfterVectorSearch(vectorHits, vectorErr)
	monitor.AfterKeywordSearch(keywordHits, keywordErr)

	if vectorErr != nil && keywordErr != nil {
		return nil, nil, fmt.Errorf("%w: vector: %v; keyword: %v", ErrRetrievalUnavailable, vectorErr, keywordErr)
	}
	if vectorErr != nil {
		e.logger.Warn("vector search branch failed, proceeding with keyword results", "err", vectorErr)
		vectorHits = nil
	}
	if keywordErr != nil {
		e.logger.Warn("keyword search branch failed, proceeding with vector results", "err", keywordErr)
		keywordHits = nil
	}
	return vectorHits, keywordHits, nil
}

// rerank applies the finer-grained relevance model to the top-M fused
// candidates and drops those under the threshold. When re-ranking is
// unavailable the fused order passes through unchanged; the second return
// reports that fallback.
func (e *Engine) rerank(ctx context.Context, standalone string, fused []*core.ScoredChunk) ([]*core.ScoredChunk, bool) {
	if len(fused) == 0 {
		return fused, false
	}

	topM := fused
	if len(topM) > e.rerankTopM {
		topM = topM[:e.rerankTopM]
	}

	passages := make([]string, len(topM))
	for i, hit := range topM {
		passages[i] = hit.Chunk.Text
	}

	relevance, err := e.reranker.Rerank(ctx, standalone, passages)
	if err != nil {
		e.logger.Warn("re-ranking unavailable, keeping fused order", "err", err)
		return fused, true
	}
	if len(relevance) != len(passages) {
		e.logger.Warn("re-ranker returned wrong score count, keeping fused order",
			"want", len(passages), "got", len(relevance))
		return fused, true
	}

	final := make([]*core.ScoredChunk, 0, len(topM))
	for i, hit := range topM {
		if relevance[i] < e.rerankThreshold {
			continue
		}
		final = append(final, &core.ScoredChunk{Chunk: hit.Chunk, Score: relevance[i]})
	}

	sort.Slice(final, func(i, j int) bool {
		if final[i].Score != final[j].Score {
			return final[i].Score > final[j].Score
		}
		return final[i].Chunk.ChunkID < final[j].Chunk.ChunkID
	})
	return final, false
}

// selectWithinBudget greedily includes chunks in final rank order until the
// context token budget is reached.
func (e *Engine) selectWithinBudget(final []*core.ScoredChunk) ([]*core.ScoredChunk, int) {
	var selected []*core.ScoredChunk
	used := 0
	for _, hit := range final {
		cost := e.tokens.Count(hit.Chunk.Text)
		if used+cost > e.contextTokenBudget {
			break
		}
		selected = append(selected, hit)
		used += cost
	}
	return selected, used
}

// recentHistory returns the newest turns that fit the history token budget,
// oldest first.
func (e *Engine) recentHistory(history []*core.ConversationTurn) []*core.ConversationTurn {
	used := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := e.tokens.Count(history[i].Content)
		if used+cost > e.historyTokenBudget {
			break
		}
		used += cost
		start = i
	}
	return history[start:]
}

// generate invokes the generation model with one retry.
func (e *Engine) generate(ctx context.Context, prompt string) (string, error) {
	answer, err := e.generator.Generate(ctx, prompt)
	if err == nil {
		return answer, nil
	}

	e.logger.Warn("answer generation failed, retrying once", "err", err)
	answer, err = e.generator.Generate(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return answer, nil
}

func (e *Engine) sessionLock(sessionID string) *sync.Mutex {
	mu, _ := e.sessionLocks.LoadOrStore(sessionID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

func citations(selected []*core.ScoredChunk) []core.Citation {
	out := make([]core.Citation, len(selected))
	for i, hit := range selected {
		out[i] = core.Citation{
			DocumentID: hit.Chunk.DocumentID,
			URL:        hit.Chunk.URL,
			Page:       hit.Chunk.Page,
			Ordinal:    hit.Chunk.Ordinal,
		}
	}
	return out
}

func scores(selected []*core.ScoredChunk) []float32 {
	out := make([]float32, len(selected))
	for i, hit := range selected {
		out[i] = hit.Score
	}
	return out
}
