package query

import "github.com/poiesic/ragit/core"

// QueryMonitor provides hooks to observe the answer pipeline.
// Implement this interface to track intermediate steps and results while a
// question is being answered.
type QueryMonitor interface {
	Start(sessionID, question string)
	AfterContextualize(standalone string)
	AfterVectorSearch(hits []*core.ScoredChunk, err error)
	AfterKeywordSearch(hits []*core.ScoredChunk, err error)
	AfterFusion(candidates []*core.ScoredChunk)
	AfterRerank(final []*core.ScoredChunk, fellBack bool)
	AfterSelection(selected []*core.ScoredChunk, tokens int)
	Guardrail()
	Finish(result *core.QueryResult)
}

// noopMonitor is a no-op implementation of QueryMonitor
type noopMonitor struct{}

var _ QueryMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)                             {}
func (n *noopMonitor) AfterContextualize(_ string)                   {}
func (n *noopMonitor) AfterVectorSearch(_ []*core.ScoredChunk, _ error)  {}
func (n *noopMonitor) AfterKeywordSearch(_ []*core.ScoredChunk, _ error) {}
func (n *noopMonitor) AfterFusion(_ []*core.ScoredChunk)             {}
func (n *noopMonitor) AfterRerank(_ []*core.ScoredChunk, _ bool)     {}
func (n *noopMonitor) AfterSelection(_ []*core.ScoredChunk, _ int)   {}
func (n *noopMonitor) Guardrail()                                    {}
func (n *noopMonitor) Finish(_ *core.QueryResult)                    {}
