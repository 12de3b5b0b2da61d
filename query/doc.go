// Package query answers natural-language questions over the knowledge
// store.
//
// Each question runs through hybrid retrieval: the vector and keyword
// branches search concurrently, their score lists are min-max normalized
// and fused with a configurable weight, the top candidates are re-ranked
// by a finer-grained relevance model, and the survivors are packed into a
// token-budgeted context for answer generation. A guardrail guarantees
// generation is never invoked without at least one sufficiently relevant
// chunk; the engine returns a fixed inability-to-answer result instead.
//
// Questions within the same session serialize so turn ordering in the
// conversation memory stays consistent; sessions are independent of each
// other.
package query
