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


package badger

import (
	"math"
	"slices"
	"strings"

	"github.com/poiesic/ragit/core"
)

// BM25 constants. k1 saturates term frequency, b scales length normalization.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// Stop words filtered out during keyword indexing and querying
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// tokenize splits text into words, lowercases, trims punctuation, and removes stop words
func tokenize(text string) []string {
	words := strings.Fields(text)
	filtered := make([]string, 0, len(words))

	for _, word := range words {
		cleaned := strings.ToLower(strings.Trim(word, ".,!?;:'\"-()[]{}"))
		if cleaned != "" && !stopWords[cleaned] {
			filtered = append(filtered, cleaned)
		}
	}

	return filtered
}

// indexEntry is one chunk as seen by the search index.
type indexEntry struct {
	chunk  *core.DocumentChunk
	norm   float32 // cached vector norm for cosine similarity
	tokens int     // token count after stop-word filtering
}

// posting records one chunk containing a term.
type posting struct {
	entry int // index into searchIndex.entries
	tf    int
}

// searchIndex is an immutable snapshot of all ready chunks, dual-indexed for
// vector and keyword search. Snapshots are swapped atomically; readers always
// see a consistent complete state and are never blocked by writers.
type searchIndex struct {
	entries   []*indexEntry
	byDoc     map[string][]*core.DocumentChunk // ready chunks per document, ordinal order
	postings  map[string][]posting
	avgTokens float64
	dimension int
}

// emptyIndex returns a snapshot with no documents.
func emptyIndex() *searchIndex {
	return &searchIndex{
		byDoc:    make(map[string][]*core.DocumentChunk),
		postings: make(map[string][]posting),
	}
}

// buildIndex constructs a snapshot from the ready chunk sets of all documents.
// Chunks of one document are indexed either completely or not at all.
func buildIndex(byDoc map[string][]*core.DocumentChunk, dimension int) *searchIndex {
	idx := &searchIndex{
		byDoc:     byDoc,
		postings:  make(map[string][]posting),
		dimension: dimension,
	}

	var totalTokens int
	for _, chunks := range byDoc {
		for _, chunk := range chunks {
			entry := &indexEntry{
				chunk: chunk,
				norm:  vectorNorm(chunk.Vector),
			}
			pos := len(idx.entries)
			idx.entries = append(idx.entries, entry)

			tf := make(map[string]int)
			for _, token := range tokenize(chunk.Text) {
				tf[token]++
				entry.tokens++
			}
			totalTokens += entry.tokens
			for term, count := range tf {
				idx.postings[term] = append(idx.postings[term], posting{entry: pos, tf: count})
			}
		}
	}
	if len(idx.entries) > 0 {
		idx.avgTokens = float64(totalTokens) / float64(len(idx.entries))
	}
	return idx
}

// searchVector ranks entries by cosine similarity against the query vector.
func (idx *searchIndex) searchVector(vector []float32, k int) []*core.ScoredChunk {
	queryNorm := vectorNorm(vector)
	if queryNorm == 0 || k <= 0 {
		return nil
	}

	results := make([]*core.ScoredChunk, 0, len(idx.entries))
	for _, entry := range idx.entries {
		if entry.norm == 0 {
			continue
		}
		score := dotProduct(vector, entry.chunk.Vector) / (queryNorm * entry.norm)
		results = append(results, &core.ScoredChunk{Chunk: entry.chunk, Score: score})
	}

	sortScoredDesc(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// searchKeyword ranks entries by BM25 relevance against the query text.
func (idx *searchIndex) searchKeyword(text string, k int) []*core.ScoredChunk {
	terms := tokenize(text)
	if len(terms) == 0 || k <= 0 || len(idx.entries) == 0 {
		return nil
	}

	n := float64(len(idx.entries))
	scores := make(map[int]float64)
	seen := make(map[string]bool)
	for _, term := range terms {
		if seen[term] {
			continue
		}
		seen[term] = true

		plist := idx.postings[term]
		if len(plist) == 0 {
			continue
		}
		df := float64(len(plist))
		idf := math.Log(1 + (n-df+0.5)/(df+0.5))
		for _, p := range plist {
			tf := float64(p.tf)
			lenNorm := 1 - bm25B + bm25B*float64(idx.entries[p.entry].tokens)/math.Max(idx.avgTokens, 1)
			scores[p.entry] += idf * (tf * (bm25K1 + 1)) / (tf + bm25K1*lenNorm)
		}
	}

	results := make([]*core.ScoredChunk, 0, len(scores))
	for pos, score := range scores {
		results = append(results, &core.ScoredChunk{
			Chunk: idx.entries[pos].chunk,
			Score: float32(score),
		})
	}

	sortScoredDesc(results)
	if len(results) > k {
		results = results[:k]
	}
	return results
}

// with returns a new snapshot with one document's chunk set replaced.
func (idx *searchIndex) with(documentID string, chunks []*core.DocumentChunk, dimension int) *searchIndex {
	byDoc := make(map[string][]*core.DocumentChunk, len(idx.byDoc)+1)
	for id, existing := range idx.byDoc {
		byDoc[id] = existing
	}
	byDoc[documentID] = chunks
	return buildIndex(byDoc, dimension)
}

// without returns a new snapshot with one document removed.
func (idx *searchIndex) without(documentID string) *searchIndex {
	byDoc := make(map[string][]*core.DocumentChunk, len(idx.byDoc))
	for id, existing := range idx.byDoc {
		if id != documentID {
			byDoc[id] = existing
		}
	}
	return buildIndex(byDoc, idx.dimension)
}

// sortScoredDesc orders by score descending with chunk ID as a stable tie-break.
func sortScoredDesc(results []*core.ScoredChunk) {
	slices.SortFunc(results, func(a, b *core.ScoredChunk) int {
		if a.Score > b.Score {
			return -1
		}
		if a.Score < b.Score {
			return 1
		}
		if a.Chunk.ChunkID < b.Chunk.ChunkID {
			return -1
		}
		if a.Chunk.ChunkID > b.Chunk.ChunkID {
			return 1
		}
		return 0
	})
}

// dotProduct calculates the dot product of two vectors.
func dotProduct(a, b []float32) float32 {
	var sum float32
	minLen := min(len(a), len(b))
	for i := 0; i < minLen; i++ {
		sum += a[i] * b[i]
	}
	return sum
}

// vectorNorm calculates the Euclidean norm of a vector.
func vectorNorm(v []float32) float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return float32(math.Sqrt(sum))
}
