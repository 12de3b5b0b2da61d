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
	"sort"

	"github.com/poiesic/ragit/core"
)

// fuse merges the vector and keyword result lists into one deduplicated
// ranking. Each list's scores are min-max normalized to [0,1] and combined
// per chunk as alpha*vector + (1-alpha)*keyword; a chunk present in only
// one list contributes 0 for the other term. The result is sorted by fused
// score descending with chunk ID as the tie-break, so a fixed input always
// produces the same ordering.
func fuse(vector, keyword []*core.ScoredChunk, alpha float32) []*core.ScoredChunk {
	vectorNorm := minMaxNormalize(vector)
	keywordNorm := minMaxNormalize(keyword)

	type candidate struct {
		chunk  *core.DocumentChunk
		vScore float32
		kScore float32
	}

	merged := make(map[core.ID]*candidate, len(vector)+len(keyword))
	for i, hit := range vector {
		merged[hit.Chunk.ChunkID] = &candidate{chunk: hit.Chunk, vScore: vectorNorm[i]}
	}
	for i, hit := range keyword {
		if c, ok := merged[hit.Chunk.ChunkID]; ok {
			c.kScore = keywordNorm[i]
			continue
		}
		merged[hit.Chunk.ChunkID] = &candidate{chunk: hit.Chunk, kScore: keywordNorm[i]}
	}

	fused := make([]*core.ScoredChunk, 0, len(merged))
	for _, c := range merged {
		fused = append(fused, &core.ScoredChunk{
			Chunk: c.chunk,
			Score: alpha*c.vScore + (1-alpha)*c.kScore,
		})
	}

	sort.Slice(fused, func(i, j int) bool {
		if fused[i].Score != fused[j].Score {
			return fused[i].Score > fused[j].Score
		}
		return fused[i].Chunk.ChunkID < fused[j].Chunk.ChunkID
	})
	return fused
}

// minMaxNormalize maps the scores of a ranked hit list onto [0,1].
// A list whose scores are all equal normalizes to all ones, preserving the
// hits rather than zeroing them out.
func minMaxNormalize(hits []*core.ScoredChunk) []float32 {
	norm := make([]float32, len(hits))
	if len(hits) == 0 {
		return norm
	}

	lo, hi := hits[0].Score, hits[0].Score
	for _, hit := range hits[1:] {
		if hit.Score < lo {
			lo = hit.Score
		}
		if hit.Score > hi {
			hi = hit.Score
		}
	}

	if hi == lo {
		for i := range norm {
			norm[i] = 1
		}
		return norm
	}
	for i, hit := range hits {
		norm[i] = (hit.Score - lo) / (hi - lo)
	}
	return norm
}
