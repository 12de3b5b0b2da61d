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


package ai

import (
	"log/slog"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

// tiktokenCounter counts tokens with a tiktoken byte-pair encoding.
type tiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter creates a TokenCounter for the given tiktoken encoding
// name (e.g. "cl100k_base"). If the encoding cannot be loaded, a heuristic
// counter is returned instead so token budgeting keeps working offline.
func NewTokenCounter(encodingName string) TokenCounter {
	encoding, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, falling back to heuristic token counting",
			"encoding", encodingName, "err", err)
		return HeuristicTokenCounter{}
	}
	return &tiktokenCounter{encoding: encoding}
}

// Count returns the number of tokens in text.
func (c *tiktokenCounter) Count(text string) int {
	return len(c.encoding.Encode(text, nil, nil))
}

// HeuristicTokenCounter approximates token counts as one token per four
// characters, the usual rule of thumb for BPE tokenizers on English text.
// Used in tests and as the offline fallback.
type HeuristicTokenCounter struct{}

// Count returns the approximate number of tokens in text.
func (HeuristicTokenCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return n/4 + 1
}
