package openai

import (
	"fmt"
	"strings"
)

const rerankSystemPrompt = `You grade how relevant text passages are to a search query.
Score each passage from 0.0 (irrelevant) to 1.0 (directly answers the query).
Respond with JSON only, in the form {"scores": [0.8, 0.1, ...]}, one score per
passage, in the same order the passages are given. No other text.`

// buildRerankPrompt renders the query and numbered passages for scoring.
func buildRerankPrompt(query string, passages []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Query: %s\n\n", query)
	for i, passage := range passages {
		fmt.Fprintf(&sb, "Passage %d:\n%s\n\n", i+1, passage)
	}
	fmt.Fprintf(&sb, "Score all %d passages.", len(passages))
	return sb.String()
}
