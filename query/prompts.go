package query

import (
	"fmt"
	"strings"

	"github.com/poiesic/ragit/core"
)

// GuardrailAnswer is the fixed, non-generated reply issued when no
// sufficiently relevant context exists for a question.
const GuardrailAnswer = "I cannot answer that from the knowledge base."

// buildContextualizePrompt asks the model to rewrite a follow-up question
// into a standalone query, resolving pronouns and references to earlier
// turns. The model must not answer the question.
func buildContextualizePrompt(history []*core.ConversationTurn, question string) string {
	var sb strings.Builder
	sb.WriteString("Given the conversation below, rewrite the final question so it can be understood without the conversation. ")
	sb.WriteString("Resolve pronouns and references to earlier turns. ")
	sb.WriteString("Reply with the rewritten question only. Do not answer it.\n\nConversation:\n")
	for _, turn := range history {
		sb.WriteString(roleLabel(turn.Role))
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	fmt.Fprintf(&sb, "\nQuestion: %s", question)
	return sb.String()
}

// buildAnswerPrompt assembles the generation prompt from the question, the
// selected chunks and the recent history. Passages are numbered so the
// model can ground its statements; the instructions forbid answering from
// anything outside the provided context.
func buildAnswerPrompt(question string, selected []*core.ScoredChunk, history []*core.ConversationTurn) string {
	var sb strings.Builder
	sb.WriteString("Answer the question using only the numbered context passages below. ")
	sb.WriteString("If the passages do not contain the answer, say you do not know. ")
	sb.WriteString("Do not invent facts.\n\n")

	for i, hit := range selected {
		fmt.Fprintf(&sb, "[%d]", i+1)
		if hit.Chunk.URL != "" {
			fmt.Fprintf(&sb, " (%s", hit.Chunk.URL)
			if hit.Chunk.Page > 0 {
				fmt.Fprintf(&sb, ", page %d", hit.Chunk.Page)
			}
			sb.WriteString(")")
		} else if hit.Chunk.Page > 0 {
			fmt.Fprintf(&sb, " (page %d)", hit.Chunk.Page)
		}
		sb.WriteString("\n")
		sb.WriteString(hit.Chunk.Text)
		sb.WriteString("\n\n")
	}

	if len(history) > 0 {
		sb.WriteString("Recent conversation:\n")
		for _, turn := range history {
			sb.WriteString(roleLabel(turn.Role))
			sb.WriteString(": ")
			sb.WriteString(turn.Content)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "Question: %s", question)
	return sb.String()
}

func roleLabel(role core.TurnRole) string {
	switch role {
	case core.TurnRoleUser:
		return "User"
	case core.TurnRoleAssistant:
		return "Assistant"
	default:
		return "Unknown"
	}
}
