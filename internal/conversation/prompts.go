package conversation

import (
	"strings"

	"legal-agent/internal/domain"
)

const analysisInstruction = `You analyze the structure of a legal assistant conversation.
Extract the recurring topics, the legal concepts involved, any decisions or
conclusions reached, the statutes or cases cited, and a one-sentence
description of how the conversation has flowed.
Return JSON only with keys: topics (string array), concepts (string array),
decisions (string array), laws (string array), flow (string).`

const condenseInstruction = `You condense a structured analysis of a legal assistant conversation.
Write a short prose summary (3-5 sentences) a model can use as context for
future turns, plus the most important points to remember.
Return JSON only with keys: summary (string) and key_points (string array).`

const simpleSummaryInstruction = `Summarize the following legal assistant conversation in a few sentences,
followed by bullet points (lines starting with "- ") for the facts that must
be remembered in later turns.`

// renderHistory flattens a message list into role-tagged lines for the
// summarization prompts.
func renderHistory(msgs []domain.ChatMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		sb.WriteString("[")
		sb.WriteString(m.Role)
		sb.WriteString("] ")
		sb.WriteString(strings.TrimSpace(m.Content))
		sb.WriteString("\n")
	}
	return sb.String()
}
