package usecase

import (
	"regexp"
	"strings"

	"legal-agent/internal/domain"
)

// SystemInstruction is the leading system message for every conversation
// window. The optimizer inserts it when the window is built.
const SystemInstruction = `You are a legal research assistant answering questions about court rulings and statutes.
Ground every statement in the case material provided in this request and the prior conversation turns.
Cite case numbers when you rely on a specific ruling. If the material does not cover the question, say so plainly.
Do not invent case law, statutes, or citations.`

const legalCheckInstruction = `Decide whether the user's message is a question about law, legal proceedings,
court rulings, statutes, contracts, or legal rights and obligations.
Reply with exactly one word: yes or no.`

const domainClassInstruction = `Classify the user's legal question into exactly one of these areas:
criminal, civil, administrative, labor, commercial, other.
Reply with the single area word and nothing else.`

const retrievalCheckInstruction = `Decide whether answering the user's question requires consulting court case
documents or statutes, as opposed to a general definition or a follow-up about the previous answer.
Reply with exactly one word: yes or no.`

const redirectAnswer = "I can only help with questions about law, court rulings, and legal procedure. " +
	"Please rephrase your question so it concerns a legal matter."

const noMaterialAnswer = "I could not find any court rulings or statutes matching your question in the available material. " +
	"Try rephrasing the question or narrowing it to a specific legal issue."

// suspiciousPattern is a cheap pre-filter for prompt-injection attempts.
// It backs up the completion-based checks, it does not replace them.
var suspiciousPattern = regexp.MustCompile(`(?i)(ignore\s+(all\s+)?(previous|prior|above)\s+instructions|disregard\s+.{0,30}instructions|system\s+prompt|you\s+are\s+now\s+)`)

func looksSuspicious(question string) bool {
	return suspiciousPattern.MatchString(question)
}

// buildAnswerMessages appends the retrieved case material and the current
// question to the optimized conversation window.
func buildAnswerMessages(window []domain.ChatMessage, documents, question string) []domain.ChatMessage {
	messages := make([]domain.ChatMessage, 0, len(window)+2)
	messages = append(messages, window...)
	if strings.TrimSpace(documents) != "" {
		messages = append(messages, domain.ChatMessage{
			Role:    domain.RoleSystem,
			Content: "Relevant case material:\n\n" + documents,
		})
	}
	messages = append(messages, domain.ChatMessage{
		Role:    domain.RoleUser,
		Content: question,
	})
	return messages
}

func parseYesNo(raw string) bool {
	answer := strings.ToLower(strings.TrimSpace(raw))
	answer = strings.Trim(answer, ".!\"'")
	return answer == "yes" || strings.HasPrefix(answer, "yes")
}

var knownDomains = map[string]struct{}{
	"criminal":       {},
	"civil":          {},
	"administrative": {},
	"labor":          {},
	"commercial":     {},
	"other":          {},
}

func parseDomain(raw string) string {
	answer := strings.ToLower(strings.TrimSpace(raw))
	answer = strings.Trim(answer, ".!\"'")
	if _, ok := knownDomains[answer]; ok {
		return answer
	}
	return "other"
}
