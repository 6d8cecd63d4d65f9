package domain

import "time"

// Analysis is the structured record extracted from conversation history
// before condensing it into a rolling summary.
type Analysis struct {
	Topics    []string `json:"topics"`
	Concepts  []string `json:"concepts"`
	Decisions []string `json:"decisions"`
	Laws      []string `json:"laws"`
	Flow      string   `json:"flow"`
}

// ModelContext is the cached, optimized message window for one conversation.
// It has its own, shorter TTL than the surrounding conversation state.
type ModelContext struct {
	Messages       []ChatMessage
	LastTokenCount int
	LastUpdate     time.Time
	Summary        string
	KeyPoints      []string
	LastAnalysis   *Analysis
}

// Conversation is the per-conversation state owned by the conversation
// store. History and PreviousQuestions are capped to the most recent
// entries after every mutation.
type Conversation struct {
	History           []ChatMessage
	PreviousQuestions []string
	LastResponse      string
	Context           ModelContext
	Timestamp         time.Time
}

// Turn is a single completed question/answer pair written to the audit log.
type Turn struct {
	PK             string
	SK             string
	ConversationID string
	Question       string
	Answer         string
	Tokens         int
	TTL            int64
}
