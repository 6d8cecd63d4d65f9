package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"legal-agent/internal/domain"
)

// Estimator approximates the token cost of a message list. The heuristic
// implementation is the default; wire the encoding-backed one when exact
// counts matter more than speed.
type Estimator interface {
	Estimate(messages []domain.ChatMessage) int
}

// messageOverhead accounts for the role and separators each chat message
// adds on top of its content.
const messageOverhead = 4

// Heuristic estimates tokens from character length. Good enough for
// triggering window truncation, not for billing.
type Heuristic struct {
	CharsPerToken int // defaults to 4 if zero
}

func (h Heuristic) ratio() int {
	if h.CharsPerToken <= 0 {
		return 4
	}
	return h.CharsPerToken
}

func (h Heuristic) Estimate(messages []domain.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += messageOverhead
		total += len(m.Content) / h.ratio()
	}
	return total
}

// Encoding counts tokens with a tiktoken encoding (cl100k_base matches the
// OpenAI chat models this system targets).
type Encoding struct {
	enc *tiktoken.Tiktoken
}

func NewEncoding(name string) (*Encoding, error) {
	if name == "" {
		name = "cl100k_base"
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		return nil, fmt.Errorf("tokens: get encoding %q: %w", name, err)
	}
	return &Encoding{enc: enc}, nil
}

func (e *Encoding) Estimate(messages []domain.ChatMessage) int {
	total := 0
	for _, m := range messages {
		total += messageOverhead
		if m.Content != "" {
			total += len(e.enc.Encode(m.Content, nil, nil))
		}
	}
	return total
}
