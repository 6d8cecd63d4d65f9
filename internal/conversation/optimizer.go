package conversation

import (
	"context"
	"log/slog"
	"time"

	"legal-agent/internal/domain"
	"legal-agent/internal/tokens"
)

const (
	reseedHistoryEntries = 3
	summaryPrefix        = "Conversation summary: "
	keyPointsPrefix      = "Key points to remember:\n"
)

// Optimizer builds the bounded message window for one turn and keeps the
// cached window inside the conversation state current. When the window
// exceeds the token budget it truncates to a recent-history suffix and
// kicks off summary regeneration in the background so later turns get the
// compressed form.
type Optimizer struct {
	store          *Store
	estimator      tokens.Estimator
	summarizer     *Summarizer
	systemPrompt   string
	maxTotalTokens int
	logger         *slog.Logger

	now func() time.Time

	// regenerate is replaceable in tests; the default runs Regenerate in a
	// goroutine detached from the request context.
	regenerate func(ctx context.Context, id string, history []domain.ChatMessage)
}

func NewOptimizer(store *Store, estimator tokens.Estimator, summarizer *Summarizer, systemPrompt string, maxTotalTokens int, logger *slog.Logger) *Optimizer {
	if maxTotalTokens <= 0 {
		maxTotalTokens = 8000
	}
	if logger == nil {
		logger = slog.Default()
	}
	o := &Optimizer{
		store:          store,
		estimator:      estimator,
		summarizer:     summarizer,
		systemPrompt:   systemPrompt,
		maxTotalTokens: maxTotalTokens,
		logger:         logger,
		now:            time.Now,
	}
	o.regenerate = o.asyncRegenerate
	return o
}

// Optimize computes the message window for the given state and writes the
// resulting window, token count and update time back into it. The caller
// holds the conversation turn lock and persists the state afterwards.
func (o *Optimizer) Optimize(ctx context.Context, id string, conv *domain.Conversation) []domain.ChatMessage {
	now := o.now()

	msgs := conv.Context.Messages
	if conv.Context.LastUpdate.IsZero() || now.Sub(conv.Context.LastUpdate) > o.store.Config().ContextTTL {
		msgs = tailMessages(conv.History, reseedHistoryEntries)
	}

	window := make([]domain.ChatMessage, 0, len(msgs)+len(conv.History)+3)
	if len(msgs) == 0 || msgs[0].Role != domain.RoleSystem {
		window = append(window, domain.ChatMessage{Role: domain.RoleSystem, Content: o.systemPrompt})
	}
	window = append(window, msgs...)

	if conv.Context.Summary != "" {
		window = appendUnlessPresent(window, domain.ChatMessage{
			Role:    domain.RoleSystem,
			Content: summaryPrefix + conv.Context.Summary,
		})
	}
	if len(conv.Context.KeyPoints) > 0 {
		window = appendUnlessPresent(window, domain.ChatMessage{
			Role:    domain.RoleSystem,
			Content: keyPointsPrefix + bulletList(conv.Context.KeyPoints),
		})
	}
	for _, m := range conv.History {
		window = appendUnlessPresent(window, m)
	}

	cost := o.estimator.Estimate(window)
	if cost > o.maxTotalTokens {
		window = o.truncateToBudget(window[0], conv.History)
		cost = o.estimator.Estimate(window)
		historyCopy := append([]domain.ChatMessage(nil), conv.History...)
		o.regenerate(ctx, id, historyCopy)
	}

	conv.Context.Messages = window
	conv.Context.LastTokenCount = cost
	conv.Context.LastUpdate = now
	return window
}

// truncateToBudget keeps the system message plus the longest contiguous
// suffix of recent history that fits the token budget.
func (o *Optimizer) truncateToBudget(system domain.ChatMessage, history []domain.ChatMessage) []domain.ChatMessage {
	kept := make([]domain.ChatMessage, 0, len(history))
	for i := len(history) - 1; i >= 0; i-- {
		candidate := make([]domain.ChatMessage, 0, len(kept)+2)
		candidate = append(candidate, system)
		candidate = append(candidate, history[i])
		candidate = append(candidate, kept...)
		if o.estimator.Estimate(candidate) > o.maxTotalTokens {
			break
		}
		kept = candidate[1:]
	}
	return append([]domain.ChatMessage{system}, kept...)
}

func (o *Optimizer) asyncRegenerate(ctx context.Context, id string, history []domain.ChatMessage) {
	if o.summarizer == nil {
		return
	}
	// Detach from the request: the turn finishes regardless of how the
	// regeneration fares.
	bg := context.WithoutCancel(ctx)
	go func() {
		res, err := o.summarizer.Regenerate(bg, history)
		if err != nil {
			o.logger.Warn("summary regeneration failed, keeping previous summary", "conversation_id", id, "err", err)
			return
		}
		o.store.Update(id, func(c *domain.Conversation) {
			c.Context.Summary = res.Summary
			c.Context.KeyPoints = res.KeyPoints
			if res.Analysis != nil {
				c.Context.LastAnalysis = res.Analysis
			}
		})
	}()
}

func appendUnlessPresent(msgs []domain.ChatMessage, m domain.ChatMessage) []domain.ChatMessage {
	for _, existing := range msgs {
		if existing.Content == m.Content && existing.Role == m.Role {
			return msgs
		}
	}
	return append(msgs, m)
}

func bulletList(points []string) string {
	out := ""
	for _, p := range points {
		out += "- " + p + "\n"
	}
	return out
}
