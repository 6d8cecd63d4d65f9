package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"legal-agent/internal/domain"
)

// Completer is the single completion-service call this package needs.
type Completer interface {
	Complete(ctx context.Context, systemInstruction, userPrompt string) (string, error)
}

// SummaryResult is the outcome of one regeneration pass.
type SummaryResult struct {
	Summary   string
	KeyPoints []string
	Analysis  *domain.Analysis
}

// Summarizer compresses conversation history into a rolling summary plus
// key points. The two-step path (structural analysis, then condensation)
// is preferred; a single simpler call is the fallback.
type Summarizer struct {
	llm          Completer
	maxKeyPoints int
	logger       *slog.Logger
}

func NewSummarizer(llm Completer, maxKeyPoints int, logger *slog.Logger) *Summarizer {
	if maxKeyPoints <= 0 {
		maxKeyPoints = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Summarizer{llm: llm, maxKeyPoints: maxKeyPoints, logger: logger}
}

// Regenerate produces a fresh summary for the given history. An error is
// returned only when the fallback path also fails; the caller then keeps
// the previous summary and key points.
func (s *Summarizer) Regenerate(ctx context.Context, history []domain.ChatMessage) (SummaryResult, error) {
	if len(history) == 0 {
		return SummaryResult{}, errors.New("conversation: nothing to summarize")
	}
	rendered := renderHistory(history)

	res, err := s.structured(ctx, rendered)
	if err == nil {
		return res, nil
	}
	s.logger.Warn("structured summarization failed, falling back", "err", err)

	res, err = s.simple(ctx, rendered)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("conversation: fallback summarization: %w", err)
	}
	return res, nil
}

func (s *Summarizer) structured(ctx context.Context, rendered string) (SummaryResult, error) {
	raw, err := s.llm.Complete(ctx, analysisInstruction, rendered)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("analysis call: %w", err)
	}
	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(stripFences(raw)), &analysis); err != nil {
		return SummaryResult{}, fmt.Errorf("decode analysis: %w", err)
	}

	analysisJSON, err := json.Marshal(analysis)
	if err != nil {
		return SummaryResult{}, fmt.Errorf("encode analysis: %w", err)
	}
	raw, err = s.llm.Complete(ctx, condenseInstruction, string(analysisJSON))
	if err != nil {
		return SummaryResult{}, fmt.Errorf("condense call: %w", err)
	}
	var out struct {
		Summary   string   `json:"summary"`
		KeyPoints []string `json:"key_points"`
	}
	if err := json.Unmarshal([]byte(stripFences(raw)), &out); err != nil {
		return SummaryResult{}, fmt.Errorf("decode condensation: %w", err)
	}
	if strings.TrimSpace(out.Summary) == "" {
		return SummaryResult{}, errors.New("condensation produced empty summary")
	}
	return SummaryResult{
		Summary:   strings.TrimSpace(out.Summary),
		KeyPoints: capPoints(out.KeyPoints, s.maxKeyPoints),
		Analysis:  &analysis,
	}, nil
}

// simple issues one summarization call and accepts whatever bullet points
// it yields, up to the cap.
func (s *Summarizer) simple(ctx context.Context, rendered string) (SummaryResult, error) {
	raw, err := s.llm.Complete(ctx, simpleSummaryInstruction, rendered)
	if err != nil {
		return SummaryResult{}, err
	}
	summary, points := splitSummaryText(raw)
	if summary == "" {
		return SummaryResult{}, errors.New("empty summary text")
	}
	return SummaryResult{Summary: summary, KeyPoints: capPoints(points, s.maxKeyPoints)}, nil
}

// splitSummaryText separates prose from "- " bullet lines.
func splitSummaryText(raw string) (summary string, points []string) {
	var prose []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if rest, ok := strings.CutPrefix(trimmed, "- "); ok {
			points = append(points, strings.TrimSpace(rest))
			continue
		}
		if rest, ok := strings.CutPrefix(trimmed, "• "); ok {
			points = append(points, strings.TrimSpace(rest))
			continue
		}
		prose = append(prose, trimmed)
	}
	return strings.Join(prose, " "), points
}

func capPoints(points []string, max int) []string {
	out := make([]string, 0, max)
	for _, p := range points {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
		if len(out) == max {
			break
		}
	}
	return out
}

// stripFences removes a surrounding markdown code fence if the model added
// one around its JSON output.
func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(strings.TrimSpace(trimmed), "```")
	return strings.TrimSpace(trimmed)
}
