// Package retrieval turns a question into a bounded, formatted context of
// relevant case documents.
package retrieval

import (
	"fmt"
	"sort"
	"strings"

	"legal-agent/internal/domain"
)

// TruncationMarker is appended whenever the rendered context had to be cut
// to fit the character budget. Truncation is always marked, never silent.
const TruncationMarker = "\n[... context truncated ...]"

// Aggregator merges raw search hits into per-case text blocks and applies
// the character budget.
type Aggregator struct {
	charBudget int
}

func NewAggregator(charBudget int) *Aggregator {
	if charBudget <= 0 {
		charBudget = 10000
	}
	return &Aggregator{charBudget: charBudget}
}

// GroupByCase buckets hits by case id in the order cases are first seen.
// Summary hits fill the case summary; content hits become chunks. Hits
// without a case id are dropped.
func GroupByCase(hits []domain.SearchHit) []domain.CaseDocuments {
	byID := make(map[string]*domain.CaseDocuments)
	order := make([]string, 0, len(hits))

	for _, h := range hits {
		id := h.Metadata.CaseID
		if id == "" {
			continue
		}
		cd, ok := byID[id]
		if !ok {
			cd = &domain.CaseDocuments{Metadata: h.Metadata}
			byID[id] = cd
			order = append(order, id)
		}
		switch h.Metadata.DocumentType {
		case domain.DocumentSummary:
			if cd.Summary == "" {
				cd.Summary = h.Content
			}
		default:
			cd.Chunks = append(cd.Chunks, h)
		}
	}

	out := make([]domain.CaseDocuments, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// Aggregate orders each case's chunks, renders the case blocks in the
// given discovery order and enforces the character budget.
func (a *Aggregator) Aggregate(cases []domain.CaseDocuments) domain.AggregatedContext {
	for i := range cases {
		sortChunks(cases[i].Chunks)
	}

	var sb strings.Builder
	truncated := false
	for i, cd := range cases {
		block := renderCase(cd)
		if i > 0 {
			block = "\n\n" + block
		}
		if sb.Len()+len(block) > a.charBudget {
			remaining := a.charBudget - sb.Len()
			if sb.Len() == 0 && remaining > 0 {
				// Even the first block overflows; keep what fits.
				sb.WriteString(block[:remaining])
			}
			truncated = true
			break
		}
		sb.WriteString(block)
	}

	text := sb.String()
	if truncated {
		text += TruncationMarker
	}
	return domain.AggregatedContext{Cases: cases, Text: text, Truncated: truncated}
}

func sortChunks(chunks []domain.SearchHit) {
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].Metadata.ChunkIndex < chunks[j].Metadata.ChunkIndex
	})
}

func renderCase(cd domain.CaseDocuments) string {
	var sb strings.Builder
	md := cd.Metadata

	title := md.CaseNumber
	if title == "" {
		title = md.CaseID
	}
	sb.WriteString(fmt.Sprintf("=== Case %s ===\n", title))
	if md.Court != "" {
		sb.WriteString("Court: " + md.Court + "\n")
	}
	if md.DecisionDate != "" {
		sb.WriteString("Decision date: " + md.DecisionDate + "\n")
	}
	if md.Judge != "" {
		sb.WriteString("Judge: " + md.Judge + "\n")
	}
	if md.URL != "" {
		sb.WriteString("Source: " + md.URL + "\n")
	}
	if cd.Summary != "" {
		sb.WriteString("\nSummary:\n" + strings.TrimSpace(cd.Summary) + "\n")
	}
	for _, ch := range cd.Chunks {
		sb.WriteString("\n" + strings.TrimSpace(ch.Content) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
