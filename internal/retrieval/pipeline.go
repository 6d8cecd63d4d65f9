package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"legal-agent/internal/domain"
)

// ErrNoRelevantDocuments reports that both the filtered and the fallback
// searches produced nothing usable. Callers surface it as a "no matching
// material" answer, not as a failure.
var ErrNoRelevantDocuments = errors.New("retrieval: no relevant documents")

const expansionInstruction = `You expand search queries for a legal case-law index.
Rewrite the query below, adding the legal terminology, statute names and
synonyms a lawyer would use, so that vector search recall improves.
Return only the expanded query text, nothing else.`

// Completer is the completion-service call used for query expansion.
type Completer interface {
	Complete(ctx context.Context, systemInstruction, userPrompt string) (string, error)
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// Searcher queries the vector index.
type Searcher interface {
	Search(ctx context.Context, vector []float64, filter *domain.SearchFilter, limit int) ([]domain.SearchHit, error)
}

// Config bounds one retrieval call. Zero values fall back to defaults.
type Config struct {
	SummaryLimit int           // summary search result count (3)
	ChunkLimit   int           // content chunks fetched per case (5)
	MaxCases     int           // cap on cases fetched per call (5)
	CharBudget   int           // rendered context budget (10000)
	CacheTTL     time.Duration // per-conversation retrieval cache TTL (30m)
}

func (c Config) withDefaults() Config {
	if c.SummaryLimit <= 0 {
		c.SummaryLimit = 3
	}
	if c.ChunkLimit <= 0 {
		c.ChunkLimit = 5
	}
	if c.MaxCases <= 0 {
		c.MaxCases = 5
	}
	if c.CharBudget <= 0 {
		c.CharBudget = 10000
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = 30 * time.Minute
	}
	return c
}

// Pipeline implements the case-aware retrieval flow: query augmentation
// and expansion, summary-first search with an unfiltered fallback, parallel
// per-case chunk fetches, and budgeted context formatting.
type Pipeline struct {
	llm      Completer
	embedder Embedder
	searcher Searcher
	agg      *Aggregator
	cache    *queryCache
	cfg      Config
	logger   *slog.Logger
}

func NewPipeline(llm Completer, embedder Embedder, searcher Searcher, cfg Config, logger *slog.Logger) *Pipeline {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		llm:      llm,
		embedder: embedder,
		searcher: searcher,
		agg:      NewAggregator(cfg.CharBudget),
		cache:    newQueryCache(cfg.CacheTTL),
		cfg:      cfg,
		logger:   logger,
	}
}

// caseFetch is one case's concurrently fetched documents.
type caseFetch struct {
	summary string
	chunks  []domain.SearchHit
	meta    domain.CaseMetadata
	err     error
}

// Search builds the document context for a query.
func (p *Pipeline) Search(ctx context.Context, query, conversationID string) (domain.AggregatedContext, error) {
	searchQuery := query
	if ex := p.cache.excerpt(conversationID); ex != "" {
		searchQuery = query + "\n\nRelated material from earlier in this conversation:\n" + ex
	}

	expanded := p.expandQuery(ctx, searchQuery)

	vector, err := p.embedder.Embed(ctx, expanded)
	if err != nil {
		return domain.AggregatedContext{}, fmt.Errorf("retrieval: embed query: %w", err)
	}

	summaryFilter := domain.SearchFilter{DocumentType: domain.DocumentSummary}
	discovered, err := p.searcher.Search(ctx, vector, &summaryFilter, p.cfg.SummaryLimit)
	if err != nil {
		return domain.AggregatedContext{}, fmt.Errorf("retrieval: summary search: %w", err)
	}

	caseIDs, summaries := discoveredCases(discovered)
	if len(caseIDs) == 0 {
		// No summary records matched; fall back to an unfiltered search and
		// take case ids from whatever it returns.
		fallback, err := p.searcher.Search(ctx, vector, nil, p.cfg.ChunkLimit)
		if err != nil {
			return domain.AggregatedContext{}, fmt.Errorf("retrieval: fallback search: %w", err)
		}
		discovered = fallback
		caseIDs, summaries = discoveredCases(fallback)
	}
	if len(caseIDs) > p.cfg.MaxCases {
		caseIDs = caseIDs[:p.cfg.MaxCases]
	}
	if len(caseIDs) == 0 {
		return domain.AggregatedContext{}, ErrNoRelevantDocuments
	}

	fetches := p.fetchCases(ctx, vector, caseIDs, summaries)

	cases := make([]domain.CaseDocuments, 0, len(caseIDs))
	for i, id := range caseIDs {
		f := fetches[i]
		if f.err != nil {
			// One case failing never aborts the rest; it just contributes
			// no documents.
			p.logger.Warn("case fetch failed", "case_id", id, "err", f.err)
			continue
		}
		if f.summary == "" && len(f.chunks) == 0 {
			continue
		}
		cases = append(cases, domain.CaseDocuments{Metadata: f.meta, Summary: f.summary, Chunks: f.chunks})
	}
	if len(cases) == 0 {
		return domain.AggregatedContext{}, ErrNoRelevantDocuments
	}

	result := p.agg.Aggregate(cases)

	p.cache.put(conversationID, discovered)
	return result, nil
}

// expandQuery asks the completion service to enrich the query with domain
// terminology. Expansion failure is non-fatal.
func (p *Pipeline) expandQuery(ctx context.Context, query string) string {
	expanded, err := p.llm.Complete(ctx, expansionInstruction, query)
	if err != nil {
		p.logger.Warn("query expansion failed, using raw query", "err", err)
		return query
	}
	expanded = strings.TrimSpace(expanded)
	if expanded == "" {
		return query
	}
	return expanded
}

// fetchCases retrieves every case's content chunks (and summary, when the
// discovery pass did not already yield one) concurrently. Each goroutine
// writes only its own slot.
func (p *Pipeline) fetchCases(ctx context.Context, vector []float64, caseIDs []string, summaries map[string]domain.SearchHit) []caseFetch {
	fetches := make([]caseFetch, len(caseIDs))
	var wg sync.WaitGroup
	for i, id := range caseIDs {
		wg.Add(1)
		go func(slot int, caseID string) {
			defer wg.Done()
			fetches[slot] = p.fetchCase(ctx, vector, caseID, summaries)
		}(i, id)
	}
	wg.Wait()
	return fetches
}

func (p *Pipeline) fetchCase(ctx context.Context, vector []float64, caseID string, summaries map[string]domain.SearchHit) caseFetch {
	f := caseFetch{}

	if hit, ok := summaries[caseID]; ok {
		f.summary = hit.Content
		f.meta = hit.Metadata
	} else {
		hits, err := p.searcher.Search(ctx, vector, &domain.SearchFilter{CaseID: caseID, DocumentType: domain.DocumentSummary}, 1)
		if err != nil {
			return caseFetch{err: fmt.Errorf("summary fetch: %w", err)}
		}
		if len(hits) > 0 {
			f.summary = hits[0].Content
			f.meta = hits[0].Metadata
		}
	}

	chunks, err := p.searcher.Search(ctx, vector, &domain.SearchFilter{CaseID: caseID, DocumentType: domain.DocumentContent}, p.cfg.ChunkLimit)
	if err != nil {
		return caseFetch{err: fmt.Errorf("chunk fetch: %w", err)}
	}
	f.chunks = chunks
	if f.meta.CaseID == "" && len(chunks) > 0 {
		f.meta = chunks[0].Metadata
	}
	if f.meta.CaseID == "" {
		f.meta.CaseID = caseID
	}
	return f
}

// discoveredCases extracts unique case ids in discovery order, plus the
// summary hit per case when the discovery pass already returned one.
func discoveredCases(hits []domain.SearchHit) ([]string, map[string]domain.SearchHit) {
	ids := make([]string, 0, len(hits))
	summaries := make(map[string]domain.SearchHit, len(hits))
	seen := make(map[string]struct{}, len(hits))
	for _, h := range hits {
		id := h.Metadata.CaseID
		if id == "" {
			continue
		}
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
		if h.Metadata.DocumentType == domain.DocumentSummary {
			if _, ok := summaries[id]; !ok {
				summaries[id] = h
			}
		}
	}
	return ids, summaries
}
