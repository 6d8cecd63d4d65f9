package retrieval

import (
	"strings"
	"sync"
	"time"

	"legal-agent/internal/domain"
)

const (
	cacheHitsPerSet   = 2
	cacheSetsPerConv  = 2
	cacheExcerptLimit = 300
)

type cacheEntry struct {
	docSets [][]domain.SearchHit // newest first
	updated time.Time
}

// queryCache remembers the top documents of recent retrievals per
// conversation so follow-up questions can be searched with the previous
// turn's material folded in.
type queryCache struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]*cacheEntry

	now func() time.Time
}

func newQueryCache(ttl time.Duration) *queryCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &queryCache{
		ttl:     ttl,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

// put stores the top hits of a retrieval as the newest document set,
// keeping at most cacheSetsPerConv sets.
func (c *queryCache) put(conversationID string, hits []domain.SearchHit) {
	if len(hits) > cacheHitsPerSet {
		hits = hits[:cacheHitsPerSet]
	}
	set := append([]domain.SearchHit(nil), hits...)

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[conversationID]
	if !ok {
		e = &cacheEntry{}
		c.entries[conversationID] = e
	}
	e.docSets = append([][]domain.SearchHit{set}, e.docSets...)
	if len(e.docSets) > cacheSetsPerConv {
		e.docSets = e.docSets[:cacheSetsPerConv]
	}
	e.updated = c.now()
}

// excerpt returns up to cacheExcerptLimit characters of the most recent
// cached documents, or "" when nothing fresh is cached.
func (c *queryCache) excerpt(conversationID string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if !ok {
		return ""
	}
	if c.now().Sub(e.updated) > c.ttl {
		delete(c.entries, conversationID)
		return ""
	}

	var sb strings.Builder
	for _, set := range e.docSets {
		for _, h := range set {
			if sb.Len() >= cacheExcerptLimit {
				break
			}
			sb.WriteString(strings.TrimSpace(h.Content))
			sb.WriteString(" ")
		}
	}
	out := strings.TrimSpace(sb.String())
	if len(out) > cacheExcerptLimit {
		out = out[:cacheExcerptLimit]
	}
	return out
}
