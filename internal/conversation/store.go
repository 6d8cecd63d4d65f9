// Package conversation owns per-conversation state: the bounded history,
// the rolling summary, and the optimized message window sent to the
// completion service.
package conversation

import (
	"sync"
	"time"

	"legal-agent/internal/domain"
)

// Config bounds the stored state. Zero values fall back to the service
// defaults.
type Config struct {
	MaxHistory   int
	MaxKeyPoints int
	StateTTL     time.Duration
	ContextTTL   time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxHistory <= 0 {
		c.MaxHistory = 10
	}
	if c.MaxKeyPoints <= 0 {
		c.MaxKeyPoints = 5
	}
	if c.StateTTL <= 0 {
		c.StateTTL = 30 * time.Minute
	}
	if c.ContextTTL <= 0 {
		c.ContextTTL = 5 * time.Minute
	}
	return c
}

type entry struct {
	// turnMu serializes whole turns for one conversation id. State fields
	// themselves are guarded by Store.mu so the async summarizer can write
	// without holding a turn.
	turnMu sync.Mutex
	state  domain.Conversation
}

// Store is the in-memory conversation map. Absent ids are always resolved
// by creation; expired states are lazily replaced on access.
type Store struct {
	cfg Config

	mu      sync.Mutex
	entries map[string]*entry

	now func() time.Time
}

func NewStore(cfg Config) *Store {
	return &Store{
		cfg:     cfg.withDefaults(),
		entries: make(map[string]*entry),
		now:     time.Now,
	}
}

// Config returns the effective (defaulted) configuration.
func (s *Store) Config() Config { return s.cfg }

// Lock serializes turns for a conversation id. The returned unlock must be
// deferred by the caller; turns for different ids proceed in parallel.
func (s *Store) Lock(id string) (unlock func()) {
	e := s.entryFor(id)
	e.turnMu.Lock()
	return e.turnMu.Unlock
}

func (s *Store) entryFor(id string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		e = &entry{state: domain.Conversation{Timestamp: s.now()}}
		s.entries[id] = e
	}
	return e
}

// GetOrCreate returns a copy of the conversation state, creating a fresh
// one when the id is unknown or the stored state has outlived StateTTL.
func (s *Store) GetOrCreate(id string) domain.Conversation {
	e := s.entryFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.now().Sub(e.state.Timestamp) > s.cfg.StateTTL {
		e.state = domain.Conversation{Timestamp: s.now()}
	}
	return cloneState(e.state)
}

// Update applies mutate to the stored state, then re-enforces the caps on
// history, previous questions and key points and refreshes the timestamp.
func (s *Store) Update(id string, mutate func(*domain.Conversation)) {
	e := s.entryFor(id)

	s.mu.Lock()
	defer s.mu.Unlock()
	mutate(&e.state)
	e.state.History = tailMessages(e.state.History, s.cfg.MaxHistory)
	e.state.PreviousQuestions = tailStrings(e.state.PreviousQuestions, s.cfg.MaxHistory)
	if len(e.state.Context.KeyPoints) > s.cfg.MaxKeyPoints {
		e.state.Context.KeyPoints = e.state.Context.KeyPoints[:s.cfg.MaxKeyPoints]
	}
	e.state.Timestamp = s.now()
}

// Clear resets a conversation to empty state.
func (s *Store) Clear(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
}

// Close releases all stored conversations.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = make(map[string]*entry)
}

func tailMessages(msgs []domain.ChatMessage, max int) []domain.ChatMessage {
	if len(msgs) <= max {
		return msgs
	}
	return msgs[len(msgs)-max:]
}

func tailStrings(ss []string, max int) []string {
	if len(ss) <= max {
		return ss
	}
	return ss[len(ss)-max:]
}

func cloneState(st domain.Conversation) domain.Conversation {
	out := st
	out.History = append([]domain.ChatMessage(nil), st.History...)
	out.PreviousQuestions = append([]string(nil), st.PreviousQuestions...)
	out.Context.Messages = append([]domain.ChatMessage(nil), st.Context.Messages...)
	out.Context.KeyPoints = append([]string(nil), st.Context.KeyPoints...)
	if st.Context.LastAnalysis != nil {
		a := *st.Context.LastAnalysis
		out.Context.LastAnalysis = &a
	}
	return out
}
