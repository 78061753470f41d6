package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/becomeliminal/engram/core"
)

// History is the slice of short-term conversation storage the diary
// maintenance needs. Implemented by the history package.
type History interface {
	Append(ctx context.Context, session, scope, role, content string) error
	Recent(ctx context.Context, session string, limit int) ([]core.Message, error)
	Count(ctx context.Context, session string) (int, error)
	TrimTo(ctx context.Context, session string, limit int) error
}

// Manager is the facade the chat layer talks to. It wires the
// ingestion pipeline, retrieval engine and consolidation service over
// one store and embedder, and tracks which scopes have pending writes
// so the periodic sweep only visits dirty scopes.
type Manager struct {
	store        Store
	embedder     Embedder
	pipeline     *Pipeline
	retriever    *Retriever
	consolidator *Consolidator
	summarizer   Summarizer
	history      History
	config       *Config
	locks        *scopeLocks

	dirty *scopeSet
}

// Option configures the manager.
type Option func(*Manager)

// WithConfig overrides the default policy parameters.
func WithConfig(cfg *Config) Option {
	return func(m *Manager) {
		if cfg != nil {
			m.config = cfg
		}
	}
}

// WithSummarizer enables diary maintenance: long sessions are
// summarized into kind=summary records.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) { m.summarizer = s }
}

// WithHistory attaches short-term conversation storage, required for
// diary maintenance.
func WithHistory(h History) Option {
	return func(m *Manager) { m.history = h }
}

// NewManager creates a memory manager. Store, embedder, classifier and
// judge are required; summarizer and history are optional.
func NewManager(store Store, embedder Embedder, classifier SalienceClassifier, judge MergeJudge, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		embedder: embedder,
		config:   DefaultConfig(),
		locks:    newScopeLocks(),
		dirty:    newScopeSet(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.consolidator = NewConsolidator(store, judge, m.locks, m.config)
	m.pipeline = NewPipeline(store, embedder, classifier, m.consolidator, m.locks, m.config)
	m.retriever = NewRetriever(store, embedder, m.config)
	// The retrieval touch and consolidation contend for the same
	// records; they must share the per-scope locks.
	m.retriever.locks = m.locks
	return m
}

// Ingest runs the ingestion pipeline for one turn and marks the scope
// dirty for the next sweep.
func (m *Manager) Ingest(ctx context.Context, turn core.Turn) (*Record, error) {
	rec, err := m.pipeline.Ingest(ctx, turn)
	if rec != nil {
		m.dirty.add(turn.Scope)
	}
	return rec, err
}

// Retrieve returns the ranked memory texts for a query, ready for the
// context assembler. Empty result is valid and means "no relevant
// memory".
func (m *Manager) Retrieve(ctx context.Context, scope, query string) ([]string, error) {
	return m.retriever.Retrieve(ctx, scope, query)
}

// RetrieveRecords exposes the full retrieval results.
func (m *Manager) RetrieveRecords(ctx context.Context, scope, query string) ([]QueryResult, error) {
	return m.retriever.RetrieveRecords(ctx, scope, query)
}

// Context retrieves and formats memories into a block ready for prompt
// injection. Retrieval failures degrade to an empty block: the user
// experiences degraded recall, never a failed turn. Callers that have
// already retrieved should use FormatContext instead of paying for a
// second query.
func (m *Manager) Context(ctx context.Context, scope, query string) string {
	memories, err := m.Retrieve(ctx, scope, query)
	if err != nil {
		log.Printf("[MEMORY] Retrieval degraded to empty context for scope %s: %v", scope, err)
		return ""
	}
	return m.FormatContext(memories)
}

// FormatContext formats already-retrieved memory texts into the prompt
// injection block. An empty input yields an empty block.
func (m *Manager) FormatContext(memories []string) string {
	if len(memories) == 0 {
		return ""
	}
	var parts []string
	parts = append(parts, "=== RELEVANT PAST MEMORIES ===")
	for i, text := range memories {
		parts = append(parts, fmt.Sprintf("%d. %s", i+1, text))
	}
	return strings.Join(parts, "\n")
}

// RecordExchange appends a completed user/assistant exchange to the
// session history and runs diary maintenance when the session grows
// past the configured threshold.
func (m *Manager) RecordExchange(ctx context.Context, turn core.Turn, reply string) error {
	if m.history == nil {
		return nil
	}
	if err := m.history.Append(ctx, turn.Session, turn.Scope, core.RoleUser, turn.Text); err != nil {
		return fmt.Errorf("append user message: %w", err)
	}
	if err := m.history.Append(ctx, turn.Session, turn.Scope, core.RoleAssistant, reply); err != nil {
		return fmt.Errorf("append assistant message: %w", err)
	}

	count, err := m.history.Count(ctx, turn.Session)
	if err != nil {
		return fmt.Errorf("count session %s: %w", turn.Session, err)
	}
	if count > m.config.DiaryThreshold {
		if err := m.MaintainDiary(ctx, turn.Scope, turn.Session); err != nil {
			log.Printf("[MEMORY] Diary maintenance failed for session %s: %v", turn.Session, err)
		}
	}
	return nil
}

// MaintainDiary summarizes the session's recent history into a single
// kind=summary record and trims the short-term buffer, keeping enough
// messages that current topics stay in immediate context.
func (m *Manager) MaintainDiary(ctx context.Context, scope, session string) error {
	if m.summarizer == nil || m.history == nil {
		return nil
	}

	messages, err := m.history.Recent(ctx, session, m.config.DiaryWindow)
	if err != nil {
		return fmt.Errorf("load session %s: %w", session, err)
	}
	if len(messages) == 0 {
		return nil
	}

	entry, err := m.summarizer.Summarize(ctx, messages)
	if err != nil {
		return fmt.Errorf("summarize session %s: %w", session, err)
	}
	if entry == "" {
		return nil
	}

	rec := NewRecord(scope, entry, KindSummary, 7)
	if err := m.pipeline.persist(ctx, rec); err != nil {
		return err
	}
	m.dirty.add(scope)

	if err := m.history.TrimTo(ctx, session, m.config.DiaryKeep); err != nil {
		return fmt.Errorf("trim session %s: %w", session, err)
	}
	log.Printf("[MEMORY] Diary updated for scope %s: %q", scope, truncateLog(entry, 60))
	return nil
}

// Sweep consolidates every scope written since the last sweep.
func (m *Manager) Sweep(ctx context.Context) error {
	for _, scope := range m.dirty.drain() {
		if err := m.consolidator.SweepScope(ctx, scope); err != nil {
			// Put the scope back so the next sweep retries it.
			m.dirty.add(scope)
			return fmt.Errorf("sweep scope %s: %w", scope, err)
		}
	}
	return nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.Sweep(ctx); err != nil {
				log.Printf("[MEMORY] Sweep failed: %v", err)
			}
		}
	}
}

// Stats summarizes a scope's stored memories for the operator surface.
type Stats struct {
	Active     int
	Superseded int
	Retired    int
	ByKind     map[Kind]int
}

// Stats counts a scope's records by status and kind.
func (m *Manager) Stats(ctx context.Context, scope string) (Stats, error) {
	stats := Stats{ByKind: make(map[Kind]int)}
	records, err := m.store.ListByScope(ctx, scope, []Status{StatusActive, StatusSuperseded, StatusRetired})
	if err != nil {
		return stats, err
	}
	for _, rec := range records {
		switch rec.Status {
		case StatusActive:
			stats.Active++
		case StatusSuperseded:
			stats.Superseded++
		case StatusRetired:
			stats.Retired++
		}
		stats.ByKind[rec.Kind]++
	}
	return stats, nil
}

// scopeSet is a concurrency-safe set of scope names with pending
// writes.
type scopeSet struct {
	mu     sync.Mutex
	scopes map[string]struct{}
}

func newScopeSet() *scopeSet {
	return &scopeSet{scopes: make(map[string]struct{})}
}

func (s *scopeSet) add(scope string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopes[scope] = struct{}{}
}

func (s *scopeSet) drain() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	scopes := make([]string, 0, len(s.scopes))
	for scope := range s.scopes {
		scopes = append(scopes, scope)
	}
	s.scopes = make(map[string]struct{})
	return scopes
}
