// Package chromem provides an embedded memory.Store backed by
// chromem-go, a pure Go vector database.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/engram/memory"
)

// Store keeps an authoritative record table in front of a chromem-go
// similarity index. chromem serves the approximate-nearest-neighbor
// query; the table serves exact lookups, status filtering and list
// scans, so status flips never have to rewrite vectors.
//
// Each scope gets its own collection, which makes cross-scope leakage
// structurally impossible. The store lives for the life of the
// process; the qdrant adapter is the durable backend.
type Store struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	records     map[string]map[string]*memory.Record // scope -> id -> record
	mu          sync.RWMutex
}

// New creates an empty chromem-backed store.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
		records:     make(map[string]map[string]*memory.Record),
	}, nil
}

// getOrCreateCollection returns the collection for a scope.
func (s *Store) getOrCreateCollection(scope string) (*chromem.Collection, error) {
	s.mu.RLock()
	col, exists := s.collections[scope]
	s.mu.RUnlock()
	if exists {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, exists := s.collections[scope]; exists {
		return col, nil
	}

	col, err := s.db.CreateCollection(
		fmt.Sprintf("scope_%s", scope),
		nil, // no collection metadata
		nil, // embeddings are provided, no embedding func
	)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	s.collections[scope] = col
	return col, nil
}

// Put inserts or updates a record by ID. Because text (and therefore
// the embedding) is immutable, an update never re-indexes the vector;
// only the record table changes.
func (s *Store) Put(ctx context.Context, rec *memory.Record) error {
	if err := memory.ValidateScope(rec.Scope); err != nil {
		return err
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("record %s has no embedding", rec.ID)
	}

	col, err := s.getOrCreateCollection(rec.Scope)
	if err != nil {
		return err
	}

	s.mu.RLock()
	_, indexed := s.records[rec.Scope][rec.ID]
	s.mu.RUnlock()

	// Index before the table update: a record visible to Get but never
	// to Query would be a silent retrieval hole.
	if !indexed {
		err = col.AddDocument(ctx, chromem.Document{
			ID:        rec.ID,
			Content:   rec.Text,
			Embedding: rec.Embedding,
			Metadata:  map[string]string{"scope": rec.Scope},
		})
		if err != nil {
			return fmt.Errorf("add document: %w", err)
		}
	}

	s.mu.Lock()
	scoped, ok := s.records[rec.Scope]
	if !ok {
		scoped = make(map[string]*memory.Record)
		s.records[rec.Scope] = scoped
	}
	scoped[rec.ID] = rec.Clone()
	s.mu.Unlock()
	return nil
}

// Query retrieves up to k records by vector similarity, restricted to
// the given statuses.
func (s *Store) Query(ctx context.Context, scope string, embedding []float32, k int, statuses []memory.Status) ([]memory.QueryResult, error) {
	if err := memory.ValidateScope(scope); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	col := s.collections[scope]
	total := len(s.records[scope])
	s.mu.RUnlock()
	if col == nil || total == 0 {
		return nil, nil
	}

	// The index holds every status, so overfetch past k to survive
	// status filtering. chromem rejects nResults above the collection
	// size; walk the limit down on that error, like an empty or tiny
	// collection requires.
	want := k * 4
	if want > total {
		want = total
	}
	var results []chromem.Result
	for limit := want; limit >= 1; limit-- {
		var err error
		results, err = col.QueryEmbedding(ctx, embedding, limit, nil, nil)
		if err == nil {
			break
		}
		if isInsufficientDocsError(err) {
			if limit == 1 {
				return nil, nil
			}
			continue
		}
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	allowed := statusSet(statuses)
	out := make([]memory.QueryResult, 0, len(results))
	s.mu.RLock()
	for _, res := range results {
		rec, ok := s.records[scope][res.ID]
		if !ok {
			// Deleted records linger in the index until compaction;
			// the record table is authoritative.
			continue
		}
		if _, ok := allowed[rec.Status]; !ok {
			continue
		}
		out = append(out, memory.QueryResult{Record: rec.Clone(), Similarity: res.Similarity})
	}
	s.mu.RUnlock()

	sortResults(out)
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Get retrieves a record by ID within a scope.
func (s *Store) Get(ctx context.Context, scope, id string) (*memory.Record, error) {
	if err := memory.ValidateScope(scope); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[scope][id]
	if !ok {
		return nil, memory.ErrNotFound
	}
	return rec.Clone(), nil
}

// Delete removes a record from the table. The chromem document stays
// behind as a dangling vector and is skipped at query time; it is the
// price of chromem not exposing deletes, and it only costs index
// space, not correctness.
func (s *Store) Delete(ctx context.Context, scope, id string) error {
	if err := memory.ValidateScope(scope); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[scope][id]; !ok {
		return memory.ErrNotFound
	}
	delete(s.records[scope], id)
	log.Printf("[CHROMEM] Deleted record %s from scope %s", id, scope)
	return nil
}

// ListByScope returns a scope's records with the given statuses,
// ordered by CreatedAt ascending then ID for deterministic scans.
func (s *Store) ListByScope(ctx context.Context, scope string, statuses []memory.Status) ([]*memory.Record, error) {
	if err := memory.ValidateScope(scope); err != nil {
		return nil, err
	}
	allowed := statusSet(statuses)

	s.mu.RLock()
	out := make([]*memory.Record, 0, len(s.records[scope]))
	for _, rec := range s.records[scope] {
		if _, ok := allowed[rec.Status]; ok {
			out = append(out, rec.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close releases resources. chromem keeps everything in memory.
func (s *Store) Close() error {
	return nil
}

func statusSet(statuses []memory.Status) map[memory.Status]struct{} {
	set := make(map[memory.Status]struct{}, len(statuses))
	for _, st := range statuses {
		set[st] = struct{}{}
	}
	return set
}

// sortResults orders by similarity descending, ties by more recent
// CreatedAt, then ID.
func sortResults(results []memory.QueryResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.After(b.Record.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
}

// isInsufficientDocsError checks if the error is chromem complaining
// that nResults exceeds the number of stored documents.
func isInsufficientDocsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "nResults must be") || strings.Contains(msg, "number of documents")
}
