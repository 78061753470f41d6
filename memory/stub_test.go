package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/becomeliminal/engram/core"
)

// axisVec returns a unit vector along one axis. Orthogonal axes give
// similarity 0, equal axes give 1.
func axisVec(dims, axis int) []float32 {
	v := make([]float32, dims)
	v[axis] = 1
	return v
}

// blendVec returns a unit vector whose dot product with axisVec(dims, 0)
// is sim, using axis as the orthogonal component.
func blendVec(dims int, sim float64, axis int) []float32 {
	v := make([]float32, dims)
	v[0] = float32(sim)
	v[axis] = float32(math.Sqrt(1 - sim*sim))
	return v
}

// fixedEmbedder returns preset vectors for exact texts and fails on
// anything else, so a test can never accidentally embed an unplanned
// string.
type fixedEmbedder struct {
	dims int
	vecs map[string][]float32
}

func (e *fixedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, ok := e.vecs[text]
	if !ok {
		return nil, fmt.Errorf("no vector registered for %q", text)
	}
	return vec, nil
}

func (e *fixedEmbedder) Dimensions() int { return e.dims }

// memStore is an exact in-memory Store for tests: cosine similarity by
// dot product over unit vectors, with injectable failures.
type memStore struct {
	mu       sync.Mutex
	recs     map[string]map[string]*Record
	putErr   error
	queryErr error
	puts     int
}

func newMemStore() *memStore {
	return &memStore{recs: make(map[string]map[string]*Record)}
}

func (s *memStore) Put(ctx context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts++
	if s.putErr != nil {
		return s.putErr
	}
	scoped, ok := s.recs[rec.Scope]
	if !ok {
		scoped = make(map[string]*Record)
		s.recs[rec.Scope] = scoped
	}
	scoped[rec.ID] = rec.Clone()
	return nil
}

func (s *memStore) Query(ctx context.Context, scope string, embedding []float32, k int, statuses []Status) ([]QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queryErr != nil {
		return nil, s.queryErr
	}

	allowed := make(map[Status]struct{}, len(statuses))
	for _, st := range statuses {
		allowed[st] = struct{}{}
	}

	var out []QueryResult
	for _, rec := range s.recs[scope] {
		if _, ok := allowed[rec.Status]; !ok {
			continue
		}
		var dot float32
		for i := range embedding {
			dot += embedding[i] * rec.Embedding[i]
		}
		out = append(out, QueryResult{Record: rec.Clone(), Similarity: dot})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.After(b.Record.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *memStore) Get(ctx context.Context, scope, id string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[scope][id]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *memStore) Delete(ctx context.Context, scope, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[scope][id]; !ok {
		return ErrNotFound
	}
	delete(s.recs[scope], id)
	return nil
}

func (s *memStore) ListByScope(ctx context.Context, scope string, statuses []Status) ([]*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	allowed := make(map[Status]struct{}, len(statuses))
	for _, st := range statuses {
		allowed[st] = struct{}{}
	}
	var out []*Record
	for _, rec := range s.recs[scope] {
		if _, ok := allowed[rec.Status]; ok {
			out = append(out, rec.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) count(scope string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs[scope])
}

// stubClassifier returns a fixed salience verdict.
type stubClassifier struct {
	salience Salience
	err      error
}

func (c *stubClassifier) Classify(ctx context.Context, turn core.Turn) (Salience, error) {
	return c.salience, c.err
}

// judgeFunc adapts a function to MergeJudge.
type judgeFunc func(ctx context.Context, older, newer string) (Verdict, error)

func (f judgeFunc) Judge(ctx context.Context, older, newer string) (Verdict, error) {
	return f(ctx, older, newer)
}

// fixedJudge returns the same verdict for every pair and counts calls.
type fixedJudge struct {
	verdict Verdict
	err     error
	calls   int
}

func (j *fixedJudge) Judge(ctx context.Context, older, newer string) (Verdict, error) {
	j.calls++
	return j.verdict, j.err
}

// testConfig returns deterministic policy parameters: no async touch,
// no retry delays.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.TouchOnRetrieve = false
	cfg.MaxRetries = 0
	return cfg
}

var testTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
