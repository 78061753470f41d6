package memory

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"
)

// Retriever produces a bounded, ranked memory context for a new query.
//
// Ranking combines similarity with a recency decay so stale-but-similar
// matches do not crowd out fresh, equally relevant ones:
//
//	score = 0.8*similarity + 0.2*max(DecayFloor, 0.5^(age/HalfLife))
//
// where age is measured from the later of CreatedAt and LastAccessedAt.
// Scoring and tie-breaks are deterministic for identical inputs and
// identical store state.
type Retriever struct {
	store    Store
	embedder Embedder
	config   *Config
	locks    *scopeLocks
	now      func() time.Time
}

// NewRetriever creates a retrieval engine over store and embedder.
func NewRetriever(store Store, embedder Embedder, config *Config) *Retriever {
	return &Retriever{
		store:    store,
		embedder: embedder,
		config:   config,
		locks:    newScopeLocks(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Retrieve returns the texts of the most relevant active memories for
// the query, ordered best first and truncated to the configured
// budgets. An empty slice with a nil error means "no relevant memory".
func (r *Retriever) Retrieve(ctx context.Context, scope, query string) ([]string, error) {
	results, err := r.RetrieveRecords(ctx, scope, query)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(results))
	total := 0
	for _, res := range results {
		text := truncate(res.Record.Text, r.config.MaxMemoryChars)
		if total+len(text) > r.config.MaxContextChars {
			break
		}
		total += len(text)
		texts = append(texts, text)
	}
	return texts, nil
}

// RetrieveRecords is Retrieve with full records and similarity scores,
// for callers that need more than the text (stats, debugging, custom
// assembly).
func (r *Retriever) RetrieveRecords(ctx context.Context, scope, query string) ([]QueryResult, error) {
	if err := ValidateScope(scope); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.config.RetrievalTimeout)
	defer cancel()

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	candidates, err := r.store.Query(ctx, scope, embedding, r.config.Overfetch, []Status{StatusActive})
	if err != nil {
		return nil, fmt.Errorf("query scope %s: %w", scope, err)
	}

	now := r.now()
	kept := candidates[:0]
	for _, c := range candidates {
		if float64(c.Similarity) >= r.config.MinSimilarity {
			kept = append(kept, c)
		}
	}
	r.rank(kept, now)

	if len(kept) > r.config.MaxMemories {
		kept = kept[:r.config.MaxMemories]
	}

	if r.config.TouchOnRetrieve && len(kept) > 0 {
		r.touch(scope, kept, now)
	}

	log.Printf("[MEMORY] Retrieved %d memories for scope %s query %q", len(kept), scope, truncateLog(query, 50))
	return kept, nil
}

// rank sorts candidates by combined score descending with deterministic
// tie-breaks: similarity, then more recent CreatedAt, then ID.
func (r *Retriever) rank(results []QueryResult, now time.Time) {
	scores := make(map[string]float64, len(results))
	for _, res := range results {
		scores[res.Record.ID] = r.score(res, now)
	}
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		sa, sb := scores[a.Record.ID], scores[b.Record.ID]
		if sa != sb {
			return sa > sb
		}
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		if !a.Record.CreatedAt.Equal(b.Record.CreatedAt) {
			return a.Record.CreatedAt.After(b.Record.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
}

func (r *Retriever) score(res QueryResult, now time.Time) float64 {
	freshest := res.Record.CreatedAt
	if res.Record.LastAccessedAt.After(freshest) {
		freshest = res.Record.LastAccessedAt
	}
	age := now.Sub(freshest)
	if age < 0 {
		age = 0
	}
	decay := math.Pow(0.5, age.Hours()/r.config.HalfLife.Hours())
	if decay < r.config.DecayFloor {
		decay = r.config.DecayFloor
	}
	return 0.8*float64(res.Similarity) + 0.2*decay
}

// touch schedules a LastAccessedAt update for the returned records
// without blocking the response. Failures only cost ranking freshness.
func (r *Retriever) touch(scope string, results []QueryResult, now time.Time) {
	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.Record.ID)
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.StoreTimeout)
		defer cancel()
		r.touchRecords(ctx, scope, ids, now)
	}()
}

// touchRecords re-reads each record under the scope lock and updates
// only its access time. Consolidation may have flipped status or set
// provenance since the query snapshot was taken; writing the snapshot
// back would silently undo that, so the fresh copy is authoritative for
// everything except LastAccessedAt.
func (r *Retriever) touchRecords(ctx context.Context, scope string, ids []string, now time.Time) {
	unlock := r.locks.lock(scope)
	defer unlock()
	for _, id := range ids {
		rec, err := r.store.Get(ctx, scope, id)
		if err != nil {
			log.Printf("[MEMORY] Failed to touch record %s: %v", id, err)
			continue
		}
		if !now.After(rec.LastAccessedAt) {
			continue
		}
		rec.LastAccessedAt = now
		if err := r.store.Put(ctx, rec); err != nil {
			log.Printf("[MEMORY] Failed to touch record %s: %v", id, err)
		}
	}
}

// truncate truncates a string to maxLen, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen < 3 {
		return "..."
	}
	return s[:maxLen-3] + "..."
}
