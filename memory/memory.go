package memory

import (
	"context"
	"time"

	"github.com/becomeliminal/engram/core"
)

// Store is the vector storage backend interface: durable partitioned
// storage with exact CRUD plus approximate-nearest-neighbor query.
// Implementations: chromem.Store (embedded, local), qdrant.Store
// (network-addressed, production).
//
// Every method is scoped; implementations must never return records
// outside the requested scope, nor records whose status is excluded by
// the status filter.
type Store interface {
	// Put inserts or updates by record ID. Idempotent on identical ID.
	Put(ctx context.Context, rec *Record) error

	// Query returns up to k records from scope with status in statuses,
	// ordered by similarity descending; ties broken by more recent
	// CreatedAt first, then ID.
	Query(ctx context.Context, scope string, embedding []float32, k int, statuses []Status) ([]QueryResult, error)

	// Get retrieves a record by ID within a scope.
	Get(ctx context.Context, scope, id string) (*Record, error)

	// Delete physically removes a record. Optional maintenance; the
	// consolidation service itself only flips statuses.
	Delete(ctx context.Context, scope, id string) error

	// ListByScope returns all records in a scope with status in
	// statuses, ordered by CreatedAt ascending, for consolidation scans.
	ListByScope(ctx context.Context, scope string, statuses []Status) ([]*Record, error)

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings. Deterministic for a
// fixed model version; no side effects.
// Implementations: mock.Embedder (testing), onnx.Embedder (local,
// behind the onnx build tag), cached.Embedder (ristretto decorator).
type Embedder interface {
	// Embed converts a single text to an embedding vector. Fails on
	// empty input or upstream unavailability; callers treat failures as
	// retryable and never silently skip persistence.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// Salience is a classifier's verdict on a single turn.
type Salience struct {
	// Memorable gates persistence. The classifier is expected to be
	// false-negative tolerant: better to over-remember than to
	// under-remember, since consolidation can prune later.
	Memorable bool

	// Fact is the normalized fact text to persist. Empty means store
	// the turn text verbatim.
	Fact string

	Kind       Kind
	Importance int
}

// SalienceClassifier decides whether a conversation turn asserts a
// durable fact about the scope's owner, as opposed to transient
// chit-chat. Swappable: heuristic (judge package) or model-assisted
// (judge/llm package).
type SalienceClassifier interface {
	Classify(ctx context.Context, turn core.Turn) (Salience, error)
}

// Verdict is a merge judge's decision about two overlapping memories.
type Verdict int

const (
	// VerdictDistinct keeps both records untouched.
	VerdictDistinct Verdict = iota

	// VerdictDuplicate means the newer record adds no information; the
	// newer one is retired, preserving the earliest provenance.
	VerdictDuplicate

	// VerdictRefinement means the newer record refines or contradicts
	// the older one; the older record is superseded.
	VerdictRefinement
)

// MergeJudge decides the relation between an older and a newer memory
// text once their embeddings are similar enough to be candidates for
// merging. Swappable like SalienceClassifier.
type MergeJudge interface {
	Judge(ctx context.Context, older, newer string) (Verdict, error)
}

// Summarizer condenses a session's recent messages into a single diary
// entry suitable for long-term storage.
type Summarizer interface {
	Summarize(ctx context.Context, messages []core.Message) (string, error)
}

// Config holds the memory pipeline's policy parameters.
type Config struct {
	// MinSimilarity is the retrieval floor [0.0-1.0]. Matches below it
	// are dropped before ranking. Tiny local models produce lower
	// scores than hosted embedding APIs; tune per embedder.
	MinSimilarity float64

	// MergeThreshold is the similarity above which two records become
	// candidates for consolidation.
	MergeThreshold float64

	// Overfetch is how many candidates to pull from the store before
	// re-ranking and budget truncation. Must exceed MaxMemories.
	Overfetch int

	// MaxMemories caps how many memories a retrieval returns.
	MaxMemories int

	// MaxMemoryChars caps each returned memory text.
	MaxMemoryChars int

	// MaxContextChars caps the total characters across all returned
	// memory texts.
	MaxContextChars int

	// HalfLife and DecayFloor shape the recency decay used in ranking:
	// decay = max(DecayFloor, 0.5^(age/HalfLife)).
	HalfLife   time.Duration
	DecayFloor float64

	// RetrievalTimeout bounds a retrieval end to end. On expiry the
	// conversational turn proceeds with no memory context.
	RetrievalTimeout time.Duration

	// EmbedTimeout and StoreTimeout bound individual external calls.
	EmbedTimeout time.Duration
	StoreTimeout time.Duration

	// MaxRetries bounds the exponential backoff applied to transient
	// embedding and store failures.
	MaxRetries uint64

	// TouchOnRetrieve toggles the asynchronous LastAccessedAt update.
	// Disabled in tests that assert retrieval determinism.
	TouchOnRetrieve bool

	// SweepInterval is the cadence of the periodic consolidation sweep.
	SweepInterval time.Duration

	// DiaryThreshold, DiaryWindow and DiaryKeep control session diary
	// maintenance: when a session exceeds DiaryThreshold messages, the
	// last DiaryWindow messages are summarized into a long-term diary
	// record and the history is trimmed to DiaryKeep.
	DiaryThreshold int
	DiaryWindow    int
	DiaryKeep      int
}

// DefaultConfig returns the policy defaults documented in DESIGN.md.
func DefaultConfig() *Config {
	return &Config{
		MinSimilarity:    0.5,
		MergeThreshold:   0.88,
		Overfetch:        20,
		MaxMemories:      5,
		MaxMemoryChars:   500,
		MaxContextChars:  2000,
		HalfLife:         90 * 24 * time.Hour,
		DecayFloor:       0.1,
		RetrievalTimeout: 3 * time.Second,
		EmbedTimeout:     10 * time.Second,
		StoreTimeout:     10 * time.Second,
		MaxRetries:       4,
		TouchOnRetrieve:  true,
		SweepInterval:    10 * time.Minute,
		DiaryThreshold:   50,
		DiaryWindow:      50,
		DiaryKeep:        35,
	}
}
