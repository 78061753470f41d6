package memory

import (
	"time"

	"github.com/google/uuid"
)

// Status governs a record's eligibility for retrieval and consolidation.
// Only active records are retrievable; superseded and retired records are
// kept for provenance and are candidates for a later physical purge.
type Status string

const (
	StatusActive     Status = "active"
	StatusSuperseded Status = "superseded"
	StatusRetired    Status = "retired"
)

// Kind classifies what a memory is, mirroring how the agent uses it.
//
//   - KindFact: durable user details (name, preferences, allergies)
//   - KindEpisodic: events, decisions, conversation highlights
//   - KindSummary: diary entries produced by session summarization
type Kind string

const (
	KindFact     Kind = "fact"
	KindEpisodic Kind = "episodic"
	KindSummary  Kind = "summary"
)

// Record is the persisted unit of long-term memory.
//
// Text is immutable once written: corrections produce a new record plus
// retirement of the old one, never in-place edits. This keeps the
// embedding always derived from the current text and makes supersession
// chains auditable.
type Record struct {
	// ID is an opaque unique identifier, assigned at creation.
	ID string

	// Scope identifies the owning user. Every query and write is scoped
	// to exactly one scope; cross-scope retrieval is never permitted.
	Scope string

	// Text is the natural-language content of the memory.
	Text string

	// Embedding is the vector derived from Text at write time.
	Embedding []float32

	// Kind and Importance are ranking hints, not correctness inputs.
	Kind       Kind
	Importance int

	// Status is mutated only by the Consolidation Service.
	Status Status

	// Supersedes holds the ID of the record this one replaces, forming a
	// non-cyclic provenance forest. Set by the Consolidation Service.
	Supersedes string

	CreatedAt time.Time

	// LastAccessedAt is updated whenever the record is returned by a
	// retrieval query. Mutated only by the Retrieval Engine.
	LastAccessedAt time.Time
}

// NewRecord creates an active record for a scope. The embedding is left
// empty; the ingestion pipeline sets it before the record is stored.
func NewRecord(scope, text string, kind Kind, importance int) *Record {
	now := time.Now().UTC()
	return &Record{
		ID:             uuid.New().String(),
		Scope:          scope,
		Text:           text,
		Kind:           kind,
		Importance:     importance,
		Status:         StatusActive,
		CreatedAt:      now,
		LastAccessedAt: now,
	}
}

// Clone returns a deep copy. Store implementations hand out clones so
// callers can never alias storage-owned state.
func (r *Record) Clone() *Record {
	cp := *r
	if r.Embedding != nil {
		cp.Embedding = make([]float32, len(r.Embedding))
		copy(cp.Embedding, r.Embedding)
	}
	return &cp
}

// QueryResult pairs a record with its similarity to the query vector.
type QueryResult struct {
	Record     *Record
	Similarity float32
}
