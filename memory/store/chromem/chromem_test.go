package chromem_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/becomeliminal/engram/memory"
	"github.com/becomeliminal/engram/memory/store/chromem"
)

func unitVec(axis int) []float32 {
	v := make([]float32, 8)
	v[axis] = 1
	return v
}

func record(scope, text string, axis int, age time.Duration) *memory.Record {
	rec := memory.NewRecord(scope, text, memory.KindFact, 5)
	rec.Embedding = unitVec(axis)
	rec.CreatedAt = rec.CreatedAt.Add(-age)
	rec.LastAccessedAt = rec.CreatedAt
	return rec
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	store, err := chromem.New()
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	rec := record("user1", "Lives in Lisbon", 0, 0)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	got, err := store.Get(ctx, "user1", rec.ID)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Text != rec.Text || got.Status != memory.StatusActive {
		t.Errorf("Round-trip mismatch: %q/%s", got.Text, got.Status)
	}

	// Mutating the returned record must not touch stored state.
	got.Text = "mutated"
	again, _ := store.Get(ctx, "user1", rec.ID)
	if again.Text != "Lives in Lisbon" {
		t.Errorf("Store handed out aliased state: %q", again.Text)
	}
}

func TestPutRejectsMissingEmbedding(t *testing.T) {
	store, _ := chromem.New()
	rec := memory.NewRecord("user1", "no vector", memory.KindFact, 5)
	if err := store.Put(context.Background(), rec); err == nil {
		t.Error("Expected an error for a record without an embedding")
	}
}

func TestPutFailedIndexLeavesNoRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := chromem.New()

	// chromem rejects documents without an ID, so indexing fails before
	// anything is written. The record must not surface afterwards.
	rec := record("user1", "half-written fact", 0, 0)
	rec.ID = ""
	if err := store.Put(ctx, rec); err == nil {
		t.Fatal("Expected Put to fail when indexing fails")
	}

	if _, err := store.Get(ctx, "user1", ""); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after a failed put, got %v", err)
	}
	records, err := store.ListByScope(ctx, "user1", []memory.Status{memory.StatusActive})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Failed put left %d records behind", len(records))
	}
}

func TestPutUpdatesStatusInPlace(t *testing.T) {
	ctx := context.Background()
	store, _ := chromem.New()

	rec := record("user1", "fact", 0, 0)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	rec.Status = memory.StatusRetired
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Failed to update: %v", err)
	}

	got, err := store.Get(ctx, "user1", rec.ID)
	if err != nil {
		t.Fatalf("Failed to get: %v", err)
	}
	if got.Status != memory.StatusRetired {
		t.Errorf("Expected status update persisted, got %s", got.Status)
	}
}

func TestQueryFiltersByStatus(t *testing.T) {
	ctx := context.Background()
	store, _ := chromem.New()

	active := record("user1", "active", 0, time.Hour)
	retired := record("user1", "retired", 0, 2*time.Hour)
	retired.Status = memory.StatusRetired
	for _, rec := range []*memory.Record{active, retired} {
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("Failed to put: %v", err)
		}
	}

	results, err := store.Query(ctx, "user1", unitVec(0), 10, []memory.Status{memory.StatusActive})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("Expected only the active record, got %d", len(results))
	}
	if results[0].Record.ID != active.ID {
		t.Errorf("Expected the active record, got %q", results[0].Record.Text)
	}
}

func TestQueryScopeIsolation(t *testing.T) {
	ctx := context.Background()
	store, _ := chromem.New()

	if err := store.Put(ctx, record("user1", "secret", 0, 0)); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}

	results, err := store.Query(ctx, "user2", unitVec(0), 10, []memory.Status{memory.StatusActive})
	if err != nil {
		t.Fatalf("Querying an empty scope must not fail: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Record leaked across scopes: %v", results)
	}
}

func TestQueryOrdersBySimilarityAndCapsAtK(t *testing.T) {
	ctx := context.Background()
	store, _ := chromem.New()

	match := record("user1", "match", 0, time.Hour)
	other := record("user1", "other", 1, time.Hour)
	third := record("user1", "third", 2, time.Hour)
	for _, rec := range []*memory.Record{other, match, third} {
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("Failed to put: %v", err)
		}
	}

	results, err := store.Query(ctx, "user1", unitVec(0), 2, []memory.Status{memory.StatusActive})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Expected k=2 results, got %d", len(results))
	}
	if results[0].Record.ID != match.ID {
		t.Errorf("Expected the exact match first, got %q", results[0].Record.Text)
	}
	if results[0].Similarity < results[1].Similarity {
		t.Errorf("Results out of order: %v then %v", results[0].Similarity, results[1].Similarity)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	ctx := context.Background()
	store, _ := chromem.New()

	rec := record("user1", "ephemeral", 0, 0)
	if err := store.Put(ctx, rec); err != nil {
		t.Fatalf("Failed to put: %v", err)
	}
	if err := store.Delete(ctx, "user1", rec.ID); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}

	if _, err := store.Get(ctx, "user1", rec.ID); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	// The dangling index entry must not resurface through queries.
	results, err := store.Query(ctx, "user1", unitVec(0), 10, []memory.Status{memory.StatusActive})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("Deleted record came back from a query: %v", results)
	}
}

func TestDeleteMissingRecord(t *testing.T) {
	store, _ := chromem.New()
	if err := store.Delete(context.Background(), "user1", "nope"); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListByScopeOrdersByCreation(t *testing.T) {
	ctx := context.Background()
	store, _ := chromem.New()

	newest := record("user1", "newest", 0, time.Hour)
	oldest := record("user1", "oldest", 1, 3*time.Hour)
	middle := record("user1", "middle", 2, 2*time.Hour)
	for _, rec := range []*memory.Record{newest, oldest, middle} {
		if err := store.Put(ctx, rec); err != nil {
			t.Fatalf("Failed to put: %v", err)
		}
	}

	records, err := store.ListByScope(ctx, "user1", []memory.Status{memory.StatusActive})
	if err != nil {
		t.Fatalf("Failed to list: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	want := []string{"oldest", "middle", "newest"}
	for i, rec := range records {
		if rec.Text != want[i] {
			t.Errorf("Position %d: expected %q, got %q", i, want[i], rec.Text)
		}
	}
}

func TestInvalidScopeRejectedEverywhere(t *testing.T) {
	ctx := context.Background()
	store, _ := chromem.New()

	if err := store.Put(ctx, record("", "x", 0, 0)); !errors.Is(err, memory.ErrInvalidScope) {
		t.Errorf("Put: expected ErrInvalidScope, got %v", err)
	}
	if _, err := store.Query(ctx, " ", unitVec(0), 10, []memory.Status{memory.StatusActive}); !errors.Is(err, memory.ErrInvalidScope) {
		t.Errorf("Query: expected ErrInvalidScope, got %v", err)
	}
	if _, err := store.Get(ctx, "", "id"); !errors.Is(err, memory.ErrInvalidScope) {
		t.Errorf("Get: expected ErrInvalidScope, got %v", err)
	}
}
