package history_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/becomeliminal/engram/core"
	"github.com/becomeliminal/engram/history"
)

func openTestStore(t *testing.T) *history.Store {
	t.Helper()
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Failed to open history db: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	exchanges := []struct{ role, content string }{
		{core.RoleUser, "hello"},
		{core.RoleAssistant, "hi, how can I help"},
		{core.RoleUser, "plan my week"},
	}
	for _, ex := range exchanges {
		if err := store.Append(ctx, "session1", "user1", ex.role, ex.content); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	messages, err := store.Recent(ctx, "session1", 10)
	if err != nil {
		t.Fatalf("Failed to load recent: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("Expected 3 messages, got %d", len(messages))
	}
	for i, msg := range messages {
		if msg.Role != exchanges[i].role || msg.Content != exchanges[i].content {
			t.Errorf("Position %d: got %s/%q", i, msg.Role, msg.Content)
		}
		if msg.CreatedAt.IsZero() {
			t.Errorf("Position %d: missing timestamp", i)
		}
	}
}

func TestRecentReturnsLastNInOrder(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	contents := []string{"one", "two", "three", "four", "five"}
	for _, c := range contents {
		if err := store.Append(ctx, "session1", "user1", core.RoleUser, c); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	messages, err := store.Recent(ctx, "session1", 2)
	if err != nil {
		t.Fatalf("Failed to load recent: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages, got %d", len(messages))
	}
	if messages[0].Content != "four" || messages[1].Content != "five" {
		t.Errorf("Expected the last two in order, got %q then %q", messages[0].Content, messages[1].Content)
	}
}

func TestCountIsPerSession(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := store.Append(ctx, "session1", "user1", core.RoleUser, "msg"); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}
	if err := store.Append(ctx, "session2", "user1", core.RoleUser, "other"); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	count, err := store.Count(ctx, "session1")
	if err != nil {
		t.Fatalf("Failed to count: %v", err)
	}
	if count != 3 {
		t.Errorf("Expected 3 messages in session1, got %d", count)
	}
}

func TestTrimToKeepsMostRecent(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	for _, c := range []string{"a", "b", "c", "d"} {
		if err := store.Append(ctx, "session1", "user1", core.RoleUser, c); err != nil {
			t.Fatalf("Failed to append: %v", err)
		}
	}

	if err := store.TrimTo(ctx, "session1", 2); err != nil {
		t.Fatalf("Failed to trim: %v", err)
	}

	messages, err := store.Recent(ctx, "session1", 10)
	if err != nil {
		t.Fatalf("Failed to load recent: %v", err)
	}
	if len(messages) != 2 {
		t.Fatalf("Expected 2 messages after trim, got %d", len(messages))
	}
	if messages[0].Content != "c" || messages[1].Content != "d" {
		t.Errorf("Trim kept the wrong messages: %q, %q", messages[0].Content, messages[1].Content)
	}
}

func TestClearWipesOnlyOneSession(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	if err := store.Append(ctx, "session1", "user1", core.RoleUser, "gone"); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}
	if err := store.Append(ctx, "session2", "user1", core.RoleUser, "kept"); err != nil {
		t.Fatalf("Failed to append: %v", err)
	}

	if err := store.Clear(ctx, "session1"); err != nil {
		t.Fatalf("Failed to clear: %v", err)
	}

	count, _ := store.Count(ctx, "session1")
	if count != 0 {
		t.Errorf("Expected session1 empty, got %d messages", count)
	}
	count, _ = store.Count(ctx, "session2")
	if count != 1 {
		t.Errorf("Expected session2 untouched, got %d messages", count)
	}
}
