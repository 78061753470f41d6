package qdrant

import (
	"context"
	"errors"
	"testing"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// pagedScroller serves canned scroll pages and records the offset each
// request resumed from.
type pagedScroller struct {
	pages   []*qdrant.ScrollResponse
	offsets []*qdrant.PointId
	err     error
}

func (s *pagedScroller) Scroll(ctx context.Context, in *qdrant.ScrollPoints, opts ...grpc.CallOption) (*qdrant.ScrollResponse, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.offsets = append(s.offsets, in.Offset)
	if len(s.pages) == 0 {
		return &qdrant.ScrollResponse{}, nil
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func point(id string) *qdrant.RetrievedPoint {
	return &qdrant.RetrievedPoint{Id: qdrant.NewID(id)}
}

func TestScrollAllFollowsCursor(t *testing.T) {
	cursor := qdrant.NewID("cc")
	sc := &pagedScroller{pages: []*qdrant.ScrollResponse{
		{Result: []*qdrant.RetrievedPoint{point("aa"), point("bb")}, NextPageOffset: cursor},
		{Result: []*qdrant.RetrievedPoint{point("cc")}},
	}}

	points, err := scrollAll(context.Background(), sc, &qdrant.ScrollPoints{CollectionName: "test"})
	if err != nil {
		t.Fatalf("Failed to scroll: %v", err)
	}
	if len(points) != 3 {
		t.Fatalf("Expected every page collected, got %d points", len(points))
	}
	if len(sc.offsets) != 2 {
		t.Fatalf("Expected 2 requests, got %d", len(sc.offsets))
	}
	if sc.offsets[0] != nil {
		t.Errorf("Expected the first request to start from the beginning, got %v", sc.offsets[0])
	}
	if sc.offsets[1] != cursor {
		t.Errorf("Expected the second request to resume at the cursor, got %v", sc.offsets[1])
	}
}

func TestScrollAllStopsWithoutCursor(t *testing.T) {
	sc := &pagedScroller{pages: []*qdrant.ScrollResponse{
		{Result: []*qdrant.RetrievedPoint{point("aa")}},
	}}

	points, err := scrollAll(context.Background(), sc, &qdrant.ScrollPoints{CollectionName: "test"})
	if err != nil {
		t.Fatalf("Failed to scroll: %v", err)
	}
	if len(points) != 1 {
		t.Errorf("Expected a single point, got %d", len(points))
	}
	if len(sc.offsets) != 1 {
		t.Errorf("Expected a single request for a final page, got %d", len(sc.offsets))
	}
}

func TestScrollAllPropagatesError(t *testing.T) {
	wantErr := errors.New("unavailable")
	sc := &pagedScroller{err: wantErr}
	if _, err := scrollAll(context.Background(), sc, &qdrant.ScrollPoints{CollectionName: "test"}); !errors.Is(err, wantErr) {
		t.Errorf("Expected the scroll error surfaced, got %v", err)
	}
}
