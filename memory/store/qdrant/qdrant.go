// Package qdrant provides a memory.Store backed by a network-addressed
// Qdrant instance, the production counterpart to the embedded chromem
// store. One collection holds every scope; isolation is enforced with
// a mandatory scope payload filter on every read.
package qdrant

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"

	"github.com/becomeliminal/engram/memory"
)

// Config holds connection parameters. Endpoint, collection name and
// credentials are deployment configuration, not core logic.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string

	// Dimensions is the embedding size the collection is created with.
	Dimensions int

	// GrpcOptions are passed through to the underlying gRPC dial.
	GrpcOptions []grpc.DialOption
}

// Store implements memory.Store over Qdrant.
type Store struct {
	client     *qdrant.Client
	collection string
}

// scrollPageSize bounds one page of a ListByScope scan; larger scopes
// are fetched across multiple scroll requests.
const scrollPageSize = 4096

// New connects to Qdrant and ensures the collection exists with a
// cosine-distance vector index matching the embedder's dimensions.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		cfg.Collection = "engram_memory"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:        cfg.Host,
		Port:        cfg.Port,
		APIKey:      cfg.APIKey,
		UseTLS:      cfg.UseTLS,
		GrpcOptions: cfg.GrpcOptions,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: connect qdrant: %v", memory.ErrStoreUnavailable, err)
	}

	s := &Store{client: client, collection: cfg.Collection}
	if err := s.ensureCollection(ctx, cfg.Dimensions); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureCollection(ctx context.Context, dimensions int) error {
	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return fmt.Errorf("%w: check collection: %v", memory.ErrStoreUnavailable, err)
	}
	if exists {
		return nil
	}

	log.Printf("[QDRANT] Creating collection %s (dim=%d, cosine)", s.collection, dimensions)
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("%w: create collection: %v", memory.ErrStoreUnavailable, err)
	}
	return nil
}

// Put upserts a record. The upsert waits for the write to be applied,
// so a subsequent query for the same scope observes it immediately.
func (s *Store) Put(ctx context.Context, rec *memory.Record) error {
	if err := memory.ValidateScope(rec.Scope); err != nil {
		return err
	}
	if len(rec.Embedding) == 0 {
		return fmt.Errorf("record %s has no embedding", rec.ID)
	}

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewID(rec.ID),
			Vectors: qdrant.NewVectors(rec.Embedding...),
			Payload: recordPayload(rec),
		}},
	})
	if err != nil {
		return fmt.Errorf("%w: upsert %s: %v", memory.ErrStoreUnavailable, rec.ID, err)
	}
	return nil
}

// Query runs an ANN search restricted to one scope and the requested
// statuses.
func (s *Store) Query(ctx context.Context, scope string, embedding []float32, k int, statuses []memory.Status) ([]memory.QueryResult, error) {
	if err := memory.ValidateScope(scope); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(k)),
		Filter:         scopeFilter(scope, statuses),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query scope %s: %v", memory.ErrStoreUnavailable, scope, err)
	}

	out := make([]memory.QueryResult, 0, len(points))
	for _, p := range points {
		rec, err := recordFromPayload(p.Id, p.Payload, p.Vectors)
		if err != nil {
			log.Printf("[QDRANT] Skipping malformed point: %v", err)
			continue
		}
		out = append(out, memory.QueryResult{Record: rec, Similarity: p.Score})
	}

	// Qdrant orders by score; re-sort only to apply deterministic
	// tie-breaks.
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
	return out, nil
}

// Get retrieves a record by ID, verifying it belongs to the scope.
func (s *Store) Get(ctx context.Context, scope, id string) (*memory.Record, error) {
	if err := memory.ValidateScope(scope); err != nil {
		return nil, err
	}

	points, err := s.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: s.collection,
		Ids:            []*qdrant.PointId{qdrant.NewID(id)},
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %v", memory.ErrStoreUnavailable, id, err)
	}
	if len(points) == 0 {
		return nil, memory.ErrNotFound
	}

	rec, err := recordFromPayload(points[0].Id, points[0].Payload, points[0].Vectors)
	if err != nil {
		return nil, err
	}
	if rec.Scope != scope {
		// A cross-scope id probe is indistinguishable from a missing
		// record on purpose.
		return nil, memory.ErrNotFound
	}
	return rec, nil
}

// Delete physically removes a record.
func (s *Store) Delete(ctx context.Context, scope, id string) error {
	if _, err := s.Get(ctx, scope, id); err != nil {
		return err
	}
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelector(qdrant.NewID(id)),
	})
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", memory.ErrStoreUnavailable, id, err)
	}
	return nil
}

// scroller is the slice of the points API the scope scan needs.
type scroller interface {
	Scroll(ctx context.Context, in *qdrant.ScrollPoints, opts ...grpc.CallOption) (*qdrant.ScrollResponse, error)
}

// scrollAll follows the scroll cursor until the backend reports no next
// page, so a scope larger than one page is still scanned completely.
func scrollAll(ctx context.Context, pc scroller, req *qdrant.ScrollPoints) ([]*qdrant.RetrievedPoint, error) {
	var points []*qdrant.RetrievedPoint
	for {
		resp, err := pc.Scroll(ctx, req)
		if err != nil {
			return nil, err
		}
		points = append(points, resp.GetResult()...)
		next := resp.GetNextPageOffset()
		if next == nil {
			return points, nil
		}
		req.Offset = next
	}
}

// ListByScope scans a scope's records without vector search.
func (s *Store) ListByScope(ctx context.Context, scope string, statuses []memory.Status) ([]*memory.Record, error) {
	if err := memory.ValidateScope(scope); err != nil {
		return nil, err
	}

	points, err := scrollAll(ctx, s.client.GetPointsClient(), &qdrant.ScrollPoints{
		CollectionName: s.collection,
		Filter:         scopeFilter(scope, statuses),
		Limit:          qdrant.PtrOf(uint32(scrollPageSize)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scroll scope %s: %v", memory.ErrStoreUnavailable, scope, err)
	}

	out := make([]*memory.Record, 0, len(points))
	for _, p := range points {
		rec, err := recordFromPayload(p.Id, p.Payload, p.Vectors)
		if err != nil {
			log.Printf("[QDRANT] Skipping malformed point: %v", err)
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Close tears down the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

func scopeFilter(scope string, statuses []memory.Status) *qdrant.Filter {
	must := []*qdrant.Condition{qdrant.NewMatch("scope", scope)}
	if len(statuses) > 0 {
		keywords := make([]string, 0, len(statuses))
		for _, st := range statuses {
			keywords = append(keywords, string(st))
		}
		must = append(must, qdrant.NewMatchKeywords("status", keywords...))
	}
	return &qdrant.Filter{Must: must}
}

func recordPayload(rec *memory.Record) map[string]*qdrant.Value {
	return qdrant.NewValueMap(map[string]any{
		"scope":            rec.Scope,
		"text":             rec.Text,
		"kind":             string(rec.Kind),
		"importance":       int64(rec.Importance),
		"status":           string(rec.Status),
		"supersedes":       rec.Supersedes,
		"created_at":       rec.CreatedAt.UTC().Format(time.RFC3339Nano),
		"last_accessed_at": rec.LastAccessedAt.UTC().Format(time.RFC3339Nano),
	})
}

func recordFromPayload(id *qdrant.PointId, payload map[string]*qdrant.Value, vectors *qdrant.VectorsOutput) (*memory.Record, error) {
	rec := &memory.Record{
		ID:         id.GetUuid(),
		Scope:      payload["scope"].GetStringValue(),
		Text:       payload["text"].GetStringValue(),
		Kind:       memory.Kind(payload["kind"].GetStringValue()),
		Importance: int(payload["importance"].GetIntegerValue()),
		Status:     memory.Status(payload["status"].GetStringValue()),
		Supersedes: payload["supersedes"].GetStringValue(),
	}
	if rec.Scope == "" || rec.Text == "" {
		return nil, fmt.Errorf("point %s missing scope or text payload", rec.ID)
	}

	createdAt, err := time.Parse(time.RFC3339Nano, payload["created_at"].GetStringValue())
	if err != nil {
		return nil, fmt.Errorf("point %s created_at: %w", rec.ID, err)
	}
	rec.CreatedAt = createdAt

	accessedAt, err := time.Parse(time.RFC3339Nano, payload["last_accessed_at"].GetStringValue())
	if err != nil {
		accessedAt = createdAt
	}
	rec.LastAccessedAt = accessedAt

	if v := vectors.GetVector(); v != nil {
		rec.Embedding = v.Data
	}
	return rec, nil
}
