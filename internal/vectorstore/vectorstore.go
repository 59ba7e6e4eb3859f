// Package vectorstore wraps the Qdrant gRPC client behind the small surface
// the indexing pipeline and search orchestrator need: ensure the collection,
// upsert chunk points, run filtered similarity queries, count points.
package vectorstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/qdrant/go-client/qdrant"

	"github.com/searchbridge/searchbridge/internal/apperr"
)

// Point is one chunk vector with its payload.
type Point struct {
	// ID is a UUID string. Deterministic IDs make re-indexing idempotent.
	ID string
	// Vector is the chunk embedding.
	Vector []float32
	// Payload carries the chunk text and document metadata.
	Payload map[string]any
}

// SearchResult is one scored point from a similarity query.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Filter narrows a similarity query to matching payload fields.
// Zero values mean "no constraint".
type Filter struct {
	Domain   string
	Language string
	Country  string
	IsMobile *bool
}

// Config configures the Qdrant connection.
type Config struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
	// Dimensions is the expected vector size. Upserts with a different
	// dimension are rejected before they reach the server.
	Dimensions int
	// Timeout bounds individual calls (default 30s).
	Timeout time.Duration
}

// Store is the Qdrant-backed vector store.
type Store struct {
	client     *qdrant.Client
	collection string
	dimensions int
	timeout    time.Duration
}

// New connects to Qdrant. The connection is gRPC and lazy; a bad address
// surfaces on the first call, not here.
func New(cfg Config) (*Store, error) {
	if cfg.Collection == "" {
		return nil, apperr.New(apperr.CodeConfigInvalid, "vector collection name is required", nil)
	}
	if cfg.Dimensions <= 0 {
		return nil, apperr.New(apperr.CodeConfigInvalid, "vector dimensions must be positive", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}

	return &Store{
		client:     client,
		collection: cfg.Collection,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
	}, nil
}

// EnsureCollection creates the collection with cosine distance if it does
// not exist. Existing collections are left untouched, whatever their
// configuration; a dimension change requires a manual migration.
func (s *Store) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	exists, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(s.dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}

	slog.Info("vector_collection_created",
		"collection", s.collection,
		"dimensions", s.dimensions)
	return nil
}

// Upsert retry schedule. Transient server errors are retried with
// exponential backoff; dimension mismatches never are.
const (
	upsertRetries      = 3
	upsertInitialDelay = 2 * time.Second
	upsertMaxDelay     = 10 * time.Second
)

// Upsert writes points to the collection, waiting for them to be applied.
// Every vector's dimension is checked before anything is sent; a mismatch
// means the embedder and the collection disagree and retrying cannot help.
// Server errors are retried with exponential backoff since upserts are
// idempotent under deterministic point IDs.
func (s *Store) Upsert(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	for _, p := range points {
		if len(p.Vector) != s.dimensions {
			return apperr.Newf(apperr.CodeDimensionMismatch,
				"vector has %d dimensions, collection expects %d", len(p.Vector), s.dimensions).
				WithDetail("point_id", p.ID)
		}
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for i, p := range points {
		qdrantPoints[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(p.ID),
			Vectors: qdrant.NewVectors(p.Vector...),
			Payload: qdrant.NewValueMap(p.Payload),
		}
	}

	delay := upsertInitialDelay
	var lastErr error

	for attempt := 0; attempt <= upsertRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		lastErr = s.upsertOnce(ctx, qdrantPoints)
		if lastErr == nil {
			return nil
		}

		if attempt < upsertRetries {
			slog.Warn("vector_upsert_retry",
				"collection", s.collection,
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay *= 2
			if delay > upsertMaxDelay {
				delay = upsertMaxDelay
			}
		}
	}

	return apperr.Wrap(apperr.CodeUpstreamUnavailable, lastErr)
}

// upsertOnce makes a single attempt with its own timeout so a retry never
// inherits a deadline the previous attempt already spent.
func (s *Store) upsertOnce(ctx context.Context, points []*qdrant.PointStruct) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	return err
}

// Search runs a filtered similarity query and returns the top limit points
// with their payloads.
func (s *Store) Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]SearchResult, error) {
	if limit <= 0 {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          qdrant.PtrOf(uint64(limit)),
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}

	results := make([]SearchResult, 0, len(points))
	for _, p := range points {
		results = append(results, SearchResult{
			ID:      pointID(p.Id),
			Score:   p.Score,
			Payload: payloadToMap(p.Payload),
		})
	}
	return results, nil
}

// Count returns the exact number of points in the collection. Errors are
// logged and reported as zero so stats endpoints degrade instead of failing.
func (s *Store) Count(ctx context.Context) uint64 {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.collection,
		Exact:          qdrant.PtrOf(true),
	})
	if err != nil {
		slog.Warn("vector_count_failed", "collection", s.collection, "error", err)
		return 0
	}
	return count
}

// Healthy checks connectivity with a cheap collection-existence call.
func (s *Store) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := s.client.CollectionExists(ctx, s.collection)
	if err != nil {
		return apperr.Wrap(apperr.CodeUpstreamUnavailable, err)
	}
	return nil
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// buildFilter translates the filter struct into Qdrant match conditions.
// Returns nil when no field is set so unfiltered queries skip the filter
// stage entirely.
func buildFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition

	if f.Domain != "" {
		must = append(must, qdrant.NewMatch("domain", f.Domain))
	}
	if f.Language != "" {
		must = append(must, qdrant.NewMatch("language", f.Language))
	}
	if f.Country != "" {
		must = append(must, qdrant.NewMatch("country", f.Country))
	}
	if f.IsMobile != nil {
		must = append(must, qdrant.NewMatchBool("is_mobile", *f.IsMobile))
	}

	if len(must) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: must}
}

// pointID extracts the string form of a point ID.
func pointID(id *qdrant.PointId) string {
	if id == nil {
		return ""
	}
	if uuid := id.GetUuid(); uuid != "" {
		return uuid
	}
	return id.String()
}

// payloadToMap converts a Qdrant payload back to plain Go values.
func payloadToMap(payload map[string]*qdrant.Value) map[string]any {
	if len(payload) == 0 {
		return nil
	}
	out := make(map[string]any, len(payload))
	for key, value := range payload {
		out[key] = valueToAny(value)
	}
	return out
}

func valueToAny(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch kind := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return kind.StringValue
	case *qdrant.Value_IntegerValue:
		return kind.IntegerValue
	case *qdrant.Value_DoubleValue:
		return kind.DoubleValue
	case *qdrant.Value_BoolValue:
		return kind.BoolValue
	case *qdrant.Value_ListValue:
		items := kind.ListValue.GetValues()
		list := make([]any, 0, len(items))
		for _, item := range items {
			list = append(list, valueToAny(item))
		}
		return list
	case *qdrant.Value_StructValue:
		return payloadToMap(kind.StructValue.GetFields())
	default:
		return nil
	}
}
