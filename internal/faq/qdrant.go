package faq

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
)

// DefaultCollection is the Qdrant collection holding FAQ vectors.
const DefaultCollection = "voicefaq_faqs"

// ErrQdrantURLRequired is returned by NewQdrantIndex without a URL.
var ErrQdrantURLRequired = errors.New("qdrant url is required")

// QdrantConfig holds Qdrant connection settings.
type QdrantConfig struct {
	// URL is the server address, e.g. "https://example.qdrant.io:6334".
	URL        string
	APIKey     string
	Collection string
}

// qdrantAPI is the subset of the Qdrant client used by QdrantIndex.
type qdrantAPI interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Close() error
}

// QdrantIndex implements VectorIndex on a Qdrant collection. Point ids are FAQ numbers.
type QdrantIndex struct {
	client     qdrantAPI
	collection string
}

// NewQdrantIndex connects to Qdrant over gRPC.
func NewQdrantIndex(cfg QdrantConfig) (*QdrantIndex, error) {
	if cfg.URL == "" {
		return nil, ErrQdrantURLRequired
	}

	raw := cfg.URL
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		p, err := strconv.Atoi(u.Port())
		if err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
		port = p
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	return &QdrantIndex{client: client, collection: collection}, nil
}

// Ensure creates the collection with cosine distance if it does not exist.
func (q *QdrantIndex) Ensure(ctx context.Context, dim int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("qdrant collection check failed: %w", err)
	}
	if exists {
		return nil
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection failed: %w", err)
	}
	return nil
}

// Upsert writes one point per entry.
func (q *QdrantIndex) Upsert(ctx context.Context, entries []Entry, vectors [][]float32) error {
	if len(entries) != len(vectors) {
		return fmt.Errorf("qdrant upsert: %d entries but %d vectors", len(entries), len(vectors))
	}
	points := make([]*qdrant.PointStruct, len(entries))
	for i, e := range entries {
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDNum(uint64(e.Number)),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: qdrant.NewValueMap(map[string]any{
				"number":   int64(e.Number),
				"question": e.Question,
				"category": e.Category,
			}),
		}
	}
	wait := true
	if _, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("qdrant upsert failed: %w", err)
	}
	return nil
}

// Search returns the nearest entries by cosine similarity.
func (q *QdrantIndex) Search(ctx context.Context, vector []float32, limit int) ([]Hit, error) {
	l := uint64(limit)
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &l,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search failed: %w", err)
	}

	hits := make([]Hit, 0, len(points))
	for _, p := range points {
		n := 0
		if v, ok := p.Payload["number"]; ok {
			n = int(v.GetIntegerValue())
		} else if p.Id != nil {
			n = int(p.Id.GetNum())
		}
		if n == 0 {
			continue
		}
		hits = append(hits, Hit{Number: n, Score: p.Score})
	}
	return hits, nil
}

// Close releases the gRPC connection.
func (q *QdrantIndex) Close() error {
	return q.client.Close()
}

var _ VectorIndex = (*QdrantIndex)(nil)
