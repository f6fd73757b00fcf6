package store

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// originalIDField stores a point's natural-key id in its payload, since
// Qdrant only accepts UUIDs or unsigned integers as point ids.
const originalIDField = "_original_id"

// QdrantBackend is a Backend over a Qdrant collection, used for the
// "native" vector-database backend mode.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantBackend connects to Qdrant's gRPC API (default port 6334,
// configurable as a query parameter on dsn: "http://host:6334?api_key=...")
// and ensures the named collection exists with the given dimension.
func NewQdrantBackend(dsn, collection string, dimensions int) (*QdrantBackend, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	b := &QdrantBackend{client: client, collection: collection}
	if err := b.ensureCollection(context.Background(), dimensions); err != nil {
		client.Close()
		return nil, err
	}
	return b, nil
}

func (q *QdrantBackend) ensureCollection(ctx context.Context, dimensions int) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	if dimensions <= 0 {
		dimensions = 1
	}
	err = q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dimensions),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", q.collection, err)
	}
	return nil
}

func pointUUID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String()
}

func (q *QdrantBackend) Upsert(ctx context.Context, id string, vector []float32, payload map[string]string) error {
	uuidStr := pointUUID(id)
	values := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		values[k] = v
	}
	if uuidStr != id {
		values[originalIDField] = id
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(values),
		}},
	})
	return err
}

func (q *QdrantBackend) Delete(ctx context.Context, id string) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID(id))),
	})
	return err
}

func (q *QdrantBackend) SimilaritySearch(ctx context.Context, vector []float32, k int, filter map[string]string) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	limit := uint64(k)
	result, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         buildFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(result))
	for _, r := range result {
		hits = append(hits, Hit{ID: resolveID(r.Id, r.Payload), Score: float64(r.Score), Payload: payloadToStrings(r.Payload)})
	}
	return hits, nil
}

// Scroll returns at most the first 1000 points matching filter; later pages
// are not fetched.
func (q *QdrantBackend) Scroll(ctx context.Context, filter map[string]string) ([]Hit, error) {
	limit := uint32(1000)
	result, err := q.client.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: q.collection,
		Filter:         buildFilter(filter),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	hits := make([]Hit, 0, len(result))
	for _, r := range result {
		hits = append(hits, Hit{ID: resolveID(r.Id, r.Payload), Payload: payloadToStrings(r.Payload)})
	}
	return hits, nil
}

func buildFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return nil
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

func resolveID(id *qdrant.PointId, payload map[string]*qdrant.Value) string {
	if v, ok := payload[originalIDField]; ok {
		return v.GetStringValue()
	}
	if u := id.GetUuid(); u != "" {
		return u
	}
	return id.String()
}

func payloadToStrings(payload map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(payload))
	for k, v := range payload {
		if k == originalIDField {
			continue
		}
		out[k] = v.GetStringValue()
	}
	return out
}

func (q *QdrantBackend) Close() error { return q.client.Close() }
