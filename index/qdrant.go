package index

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField stores the original vmpage page id, since Qdrant point ids
// must be UUIDs or positive integers.
const payloadIDField = "_page_id"
const payloadLabelField = "_label"

// QdrantStore is an alternative, network-backed implementation of the same
// search surface as Index, for deployments that outgrow the flat file
// index. It is not wired into Index/Rebuilder directly — callers pick one
// backend at construction.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrantStore connects to a Qdrant instance over its gRPC API (default
// port 6334) and ensures the target collection exists with a cosine
// distance metric sized to dimension.
func NewQdrantStore(host string, port int, apiKey, collection string, dimension int) (*QdrantStore, error) {
	if collection == "" {
		return nil, fmt.Errorf("collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("dimension must be > 0")
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}

	qs := &QdrantStore{client: client, collection: collection, dimension: dimension}
	if err := qs.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, err
	}
	return qs, nil
}

func (qs *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := qs.client.CollectionExists(ctx, qs.collection)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if exists {
		return nil
	}
	err = qs.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: qs.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(qs.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	return nil
}

func pointIDFor(pageID string) string {
	if _, err := uuid.Parse(pageID); err == nil {
		return pageID
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(pageID)).String()
}

// Upsert indexes or replaces a page's embedding.
func (qs *QdrantStore) Upsert(ctx context.Context, pageID, label string, vector []float32) error {
	uuidStr := pointIDFor(pageID)
	payload := qdrant.NewValueMap(map[string]any{
		payloadIDField:    pageID,
		payloadLabelField: label,
	})
	vec := make([]float32, len(vector))
	copy(vec, vector)
	_, err := qs.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: qs.collection,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(uuidStr),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: payload,
		}},
	})
	return err
}

// Remove deletes a page's point from the collection.
func (qs *QdrantStore) Remove(ctx context.Context, pageID string) error {
	_, err := qs.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: qs.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointIDFor(pageID))),
	})
	return err
}

// Search runs a cosine similarity query and returns the top k hits. Unlike
// Index.Search, threshold/dedup/embedding is the caller's responsibility —
// this is a thin query wrapper over the collection.
func (qs *QdrantStore) Search(ctx context.Context, queryVector []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	vec := make([]float32, len(queryVector))
	copy(vec, queryVector)
	limit := uint64(k)
	hits, err := qs.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: qs.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		var pageID, label string
		if hit.Payload != nil {
			if v, ok := hit.Payload[payloadIDField]; ok {
				pageID = v.GetStringValue()
			}
			if v, ok := hit.Payload[payloadLabelField]; ok {
				label = v.GetStringValue()
			}
		}
		if pageID == "" {
			pageID = hit.Id.GetUuid()
		}
		results = append(results, Result{PageID: pageID, Label: label, Score: float64(hit.Score)})
	}
	return results, nil
}

// Dimension reports the configured vector size.
func (qs *QdrantStore) Dimension() int { return qs.dimension }

// Close releases the underlying gRPC connection.
func (qs *QdrantStore) Close() error { return qs.client.Close() }
