package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/agentoven/notechat/pkg/models"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"github.com/rs/zerolog/log"
)

// Payload keys reserved by the qdrant store. Metadata entries are stored
// beside them.
const (
	payloadDocID     = "_doc_id"
	payloadContent   = "_content"
	payloadCreatedAt = "_created_at"
)

// idNamespace derives point IDs for document IDs that are not UUIDs.
var idNamespace = uuid.MustParse("6f0b8c1e-3d7a-4f52-9a61-2c4e8b9d0a17")

// QdrantStore implements VectorStoreDriver on a Qdrant collection over gRPC.
type QdrantStore struct {
	client     *qdrant.Client
	collection string
}

// NewQdrantStore connects to Qdrant and creates the collection with cosine
// distance if it does not exist.
func NewQdrantStore(ctx context.Context, host string, port int, collection string, dimensions int) (*QdrantStore, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port})
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("qdrant collection check: %w", err)
	}
	if !exists {
		err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("qdrant create collection %s: %w", collection, err)
		}
		log.Info().Str("collection", collection).Int("dims", dimensions).Msg("Qdrant collection created")
	}

	log.Info().Str("host", host).Int("port", port).Str("collection", collection).Msg("Qdrant store initialized")
	return &QdrantStore{client: client, collection: collection}, nil
}

func (s *QdrantStore) Kind() string { return "qdrant" }

func (s *QdrantStore) Upsert(ctx context.Context, docs []models.VectorDoc) error {
	if len(docs) == 0 {
		return nil
	}
	now := time.Now()
	points := make([]*qdrant.PointStruct, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		if d.CreatedAt.IsZero() {
			d.CreatedAt = now
		}
		payload := make(map[string]any, len(d.Metadata)+3)
		for k, v := range d.Metadata {
			payload[k] = v
		}
		payload[payloadDocID] = d.ID
		payload[payloadContent] = d.Content
		payload[payloadCreatedAt] = d.CreatedAt.Format(time.RFC3339Nano)

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewID(pointID(d.ID)),
			Vectors: qdrant.NewVectors(toFloat32(d.Vector)...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float64, topK int, filter map[string]string) ([]models.SearchResult, error) {
	limit := uint64(topK)
	hits, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.collection,
		Query:          qdrant.NewQuery(toFloat32(vector)...),
		Limit:          &limit,
		Filter:         toFilter(filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}

	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, models.SearchResult{
			Doc:   fromPayload(hit.GetPayload()),
			Score: float64(hit.GetScore()),
		})
	}
	return results, nil
}

func (s *QdrantStore) Delete(ctx context.Context, filter map[string]string) error {
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: toFilter(filter)},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	return int(n), nil
}

func (s *QdrantStore) HealthCheck(ctx context.Context) error {
	_, err := s.client.HealthCheck(ctx)
	return err
}

// Close releases the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}

// ── Helpers ─────────────────────────────────────────────────

// pointID returns id if it is a UUID, otherwise a stable UUID derived from it.
func pointID(id string) string {
	if _, err := uuid.Parse(id); err == nil {
		return id
	}
	return uuid.NewSHA1(idNamespace, []byte(id)).String()
}

func toFilter(filter map[string]string) *qdrant.Filter {
	if len(filter) == 0 {
		return &qdrant.Filter{}
	}
	must := make([]*qdrant.Condition, 0, len(filter))
	for k, v := range filter {
		must = append(must, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: must}
}

func fromPayload(payload map[string]*qdrant.Value) models.VectorDoc {
	doc := models.VectorDoc{Metadata: make(map[string]string, len(payload))}
	for k, v := range payload {
		switch k {
		case payloadDocID:
			doc.ID = v.GetStringValue()
		case payloadContent:
			doc.Content = v.GetStringValue()
		case payloadCreatedAt:
			doc.CreatedAt, _ = time.Parse(time.RFC3339Nano, v.GetStringValue())
		default:
			doc.Metadata[k] = v.GetStringValue()
		}
	}
	return doc
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
