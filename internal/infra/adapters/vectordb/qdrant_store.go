package vectordb

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
)

var _ adapter.VectorStore = (*QdrantStore)(nil)

// QdrantStore adapts the VectorStore port onto a Qdrant server over gRPC.
// Unlike the Chroma sidecar, Qdrant never embeds server-side, so every item
// must carry a vector and queries must carry QueryVector.
type QdrantStore struct {
	client *qdrant.Client
}

func NewQdrantStore(rawURL, apiKey string) (*QdrantStore, error) {
	if rawURL == "" {
		return nil, fmt.Errorf("qdrant url is required")
	}
	if !strings.HasPrefix(rawURL, "http://") && !strings.HasPrefix(rawURL, "https://") {
		rawURL = "https://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant url: %w", err)
	}
	port := 6334
	if u.Port() != "" {
		if port, err = strconv.Atoi(u.Port()); err != nil {
			return nil, fmt.Errorf("invalid qdrant port: %w", err)
		}
	}
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   u.Hostname(),
		Port:   port,
		APIKey: apiKey,
		UseTLS: u.Scheme == "https",
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &QdrantStore{client: client}, nil
}

func (s *QdrantStore) Close() error { return s.client.Close() }

func (s *QdrantStore) EnsureCollection(ctx context.Context, name string, dim int) error {
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check collection %q: %w", name, err)
	}
	if exists {
		return nil
	}
	return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dim),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (s *QdrantStore) ListCollections(ctx context.Context) ([]string, error) {
	return s.client.ListCollections(ctx)
}

func (s *QdrantStore) DeleteCollection(ctx context.Context, name string) error {
	return s.client.DeleteCollection(ctx, name)
}

func (s *QdrantStore) CreateEmbedding(ctx context.Context, collection string, item model.VectorEmbedding) error {
	return s.CreateEmbeddingBatch(ctx, collection, []model.VectorEmbedding{item})
}

func (s *QdrantStore) CreateEmbeddingBatch(ctx context.Context, collection string, items []model.VectorEmbedding) error {
	if len(items) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(items))
	for _, it := range items {
		if len(it.Vector) == 0 {
			return fmt.Errorf("qdrant: item %q has no vector", it.ID)
		}
		payload := make(map[string]any, len(it.Metadata)+1)
		for k, v := range it.Metadata {
			payload[k] = v
		}
		payload["text"] = it.Text
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(it.ID),
			Vectors: qdrant.NewVectors(it.Vector...),
			Payload: qdrant.NewValueMap(payload),
		})
	}
	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: collection,
		Points:         points,
		Wait:           &wait,
	})
	return err
}

func (s *QdrantStore) QuerySimilar(ctx context.Context, collection string, params adapter.QueryParams) ([]model.QueryResult, error) {
	if len(params.QueryVector) == 0 {
		return nil, fmt.Errorf("qdrant: query vector required")
	}
	limit := uint64(params.Limit)
	if limit == 0 {
		limit = 5
	}
	points, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: collection,
		Query:          qdrant.NewQuery(params.QueryVector...),
		Limit:          &limit,
		Filter:         buildFilter(params.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant query: %w", err)
	}
	results := make([]model.QueryResult, 0, len(points))
	for _, p := range points {
		qr := model.QueryResult{
			Similarity: p.Score,
			Metadata:   make(map[string]any),
		}
		if p.Id != nil {
			if id := p.Id.GetUuid(); id != "" {
				qr.ID = id
			} else {
				qr.ID = fmt.Sprintf("%d", p.Id.GetNum())
			}
		}
		for k, v := range p.Payload {
			if k == "text" {
				qr.Text = v.GetStringValue()
				continue
			}
			qr.Metadata[k] = fromQdrantValue(v)
		}
		results = append(results, qr)
	}
	return results, nil
}

func (s *QdrantStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewIDUUID(id))
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           &wait,
	})
	return err
}

func (s *QdrantStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	f := buildFilter(filter)
	if f == nil {
		return nil
	}
	wait := true
	_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points:         qdrant.NewPointsSelectorFilter(f),
		Wait:           &wait,
	})
	return err
}

// buildFilter translates a flat metadata filter into a Qdrant must-match
// filter. Nil and empty-string values are dropped, mirroring the metadata
// flattening rules on the write path.
func buildFilter(filter map[string]any) *qdrant.Filter {
	var conditions []*qdrant.Condition
	for key, value := range filter {
		if value == nil {
			continue
		}
		if s, ok := value.(string); ok && s == "" {
			continue
		}
		conditions = append(conditions, matchCondition(key, value))
	}
	if len(conditions) == 0 {
		return nil
	}
	return &qdrant.Filter{Must: conditions}
}

func matchCondition(key string, value any) *qdrant.Condition {
	switch v := value.(type) {
	case string:
		return qdrant.NewMatch(key, v)
	case int:
		return qdrant.NewMatchInt(key, int64(v))
	case int64:
		return qdrant.NewMatchInt(key, v)
	case bool:
		return qdrant.NewMatchBool(key, v)
	default:
		return qdrant.NewMatch(key, fmt.Sprintf("%v", v))
	}
}

func fromQdrantValue(v *qdrant.Value) any {
	if v == nil {
		return nil
	}
	switch val := v.Kind.(type) {
	case *qdrant.Value_StringValue:
		return val.StringValue
	case *qdrant.Value_IntegerValue:
		return val.IntegerValue
	case *qdrant.Value_DoubleValue:
		return val.DoubleValue
	case *qdrant.Value_BoolValue:
		return val.BoolValue
	default:
		return nil
	}
}
