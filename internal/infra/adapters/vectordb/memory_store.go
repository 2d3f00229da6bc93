package vectordb

import (
	"context"
	"math"
	"sort"
	"sync"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	derror "novel-ai-core/internal/error"
)

var _ adapter.VectorStore = (*MemoryStore)(nil)

// MemoryStore is the zero-setup vector store: brute-force cosine search
// over in-process maps. It backs tests and installs where neither the
// Chroma sidecar nor Qdrant is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]model.VectorEmbedding
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]model.VectorEmbedding)}
}

func (s *MemoryStore) EnsureCollection(_ context.Context, name string, _ int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collections[name]; !ok {
		s.collections[name] = make(map[string]model.VectorEmbedding)
	}
	return nil
}

func (s *MemoryStore) ListCollections(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.collections))
	for name := range s.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *MemoryStore) CreateEmbedding(ctx context.Context, collection string, item model.VectorEmbedding) error {
	return s.CreateEmbeddingBatch(ctx, collection, []model.VectorEmbedding{item})
}

func (s *MemoryStore) CreateEmbeddingBatch(_ context.Context, collection string, items []model.VectorEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]model.VectorEmbedding)
		s.collections[collection] = coll
	}
	for _, it := range items {
		coll[it.ID] = it
	}
	return nil
}

func (s *MemoryStore) QuerySimilar(_ context.Context, collection string, params adapter.QueryParams) ([]model.QueryResult, error) {
	if len(params.QueryVector) == 0 {
		return nil, derror.ErrNoEmbeddingModel
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	coll := s.collections[collection]

	type scored struct {
		item  model.VectorEmbedding
		score float32
	}
	var hits []scored
	for _, it := range coll {
		if !matchesFilter(it.Metadata, params.Filter) {
			continue
		}
		hits = append(hits, scored{item: it, score: cosineSimilarity(params.QueryVector, it.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	limit := params.Limit
	if limit <= 0 {
		limit = 5
	}
	if len(hits) > limit {
		hits = hits[:limit]
	}
	results := make([]model.QueryResult, len(hits))
	for i, h := range hits {
		results[i] = model.QueryResult{
			ID:         h.item.ID,
			Text:       h.item.Text,
			Similarity: h.score,
			Metadata:   h.item.Metadata,
		}
	}
	return results, nil
}

func (s *MemoryStore) DeleteByIDs(_ context.Context, collection string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[collection]
	for _, id := range ids {
		delete(coll, id)
	}
	return nil
}

func (s *MemoryStore) DeleteByFilter(_ context.Context, collection string, filter map[string]any) error {
	if len(filter) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	coll := s.collections[collection]
	for id, it := range coll {
		if matchesFilter(it.Metadata, filter) {
			delete(coll, id)
		}
	}
	return nil
}

// Count reports the number of vectors in a collection.
func (s *MemoryStore) Count(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
