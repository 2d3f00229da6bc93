package adapter

import (
	"context"

	"novel-ai-core/internal/domain/model"
)

// QueryParams selects similar vectors. QueryVector is preferred when set;
// QueryText is passed through for stores that embed server-side.
type QueryParams struct {
	QueryText   string
	QueryVector []float32
	Filter      map[string]any
	Limit       int
}

// VectorStore is the external vector database boundary. The store's own
// engine is not reimplemented here; adapters translate these calls onto the
// Chroma sidecar REST API, a Qdrant server, or an in-memory store.
type VectorStore interface {
	EnsureCollection(ctx context.Context, name string, dim int) error
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error

	CreateEmbedding(ctx context.Context, collection string, item model.VectorEmbedding) error
	CreateEmbeddingBatch(ctx context.Context, collection string, items []model.VectorEmbedding) error

	QuerySimilar(ctx context.Context, collection string, params QueryParams) ([]model.QueryResult, error)

	DeleteByIDs(ctx context.Context, collection string, ids []string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
}
