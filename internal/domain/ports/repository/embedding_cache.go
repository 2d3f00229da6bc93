package repository

import "context"

// EmbeddingCache memoizes embedding vectors keyed by (model, text) content
// hash. Implementations must return defensive copies: cached vectors are
// value types, never shared mutable state.
type EmbeddingCache interface {
	Get(ctx context.Context, modelID, text string) ([]float32, bool)
	Put(ctx context.Context, modelID, text string, vec []float32)
}
