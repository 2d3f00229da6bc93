package model

import "time"

// EmbeddingRequest asks a backend to embed a single text.
type EmbeddingRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"modelId"`
}

// EmbeddingResponse carries the vector plus provider bookkeeping.
type EmbeddingResponse struct {
	ID        string    `json:"id"`
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
	Usage     *Usage    `json:"usage,omitempty"`
}

// VectorMetadata describes where a vector came from. AdditionalContext is
// flattened before it reaches the store; the store's metadata schema rejects
// null and empty values.
type VectorMetadata struct {
	SourceID          string         `json:"sourceId"`
	SourceType        string         `json:"sourceType"`
	NovelID           string         `json:"novelId"`
	Title             string         `json:"title,omitempty"`
	Section           string         `json:"section,omitempty"`
	CreatedAt         time.Time      `json:"createdAt"`
	UpdatedAt         time.Time      `json:"updatedAt"`
	AdditionalContext map[string]any `json:"additionalContext,omitempty"`
}

// VectorEmbedding is handed by value to the vector store and never mutated
// afterwards; re-embedding produces new IDs and the old entries are deleted
// by filter before re-insert.
type VectorEmbedding struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata"`
}

// QueryResult is one ranked hit from a similarity query.
type QueryResult struct {
	ID         string         `json:"id"`
	Text       string         `json:"text"`
	Similarity float32        `json:"similarity"`
	Metadata   map[string]any `json:"metadata"`
}
