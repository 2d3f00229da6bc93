// Package vectordb adapts the VectorStore port onto a Chroma sidecar, a
// Qdrant server, or an in-memory index for tests and zero-setup installs.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	derror "novel-ai-core/internal/error"
)

var _ adapter.VectorStore = (*ChromaStore)(nil)

// ChromaStore talks to the Chroma HTTP sidecar. The sidecar creates
// collections lazily on first write and reports cosine distance; similarity
// exposed upward is 1 - distance.
type ChromaStore struct {
	base   string
	client *http.Client
}

func NewChromaStore(baseURL string) *ChromaStore {
	return &ChromaStore{
		base:   strings.TrimRight(baseURL, "/"),
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

// Ping checks the sidecar health route.
func (s *ChromaStore) Ping(ctx context.Context) error {
	var out struct {
		Status string `json:"status"`
	}
	if err := s.do(ctx, http.MethodGet, "/health", nil, nil, &out); err != nil {
		return err
	}
	if out.Status != "ok" {
		return fmt.Errorf("vector sidecar unhealthy: %q", out.Status)
	}
	return nil
}

// EnsureCollection is a no-op: the sidecar creates collections on first
// write. The dim argument only matters for stores with fixed schemas.
func (s *ChromaStore) EnsureCollection(context.Context, string, int) error { return nil }

func (s *ChromaStore) ListCollections(ctx context.Context) ([]string, error) {
	var out struct {
		Collections []string `json:"collections"`
	}
	if err := s.do(ctx, http.MethodGet, "/collections", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Collections, nil
}

func (s *ChromaStore) DeleteCollection(ctx context.Context, name string) error {
	return s.do(ctx, http.MethodDelete, "/collection/"+url.PathEscape(name), nil, nil, nil)
}

func (s *ChromaStore) CreateEmbedding(ctx context.Context, collection string, item model.VectorEmbedding) error {
	body := struct {
		ID        string         `json:"id"`
		Text      string         `json:"text"`
		Metadata  map[string]any `json:"metadata"`
		Embedding []float32      `json:"embedding,omitempty"`
	}{ID: item.ID, Text: item.Text, Metadata: item.Metadata, Embedding: item.Vector}
	return s.do(ctx, http.MethodPost, "/embed", collectionQuery(collection), body, nil)
}

func (s *ChromaStore) CreateEmbeddingBatch(ctx context.Context, collection string, items []model.VectorEmbedding) error {
	if len(items) == 0 {
		return nil
	}
	body := struct {
		IDs        []string         `json:"ids"`
		Texts      []string         `json:"texts"`
		Metadatas  []map[string]any `json:"metadatas"`
		Embeddings [][]float32      `json:"embeddings,omitempty"`
	}{}
	withVectors := true
	for _, it := range items {
		body.IDs = append(body.IDs, it.ID)
		body.Texts = append(body.Texts, it.Text)
		body.Metadatas = append(body.Metadatas, it.Metadata)
		if len(it.Vector) == 0 {
			withVectors = false
		}
	}
	// all or nothing: the sidecar rejects a partial embeddings array
	if withVectors {
		for _, it := range items {
			body.Embeddings = append(body.Embeddings, it.Vector)
		}
	}
	return s.do(ctx, http.MethodPost, "/embed_batch", collectionQuery(collection), body, nil)
}

func (s *ChromaStore) QuerySimilar(ctx context.Context, collection string, params adapter.QueryParams) ([]model.QueryResult, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 5
	}
	body := struct {
		QueryText string         `json:"query_text"`
		NResults  int            `json:"n_results"`
		Where     map[string]any `json:"where,omitempty"`
		Embedding []float32      `json:"embedding,omitempty"`
	}{
		QueryText: params.QueryText,
		NResults:  limit,
		Where:     params.Filter,
		Embedding: params.QueryVector,
	}
	var out struct {
		Results []struct {
			ID       string         `json:"id"`
			Text     string         `json:"text"`
			Metadata map[string]any `json:"metadata"`
			Distance *float32       `json:"distance"`
		} `json:"results"`
	}
	if err := s.do(ctx, http.MethodPost, "/query", collectionQuery(collection), body, &out); err != nil {
		return nil, err
	}
	results := make([]model.QueryResult, 0, len(out.Results))
	for _, r := range out.Results {
		qr := model.QueryResult{ID: r.ID, Text: r.Text, Metadata: r.Metadata}
		if r.Distance != nil {
			qr.Similarity = 1 - *r.Distance
		}
		results = append(results, qr)
	}
	return results, nil
}

func (s *ChromaStore) DeleteByIDs(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	body := struct {
		IDs []string `json:"ids"`
	}{IDs: ids}
	return s.do(ctx, http.MethodPost, "/delete", collectionQuery(collection), body, nil)
}

func (s *ChromaStore) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	if len(filter) == 0 {
		return nil
	}
	body := struct {
		Where map[string]any `json:"where"`
	}{Where: filter}
	return s.do(ctx, http.MethodPost, "/delete", collectionQuery(collection), body, nil)
}

func collectionQuery(name string) url.Values {
	if name == "" {
		return nil
	}
	return url.Values{"collection_name": {name}}
}

func (s *ChromaStore) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := s.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return derror.NewRequestError(resp.StatusCode, fmt.Errorf("vector sidecar: %s", strings.TrimSpace(string(msg))))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
