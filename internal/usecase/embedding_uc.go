package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"novel-ai-core/internal/chunker"
	"novel-ai-core/internal/domain"
	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	"novel-ai-core/internal/domain/ports/repository"
	derror "novel-ai-core/internal/error"
	"novel-ai-core/internal/infra/logging"
	"novel-ai-core/internal/infra/metrics"
	"novel-ai-core/internal/queue"
	"novel-ai-core/internal/scenario"
)

// Compile-time check
var _ EmbeddingUseCase = (*embeddingUC)(nil)

// VectorizeInput is one document to chunk, embed and upsert.
type VectorizeInput struct {
	SourceID   string         `json:"sourceId"`
	SourceType string         `json:"sourceType"`
	NovelID    string         `json:"novelId"`
	Title      string         `json:"title,omitempty"`
	Section    string         `json:"section,omitempty"`
	Text       string         `json:"text"`
	ModelID    string         `json:"modelId,omitempty"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// VectorizeResult reports what a vectorize run stored.
type VectorizeResult struct {
	SourceID string `json:"sourceId"`
	Chunks   int    `json:"chunks"`
	Model    string `json:"model"`
	Local    bool   `json:"localFallback"`
}

// QueryInput is a similarity search over stored vectors.
type QueryInput struct {
	Text    string         `json:"text"`
	ModelID string         `json:"modelId,omitempty"`
	Filter  map[string]any `json:"filter,omitempty"`
	Limit   int            `json:"limit,omitempty"`
}

// EmbeddingUseCase is the document pipeline: chunk, embed (cached), store,
// query, delete. All provider traffic goes through the dispatcher so chat
// and embedding work share one ordering.
type EmbeddingUseCase interface {
	Embed(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error)
	VectorizeDocument(ctx context.Context, in VectorizeInput) (*VectorizeResult, error)
	QuerySimilar(ctx context.Context, in QueryInput) ([]model.QueryResult, error)
	DeleteSource(ctx context.Context, sourceID string) error
	ListCollections(ctx context.Context) ([]string, error)
	DeleteCollection(ctx context.Context, name string) error
}

// EmbeddingConfig tunes the pipeline.
type EmbeddingConfig struct {
	Collection string // vector store collection (default "default")
	BatchSize  int    // concurrent provider calls inside one queued batch job (default 10)
	LocalDim   int    // dimensionality of the local fallback embedding (default 256)
}

func (c EmbeddingConfig) withDefaults() EmbeddingConfig {
	if c.Collection == "" {
		c.Collection = "default"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.LocalDim <= 0 {
		c.LocalDim = 256
	}
	return c
}

type embeddingUC struct {
	cfg        EmbeddingConfig
	router     *scenario.Router
	settings   func() *model.AISettings
	dispatcher *queue.Dispatcher
	cache      repository.EmbeddingCache
	store      adapter.VectorStore
	chunks     *chunker.Chunker
	log        *zerolog.Logger
}

func NewEmbeddingUseCase(cfg EmbeddingConfig, router *scenario.Router, settings func() *model.AISettings,
	dispatcher *queue.Dispatcher, cache repository.EmbeddingCache, store adapter.VectorStore,
	chunks *chunker.Chunker, log *zerolog.Logger) *embeddingUC {
	return &embeddingUC{
		cfg:        cfg.withDefaults(),
		router:     router,
		settings:   settings,
		dispatcher: dispatcher,
		cache:      cache,
		store:      store,
		chunks:     chunks,
		log:        log,
	}
}

// resolveEmbedder picks the embedding model and capability for a request.
// A model not flagged as an embedding model is substituted with the first
// flagged one; no flagged model at all is a configuration error. A backend
// without the Embedder capability selects the local fallback.
func (u *embeddingUC) resolveEmbedder(modelID string) (adapter.Embedder, string, bool, error) {
	s := u.settings()
	flagged := s.EmbeddingModels("")
	if len(flagged) == 0 {
		return nil, "", false, derror.ErrNoEmbeddingModel
	}
	mc := s.Model(modelID)
	if mc == nil || !mc.IsEmbeddingModel {
		if modelID != "" {
			u.log.Warn().Str("model", modelID).Str("substitute", flagged[0].ID).
				Msg("requested model is not an embedding model, substituting")
		}
		mc = &flagged[0]
	}
	backend := u.router.Resolve(model.ScenarioContextEnhancement)
	if p := s.Provider(mc.ProviderID); p != nil {
		// the model's own provider takes precedence over the scenario route
		if b := u.router.ResolveProvider(p.ID); b != nil {
			backend = b
		}
	}
	if backend == nil {
		return nil, "", false, derror.ErrProviderNotFound
	}
	embedder, ok := backend.(adapter.Embedder)
	if !ok {
		metrics.IncLocalFallback()
		u.log.Info().Str("provider_type", string(backend.ProviderType())).
			Msg("backend has no embedding capability, using local fallback")
		return nil, mc.ID, true, nil
	}
	return embedder, mc.ID, false, nil
}

// Embed returns the vector for one text, consulting the cache first. Only a
// cache miss reaches the provider, and it does so through the dispatcher.
func (u *embeddingUC) Embed(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	if req == nil || strings.TrimSpace(req.Text) == "" {
		return nil, domain.ErrInvalidArgument
	}
	embedder, modelID, local, err := u.resolveEmbedder(req.ModelID)
	if err != nil {
		return nil, err
	}
	if local {
		return &model.EmbeddingResponse{
			ID:        uuid.NewString(),
			Embedding: localEmbedding(req.Text, u.cfg.LocalDim),
			Model:     "local",
		}, nil
	}
	if vec, ok := u.cache.Get(ctx, modelID, req.Text); ok {
		return &model.EmbeddingResponse{ID: uuid.NewString(), Embedding: vec, Model: modelID}, nil
	}
	job := &embedJob{embedder: embedder, modelID: modelID, texts: []string{req.Text}}
	v, err := u.dispatcher.Enqueue(ctx, job, queue.PriorityNormal)
	if err != nil {
		return nil, err
	}
	vectors := v.([][]float32)
	u.cache.Put(ctx, modelID, req.Text, vectors[0])
	return &model.EmbeddingResponse{ID: uuid.NewString(), Embedding: vectors[0], Model: modelID}, nil
}

// VectorizeDocument chunks the text, embeds every chunk and replaces the
// source's vectors in the store. Delete-by-filter before insert makes the
// operation idempotent: re-vectorizing a chapter never duplicates vectors.
func (u *embeddingUC) VectorizeDocument(ctx context.Context, in VectorizeInput) (*VectorizeResult, error) {
	if in.SourceID == "" || strings.TrimSpace(in.Text) == "" {
		return nil, domain.ErrInvalidArgument
	}
	if in.NovelID != "" {
		ctx = logging.WithNovelID(ctx, in.NovelID)
	}
	defer logging.TraceDuration(logging.With(ctx, u.log), "embedding.vectorize")()
	embedder, modelID, local, err := u.resolveEmbedder(in.ModelID)
	if err != nil {
		return nil, err
	}

	chunks := u.chunks.Split(in.Text)
	if len(chunks) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	metrics.ObserveChunks(len(chunks))
	for _, ch := range chunks {
		metrics.ObserveChunkSize(ch.EndIndex - ch.StartIndex)
	}

	vectors, err := u.embedChunks(ctx, embedder, modelID, local, chunks)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	items := make([]model.VectorEmbedding, len(chunks))
	for i, ch := range chunks {
		meta := model.VectorMetadata{
			SourceID:   in.SourceID,
			SourceType: in.SourceType,
			NovelID:    in.NovelID,
			Title:      in.Title,
			Section:    in.Section,
			CreatedAt:  now,
			UpdatedAt:  now,
			AdditionalContext: mergeContext(in.Extra, map[string]any{
				"chunkIndex": ch.Index,
				"startIndex": ch.StartIndex,
				"endIndex":   ch.EndIndex,
				"chunkType":  string(ch.Type),
			}),
		}
		items[i] = model.VectorEmbedding{
			ID:       uuid.NewString(),
			Text:     ch.Text,
			Vector:   vectors[i],
			Metadata: FlattenMetadata(meta),
		}
	}

	if err := u.store.EnsureCollection(ctx, u.cfg.Collection, len(vectors[0])); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}
	if err := u.store.DeleteByFilter(ctx, u.cfg.Collection, map[string]any{"sourceId": in.SourceID}); err != nil {
		return nil, fmt.Errorf("delete stale vectors: %w", err)
	}
	if err := u.store.CreateEmbeddingBatch(ctx, u.cfg.Collection, items); err != nil {
		return nil, fmt.Errorf("store vectors: %w", err)
	}
	u.log.Info().Str("source_id", in.SourceID).Int("chunks", len(items)).
		Str("model", modelID).Bool("local", local).Msg("document vectorized")

	resultModel := modelID
	if local {
		resultModel = "local"
	}
	return &VectorizeResult{SourceID: in.SourceID, Chunks: len(items), Model: resultModel, Local: local}, nil
}

// embedChunks resolves vectors for every chunk: cache hits immediately,
// local fallback synchronously, and the remaining misses as one queued
// batch job that fans out up to BatchSize concurrent provider calls.
func (u *embeddingUC) embedChunks(ctx context.Context, embedder adapter.Embedder, modelID string, local bool, chunks []model.TextChunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	if local {
		for i, ch := range chunks {
			vectors[i] = localEmbedding(ch.Text, u.cfg.LocalDim)
		}
		return vectors, nil
	}

	var missTexts []string
	var missIdx []int
	for i, ch := range chunks {
		if vec, ok := u.cache.Get(ctx, modelID, ch.Text); ok {
			vectors[i] = vec
			continue
		}
		missTexts = append(missTexts, ch.Text)
		missIdx = append(missIdx, i)
	}
	if len(missTexts) == 0 {
		return vectors, nil
	}

	job := &embedJob{embedder: embedder, modelID: modelID, texts: missTexts, concurrency: u.cfg.BatchSize}
	v, err := u.dispatcher.Enqueue(ctx, job, queue.PriorityLow)
	if err != nil {
		return nil, err
	}
	fresh := v.([][]float32)
	for j, vec := range fresh {
		vectors[missIdx[j]] = vec
		u.cache.Put(ctx, modelID, missTexts[j], vec)
	}
	return vectors, nil
}

// QuerySimilar embeds the query text and ranks stored vectors against it.
func (u *embeddingUC) QuerySimilar(ctx context.Context, in QueryInput) ([]model.QueryResult, error) {
	if strings.TrimSpace(in.Text) == "" {
		return nil, domain.ErrInvalidArgument
	}
	resp, err := u.Embed(ctx, &model.EmbeddingRequest{Text: in.Text, ModelID: in.ModelID})
	if err != nil {
		return nil, err
	}
	return u.store.QuerySimilar(ctx, u.cfg.Collection, adapter.QueryParams{
		QueryText:   in.Text,
		QueryVector: resp.Embedding,
		Filter:      in.Filter,
		Limit:       in.Limit,
	})
}

func (u *embeddingUC) DeleteSource(ctx context.Context, sourceID string) error {
	if sourceID == "" {
		return domain.ErrInvalidArgument
	}
	return u.store.DeleteByFilter(ctx, u.cfg.Collection, map[string]any{"sourceId": sourceID})
}

func (u *embeddingUC) ListCollections(ctx context.Context) ([]string, error) {
	return u.store.ListCollections(ctx)
}

func (u *embeddingUC) DeleteCollection(ctx context.Context, name string) error {
	if name == "" {
		return domain.ErrInvalidArgument
	}
	return u.store.DeleteCollection(ctx, name)
}

// embedJob is the queue unit for embedding calls. The whole batch is one
// queued job; inside it up to concurrency provider calls run at once. This
// is deliberately the only place the single-flight rule is relaxed.
type embedJob struct {
	embedder    adapter.Embedder
	modelID     string
	texts       []string
	concurrency int
}

var _ queue.Job = (*embedJob)(nil)

func (j *embedJob) Kind() string    { return "embed" }
func (j *embedJob) Streaming() bool { return false }

func (j *embedJob) Run(ctx context.Context, _ func(string)) (any, error) {
	out := make([][]float32, len(j.texts))
	g, gctx := errgroup.WithContext(ctx)
	limit := j.concurrency
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)
	for i, text := range j.texts {
		g.Go(func() error {
			resp, err := j.embedder.CreateEmbedding(gctx, &model.EmbeddingRequest{Text: text, ModelID: j.modelID})
			if err != nil {
				return err
			}
			out[i] = resp.Embedding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// FlattenMetadata turns the nested metadata document into the flat string/
// number/bool map vector stores accept. Nested maps flatten to prefix_key,
// arrays serialize to JSON strings, nil and empty string values are dropped.
func FlattenMetadata(meta model.VectorMetadata) map[string]any {
	raw := map[string]any{
		"sourceId":   meta.SourceID,
		"sourceType": meta.SourceType,
		"novelId":    meta.NovelID,
		"title":      meta.Title,
		"section":    meta.Section,
		"createdAt":  meta.CreatedAt.Format(time.RFC3339),
		"updatedAt":  meta.UpdatedAt.Format(time.RFC3339),
	}
	for k, v := range meta.AdditionalContext {
		raw[k] = v
	}
	out := make(map[string]any, len(raw))
	flattenInto(out, "", raw)
	return out
}

func flattenInto(out map[string]any, prefix string, in map[string]any) {
	for k, v := range in {
		key := k
		if prefix != "" {
			key = prefix + "_" + k
		}
		switch val := v.(type) {
		case nil:
			// dropped
		case string:
			if val != "" {
				out[key] = val
			}
		case map[string]any:
			flattenInto(out, key, val)
		case []any:
			// empty arrays still flatten to "[]"; only nulls and empty
			// strings are dropped
			if b, err := json.Marshal(val); err == nil {
				out[key] = string(b)
			}
		default:
			out[key] = val
		}
	}
}

// localEmbedding is the deterministic offline fallback: a fixed-dimension
// vector derived from character codes and positions, L2-normalized so cosine
// ranking still behaves. It is not semantically meaningful, only stable.
func localEmbedding(text string, dim int) []float32 {
	vec := make([]float64, dim)
	for i, r := range text {
		idx := (int(r) + i) % dim
		vec[idx] += float64(int(r)%97) / 97.0
	}
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, dim)
	if norm == 0 {
		return out
	}
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func mergeContext(extra, chunk map[string]any) map[string]any {
	out := make(map[string]any, len(extra)+len(chunk))
	for k, v := range extra {
		out[k] = v
	}
	for k, v := range chunk {
		out[k] = v
	}
	return out
}
