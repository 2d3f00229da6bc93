package usecase_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"novel-ai-core/internal/chunker"
	"novel-ai-core/internal/domain/model"
	derror "novel-ai-core/internal/error"
	"novel-ai-core/internal/infra/cache"
	"novel-ai-core/internal/usecase"
)

func newEmbeddingUC(t *testing.T, env *testEnv, store *fakeVectorStore) usecase.EmbeddingUseCase {
	t.Helper()
	return usecase.NewEmbeddingUseCase(
		usecase.EmbeddingConfig{BatchSize: 4},
		env.router, env.getter(), env.dispatcher,
		cache.NewMemoryEmbeddingCache(64), store,
		chunker.New(chunker.Options{}), nopLogger(),
	)
}

func TestEmbedHitsCacheOnRepeat(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	backend := &embeddingBackend{fakeBackend{typ: model.ProviderOpenAI}}
	env.reg.Register(string(model.ProviderOpenAI), backend)

	uc := newEmbeddingUC(t, env, &fakeVectorStore{})
	ctx := context.Background()

	req := &model.EmbeddingRequest{Text: "the same text", ModelID: "embed-test"}
	first, err := uc.Embed(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := uc.Embed(ctx, req)
	if err != nil {
		t.Fatal(err)
	}
	if backend.embedCalls != 1 {
		t.Fatalf("backend called %d times, want 1", backend.embedCalls)
	}
	if len(first.Embedding) != len(second.Embedding) {
		t.Fatal("cached vector differs")
	}
}

func TestEmbedSubstitutesNonEmbeddingModel(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	var gotModel string
	backend := &embeddingBackend{fakeBackend{typ: model.ProviderOpenAI}}
	backend.embedFn = func(_ context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
		gotModel = req.ModelID
		return &model.EmbeddingResponse{Embedding: []float32{1}, Model: req.ModelID}, nil
	}
	env.reg.Register(string(model.ProviderOpenAI), backend)

	uc := newEmbeddingUC(t, env, &fakeVectorStore{})
	// gpt-test is a chat model; the pipeline must swap in embed-test
	if _, err := uc.Embed(context.Background(), &model.EmbeddingRequest{Text: "x", ModelID: "gpt-test"}); err != nil {
		t.Fatal(err)
	}
	if gotModel != "embed-test" {
		t.Fatalf("model=%q, want embed-test", gotModel)
	}
}

func TestEmbedNoEmbeddingModelConfigured(t *testing.T) {
	s := baseSettings()
	s.Models = []model.ModelConfig{{ID: "gpt-test", ProviderID: "p1"}} // nothing flagged
	env := newTestEnv(s)
	defer env.close()
	env.reg.Register(string(model.ProviderOpenAI), &embeddingBackend{fakeBackend{typ: model.ProviderOpenAI}})

	uc := newEmbeddingUC(t, env, &fakeVectorStore{})
	_, err := uc.Embed(context.Background(), &model.EmbeddingRequest{Text: "x"})
	if !errors.Is(err, derror.ErrNoEmbeddingModel) {
		t.Fatalf("expected ErrNoEmbeddingModel, got %v", err)
	}
}

func TestEmbedLocalFallbackWithoutCapability(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	// plain fakeBackend has no CreateEmbedding
	env.reg.Register(string(model.ProviderOpenAI), &fakeBackend{typ: model.ProviderOpenAI})

	uc := newEmbeddingUC(t, env, &fakeVectorStore{})
	resp, err := uc.Embed(context.Background(), &model.EmbeddingRequest{Text: "offline text"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Model != "local" {
		t.Fatalf("model=%q, want local", resp.Model)
	}
	if len(resp.Embedding) != 256 {
		t.Fatalf("dim=%d, want 256", len(resp.Embedding))
	}
	// deterministic: same text, same vector
	again, _ := uc.Embed(context.Background(), &model.EmbeddingRequest{Text: "offline text"})
	for i := range resp.Embedding {
		if resp.Embedding[i] != again.Embedding[i] {
			t.Fatal("local embedding not deterministic")
		}
	}
	// normalized
	var norm float64
	for _, v := range resp.Embedding {
		norm += float64(v) * float64(v)
	}
	if norm < 0.99 || norm > 1.01 {
		t.Fatalf("norm^2=%f, want ~1", norm)
	}
}

func TestVectorizeDocumentIsIdempotent(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	env.reg.Register(string(model.ProviderOpenAI), &embeddingBackend{fakeBackend{typ: model.ProviderOpenAI}})
	store := &fakeVectorStore{}
	uc := newEmbeddingUC(t, env, store)

	in := usecase.VectorizeInput{
		SourceID:   "chapter-1",
		SourceType: "chapter",
		NovelID:    "novel-1",
		Title:      "First",
		Text:       strings.Repeat("The road goes ever on. ", 60),
	}
	ctx := context.Background()
	first, err := uc.VectorizeDocument(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if first.Chunks == 0 {
		t.Fatal("no chunks stored")
	}
	second, err := uc.VectorizeDocument(ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if len(store.stored) != second.Chunks {
		t.Fatalf("re-vectorize duplicated vectors: %d stored, %d expected", len(store.stored), second.Chunks)
	}
	if store.lastFilter["sourceId"] != "chapter-1" {
		t.Fatalf("stale delete filter %+v", store.lastFilter)
	}

	// delete precedes insert on each run
	var order []string
	for _, c := range store.calls {
		if c == "deleteFilter" || c == "insert" {
			order = append(order, c)
		}
	}
	if len(order) < 4 || order[0] != "deleteFilter" || order[1] != "insert" {
		t.Fatalf("call order %v", order)
	}
}

func TestVectorizeDocumentMetadata(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	env.reg.Register(string(model.ProviderOpenAI), &embeddingBackend{fakeBackend{typ: model.ProviderOpenAI}})
	store := &fakeVectorStore{}
	uc := newEmbeddingUC(t, env, store)

	_, err := uc.VectorizeDocument(context.Background(), usecase.VectorizeInput{
		SourceID: "ch1", SourceType: "chapter", NovelID: "n1",
		Text:  "A short scene.",
		Extra: map[string]any{"chapterId": "ch1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(store.stored) != 1 {
		t.Fatalf("stored %d", len(store.stored))
	}
	md := store.stored[0].Metadata
	for _, key := range []string{"sourceId", "sourceType", "novelId", "createdAt", "chunkIndex", "startIndex", "endIndex", "chunkType", "chapterId"} {
		if _, ok := md[key]; !ok {
			t.Errorf("metadata missing %q: %+v", key, md)
		}
	}
	if _, ok := md["title"]; ok {
		t.Error("empty title must be dropped")
	}
}

func TestQuerySimilarEmbedsQuery(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	env.reg.Register(string(model.ProviderOpenAI), &embeddingBackend{fakeBackend{typ: model.ProviderOpenAI}})
	store := &fakeVectorStore{queryResult: []model.QueryResult{{ID: "a", Similarity: 0.9}}}
	uc := newEmbeddingUC(t, env, store)

	results, err := uc.QuerySimilar(context.Background(), usecase.QueryInput{
		Text:   "find this",
		Filter: map[string]any{"novelId": "n1"},
		Limit:  3,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("results %+v", results)
	}
	if len(store.lastQuery.QueryVector) == 0 {
		t.Fatal("query text was not embedded")
	}
	if store.lastQuery.Filter["novelId"] != "n1" || store.lastQuery.Limit != 3 {
		t.Fatalf("query params %+v", store.lastQuery)
	}
}

func TestFlattenMetadata(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	meta := model.VectorMetadata{
		SourceID:  "s1",
		NovelID:   "n1",
		CreatedAt: now,
		UpdatedAt: now,
		AdditionalContext: map[string]any{
			"a":    map[string]any{"b": nil, "c": []any{1.0, 2.0}},
			"d":    "",
			"tags": []any{},
		},
	}
	out := usecase.FlattenMetadata(meta)

	if got := out["a_c"]; got != "[1,2]" {
		t.Fatalf("a_c=%v, want [1,2]", got)
	}
	if got := out["tags"]; got != "[]" {
		t.Fatalf("tags=%v, empty array must survive as %q", got, "[]")
	}
	if _, ok := out["a_b"]; ok {
		t.Fatal("null value must be dropped")
	}
	if _, ok := out["d"]; ok {
		t.Fatal("empty string must be dropped")
	}
	if _, ok := out["sourceType"]; ok {
		t.Fatal("empty sourceType must be dropped")
	}
	if out["sourceId"] != "s1" || out["createdAt"] != "2026-08-01T12:00:00Z" {
		t.Fatalf("flattened %+v", out)
	}
}

func TestDeleteSource(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	store := &fakeVectorStore{}
	uc := newEmbeddingUC(t, env, store)

	if err := uc.DeleteSource(context.Background(), "ch1"); err != nil {
		t.Fatal(err)
	}
	if store.lastFilter["sourceId"] != "ch1" {
		t.Fatalf("filter %+v", store.lastFilter)
	}
	if err := uc.DeleteSource(context.Background(), ""); err == nil {
		t.Fatal("empty source id must be rejected")
	}
}
