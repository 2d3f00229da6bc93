package usecase_test

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	"novel-ai-core/internal/queue"
	"novel-ai-core/internal/registry"
	"novel-ai-core/internal/scenario"
)

// -----------------------------
// Shared fakes for usecase tests
// -----------------------------

func nopLogger() *zerolog.Logger { l := zerolog.Nop(); return &l }

// fakeBackend is a scriptable ChatBackend with optional Embedder capability.
type fakeBackend struct {
	mu sync.Mutex

	typ model.ProviderType

	chatFn  func(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error)
	embedFn func(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error)
	countFn func(modelID string, messages []model.ChatMessage) (int, error)

	initCalls  []model.ProviderConfig
	chatCalls  int
	embedCalls int
	testErr    error
}

func (f *fakeBackend) ProviderType() model.ProviderType {
	if f.typ == "" {
		return model.ProviderNoop
	}
	return f.typ
}

func (f *fakeBackend) Initialize(_ context.Context, cfg model.ProviderConfig) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.initCalls = append(f.initCalls, cfg)
	return nil
}

func (f *fakeBackend) CreateChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
	f.mu.Lock()
	f.chatCalls++
	f.mu.Unlock()
	if f.chatFn != nil {
		return f.chatFn(ctx, req)
	}
	return &model.ChatCompletionResponse{
		Message: model.ChatMessage{Role: model.RoleAssistant, Content: "ok"},
		Model:   req.ModelID,
	}, nil
}

func (f *fakeBackend) CreateChatCompletionStream(ctx context.Context, req *model.ChatCompletionRequest, onDelta func(string)) (*model.ChatCompletionResponse, error) {
	onDelta("ok")
	return f.CreateChatCompletion(ctx, req)
}

func (f *fakeBackend) CountTokens(_ context.Context, modelID string, messages []model.ChatMessage) (int, error) {
	if f.countFn != nil {
		return f.countFn(modelID, messages)
	}
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total, nil
}

func (f *fakeBackend) TestConnection(context.Context) error { return f.testErr }

// embeddingBackend adds the Embedder capability on top of fakeBackend.
type embeddingBackend struct {
	fakeBackend
}

func (f *embeddingBackend) CreateEmbedding(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	f.mu.Lock()
	f.embedCalls++
	f.mu.Unlock()
	if f.embedFn != nil {
		return f.embedFn(ctx, req)
	}
	return &model.EmbeddingResponse{Embedding: []float32{1, 0, 0}, Model: req.ModelID}, nil
}

var _ adapter.Embedder = (*embeddingBackend)(nil)

// fakeVectorStore records every mutation in call order.
type fakeVectorStore struct {
	mu          sync.Mutex
	calls       []string
	stored      []model.VectorEmbedding
	lastFilter  map[string]any
	queryResult []model.QueryResult
	lastQuery   adapter.QueryParams
}

func (s *fakeVectorStore) EnsureCollection(_ context.Context, name string, _ int) error {
	s.record("ensure:" + name)
	return nil
}

func (s *fakeVectorStore) ListCollections(context.Context) ([]string, error) {
	s.record("list")
	return []string{"default"}, nil
}

func (s *fakeVectorStore) DeleteCollection(_ context.Context, name string) error {
	s.record("drop:" + name)
	return nil
}

func (s *fakeVectorStore) CreateEmbedding(ctx context.Context, collection string, item model.VectorEmbedding) error {
	return s.CreateEmbeddingBatch(ctx, collection, []model.VectorEmbedding{item})
}

func (s *fakeVectorStore) CreateEmbeddingBatch(_ context.Context, _ string, items []model.VectorEmbedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "insert")
	s.stored = append(s.stored, items...)
	return nil
}

func (s *fakeVectorStore) QuerySimilar(_ context.Context, _ string, params adapter.QueryParams) ([]model.QueryResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "query")
	s.lastQuery = params
	return s.queryResult, nil
}

func (s *fakeVectorStore) DeleteByIDs(_ context.Context, _ string, _ []string) error {
	s.record("deleteIDs")
	return nil
}

func (s *fakeVectorStore) DeleteByFilter(_ context.Context, _ string, filter map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, "deleteFilter")
	s.lastFilter = filter
	// simulate replacement semantics for idempotency tests
	var kept []model.VectorEmbedding
	for _, it := range s.stored {
		if it.Metadata["sourceId"] != filter["sourceId"] {
			kept = append(kept, it)
		}
	}
	s.stored = kept
	return nil
}

func (s *fakeVectorStore) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

// fakeSettingsRepo keeps the document in memory.
type fakeSettingsRepo struct {
	mu    sync.Mutex
	doc   *model.AISettings
	saves int
}

func (r *fakeSettingsRepo) Load(context.Context) (*model.AISettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.doc == nil {
		return &model.AISettings{Scenarios: map[string]model.ScenarioConfig{}}, nil
	}
	return r.doc, nil
}

func (r *fakeSettingsRepo) Save(_ context.Context, s *model.AISettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.doc = s
	r.saves++
	return nil
}

// testEnv wires a registry, router and running dispatcher around a settings
// snapshot.
type testEnv struct {
	reg        *registry.Registry
	router     *scenario.Router
	dispatcher *queue.Dispatcher
	settings   *model.AISettings
	cancel     context.CancelFunc
}

func newTestEnv(s *model.AISettings) *testEnv {
	reg := registry.New()
	getter := func() *model.AISettings { return s }
	d := queue.NewDispatcher(queue.Config{}, nopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	d.Start(ctx)
	return &testEnv{
		reg:        reg,
		router:     scenario.NewRouter(reg, getter),
		dispatcher: d,
		settings:   s,
		cancel:     cancel,
	}
}

func (e *testEnv) getter() func() *model.AISettings {
	return func() *model.AISettings { return e.settings }
}

func (e *testEnv) close() { e.cancel() }

func baseSettings() *model.AISettings {
	return &model.AISettings{
		ActiveProviderID: "p1",
		Providers: []model.ProviderConfig{
			{ID: "p1", Name: "Main", Type: model.ProviderOpenAI, DefaultModel: "gpt-test"},
		},
		Models: []model.ModelConfig{
			{ID: "gpt-test", ProviderID: "p1", ContextWindow: 100},
			{ID: "embed-test", ProviderID: "p1", IsEmbeddingModel: true},
		},
		Scenarios: map[string]model.ScenarioConfig{},
	}
}
