package settings

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/infra/security"
)

func testRepo(t *testing.T) *FileRepository {
	t.Helper()
	log := zerolog.Nop()
	return NewFileRepository(filepath.Join(t.TempDir(), "ai-settings.json"), nil, &log)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	r := testRepo(t)
	s, err := r.Load(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if s.ActiveProviderID != "noop" {
		t.Fatalf("defaults: active=%q", s.ActiveProviderID)
	}
	if s.Provider("noop") == nil {
		t.Fatal("defaults missing noop provider")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	r := testRepo(t)
	ctx := context.Background()

	in := &model.AISettings{
		ActiveProviderID: "p1",
		Providers: []model.ProviderConfig{
			{ID: "p1", Name: "OpenAI", Type: model.ProviderOpenAI, APIKey: "sk-test", DefaultModel: "gpt-4o-mini"},
		},
		Models: []model.ModelConfig{
			{ID: "text-embedding-3-small", ProviderID: "p1", IsEmbeddingModel: true},
		},
		Scenarios: map[string]model.ScenarioConfig{
			model.ScenarioChat: {Enabled: true, ProviderID: "p1", SystemPrompt: "be brief"},
		},
	}
	if err := r.Save(ctx, in); err != nil {
		t.Fatal(err)
	}
	out, err := r.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if out.ActiveProviderID != "p1" || len(out.Providers) != 1 || len(out.Models) != 1 {
		t.Fatalf("round trip lost data: %+v", out)
	}
	sc, ok := out.Scenarios[model.ScenarioChat]
	if !ok || !sc.Enabled || sc.SystemPrompt != "be brief" {
		t.Fatalf("scenario lost: %+v", out.Scenarios)
	}
}

func TestSealedKeysNeverTouchDisk(t *testing.T) {
	sealer, err := security.NewSealer("0123456789abcdef0123456789abcdef")
	if err != nil {
		t.Fatal(err)
	}
	log := zerolog.Nop()
	r := NewFileRepository(filepath.Join(t.TempDir(), "ai-settings.json"), sealer, &log)
	ctx := context.Background()

	in := Defaults()
	in.Providers = append(in.Providers, model.ProviderConfig{
		ID: "p1", Name: "OpenAI", Type: model.ProviderOpenAI, APIKey: "sk-plaintext-key",
	})
	if err := r.Save(ctx, in); err != nil {
		t.Fatal(err)
	}

	// caller's snapshot keeps the plaintext key
	if in.Providers[1].APIKey != "sk-plaintext-key" {
		t.Fatalf("caller settings mutated: %q", in.Providers[1].APIKey)
	}

	raw, err := os.ReadFile(r.path)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(raw), "sk-plaintext-key") {
		t.Fatal("plaintext api key written to disk")
	}

	out, err := r.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Provider("p1").APIKey; got != "sk-plaintext-key" {
		t.Fatalf("load did not unseal key: %q", got)
	}
}

func TestLoadCorruptFileErrors(t *testing.T) {
	r := testRepo(t)
	if err := os.WriteFile(r.path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Load(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWatchReloadsExternalEdit(t *testing.T) {
	r := testRepo(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := r.Save(ctx, Defaults()); err != nil {
		t.Fatal(err)
	}
	reloaded := make(chan *model.AISettings, 1)
	if err := r.Watch(ctx, func(s *model.AISettings) {
		select {
		case reloaded <- s:
		default:
		}
	}); err != nil {
		t.Fatal(err)
	}

	// wait out the self-save suppression window, then simulate an editor
	time.Sleep(600 * time.Millisecond)
	edited := `{"activeProviderId":"edited","providers":[],"models":[],"scenarioConfigs":{}}`
	if err := os.WriteFile(r.path, []byte(edited), 0o644); err != nil {
		t.Fatal(err)
	}

	select {
	case s := <-reloaded:
		if s.ActiveProviderID != "edited" {
			t.Fatalf("reloaded active=%q", s.ActiveProviderID)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("external edit never triggered a reload")
	}
}
