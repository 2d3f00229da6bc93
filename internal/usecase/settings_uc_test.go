package usecase_test

import (
	"context"
	"errors"
	"testing"

	"novel-ai-core/internal/domain"
	"novel-ai-core/internal/domain/model"
	derror "novel-ai-core/internal/error"
	"novel-ai-core/internal/registry"
	"novel-ai-core/internal/usecase"
)

func TestSettingsApplyInitializesBackends(t *testing.T) {
	repo := &fakeSettingsRepo{doc: baseSettings()}
	reg := registry.New()
	backend := &fakeBackend{typ: model.ProviderOpenAI}
	reg.Register(string(model.ProviderOpenAI), backend)

	uc, err := usecase.NewSettingsUseCase(context.Background(), repo, reg, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if len(backend.initCalls) != 1 || backend.initCalls[0].ID != "p1" {
		t.Fatalf("init calls %+v", backend.initCalls)
	}
	if uc.Current().ActiveProviderID != "p1" {
		t.Fatalf("snapshot %+v", uc.Current())
	}
}

func TestSettingsUpdatePersistsAndSwaps(t *testing.T) {
	repo := &fakeSettingsRepo{doc: baseSettings()}
	reg := registry.New()
	reg.Register(string(model.ProviderOpenAI), &fakeBackend{typ: model.ProviderOpenAI})

	uc, err := usecase.NewSettingsUseCase(context.Background(), repo, reg, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	next := baseSettings()
	next.ActiveProviderID = "p1"
	next.Providers[0].DefaultModel = "gpt-next"
	if err := uc.Update(context.Background(), next); err != nil {
		t.Fatal(err)
	}
	if repo.saves != 1 {
		t.Fatalf("saves=%d", repo.saves)
	}
	if uc.Current().Providers[0].DefaultModel != "gpt-next" {
		t.Fatal("snapshot not swapped")
	}
}

func TestSettingsUpdateRejectsInvalid(t *testing.T) {
	repo := &fakeSettingsRepo{doc: baseSettings()}
	uc, err := usecase.NewSettingsUseCase(context.Background(), repo, registry.New(), nopLogger())
	if err != nil {
		t.Fatal(err)
	}

	dupe := baseSettings()
	dupe.Providers = append(dupe.Providers, dupe.Providers[0])
	if err := uc.Update(context.Background(), dupe); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("duplicate provider ids accepted: %v", err)
	}

	dangling := baseSettings()
	dangling.Scenarios[model.ScenarioChat] = model.ScenarioConfig{Enabled: true, ProviderID: "ghost"}
	if err := uc.Update(context.Background(), dangling); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("dangling scenario provider accepted: %v", err)
	}
	if repo.saves != 0 {
		t.Fatal("invalid settings were persisted")
	}
}

func TestTestProvider(t *testing.T) {
	repo := &fakeSettingsRepo{doc: baseSettings()}
	reg := registry.New()
	backend := &fakeBackend{typ: model.ProviderOpenAI}
	reg.Register(string(model.ProviderOpenAI), backend)

	uc, err := usecase.NewSettingsUseCase(context.Background(), repo, reg, nopLogger())
	if err != nil {
		t.Fatal(err)
	}
	if err := uc.TestProvider(context.Background(), "p1"); err != nil {
		t.Fatal(err)
	}
	backend.testErr = errors.New("401 unauthorized")
	if err := uc.TestProvider(context.Background(), "p1"); err == nil {
		t.Fatal("expected connectivity error")
	}
	if err := uc.TestProvider(context.Background(), "ghost"); !errors.Is(err, derror.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}
