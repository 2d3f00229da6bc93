package usecase

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"

	"novel-ai-core/internal/domain"
	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/repository"
	derror "novel-ai-core/internal/error"
	"novel-ai-core/internal/infra/logging"
	"novel-ai-core/internal/registry"
)

// Compile-time check
var _ SettingsUseCase = (*settingsUC)(nil)

// SettingsUseCase owns the live settings snapshot. Reads are lock-free;
// Update and the hot-reload path swap the snapshot atomically and
// re-initialize provider backends.
type SettingsUseCase interface {
	Current() *model.AISettings
	Update(ctx context.Context, s *model.AISettings) error
	// Apply swaps the snapshot without persisting, used by the file watcher
	// when the document changed on disk.
	Apply(ctx context.Context, s *model.AISettings)
	// TestProvider initializes the provider's backend from its current
	// config and probes connectivity.
	TestProvider(ctx context.Context, providerID string) error
}

type settingsUC struct {
	repo repository.SettingsRepository
	reg  *registry.Registry
	log  *zerolog.Logger

	current atomic.Pointer[model.AISettings]
}

func NewSettingsUseCase(ctx context.Context, repo repository.SettingsRepository, reg *registry.Registry, log *zerolog.Logger) (*settingsUC, error) {
	uc := &settingsUC{repo: repo, reg: reg, log: log}
	s, err := repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	uc.Apply(ctx, s)
	return uc, nil
}

func (u *settingsUC) Current() *model.AISettings { return u.current.Load() }

func (u *settingsUC) Update(ctx context.Context, s *model.AISettings) error {
	if err := validateSettings(s); err != nil {
		return err
	}
	if err := u.repo.Save(ctx, s); err != nil {
		return err
	}
	u.Apply(ctx, s)
	return nil
}

func (u *settingsUC) Apply(ctx context.Context, s *model.AISettings) {
	u.current.Store(s)
	for _, p := range s.Providers {
		backend := u.reg.ResolveInstance(p.ID, p.Type)
		if backend == nil {
			u.log.Warn().Str("provider_id", p.ID).Str("type", string(p.Type)).
				Msg("no backend registered for provider type")
			continue
		}
		if err := backend.Initialize(ctx, p); err != nil {
			// a misconfigured provider must not block the others
			u.log.Warn().Err(err).Str("provider_id", p.ID).Msg("provider init failed")
			continue
		}
		u.log.Debug().Str("provider_id", p.ID).Str("type", string(p.Type)).
			Str("api_key", logging.Redact(p.APIKey, false)).Msg("provider initialized")
	}
}

func (u *settingsUC) TestProvider(ctx context.Context, providerID string) error {
	s := u.Current()
	p := s.Provider(providerID)
	if p == nil {
		return derror.ErrProviderNotFound
	}
	backend := u.reg.ResolveInstance(p.ID, p.Type)
	if backend == nil {
		return derror.ErrProviderNotFound
	}
	if err := backend.Initialize(ctx, *p); err != nil {
		return err
	}
	return backend.TestConnection(ctx)
}

func validateSettings(s *model.AISettings) error {
	if s == nil {
		return domain.ErrInvalidArgument
	}
	seen := make(map[string]bool, len(s.Providers))
	for _, p := range s.Providers {
		if p.ID == "" || seen[p.ID] {
			return domain.ErrInvalidArgument
		}
		seen[p.ID] = true
	}
	for id, sc := range s.Scenarios {
		if id == "" {
			return domain.ErrInvalidArgument
		}
		if sc.Enabled && sc.ProviderID != "" && s.Provider(sc.ProviderID) == nil {
			return domain.ErrInvalidArgument
		}
	}
	return nil
}
