package repository

import (
	"context"

	"novel-ai-core/internal/domain/model"
)

// SettingsRepository persists the whole AI settings document. Saves must be
// atomic: a crashed write may never leave a half-written document behind.
type SettingsRepository interface {
	Load(ctx context.Context) (*model.AISettings, error)
	Save(ctx context.Context, s *model.AISettings) error
}
