// Package settings persists the AI settings document as a JSON file next
// to the desktop app's data and hot-reloads it on external edits.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/repository"
	"novel-ai-core/internal/infra/security"
)

var _ repository.SettingsRepository = (*FileRepository)(nil)

// FileRepository stores AISettings as pretty-printed JSON. Saves go through
// a temp file and rename so a crash mid-write never corrupts the document.
// With a Sealer attached, provider API keys are encrypted before they hit
// disk and decrypted on load; without one the document stays plaintext.
type FileRepository struct {
	path   string
	sealer *security.Sealer
	log    *zerolog.Logger

	mu      sync.Mutex
	lastOwn time.Time // timestamp of our own last save, to skip self-triggered reloads
}

func NewFileRepository(path string, sealer *security.Sealer, log *zerolog.Logger) *FileRepository {
	return &FileRepository{path: path, sealer: sealer, log: log}
}

// Defaults is the settings document a fresh install starts with: a noop
// provider so the app works before any API key is entered.
func Defaults() *model.AISettings {
	return &model.AISettings{
		ActiveProviderID: "noop",
		Providers: []model.ProviderConfig{
			{ID: "noop", Name: "Offline", Type: model.ProviderNoop},
		},
		Models:    []model.ModelConfig{},
		Scenarios: map[string]model.ScenarioConfig{},
	}
}

// Load reads the settings document. A missing file returns Defaults and no
// error; the first Save creates it.
func (r *FileRepository) Load(_ context.Context) (*model.AISettings, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return Defaults(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}
	var s model.AISettings
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", r.path, err)
	}
	if s.Scenarios == nil {
		s.Scenarios = map[string]model.ScenarioConfig{}
	}
	r.openKeys(&s)
	return &s, nil
}

// Save writes atomically via temp file and rename.
func (r *FileRepository) Save(_ context.Context, s *model.AISettings) error {
	s = r.sealKeys(s)
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	r.mu.Lock()
	r.lastOwn = time.Now()
	r.mu.Unlock()
	return os.Rename(tmp.Name(), r.path)
}

// sealKeys returns a copy of s with every provider API key encrypted. The
// caller's in-memory snapshot keeps the plaintext keys the backends need.
func (r *FileRepository) sealKeys(s *model.AISettings) *model.AISettings {
	if r.sealer == nil {
		return s
	}
	cp := *s
	cp.Providers = append([]model.ProviderConfig(nil), s.Providers...)
	for i := range cp.Providers {
		sealed, err := r.sealer.Seal(cp.Providers[i].APIKey)
		if err != nil {
			r.log.Warn().Err(err).Str("provider", cp.Providers[i].ID).Msg("sealing api key failed, storing plaintext")
			continue
		}
		cp.Providers[i].APIKey = sealed
	}
	return &cp
}

// openKeys decrypts sealed API keys in place. A key that cannot be opened
// (wrong machine key, truncated value) is cleared; the provider then fails
// its connection test instead of sending garbage upstream.
func (r *FileRepository) openKeys(s *model.AISettings) {
	if r.sealer == nil {
		return
	}
	for i := range s.Providers {
		plain, err := r.sealer.Open(s.Providers[i].APIKey)
		if err != nil {
			r.log.Warn().Err(err).Str("provider", s.Providers[i].ID).Msg("unsealing api key failed, clearing it")
			s.Providers[i].APIKey = ""
			continue
		}
		s.Providers[i].APIKey = plain
	}
}

// Watch reloads the document when the file changes on disk and hands the
// fresh settings to onChange. Editors save via rename, so the parent
// directory is watched rather than the file itself. Reloads within a short
// window after our own Save are skipped.
func (r *FileRepository) Watch(ctx context.Context, onChange func(*model.AISettings)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(r.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				r.mu.Lock()
				own := time.Since(r.lastOwn) < 500*time.Millisecond
				r.mu.Unlock()
				if own {
					continue
				}
				// editors fire several events per save; coalesce them
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					s, err := r.Load(ctx)
					if err != nil {
						r.log.Warn().Err(err).Msg("settings reload failed, keeping previous")
						return
					}
					r.log.Info().Str("path", r.path).Msg("settings reloaded from disk")
					onChange(s)
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				r.log.Warn().Err(err).Msg("settings watcher error")
			}
		}
	}()
	return nil
}
