// Package scenario resolves which backend, model and generation parameters
// apply for a named use-case (chat, collaboration, analysis, ...) and
// rewrites requests accordingly before they reach the queue.
package scenario

import (
	"time"

	"github.com/google/uuid"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	"novel-ai-core/internal/registry"
)

// Router is pure with respect to requests: Rewrite never mutates its input
// and always returns a fresh copy.
type Router struct {
	reg      *registry.Registry
	settings func() *model.AISettings
}

// NewRouter takes a settings getter instead of a snapshot so hot-reloaded
// scenario configs apply without rebuilding the router.
func NewRouter(reg *registry.Registry, settings func() *model.AISettings) *Router {
	return &Router{reg: reg, settings: settings}
}

// config returns the scenario config when present and enabled.
func (r *Router) config(tag string) (model.ScenarioConfig, bool) {
	if tag == "" {
		return model.ScenarioConfig{}, false
	}
	s := r.settings()
	cfg, ok := s.Scenarios[tag]
	if !ok || !cfg.Enabled {
		return model.ScenarioConfig{}, false
	}
	return cfg, true
}

// Resolve returns the backend serving the scenario: the configured
// provider's backend when the scenario is enabled and its provider is
// registered, otherwise the process-wide default.
func (r *Router) Resolve(tag string) adapter.ChatBackend {
	s := r.settings()
	def := func() adapter.ChatBackend {
		if p := s.Provider(s.ActiveProviderID); p != nil {
			return r.reg.ResolveInstance(p.ID, p.Type)
		}
		return r.reg.Get(s.ActiveProviderID)
	}
	cfg, ok := r.config(tag)
	if !ok {
		return def()
	}
	if p := s.Provider(cfg.ProviderID); p != nil {
		if b := r.reg.ResolveInstance(p.ID, p.Type); b != nil {
			return b
		}
	} else if b := r.reg.Get(cfg.ProviderID); b != nil {
		return b
	}
	return def()
}

// ResolveProvider returns the backend instance serving a specific provider
// id, ignoring scenario routing.
func (r *Router) ResolveProvider(id string) adapter.ChatBackend {
	s := r.settings()
	if p := s.Provider(id); p != nil {
		return r.reg.ResolveInstance(p.ID, p.Type)
	}
	return r.reg.Get(id)
}

// Rewrite applies the scenario's model, temperature, token limit and system
// prompt to a copy of req. With no scenario, no config, or a disabled
// config, the copy is returned unchanged.
func (r *Router) Rewrite(req *model.ChatCompletionRequest, tag string) *model.ChatCompletionRequest {
	out := req.Clone()
	cfg, ok := r.config(tag)
	if !ok {
		return out
	}

	if cfg.ProviderID != "" {
		out.ProviderID = cfg.ProviderID
	}
	if cfg.ModelID != "" {
		out.ModelID = cfg.ModelID
	}
	if cfg.Temperature != nil {
		t := *cfg.Temperature
		out.Temperature = &t
	}
	if cfg.MaxTokens != nil {
		m := *cfg.MaxTokens
		out.MaxTokens = &m
	}
	if cfg.SystemPrompt != "" {
		if len(out.Messages) > 0 && out.Messages[0].Role == model.RoleSystem {
			out.Messages[0].Content = cfg.SystemPrompt
		} else {
			sys := model.ChatMessage{
				ID:        uuid.NewString(),
				Role:      model.RoleSystem,
				Content:   cfg.SystemPrompt,
				Timestamp: time.Now(),
			}
			out.Messages = append([]model.ChatMessage{sys}, out.Messages...)
		}
	}
	return out
}
