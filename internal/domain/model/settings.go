package model

// ProviderType identifies which backend implementation a provider record
// needs. Multiple user-configured provider instances of the same type share
// one registered backend.
type ProviderType string

const (
	ProviderOpenAI           ProviderType = "openai"
	ProviderGemini           ProviderType = "gemini"
	ProviderOpenAICompatible ProviderType = "openai-compatible"
	ProviderNoop             ProviderType = "noop"
)

// Well-known scenario tags. Any string is accepted as a tag; these are the
// ones the desktop app ships with.
const (
	ScenarioChat               = "chat"
	ScenarioCollaboration      = "collaboration"
	ScenarioAnalysis           = "analysis"
	ScenarioContextEnhancement = "context-enhancement"
)

// ProviderConfig is one user-configured provider account.
type ProviderConfig struct {
	ID             string       `json:"id"`
	Name           string       `json:"name"`
	Type           ProviderType `json:"type"`
	APIKey         string       `json:"apiKey,omitempty"`
	BaseURL        string       `json:"baseUrl,omitempty"`
	LocalServerURL string       `json:"localServerUrl,omitempty"`
	DefaultModel   string       `json:"defaultModel"`
	Temperature    float64      `json:"temperature"`
	MaxTokens      int          `json:"maxTokens"`
}

// ModelConfig describes one model a provider exposes.
type ModelConfig struct {
	ID               string `json:"id"`
	ProviderID       string `json:"providerId"`
	Name             string `json:"name"`
	ContextWindow    int    `json:"contextWindow,omitempty"`
	IsEmbeddingModel bool   `json:"isEmbeddingModel"`
}

// ScenarioConfig overrides provider/model/prompt for one scenario tag.
// Absence or Enabled=false falls back to the process-wide default provider.
type ScenarioConfig struct {
	Enabled      bool     `json:"enabled"`
	ProviderID   string   `json:"providerId"`
	ModelID      string   `json:"modelId"`
	Temperature  *float64 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"maxTokens,omitempty"`
	SystemPrompt string   `json:"systemPrompt,omitempty"`
	CostLimit    float64  `json:"costLimit,omitempty"`
}

// AISettings is the whole settings document the desktop app edits.
type AISettings struct {
	ActiveProviderID string                    `json:"activeProviderId"`
	Providers        []ProviderConfig          `json:"providers"`
	Models           []ModelConfig             `json:"models"`
	Scenarios        map[string]ScenarioConfig `json:"scenarioConfigs"`
}

// Provider returns the provider record with the given id, or nil.
func (s *AISettings) Provider(id string) *ProviderConfig {
	for i := range s.Providers {
		if s.Providers[i].ID == id {
			return &s.Providers[i]
		}
	}
	return nil
}

// Model returns the model record with the given id, or nil.
func (s *AISettings) Model(id string) *ModelConfig {
	for i := range s.Models {
		if s.Models[i].ID == id {
			return &s.Models[i]
		}
	}
	return nil
}

// EmbeddingModels returns the models flagged as embedding models for a
// provider, in declaration order.
func (s *AISettings) EmbeddingModels(providerID string) []ModelConfig {
	var out []ModelConfig
	for _, m := range s.Models {
		if m.IsEmbeddingModel && (providerID == "" || m.ProviderID == providerID) {
			out = append(out, m)
		}
	}
	return out
}
