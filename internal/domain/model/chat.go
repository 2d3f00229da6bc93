package model

import "time"

// Role of a chat message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ChatMessage is immutable once appended to a request; ordering is
// append-only and timestamp-monotonic.
type ChatMessage struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatCompletionRequest describes one completion call against a backend.
// Temperature and MaxTokens are pointers: nil means "use provider default".
type ChatCompletionRequest struct {
	ProviderID  string        `json:"providerId,omitempty"`
	ModelID     string        `json:"modelId"`
	Messages    []ChatMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"maxTokens,omitempty"`
}

// Clone returns a deep copy; scenario routing rewrites copies, never the
// caller's request.
func (r *ChatCompletionRequest) Clone() *ChatCompletionRequest {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Messages = make([]ChatMessage, len(r.Messages))
	copy(cp.Messages, r.Messages)
	if r.Temperature != nil {
		t := *r.Temperature
		cp.Temperature = &t
	}
	if r.MaxTokens != nil {
		m := *r.MaxTokens
		cp.MaxTokens = &m
	}
	return &cp
}

// Usage as reported by the provider for a single call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChatCompletionResponse is the terminal result of a completion call,
// streaming or not. Usage is nil when the provider doesn't report it.
type ChatCompletionResponse struct {
	ID      string      `json:"id"`
	Message ChatMessage `json:"message"`
	Model   string      `json:"model"`
	Usage   *Usage      `json:"usage,omitempty"`
}
