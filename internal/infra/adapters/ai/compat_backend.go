package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	derror "novel-ai-core/internal/error"
)

// Compile-time assurance this backend satisfies the ports
var (
	_ adapter.ChatBackend = (*CompatBackend)(nil)
	_ adapter.Embedder    = (*CompatBackend)(nil)
)

// CompatBackend talks to any OpenAI-compatible gateway or local server
// (LM Studio, Ollama's compat endpoint, vLLM) over the raw wire protocol.
// It deliberately avoids the official SDK: local servers are sloppy about
// the error envelope and we only need the chat, embeddings and models
// routes.
type CompatBackend struct {
	mu     sync.RWMutex
	cfg    model.ProviderConfig
	base   string
	client *http.Client
}

func NewCompatBackend() *CompatBackend {
	// no client timeout: the queue's inactivity timer owns cancellation,
	// and streams legitimately run for minutes
	return &CompatBackend{client: &http.Client{}}
}

func (c *CompatBackend) ProviderType() model.ProviderType { return model.ProviderOpenAICompatible }

func (c *CompatBackend) Initialize(_ context.Context, cfg model.ProviderConfig) error {
	base := cfg.BaseURL
	if base == "" {
		base = cfg.LocalServerURL
	}
	if base == "" {
		return errors.New("openai-compatible: base url required")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
	c.base = strings.TrimRight(base, "/")
	return nil
}

func (c *CompatBackend) snapshot() (string, model.ProviderConfig, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.base == "" {
		return "", model.ProviderConfig{}, derror.ErrProviderNotFound
	}
	return c.base, c.cfg, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireChatRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature *float64      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type wireUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func (c *CompatBackend) CreateChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
	base, cfg, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, base+"/chat/completions", cfg.APIKey, buildWireRequest(cfg, req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		ID      string `json:"id"`
		Model   string `json:"model"`
		Choices []struct {
			Message wireMessage `json:"message"`
		} `json:"choices"`
		Usage *wireUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	var content string
	for _, choice := range payload.Choices {
		if choice.Message.Content != "" {
			content = choice.Message.Content
			break
		}
	}
	if content == "" {
		return nil, derror.ErrEmptyResponse
	}
	out := &model.ChatCompletionResponse{
		ID:      payload.ID,
		Message: model.ChatMessage{Role: model.RoleAssistant, Content: content},
		Model:   payload.Model,
	}
	if payload.Usage != nil {
		out.Usage = &model.Usage{
			PromptTokens:     payload.Usage.PromptTokens,
			CompletionTokens: payload.Usage.CompletionTokens,
			TotalTokens:      payload.Usage.TotalTokens,
		}
	}
	return out, nil
}

func (c *CompatBackend) CreateChatCompletionStream(ctx context.Context, req *model.ChatCompletionRequest, onDelta func(string)) (*model.ChatCompletionResponse, error) {
	base, cfg, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, base+"/chat/completions", cfg.APIKey, buildWireRequest(cfg, req, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var (
		sb    strings.Builder
		id    string
		mdl   string
		usage *wireUsage
	)
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" || data == "[DONE]" {
			continue
		}
		var chunk struct {
			ID      string `json:"id"`
			Model   string `json:"model"`
			Choices []struct {
				Delta wireMessage `json:"delta"`
			} `json:"choices"`
			Usage *wireUsage `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// tolerate non-JSON keepalive lines from lax servers
			continue
		}
		if chunk.ID != "" {
			id = chunk.ID
		}
		if chunk.Model != "" {
			mdl = chunk.Model
		}
		if chunk.Usage != nil {
			usage = chunk.Usage
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			sb.WriteString(chunk.Choices[0].Delta.Content)
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if sb.Len() == 0 {
		return nil, derror.ErrEmptyResponse
	}
	out := &model.ChatCompletionResponse{
		ID:      id,
		Message: model.ChatMessage{Role: model.RoleAssistant, Content: sb.String()},
		Model:   mdl,
	}
	if usage != nil {
		out.Usage = &model.Usage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
		}
	}
	return out, nil
}

func (c *CompatBackend) CreateEmbedding(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	base, cfg, err := c.snapshot()
	if err != nil {
		return nil, err
	}
	body := struct {
		Model string `json:"model"`
		Input string `json:"input"`
	}{Model: modelOrFallback(req.ModelID, cfg.DefaultModel), Input: req.Text}

	resp, err := c.post(ctx, base+"/embeddings", cfg.APIKey, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var payload struct {
		Model string `json:"model"`
		Data  []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Usage *wireUsage `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if len(payload.Data) == 0 || len(payload.Data[0].Embedding) == 0 {
		return nil, derror.ErrEmptyResponse
	}
	out := &model.EmbeddingResponse{
		Embedding: payload.Data[0].Embedding,
		Model:     payload.Model,
	}
	if payload.Usage != nil {
		out.Usage = &model.Usage{
			PromptTokens: payload.Usage.PromptTokens,
			TotalTokens:  payload.Usage.TotalTokens,
		}
	}
	return out, nil
}

// CountTokens estimates with cl100k_base; compat servers rarely expose a
// tokenizer endpoint and an estimate is enough for the clamp check.
func (c *CompatBackend) CountTokens(_ context.Context, _ string, messages []model.ChatMessage) (int, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return 0, err
	}
	total := 0
	for _, m := range messages {
		total += len(enc.Encode(m.Content, nil, nil)) + 4
	}
	return total, nil
}

func (c *CompatBackend) TestConnection(ctx context.Context) error {
	base, cfg, err := c.snapshot()
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/models", nil)
	if err != nil {
		return err
	}
	if cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return derror.NewRequestError(resp.StatusCode, fmt.Errorf("models probe failed"))
	}
	return nil
}

func (c *CompatBackend) post(ctx context.Context, url, apiKey string, body any) (*http.Response, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		resp.Body.Close()
		return nil, derror.NewRequestError(resp.StatusCode, fmt.Errorf("%s", strings.TrimSpace(string(msg))))
	}
	return resp, nil
}

func buildWireRequest(cfg model.ProviderConfig, req *model.ChatCompletionRequest, stream bool) wireChatRequest {
	msgs := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	out := wireChatRequest{
		Model:       modelOrFallback(req.ModelID, cfg.DefaultModel),
		Messages:    msgs,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
	if out.Temperature == nil && cfg.Temperature > 0 {
		t := cfg.Temperature
		out.Temperature = &t
	}
	if out.MaxTokens == nil && cfg.MaxTokens > 0 {
		n := cfg.MaxTokens
		out.MaxTokens = &n
	}
	return out
}
