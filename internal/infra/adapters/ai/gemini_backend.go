package ai

import (
	"context"
	"errors"
	"strings"
	"sync"

	"google.golang.org/genai"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	derror "novel-ai-core/internal/error"
)

// Compile-time assurance this backend satisfies the ports
var (
	_ adapter.ChatBackend = (*GeminiBackend)(nil)
	_ adapter.Embedder    = (*GeminiBackend)(nil)
)

// GeminiBackend speaks to the Gemini API through the official SDK.
type GeminiBackend struct {
	mu     sync.RWMutex
	client *genai.Client
	cfg    model.ProviderConfig
}

func NewGeminiBackend() *GeminiBackend { return &GeminiBackend{} }

func (g *GeminiBackend) ProviderType() model.ProviderType { return model.ProviderGemini }

func (g *GeminiBackend) Initialize(ctx context.Context, cfg model.ProviderConfig) error {
	if cfg.APIKey == "" {
		return errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: cfg.BaseURL,
		},
	})
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.client = c
	g.cfg = cfg
	return nil
}

func (g *GeminiBackend) snapshot() (*genai.Client, model.ProviderConfig, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.client == nil {
		return nil, model.ProviderConfig{}, derror.ErrProviderNotFound
	}
	return g.client, g.cfg, nil
}

func (g *GeminiBackend) CreateChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
	return g.chat(ctx, req, nil)
}

func (g *GeminiBackend) CreateChatCompletionStream(ctx context.Context, req *model.ChatCompletionRequest, onDelta func(string)) (*model.ChatCompletionResponse, error) {
	return g.chat(ctx, req, onDelta)
}

func (g *GeminiBackend) chat(ctx context.Context, req *model.ChatCompletionRequest, onDelta func(string)) (*model.ChatCompletionResponse, error) {
	client, cfg, err := g.snapshot()
	if err != nil {
		return nil, err
	}
	if len(req.Messages) == 0 {
		return nil, errors.New("gemini: no messages")
	}

	modelID := modelOrFallback(req.ModelID, cfg.DefaultModel)
	gencfg := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		gencfg.Temperature = &t
	}
	if req.MaxTokens != nil {
		gencfg.MaxOutputTokens = int32(*req.MaxTokens)
	} else if cfg.MaxTokens > 0 {
		gencfg.MaxOutputTokens = int32(cfg.MaxTokens)
	}

	// Gemini carries the system prompt in config, not history.
	msgs := req.Messages
	if msgs[0].Role == model.RoleSystem {
		gencfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: msgs[0].Content}},
		}
		msgs = msgs[1:]
	}
	if len(msgs) == 0 {
		return nil, errors.New("gemini: no user messages")
	}
	last := msgs[len(msgs)-1]
	if last.Role != model.RoleUser {
		return nil, errors.New("gemini: last message must be from user")
	}

	chat, err := client.Chats.Create(ctx, modelID, gencfg, toGeminiHistory(msgs[:len(msgs)-1]))
	if err != nil {
		return nil, err
	}

	if onDelta == nil {
		resp, err := chat.SendMessage(ctx, genai.Part{Text: last.Content})
		if err != nil {
			return nil, err
		}
		return geminiResponse(resp, geminiText(resp), modelID)
	}

	var sb strings.Builder
	var final *genai.GenerateContentResponse
	for resp, err := range chat.SendMessageStream(ctx, genai.Part{Text: last.Content}) {
		if err != nil {
			return nil, err
		}
		if t := geminiText(resp); t != "" {
			sb.WriteString(t)
			onDelta(t)
		}
		final = resp
	}
	return geminiResponse(final, sb.String(), modelID)
}

func (g *GeminiBackend) CreateEmbedding(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	client, cfg, err := g.snapshot()
	if err != nil {
		return nil, err
	}
	modelID := modelOrFallback(req.ModelID, cfg.DefaultModel)
	resp, err := client.Models.EmbedContent(ctx, modelID,
		[]*genai.Content{{Parts: []*genai.Part{{Text: req.Text}}}}, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, derror.ErrEmptyResponse
	}
	return &model.EmbeddingResponse{
		Embedding: resp.Embeddings[0].Values,
		Model:     modelID,
	}, nil
}

func (g *GeminiBackend) CountTokens(ctx context.Context, modelID string, messages []model.ChatMessage) (int, error) {
	client, cfg, err := g.snapshot()
	if err != nil {
		return 0, err
	}
	resp, err := client.Models.CountTokens(ctx, modelOrFallback(modelID, cfg.DefaultModel), toGeminiHistory(messages), nil)
	if err != nil {
		return 0, err
	}
	return int(resp.TotalTokens), nil
}

func (g *GeminiBackend) TestConnection(ctx context.Context) error {
	client, cfg, err := g.snapshot()
	if err != nil {
		return err
	}
	_, err = client.Models.Get(ctx, modelOrFallback("", cfg.DefaultModel), nil)
	return err
}

func geminiText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return sb.String()
}

func geminiResponse(resp *genai.GenerateContentResponse, text, modelID string) (*model.ChatCompletionResponse, error) {
	if text == "" {
		return nil, derror.ErrEmptyResponse
	}
	out := &model.ChatCompletionResponse{
		Message: model.ChatMessage{Role: model.RoleAssistant, Content: text},
		Model:   modelID,
	}
	if resp != nil && resp.UsageMetadata != nil {
		out.Usage = &model.Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:      int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return out, nil
}

func toGeminiHistory(msgs []model.ChatMessage) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		if m.Role == model.RoleAssistant {
			role = genai.RoleModel
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}

func modelOrFallback(modelID, def string) string {
	if strings.TrimSpace(modelID) != "" {
		return modelID
	}
	return def
}
