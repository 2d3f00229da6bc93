package ai

import (
	"context"
	"errors"
	"sync"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	"github.com/pkoukk/tiktoken-go"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	derror "novel-ai-core/internal/error"
)

// Compile-time assurance this backend satisfies the ports
var (
	_ adapter.ChatBackend = (*OpenAIBackend)(nil)
	_ adapter.Embedder    = (*OpenAIBackend)(nil)
)

// OpenAIBackend speaks to OpenAI through the official SDK. It also serves
// OpenAI-compatible gateways when the provider record carries a base URL,
// as long as the gateway implements the SDK's error envelope.
type OpenAIBackend struct {
	mu     sync.RWMutex
	client openai.Client
	cfg    model.ProviderConfig
	ready  bool
}

func NewOpenAIBackend() *OpenAIBackend { return &OpenAIBackend{} }

func (o *OpenAIBackend) ProviderType() model.ProviderType { return model.ProviderOpenAI }

func (o *OpenAIBackend) Initialize(_ context.Context, cfg model.ProviderConfig) error {
	if cfg.APIKey == "" {
		return errors.New("openai: empty api key")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.client = openai.NewClient(opts...)
	o.cfg = cfg
	o.ready = true
	return nil
}

func (o *OpenAIBackend) snapshot() (openai.Client, model.ProviderConfig, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if !o.ready {
		return openai.Client{}, model.ProviderConfig{}, derror.ErrProviderNotFound
	}
	return o.client, o.cfg, nil
}

func (o *OpenAIBackend) CreateChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
	client, cfg, err := o.snapshot()
	if err != nil {
		return nil, err
	}
	completion, err := client.Chat.Completions.New(ctx, o.chatParams(cfg, req))
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return nil, derror.ErrEmptyResponse
	}
	return &model.ChatCompletionResponse{
		ID: completion.ID,
		Message: model.ChatMessage{
			Role:    model.RoleAssistant,
			Content: completion.Choices[0].Message.Content,
		},
		Model: completion.Model,
		Usage: &model.Usage{
			PromptTokens:     int(completion.Usage.PromptTokens),
			CompletionTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:      int(completion.Usage.TotalTokens),
		},
	}, nil
}

func (o *OpenAIBackend) CreateChatCompletionStream(ctx context.Context, req *model.ChatCompletionRequest, onDelta func(string)) (*model.ChatCompletionResponse, error) {
	client, cfg, err := o.snapshot()
	if err != nil {
		return nil, err
	}
	stream := client.Chat.Completions.NewStreaming(ctx, o.chatParams(cfg, req))
	defer stream.Close()

	var acc openai.ChatCompletionAccumulator
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			onDelta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(acc.Choices) == 0 || acc.Choices[0].Message.Content == "" {
		return nil, derror.ErrEmptyResponse
	}
	return &model.ChatCompletionResponse{
		ID: acc.ID,
		Message: model.ChatMessage{
			Role:    model.RoleAssistant,
			Content: acc.Choices[0].Message.Content,
		},
		Model: acc.Model,
		Usage: &model.Usage{
			PromptTokens:     int(acc.Usage.PromptTokens),
			CompletionTokens: int(acc.Usage.CompletionTokens),
			TotalTokens:      int(acc.Usage.TotalTokens),
		},
	}, nil
}

func (o *OpenAIBackend) CreateEmbedding(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error) {
	client, cfg, err := o.snapshot()
	if err != nil {
		return nil, err
	}
	modelID := req.ModelID
	if modelID == "" {
		modelID = cfg.DefaultModel
	}
	resp, err := client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(modelID),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(req.Text),
		},
	})
	if err != nil {
		return nil, wrapOpenAIError(err)
	}
	if len(resp.Data) == 0 {
		return nil, derror.ErrEmptyResponse
	}
	vec := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		vec[i] = float32(v)
	}
	return &model.EmbeddingResponse{
		Embedding: vec,
		Model:     resp.Model,
		Usage: &model.Usage{
			PromptTokens: int(resp.Usage.PromptTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		},
	}, nil
}

// CountTokens counts locally with tiktoken so the clamp check before
// enqueueing never costs a network round trip. Unknown models fall back to
// the cl100k_base encoding.
func (o *OpenAIBackend) CountTokens(_ context.Context, modelID string, messages []model.ChatMessage) (int, error) {
	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return 0, err
		}
	}
	// per-message framing overhead per the OpenAI cookbook counting guide
	const perMessage = 4
	total := 3
	for _, m := range messages {
		total += perMessage
		total += len(enc.Encode(m.Content, nil, nil))
		total += len(enc.Encode(string(m.Role), nil, nil))
	}
	return total, nil
}

func (o *OpenAIBackend) TestConnection(ctx context.Context) error {
	client, cfg, err := o.snapshot()
	if err != nil {
		return err
	}
	_, err = client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(cfg.DefaultModel),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage("ping"),
		},
		MaxTokens: openai.Int(1),
	})
	if err != nil {
		return wrapOpenAIError(err)
	}
	return nil
}

func (o *OpenAIBackend) chatParams(cfg model.ProviderConfig, req *model.ChatCompletionRequest) openai.ChatCompletionNewParams {
	modelID := req.ModelID
	if modelID == "" {
		modelID = cfg.DefaultModel
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(modelID),
		Messages: toOpenAIMessages(req.Messages),
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	} else if cfg.Temperature > 0 {
		params.Temperature = openai.Float(cfg.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	} else if cfg.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(cfg.MaxTokens))
	}
	return params
}

func toOpenAIMessages(msgs []model.ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case model.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case model.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

// wrapOpenAIError lifts the SDK error envelope into a RequestError so the
// queue can classify retryability by status.
func wrapOpenAIError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return derror.NewRequestError(apierr.StatusCode, err)
	}
	return err
}
