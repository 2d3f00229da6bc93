package ai

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
)

var _ adapter.ChatBackend = (*NoopBackend)(nil)

// NoopBackend is the dev/test backend. It echoes a canned reply instead of
// calling a real provider, with a small simulated delay so streaming and
// queue behavior stay observable.
type NoopBackend struct {
	delay time.Duration
}

func NewNoopBackend() *NoopBackend {
	return &NoopBackend{delay: 100 * time.Millisecond}
}

func (n *NoopBackend) ProviderType() model.ProviderType { return model.ProviderNoop }

func (n *NoopBackend) Initialize(context.Context, model.ProviderConfig) error { return nil }

func (n *NoopBackend) CreateChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
	select {
	case <-time.After(n.delay):
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	last := ""
	if len(req.Messages) > 0 {
		last = req.Messages[len(req.Messages)-1].Content
	}
	return &model.ChatCompletionResponse{
		Message: model.ChatMessage{
			Role:    model.RoleAssistant,
			Content: fmt.Sprintf("noop reply to %q", truncate(last, 60)),
		},
		Model: "noop",
		Usage: &model.Usage{},
	}, nil
}

func (n *NoopBackend) CreateChatCompletionStream(ctx context.Context, req *model.ChatCompletionRequest, onDelta func(string)) (*model.ChatCompletionResponse, error) {
	resp, err := n.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}
	for _, word := range []string{"noop ", "streamed ", "reply"} {
		select {
		case <-time.After(n.delay / 4):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		onDelta(word)
	}
	resp.Message.Content = "noop streamed reply"
	return resp, nil
}

// CountTokens approximates four characters per token.
func (n *NoopBackend) CountTokens(_ context.Context, _ string, messages []model.ChatMessage) (int, error) {
	total := 0
	for _, m := range messages {
		total += utf8.RuneCountInString(m.Content)/4 + 1
	}
	return total, nil
}

func (n *NoopBackend) TestConnection(context.Context) error { return nil }

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
