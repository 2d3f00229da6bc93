package adapter

import (
	"context"

	"novel-ai-core/internal/domain/model"
)

// ChatBackend is the provider capability set. Implementations wrap one
// vendor SDK or wire protocol; everything above this port is
// provider-agnostic. Cancellation is expressed through ctx: cancelling the
// context must terminate the in-flight network call.
type ChatBackend interface {
	// Initialize configures the backend from a provider record. It must be
	// called before any other method and may be called again on settings
	// reload.
	Initialize(ctx context.Context, cfg model.ProviderConfig) error

	CreateChatCompletion(ctx context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error)

	// CreateChatCompletionStream delivers partial output through onDelta,
	// invoked synchronously from the stream loop, and returns the same
	// terminal shape as CreateChatCompletion. onDelta doubles as the
	// liveness signal for the queue's inactivity timer, so callers must not
	// block inside it for long.
	CreateChatCompletionStream(ctx context.Context, req *model.ChatCompletionRequest, onDelta func(string)) (*model.ChatCompletionResponse, error)

	// CountTokens returns prompt tokens for the messages (provider-specific
	// counting; best effort when exact isn't available).
	CountTokens(ctx context.Context, modelID string, messages []model.ChatMessage) (int, error)

	TestConnection(ctx context.Context) error

	ProviderType() model.ProviderType
}

// Embedder is the optional embedding capability. Resolved by type
// assertion; backends without it make the pipeline fall back to the local
// deterministic embedding.
type Embedder interface {
	CreateEmbedding(ctx context.Context, req *model.EmbeddingRequest) (*model.EmbeddingResponse, error)
}
