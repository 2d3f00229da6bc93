package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"novel-ai-core/internal/domain"
	"novel-ai-core/internal/domain/model"
	"novel-ai-core/internal/domain/ports/adapter"
	derror "novel-ai-core/internal/error"
	"novel-ai-core/internal/infra/metrics"
	"novel-ai-core/internal/queue"
	"novel-ai-core/internal/scenario"
)

// Compile-time check
var _ ChatUseCase = (*chatUC)(nil)

// ChatUseCase serializes completions through the dispatcher after scenario
// routing and token budgeting.
type ChatUseCase interface {
	Complete(ctx context.Context, req *model.ChatCompletionRequest, scenarioTag string, priority int) (*model.ChatCompletionResponse, error)
	// CompleteStream returns immediately with the delta stream; the terminal
	// response comes from Stream.Wait.
	CompleteStream(ctx context.Context, req *model.ChatCompletionRequest, scenarioTag string, priority int) (*queue.Stream, error)
	// CompleteStructured runs a completion and recovers a JSON document from
	// the reply. An unrecoverable reply is not an error: Raw still carries
	// the text and ParseFailed is set so callers can degrade to plain display.
	CompleteStructured(ctx context.Context, req *model.ChatCompletionRequest, scenarioTag string, priority int) (*StructuredResult, error)
	CancelAll()
}

type chatUC struct {
	router     *scenario.Router
	dispatcher *queue.Dispatcher
	settings   func() *model.AISettings
	log        *zerolog.Logger
}

func NewChatUseCase(router *scenario.Router, dispatcher *queue.Dispatcher, settings func() *model.AISettings, log *zerolog.Logger) *chatUC {
	return &chatUC{router: router, dispatcher: dispatcher, settings: settings, log: log}
}

func (c *chatUC) Complete(ctx context.Context, req *model.ChatCompletionRequest, scenarioTag string, priority int) (*model.ChatCompletionResponse, error) {
	job, err := c.prepare(ctx, req, scenarioTag, false)
	if err != nil {
		return nil, err
	}
	v, err := c.dispatcher.Enqueue(ctx, job, priority)
	if err != nil {
		return nil, err
	}
	return v.(*model.ChatCompletionResponse), nil
}

func (c *chatUC) CompleteStream(ctx context.Context, req *model.ChatCompletionRequest, scenarioTag string, priority int) (*queue.Stream, error) {
	job, err := c.prepare(ctx, req, scenarioTag, true)
	if err != nil {
		return nil, err
	}
	return c.dispatcher.EnqueueStream(ctx, job, priority)
}

func (c *chatUC) CompleteStructured(ctx context.Context, req *model.ChatCompletionRequest, scenarioTag string, priority int) (*StructuredResult, error) {
	resp, err := c.Complete(ctx, req, scenarioTag, priority)
	if err != nil {
		return nil, err
	}
	res := ParseStructured(resp.Message.Content)
	if res.ParseFailed {
		c.log.Warn().Str("model", resp.Model).Msg("reply is not recoverable JSON")
	}
	return &res, nil
}

func (c *chatUC) CancelAll() { c.dispatcher.CancelAll() }

// prepare routes the request through its scenario, clamps the token budget
// against the model's context window, and wraps it as a queue job.
func (c *chatUC) prepare(ctx context.Context, req *model.ChatCompletionRequest, scenarioTag string, streaming bool) (*chatJob, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, domain.ErrInvalidArgument
	}
	routed := c.router.Rewrite(req, scenarioTag)
	backend := c.router.Resolve(scenarioTag)
	if backend == nil {
		return nil, derror.ErrProviderNotFound
	}
	if err := c.clampTokens(ctx, backend, routed); err != nil {
		return nil, err
	}
	return &chatJob{backend: backend, req: routed, streaming: streaming}, nil
}

// clampTokens shrinks MaxTokens so prompt + completion fits the model's
// context window. Models without a recorded window are left alone, as is a
// backend whose counter fails: counting is advisory, dispatch is not blocked
// on it.
func (c *chatUC) clampTokens(ctx context.Context, backend adapter.ChatBackend, req *model.ChatCompletionRequest) error {
	s := c.settings()
	mc := s.Model(req.ModelID)
	if mc == nil || mc.ContextWindow <= 0 {
		return nil
	}
	prompt, err := backend.CountTokens(ctx, req.ModelID, req.Messages)
	if err != nil {
		c.log.Debug().Err(err).Str("model", req.ModelID).Msg("token count unavailable")
		return nil
	}
	budget := mc.ContextWindow - prompt
	if budget <= 0 {
		return fmt.Errorf("%w: prompt is %d tokens, context window is %d",
			domain.ErrInvalidArgument, prompt, mc.ContextWindow)
	}
	if req.MaxTokens == nil || *req.MaxTokens > budget {
		c.log.Debug().Str("model", req.ModelID).Int("prompt_tokens", prompt).
			Int("max_tokens", budget).Msg("clamped completion budget")
		req.MaxTokens = &budget
	}
	return nil
}

// chatJob is the queue unit for one completion.
type chatJob struct {
	backend   adapter.ChatBackend
	req       *model.ChatCompletionRequest
	streaming bool
}

var _ queue.Job = (*chatJob)(nil)

func (j *chatJob) Kind() string {
	if j.streaming {
		return "chat-stream"
	}
	return "chat"
}

func (j *chatJob) Streaming() bool { return j.streaming }

func (j *chatJob) Run(ctx context.Context, emit func(string)) (any, error) {
	start := time.Now()
	var resp *model.ChatCompletionResponse
	var err error
	if j.streaming {
		resp, err = j.backend.CreateChatCompletionStream(ctx, j.req, emit)
	} else {
		resp, err = j.backend.CreateChatCompletion(ctx, j.req)
	}
	latency := int(time.Since(start).Milliseconds())
	if err != nil {
		metrics.ObserveChatUsage(j.req.ProviderID, j.req.ModelID, 0, 0, 0, latency, false)
		return nil, err
	}
	if resp.Usage != nil {
		metrics.ObserveChatUsage(j.req.ProviderID, j.req.ModelID,
			resp.Usage.PromptTokens, resp.Usage.CompletionTokens, resp.Usage.TotalTokens, latency, true)
	} else {
		metrics.ObserveChatUsage(j.req.ProviderID, j.req.ModelID, 0, 0, 0, latency, true)
	}
	return resp, nil
}
