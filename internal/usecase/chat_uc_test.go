package usecase_test

import (
	"context"
	"errors"
	"testing"

	"novel-ai-core/internal/domain"
	"novel-ai-core/internal/domain/model"
	derror "novel-ai-core/internal/error"
	"novel-ai-core/internal/queue"
	"novel-ai-core/internal/usecase"
)

func chatRequest(content string) *model.ChatCompletionRequest {
	return &model.ChatCompletionRequest{
		ModelID: "gpt-test",
		Messages: []model.ChatMessage{
			{Role: model.RoleUser, Content: content},
		},
	}
}

func TestCompleteRoutesThroughScenario(t *testing.T) {
	s := baseSettings()
	s.Scenarios[model.ScenarioAnalysis] = model.ScenarioConfig{
		Enabled:      true,
		ProviderID:   "p1",
		SystemPrompt: "analyze carefully",
	}
	env := newTestEnv(s)
	defer env.close()

	var seen *model.ChatCompletionRequest
	backend := &fakeBackend{typ: model.ProviderOpenAI}
	backend.chatFn = func(_ context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
		seen = req
		return &model.ChatCompletionResponse{
			Message: model.ChatMessage{Role: model.RoleAssistant, Content: "done"},
			Model:   req.ModelID,
		}, nil
	}
	env.reg.Register(string(model.ProviderOpenAI), backend)

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	resp, err := uc.Complete(context.Background(), chatRequest("check this"), model.ScenarioAnalysis, queue.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Message.Content != "done" {
		t.Fatalf("reply %q", resp.Message.Content)
	}
	if seen == nil || len(seen.Messages) != 2 {
		t.Fatalf("scenario system prompt not injected: %+v", seen)
	}
	if seen.Messages[0].Role != model.RoleSystem || seen.Messages[0].Content != "analyze carefully" {
		t.Fatalf("first message %+v", seen.Messages[0])
	}
}

func TestCompleteDoesNotMutateCallerRequest(t *testing.T) {
	s := baseSettings()
	s.Scenarios[model.ScenarioChat] = model.ScenarioConfig{Enabled: true, ProviderID: "p1", SystemPrompt: "sys"}
	env := newTestEnv(s)
	defer env.close()
	env.reg.Register(string(model.ProviderOpenAI), &fakeBackend{typ: model.ProviderOpenAI})

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	req := chatRequest("hello")
	if _, err := uc.Complete(context.Background(), req, model.ScenarioChat, queue.PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("caller request mutated: %d messages", len(req.Messages))
	}
}

func TestCompleteClampsTokenBudget(t *testing.T) {
	env := newTestEnv(baseSettings()) // gpt-test window: 100
	defer env.close()

	var gotMax *int
	backend := &fakeBackend{typ: model.ProviderOpenAI}
	backend.countFn = func(string, []model.ChatMessage) (int, error) { return 40, nil }
	backend.chatFn = func(_ context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
		gotMax = req.MaxTokens
		return &model.ChatCompletionResponse{Message: model.ChatMessage{Role: model.RoleAssistant, Content: "x"}}, nil
	}
	env.reg.Register(string(model.ProviderOpenAI), backend)

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	req := chatRequest("prompt")
	big := 500
	req.MaxTokens = &big
	if _, err := uc.Complete(context.Background(), req, "", queue.PriorityNormal); err != nil {
		t.Fatal(err)
	}
	if gotMax == nil || *gotMax != 60 {
		t.Fatalf("max tokens not clamped to window-prompt: %v", gotMax)
	}
}

func TestCompleteRejectsOversizedPrompt(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()

	backend := &fakeBackend{typ: model.ProviderOpenAI}
	backend.countFn = func(string, []model.ChatMessage) (int, error) { return 150, nil }
	env.reg.Register(string(model.ProviderOpenAI), backend)

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	_, err := uc.Complete(context.Background(), chatRequest("way too long"), "", queue.PriorityNormal)
	if !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if backend.chatCalls != 0 {
		t.Fatal("oversized prompt must not reach the backend")
	}
}

func TestCompleteNoBackendRegistered(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	_, err := uc.Complete(context.Background(), chatRequest("hi"), "", queue.PriorityNormal)
	if !errors.Is(err, derror.ErrProviderNotFound) {
		t.Fatalf("expected ErrProviderNotFound, got %v", err)
	}
}

func TestCompleteEmptyRequest(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	env.reg.Register(string(model.ProviderOpenAI), &fakeBackend{typ: model.ProviderOpenAI})

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	if _, err := uc.Complete(context.Background(), &model.ChatCompletionRequest{}, "", queue.PriorityNormal); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestCompleteStructuredRecoversFencedJSON(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()

	backend := &fakeBackend{typ: model.ProviderOpenAI}
	backend.chatFn = func(_ context.Context, req *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
		return &model.ChatCompletionResponse{
			Message: model.ChatMessage{Role: model.RoleAssistant, Content: "Here you go:\n```json\n{\"mood\": \"tense\", \"pov\": \"third\"}\n```"},
			Model:   req.ModelID,
		}, nil
	}
	env.reg.Register(string(model.ProviderOpenAI), backend)

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	res, err := uc.CompleteStructured(context.Background(), chatRequest("describe the scene"), "", queue.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if res.ParseFailed {
		t.Fatalf("parse failed on recoverable reply: %q", res.Raw)
	}
	if res.Data["mood"] != "tense" || res.Data["pov"] != "third" {
		t.Fatalf("data = %v", res.Data)
	}
}

func TestCompleteStructuredKeepsRawOnParseFailure(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()

	backend := &fakeBackend{typ: model.ProviderOpenAI}
	backend.chatFn = func(_ context.Context, _ *model.ChatCompletionRequest) (*model.ChatCompletionResponse, error) {
		return &model.ChatCompletionResponse{
			Message: model.ChatMessage{Role: model.RoleAssistant, Content: "I cannot produce that."},
		}, nil
	}
	env.reg.Register(string(model.ProviderOpenAI), backend)

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	res, err := uc.CompleteStructured(context.Background(), chatRequest("json please"), "", queue.PriorityNormal)
	if err != nil {
		t.Fatal(err)
	}
	if !res.ParseFailed || res.Raw != "I cannot produce that." {
		t.Fatalf("res = %+v", res)
	}
}

func TestCompleteStreamDeliversDeltas(t *testing.T) {
	env := newTestEnv(baseSettings())
	defer env.close()
	env.reg.Register(string(model.ProviderOpenAI), &fakeBackend{typ: model.ProviderOpenAI})

	uc := usecase.NewChatUseCase(env.router, env.dispatcher, env.getter(), nopLogger())
	stream, err := uc.CompleteStream(context.Background(), chatRequest("hi"), "", queue.PriorityHigh)
	if err != nil {
		t.Fatal(err)
	}
	var deltas []string
	for d := range stream.Deltas {
		deltas = append(deltas, d)
	}
	v, err := stream.Wait()
	if err != nil {
		t.Fatal(err)
	}
	resp := v.(*model.ChatCompletionResponse)
	if resp.Message.Content != "ok" || len(deltas) != 1 {
		t.Fatalf("resp=%+v deltas=%v", resp, deltas)
	}
}
