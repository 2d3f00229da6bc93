package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"novel-ai-core/internal/domain"
	"novel-ai-core/internal/domain/model"
	derror "novel-ai-core/internal/error"
	"novel-ai-core/internal/queue"
	"novel-ai-core/internal/usecase"
)

// chatRequest wraps the completion payload with routing hints. Format "json"
// asks for structured output: the reply is parsed into a document, with the
// raw text kept for degraded display when parsing fails.
type chatRequest struct {
	model.ChatCompletionRequest
	Scenario string `json:"scenario,omitempty"`
	Priority int    `json:"priority,omitempty"`
	Format   string `json:"format,omitempty"`
}

func (req *chatRequest) priority() int {
	if req.Priority <= 0 {
		return queue.PriorityNormal
	}
	return req.Priority
}

func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Format == "json" {
		res, err := s.chatUC.CompleteStructured(r.Context(), &req.ChatCompletionRequest, req.Scenario, req.priority())
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	resp, err := s.chatUC.Complete(r.Context(), &req.ChatCompletionRequest, req.Scenario, req.priority())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatCompletionStream serves deltas as SSE: `data:` events carry
// delta JSON, a final `done` event carries the terminal response, and an
// `error` event carries a failure.
func (s *Server) handleChatCompletionStream(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}
	stream, err := s.chatUC.CompleteStream(r.Context(), &req.ChatCompletionRequest, req.Scenario, req.priority())
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for delta := range stream.Deltas {
		payload, _ := json.Marshal(map[string]string{"delta": delta})
		fmt.Fprintf(w, "data: %s\n\n", payload)
		flusher.Flush()
	}
	v, err := stream.Wait()
	if err != nil {
		payload, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintf(w, "event: error\ndata: %s\n\n", payload)
		flusher.Flush()
		return
	}
	payload, _ := json.Marshal(v)
	fmt.Fprintf(w, "event: done\ndata: %s\n\n", payload)
	flusher.Flush()
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req model.EmbeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	resp, err := s.embUC.Embed(r.Context(), &req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVectorize(w http.ResponseWriter, r *http.Request) {
	var in usecase.VectorizeInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	result, err := s.embUC.VectorizeDocument(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var in usecase.QueryInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	results, err := s.embUC.QuerySimilar(r.Context(), in)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results, "count": len(results)})
}

func (s *Server) handleDeleteSource(w http.ResponseWriter, r *http.Request) {
	sourceID := chi.URLParam(r, "sourceID")
	if err := s.embUC.DeleteSource(r.Context(), sourceID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "sourceId": sourceID})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	names, err := s.embUC.ListCollections(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"collections": names})
}

func (s *Server) handleDeleteCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.embUC.DeleteCollection(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "collection": name})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settingsUC.Current())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	var in model.AISettings
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.settingsUC.Update(r.Context(), &in); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.settingsUC.Current())
}

func (s *Server) handleTestProvider(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.settingsUC.TestProvider(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "providerId": id})
}

func (s *Server) handleCancelAll(w http.ResponseWriter, _ *http.Request) {
	s.chatUC.CancelAll()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy to HTTP statuses: invalid input 400,
// configuration errors 422, missing things 404, cancellation 499 (client
// closed request), timeouts 504, provider failures 502.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var reqErr *derror.RequestError
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, derror.ErrProviderNotFound), errors.Is(err, derror.ErrNoEmbeddingModel):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, derror.ErrCanceled):
		status = 499
	case errors.Is(err, derror.ErrTimedOut):
		status = http.StatusGatewayTimeout
	case errors.Is(err, derror.ErrQueueClosed):
		status = http.StatusServiceUnavailable
	case errors.As(err, &reqErr):
		status = http.StatusBadGateway
	}
	if status == http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
