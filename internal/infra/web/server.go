package web

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"novel-ai-core/internal/infra/logging"
	"novel-ai-core/internal/usecase"
)

type Server struct {
	chatUC     usecase.ChatUseCase
	embUC      usecase.EmbeddingUseCase
	settingsUC usecase.SettingsUseCase
	auth       *AuthManager
	log        *zerolog.Logger
	dev        bool
}

func NewServer(
	chatUC usecase.ChatUseCase,
	embUC usecase.EmbeddingUseCase,
	settingsUC usecase.SettingsUseCase,
	auth *AuthManager,
	logger *zerolog.Logger,
	dev bool,
) *Server {
	return &Server{
		chatUC:     chatUC,
		embUC:      embUC,
		settingsUC: settingsUC,
		auth:       auth,
		log:        logger,
		dev:        dev,
	}
}

// Routes builds the router. /healthz and /metrics stay open; everything
// under /api/v1 requires a bearer token unless running in dev mode.
func (s *Server) Routes() *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/chat/completions", s.handleChatCompletion)
		r.Post("/chat/completions/stream", s.handleChatCompletionStream)

		r.Post("/embeddings", s.handleEmbed)
		r.Post("/documents/vectorize", s.handleVectorize)
		r.Post("/documents/query", s.handleQuery)
		r.Delete("/documents/{sourceID}", s.handleDeleteSource)

		r.Get("/collections", s.handleListCollections)
		r.Delete("/collections/{name}", s.handleDeleteCollection)

		r.Get("/settings", s.handleGetSettings)
		r.Put("/settings", s.handlePutSettings)
		r.Post("/providers/{id}/test", s.handleTestProvider)

		r.Post("/queue/cancel", s.handleCancelAll)
	})
	return r
}

// logMiddleware carries the chi request id into the logging context and
// logs one line per request at debug level.
func (s *Server) logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := logging.WithRequestID(r.Context(), middleware.GetReqID(r.Context()))
		// the desktop shell sends a trace id to correlate UI actions with
		// sidecar logs
		if tid := r.Header.Get("X-Trace-Id"); tid != "" {
			ctx = logging.WithTraceID(ctx, tid)
		}
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		logging.With(ctx, s.log).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.dev {
			next.ServeHTTP(w, r)
			return
		}
		if _, err := s.auth.ParseFromRequest(r); err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
