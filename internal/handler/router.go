package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/canvas-chat/internal/broadcast"
	"github.com/capitalize-ai/canvas-chat/internal/jobs"
	"github.com/capitalize-ai/canvas-chat/internal/middleware"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// maxJSONBody caps JSON request bodies.
const maxJSONBody = 1 << 20

// RouterConfig holds everything the routes need.
type RouterConfig struct {
	Conversations *service.ConversationService
	Reconciler    *service.Reconciler
	Artifacts     *service.ArtifactService
	Votes         *service.VoteService
	Registry      *broadcast.Registry
	Extractor     *jobs.Extractor
	Checks        map[string]Check
	Logger        *logger.Logger

	JWTSecret         string
	RateLimitRequests int
	RateLimitWindow   time.Duration
	MaxUploadBytes    int64
	AllowedOrigins    []string
}

// NewRouter builds the HTTP routes.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Logger

	chat := NewChatHandler(cfg.Reconciler, log)
	conversations := NewConversationHandler(cfg.Conversations, cfg.Reconciler, log)
	messages := NewMessageHandler(cfg.Reconciler, log)
	events := NewEventsHandler(cfg.Conversations, cfg.Registry, log)
	documents := NewDocumentHandler(cfg.Artifacts, log)
	votes := NewVoteHandler(cfg.Votes, log)
	uploads := NewUploadHandler(cfg.Conversations, cfg.Extractor, cfg.MaxUploadBytes, log)
	health := NewHealthHandler(cfg.Checks)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		if cfg.RateLimitRequests > 0 {
			r.Use(middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		}

		// Push channels stay open; they take no body.
		r.Get("/conversation/events", events.Stream)
		r.Post("/files/upload", uploads.Upload)

		r.Group(func(r chi.Router) {
			r.Use(middleware.LimitBody(maxJSONBody))

			r.Post("/conversation", chat.Submit)
			r.Patch("/conversation", conversations.Update)
			r.Delete("/conversation", conversations.Delete)

			r.Get("/conversation/message", messages.List)
			r.Patch("/conversation/message", messages.Edit)
			r.Delete("/conversation/message", messages.Delete)

			r.Get("/history", conversations.History)

			r.Get("/document", documents.Versions)
			r.Delete("/document", documents.DeleteAfter)

			r.Get("/vote", votes.List)
			r.Patch("/vote", votes.Vote)
		})
	})

	return r
}
