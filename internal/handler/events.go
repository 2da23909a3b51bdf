package handler

import (
	"net/http"

	"github.com/capitalize-ai/canvas-chat/internal/broadcast"
	"github.com/capitalize-ai/canvas-chat/internal/middleware"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// EventsHandler serves conversation push channels.
type EventsHandler struct {
	conversations *service.ConversationService
	registry      *broadcast.Registry
	logger        *logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(convs *service.ConversationService, registry *broadcast.Registry, log *logger.Logger) *EventsHandler {
	return &EventsHandler{
		conversations: convs,
		registry:      registry,
		logger:        log,
	}
}

// Stream handles GET /conversation/events?conversationId=
// The request stays open until the client disconnects or a write fails.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := r.URL.Query().Get("conversationId")

	if conversationID == "" {
		writeServiceError(w, r, h.logger, &service.ValidationError{Fields: []string{"conversationId"}})
		return
	}
	if _, err := h.conversations.Get(ctx, userID, conversationID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	sse, err := broadcast.NewSSEWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	log := logger.FromContext(r.Context(), h.logger).ForConversation(conversationID, userID)
	log.Debug("push channel opened")

	ch := h.registry.Register(ctx, conversationID, sse)
	<-ch.Done()

	log.Debug("push channel closed")
}
