package handler

import (
	"net/http"
	"strconv"

	"github.com/capitalize-ai/canvas-chat/internal/middleware"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// MessageHandler handles message endpoints.
type MessageHandler struct {
	reconciler *service.Reconciler
	logger     *logger.Logger
}

// NewMessageHandler creates a new message handler.
func NewMessageHandler(reconciler *service.Reconciler, log *logger.Logger) *MessageHandler {
	return &MessageHandler{
		reconciler: reconciler,
		logger:     log,
	}
}

// List handles GET /conversation/message?conversationId=&includeSystem=
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	q := r.URL.Query()

	includeSystem, _ := strconv.ParseBool(q.Get("includeSystem"))

	msgs, err := h.reconciler.ListMessages(ctx, userID, q.Get("conversationId"), includeSystem)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, msgs)
}

// Edit handles PATCH /conversation/message
func (h *MessageHandler) Edit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.EditMessageRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Content != "" {
		if err := middleware.ValidateMessageContent(req.Content); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	msg, err := h.reconciler.EditMessage(ctx, userID, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, msg)
}

// Delete handles DELETE /conversation/message?conversationId=&messageId=
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	q := r.URL.Query()

	if err := h.reconciler.DeleteMessage(ctx, userID, q.Get("conversationId"), q.Get("messageId")); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
