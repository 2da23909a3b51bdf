// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"strconv"

	"github.com/capitalize-ai/canvas-chat/internal/middleware"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// ConversationHandler handles conversation endpoints.
type ConversationHandler struct {
	service    *service.ConversationService
	reconciler *service.Reconciler
	logger     *logger.Logger
}

// NewConversationHandler creates a new conversation handler.
func NewConversationHandler(svc *service.ConversationService, reconciler *service.Reconciler, log *logger.Logger) *ConversationHandler {
	return &ConversationHandler{
		service:    svc,
		reconciler: reconciler,
		logger:     log,
	}
}

// History handles GET /history
func (h *ConversationHandler) History(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	limit := 20
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}

	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	resp, err := h.service.List(ctx, userID, limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// Update handles PATCH /conversation
func (h *ConversationHandler) Update(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.UpdateConversationRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	conv, err := h.service.Update(ctx, userID, &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, conv)
}

// Delete handles DELETE /conversation?id=
func (h *ConversationHandler) Delete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := r.URL.Query().Get("id")

	if err := h.service.Delete(ctx, userID, conversationID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	h.reconciler.ForgetConversation(conversationID)

	writeJSON(w, http.StatusOK, map[string]string{"id": conversationID})
}
