package handler

import (
	"net/http"

	"github.com/capitalize-ai/canvas-chat/internal/middleware"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// VoteHandler handles message rating endpoints.
type VoteHandler struct {
	votes  *service.VoteService
	logger *logger.Logger
}

// NewVoteHandler creates a new vote handler.
func NewVoteHandler(votes *service.VoteService, log *logger.Logger) *VoteHandler {
	return &VoteHandler{
		votes:  votes,
		logger: log,
	}
}

// List handles GET /vote?conversationId=
func (h *VoteHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	votes, err := h.votes.List(ctx, middleware.GetUserID(ctx), r.URL.Query().Get("conversationId"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, votes)
}

// Vote handles PATCH /vote
func (h *VoteHandler) Vote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.VoteRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	vote, err := h.votes.Vote(ctx, middleware.GetUserID(ctx), &req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, vote)
}
