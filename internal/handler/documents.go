package handler

import (
	"net/http"
	"time"

	"github.com/capitalize-ai/canvas-chat/internal/middleware"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// DocumentHandler handles artifact version endpoints.
type DocumentHandler struct {
	artifacts *service.ArtifactService
	logger    *logger.Logger
}

// NewDocumentHandler creates a new document handler.
func NewDocumentHandler(artifacts *service.ArtifactService, log *logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		artifacts: artifacts,
		logger:    log,
	}
}

// Versions handles GET /document?id=
func (h *DocumentHandler) Versions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	id := r.URL.Query().Get("id")
	if id == "" {
		writeServiceError(w, r, h.logger, &service.ValidationError{Fields: []string{"id"}})
		return
	}

	versions, err := h.artifacts.Versions(ctx, userID, id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, versions)
}

// DeleteAfter handles DELETE /document?id=&timestamp=
func (h *DocumentHandler) DeleteAfter(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	q := r.URL.Query()

	id := q.Get("id")
	ts, err := time.Parse(time.RFC3339Nano, q.Get("timestamp"))
	if id == "" || err != nil {
		var missing []string
		if id == "" {
			missing = append(missing, "id")
		}
		if err != nil {
			missing = append(missing, "timestamp")
		}
		writeServiceError(w, r, h.logger, &service.ValidationError{Fields: missing})
		return
	}

	n, err := h.artifacts.DeleteVersionsAfter(ctx, userID, id, ts)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}
