package handler

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/jobs"
	"github.com/capitalize-ai/canvas-chat/internal/middleware"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// UploadHandler accepts attachments for background extraction.
type UploadHandler struct {
	conversations *service.ConversationService
	extractor     *jobs.Extractor
	maxBytes      int64
	logger        *logger.Logger
}

// NewUploadHandler creates a new upload handler.
func NewUploadHandler(convs *service.ConversationService, extractor *jobs.Extractor, maxBytes int64, log *logger.Logger) *UploadHandler {
	return &UploadHandler{
		conversations: convs,
		extractor:     extractor,
		maxBytes:      maxBytes,
		logger:        log,
	}
}

// Upload handles POST /files/upload?conversationId=
// The file is extracted in the background; observers of the conversation
// are told when its text is available.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := r.URL.Query().Get("conversationId")

	if conversationID == "" {
		writeServiceError(w, r, h.logger, &service.ValidationError{Fields: []string{"conversationId"}})
		return
	}
	if _, err := h.conversations.GetOwned(ctx, userID, conversationID); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		writeServiceError(w, r, h.logger, &service.ValidationError{Fields: []string{"file"}})
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read file")
		return
	}

	jobID, err := h.extractor.Enqueue(jobs.Upload{
		ConversationID: conversationID,
		Name:           filepath.Base(header.Filename),
		Data:           data,
	})
	switch {
	case errors.Is(err, jobs.ErrBusy):
		w.Header().Set("Retry-After", "5")
		writeError(w, http.StatusServiceUnavailable, "extraction backlog full")
		return
	case err != nil:
		h.logger.Warn("failed to enqueue extraction", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "shutting down")
		return
	}

	w.Header().Set("X-Job-ID", jobID)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"jobId":       jobID,
		"name":        filepath.Base(header.Filename),
		"contentType": jobs.Detect(data),
	})
}
