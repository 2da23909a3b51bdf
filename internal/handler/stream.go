package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/middleware"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/ratelimit"
	"github.com/capitalize-ai/canvas-chat/internal/service"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// dataStream writes data stream lines of the form <code>:<json>. The status
// line and headers are sent with the first frame, so failures before any
// output can still be reported as an HTTP status.
type dataStream struct {
	w       http.ResponseWriter
	f       http.Flusher
	started bool
}

func newDataStream(w http.ResponseWriter) *dataStream {
	f, _ := w.(http.Flusher)
	return &dataStream{w: w, f: f}
}

// WriteFrame encodes and flushes one frame.
func (s *dataStream) WriteFrame(code model.StreamCode, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	if !s.started {
		h := s.w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("Cache-Control", "no-cache")
		h.Set("X-Vercel-AI-Data-Stream", "v1")
		h.Set("X-Accel-Buffering", "no")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}

	if _, err := fmt.Fprintf(s.w, "%s:%s\n", code, data); err != nil {
		return err
	}
	if s.f != nil {
		s.f.Flush()
	}
	return nil
}

// ChatHandler handles POST /conversation.
type ChatHandler struct {
	reconciler *service.Reconciler
	logger     *logger.Logger
}

// NewChatHandler creates a new chat handler.
func NewChatHandler(reconciler *service.Reconciler, log *logger.Logger) *ChatHandler {
	return &ChatHandler{
		reconciler: reconciler,
		logger:     log,
	}
}

// Submit handles POST /conversation. The answer is streamed as data stream
// lines; a failure after the first line is reported as an error frame.
func (h *ChatHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)

	var req model.ChatRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := middleware.ValidateID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out := newDataStream(w)
	err := h.reconciler.SubmitTurn(ctx, userID, &req, out)
	if err == nil {
		return
	}

	if !out.started {
		writeServiceError(w, r, h.logger, err)
		return
	}
	log := logger.FromContext(ctx, h.logger).ForConversation(req.ID, userID)
	if errors.Is(err, context.Canceled) {
		log.Debug("client went away mid stream")
		return
	}
	log.Warn("turn failed after output started", zap.Error(err))
	if werr := out.WriteFrame(model.StreamError, streamErrorMessage(err)); werr != nil {
		log.Debug("failed to write error frame", zap.Error(werr))
	}
}

// streamErrorMessage is the text sent in an error frame.
func streamErrorMessage(err error) string {
	var verr *service.ValidationError
	var uerr *service.UpstreamError
	var limited *ratelimit.RateLimitedError
	switch {
	case errors.As(err, &limited):
		return limited.Error()
	case errors.As(err, &verr):
		return verr.Error()
	case errors.As(err, &uerr):
		return "upstream failure"
	default:
		return "An error occurred."
	}
}
