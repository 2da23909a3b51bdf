package broadcast

import (
	"errors"
	"net/http"

	"github.com/gin-contrib/sse"
)

// SSEWriter writes frames as server-sent events and flushes each one.
type SSEWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

// NewSSEWriter prepares w for an event stream. It fails if w cannot flush.
func NewSSEWriter(w http.ResponseWriter) (*SSEWriter, error) {
	f, ok := w.(http.Flusher)
	if !ok {
		return nil, errors.New("streaming not supported")
	}

	w.Header().Set("Content-Type", sse.ContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)
	f.Flush()

	return &SSEWriter{w: w, f: f}, nil
}

// WriteEvent encodes one event; data is JSON encoded unless it is a string.
func (s *SSEWriter) WriteEvent(event string, data any) error {
	if err := sse.Encode(s.w, sse.Event{Event: event, Data: data}); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}
