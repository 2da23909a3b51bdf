package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event is one frame received on a push channel.
type Event struct {
	Name string
	Data string
}

// EventStream follows the push channel of one conversation. It reopens the
// channel after every failure, rejections included, until it is closed, and
// counts any frame, heartbeats included, as a sign of life.
type EventStream struct {
	client         *Client
	conversationID string

	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	subs     map[chan Event]struct{}
	lastSeen time.Time
	connects int
	err      error
}

// OpenEvents starts following conversationID. The stream runs until ctx is
// cancelled or Close is called.
func (c *Client) OpenEvents(ctx context.Context, conversationID string) *EventStream {
	ctx, cancel := context.WithCancel(ctx)
	s := &EventStream{
		client:         c,
		conversationID: conversationID,
		cancel:         cancel,
		done:           make(chan struct{}),
		subs:           make(map[chan Event]struct{}),
	}
	go s.run(ctx)
	return s
}

// Close stops the stream and waits for it to finish.
func (s *EventStream) Close() {
	s.cancel()
	<-s.done
}

// Done is closed when the stream has stopped.
func (s *EventStream) Done() <-chan struct{} { return s.done }

// Err returns the most recent failure to open or read the channel. It is
// cleared once a channel opens again.
func (s *EventStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastSeen returns when the last frame arrived.
func (s *EventStream) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// Connects returns how many times the channel has been opened.
func (s *EventStream) Connects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connects
}

// Subscribe returns a channel receiving every later frame. Frames are
// dropped for subscribers that fall behind. Call the returned func to
// unsubscribe.
func (s *EventStream) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	s.mu.Lock()
	s.subs[ch] = struct{}{}
	s.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, ch)
			s.mu.Unlock()
		})
	}
}

// WaitFor blocks until a frame named eventType arrives or the fallback timer
// fires, whichever is first. It reports whether the event was seen. The
// timer runs independently of the channel, so a dropped channel still ends
// the wait.
func (s *EventStream) WaitFor(ctx context.Context, eventType string, fallback time.Duration) (bool, error) {
	ch, unsubscribe := s.Subscribe()
	defer unsubscribe()

	timer := time.NewTimer(fallback)
	defer timer.Stop()

	for {
		select {
		case ev := <-ch:
			if ev.Name == eventType {
				return true, nil
			}
		case <-timer.C:
			return false, nil
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}

// errRejected marks responses the server refused outright. They are
// retried like any other failure but logged louder.
var errRejected = errors.New("push channel rejected")

func (s *EventStream) run(ctx context.Context) {
	defer close(s.done)
	log := s.client.logger.With(zap.String("conversation_id", s.conversationID))

	for {
		err := s.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		if errors.Is(err, errRejected) {
			log.Warn("push channel rejected, retrying", zap.Error(err))
		} else {
			log.Debug("push channel dropped, reconnecting", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.client.reconnectDelay):
		}
	}
}

// connect opens the channel once and reads it until it fails.
func (s *EventStream) connect(ctx context.Context) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := s.client.newRequest(connCtx, http.MethodGet,
		"/conversation/events?conversationId="+url.QueryEscape(s.conversationID), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := s.client.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusBadRequest:
		return errors.Join(errRejected, apiError(resp))
	default:
		return apiError(resp)
	}

	s.mu.Lock()
	s.connects++
	s.err = nil
	s.mu.Unlock()

	frames := make(chan Event)
	readErr := make(chan error, 1)
	go func() {
		readErr <- readFrames(resp.Body, func(ev Event) bool {
			select {
			case frames <- ev:
				return true
			case <-connCtx.Done():
				return false
			}
		})
	}()

	idle := time.NewTimer(s.client.idleTimeout)
	defer idle.Stop()

	for {
		select {
		case ev := <-frames:
			s.deliver(ev)
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(s.client.idleTimeout)
		case err := <-readErr:
			if err == nil {
				err = io.EOF
			}
			return err
		case <-idle.C:
			cancel()
			<-readErr
			return errors.New("push channel idle")
		case <-ctx.Done():
			cancel()
			<-readErr
			return ctx.Err()
		}
	}
}

func (s *EventStream) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastSeen = time.Now()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// readFrames parses an event stream, calling emit for each complete frame
// until emit returns false or the body ends.
func readFrames(r io.Reader, emit func(Event) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), 1<<20)

	var ev Event
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if ev.Name != "" || len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				if ev.Name == "" {
					ev.Name = "message"
				}
				if !emit(ev) {
					return nil
				}
			}
			ev, data = Event{}, nil
		case strings.HasPrefix(line, ":"):
			// comment
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				ev.Name = value
			case "data":
				data = append(data, value)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
