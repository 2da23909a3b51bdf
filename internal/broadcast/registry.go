// Package broadcast fans out conversation events to open push channels.
package broadcast

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
	"github.com/capitalize-ai/canvas-chat/pkg/metrics"
)

// DefaultHeartbeat is the heartbeat period of a channel.
const DefaultHeartbeat = 15 * time.Second

// ErrClosed is returned when writing to a closed channel.
var ErrClosed = errors.New("channel closed")

// Writer delivers one named frame to an observer.
type Writer interface {
	WriteEvent(event string, data any) error
}

// WriterFunc adapts a function to Writer.
type WriterFunc func(event string, data any) error

// WriteEvent calls f.
func (f WriterFunc) WriteEvent(event string, data any) error { return f(event, data) }

// Channel is one registered observer. It is torn down exactly once, by
// whichever comes first of Close, cancellation of its context or a failed
// write.
type Channel struct {
	conversationID string
	w              Writer
	registry       *Registry

	mu   sync.Mutex
	once sync.Once
	done chan struct{}
}

// ConversationID returns the conversation the channel observes.
func (c *Channel) ConversationID() string { return c.conversationID }

// Done is closed when the channel has been torn down.
func (c *Channel) Done() <-chan struct{} { return c.done }

// Close unregisters the channel and stops its heartbeat. It waits for a
// write already in progress, so once Done is closed the Writer is never
// touched again. Safe to call more than once.
func (c *Channel) Close() {
	c.once.Do(func() {
		c.registry.Unregister(c.conversationID, c)
		c.mu.Lock()
		close(c.done)
		c.mu.Unlock()
		metrics.DecrementChannels()
	})
}

// send writes one frame. A failed write closes the channel.
func (c *Channel) send(event string, data any) error {
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return ErrClosed
	default:
	}
	err := c.w.WriteEvent(event, data)
	c.mu.Unlock()

	if err != nil {
		metrics.BroadcastWriteFailures.Inc()
		c.Close()
	}
	return err
}

func (c *Channel) heartbeat(ctx context.Context, period time.Duration, now func() time.Time) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.send(string(model.EventHeartbeat), model.HeartbeatEvent{Timestamp: now()}); err != nil {
				return
			}
		}
	}
}

// Registry maps conversation ids to their open channels. Sets are created on
// first registration and removed once empty.
type Registry struct {
	mu        sync.Mutex
	channels  map[string]map[*Channel]struct{}
	heartbeat time.Duration
	logger    *logger.Logger
	now       func() time.Time
}

// NewRegistry creates a registry whose channels send a heartbeat every period.
func NewRegistry(period time.Duration, log *logger.Logger) *Registry {
	if period <= 0 {
		period = DefaultHeartbeat
	}
	return &Registry{
		channels:  make(map[string]map[*Channel]struct{}),
		heartbeat: period,
		logger:    log,
		now:       time.Now,
	}
}

// Register adds a channel for conversationID, sends it a connected frame and
// starts its heartbeat. The channel closes when ctx is cancelled.
func (r *Registry) Register(ctx context.Context, conversationID string, w Writer) *Channel {
	c := &Channel{
		conversationID: conversationID,
		w:              w,
		registry:       r,
		done:           make(chan struct{}),
	}

	r.mu.Lock()
	set, ok := r.channels[conversationID]
	if !ok {
		set = make(map[*Channel]struct{})
		r.channels[conversationID] = set
	}
	set[c] = struct{}{}
	r.mu.Unlock()

	metrics.IncrementChannels()

	if err := c.send(string(model.EventConnected), model.HeartbeatEvent{Timestamp: r.now()}); err != nil {
		r.logger.Debug("push channel failed on connect",
			zap.String("conversation_id", conversationID), zap.Error(err))
		return c
	}

	go c.heartbeat(ctx, r.heartbeat, r.now)
	return c
}

// Unregister removes c from its set. Safe to call repeatedly and for
// conversations without channels.
func (r *Registry) Unregister(conversationID string, c *Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.channels[conversationID]
	if !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(r.channels, conversationID)
	}
}

// Publish sends ev to every channel currently registered for
// conversationID and reports how many received it. Delivery is best effort:
// a failing channel is closed and skipped, and nothing is buffered for
// channels that register later.
func (r *Registry) Publish(conversationID string, ev model.Event) int {
	r.mu.Lock()
	targets := make([]*Channel, 0, len(r.channels[conversationID]))
	for c := range r.channels[conversationID] {
		targets = append(targets, c)
	}
	r.mu.Unlock()

	metrics.BroadcastPublishes.WithLabelValues(string(ev.Type)).Inc()

	delivered := 0
	for _, c := range targets {
		if err := c.send(string(ev.Type), ev); err != nil {
			r.logger.Debug("dropping push channel",
				zap.String("conversation_id", conversationID), zap.Error(err))
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of open channels for conversationID.
func (r *Registry) Count(conversationID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.channels[conversationID])
}

// Close tears down every channel. Used on shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	var all []*Channel
	for _, set := range r.channels {
		for c := range set {
			all = append(all, c)
		}
	}
	r.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
}
