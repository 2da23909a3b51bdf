package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/model"
)

const (
	// StreamName is the JetStream stream carrying conversation events.
	StreamName = "CANVAS_EVENTS"
	// SubjectPrefix is the root of every event subject.
	SubjectPrefix = "canvas.events"
	// eventMaxAge bounds how long relayed events are retained. Observers
	// never replay, so this only covers brief relay outages.
	eventMaxAge = time.Minute
)

// EventSubject returns the subject events for conversationID are published on.
func EventSubject(conversationID string) string {
	return SubjectPrefix + "." + subjectToken(conversationID)
}

// subjectToken makes an id safe to use as a single subject token.
func subjectToken(id string) string {
	return strings.NewReplacer(".", "_", "*", "_", ">", "_", " ", "_").Replace(id)
}

// EnsureStream creates or updates the event stream.
func (c *Client) EnsureStream(ctx context.Context) error {
	cfg := jetstream.StreamConfig{
		Name:        StreamName,
		Description: "Conversation events relayed between API instances",
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		Storage:     jetstream.MemoryStorage,
		MaxAge:      eventMaxAge,
		Discard:     jetstream.DiscardOld,
	}

	_, err := c.js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to ensure stream: %w", err)
	}

	c.logger.Info("JetStream stream ready", zap.String("stream", StreamName))
	return nil
}

// PublishEvent publishes an event to JetStream.
func (c *Client) PublishEvent(ctx context.Context, ev model.Event) (uint64, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal event: %w", err)
	}

	ack, err := c.js.Publish(ctx, EventSubject(ev.ConversationID), data)
	if err != nil {
		return 0, fmt.Errorf("failed to publish event: %w", err)
	}

	return ack.Sequence, nil
}

// RelayEvents delivers every event published from now on to deliver until
// ctx is cancelled. It uses an ordered ephemeral consumer, so each instance
// sees every event exactly once per connection and nothing from before it
// started.
func (c *Client) RelayEvents(ctx context.Context, deliver func(model.Event)) error {
	consumer, err := c.js.OrderedConsumer(ctx, StreamName, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{SubjectPrefix + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		ev, err := model.ParseEvent(msg.Data())
		if err != nil {
			c.logger.Warn("dropping malformed event",
				zap.String("subject", msg.Subject()), zap.Error(err))
			return
		}
		deliver(ev)
	})
	if err != nil {
		return fmt.Errorf("failed to consume events: %w", err)
	}
	defer cc.Stop()

	<-ctx.Done()
	return nil
}
