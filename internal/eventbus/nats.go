package eventbus

import (
	"context"
	"errors"

	"github.com/capitalize-ai/canvas-chat/internal/broadcast"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	natsclient "github.com/capitalize-ai/canvas-chat/internal/nats"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// NATS relays events through a JetStream stream.
type NATS struct {
	client   *natsclient.Client
	registry *broadcast.Registry
	logger   *logger.Logger
}

// OpenNATS connects and makes sure the event stream exists.
func OpenNATS(ctx context.Context, cfg natsclient.Config, registry *broadcast.Registry, log *logger.Logger) (*NATS, error) {
	client, err := natsclient.Connect(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if err := client.EnsureStream(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return &NATS{client: client, registry: registry, logger: log}, nil
}

// Publish writes ev to the stream. Local observers receive it through Run.
func (n *NATS) Publish(ctx context.Context, ev model.Event) error {
	_, err := n.client.PublishEvent(ctx, ev)
	return err
}

// Run relays stream events into the registry.
func (n *NATS) Run(ctx context.Context) error {
	return n.client.RelayEvents(ctx, func(ev model.Event) {
		relay(n.registry, n.logger, ev)
	})
}

// Close drains the connection.
func (n *NATS) Close() error {
	n.client.Close()
	return nil
}

// Ping reports whether the connection is up.
func (n *NATS) Ping(ctx context.Context) error {
	if !n.client.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}
