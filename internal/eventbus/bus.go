// Package eventbus routes application events to the broadcast registry,
// either in process or through a broker shared by several API instances.
package eventbus

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/broadcast"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	natsclient "github.com/capitalize-ai/canvas-chat/internal/nats"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// Bus publishes events and relays them to local observers.
type Bus interface {
	// Publish announces ev to every observer of ev.ConversationID.
	Publish(ctx context.Context, ev model.Event) error
	// Run relays broker traffic into the local registry until ctx is done.
	Run(ctx context.Context) error
	Close() error
}

// Config selects and configures a bus.
type Config struct {
	Driver   string // local, nats or redis
	NATS     natsclient.Config
	RedisURL string
}

// Local delivers events straight to the registry of this process.
type Local struct {
	registry *broadcast.Registry
	logger   *logger.Logger
}

// NewLocal creates an in-process bus.
func NewLocal(registry *broadcast.Registry, log *logger.Logger) *Local {
	return &Local{registry: registry, logger: log}
}

// Publish sends ev to the registry.
func (l *Local) Publish(ctx context.Context, ev model.Event) error {
	n := l.registry.Publish(ev.ConversationID, ev)
	l.logger.Debug("event published",
		zap.String("type", string(ev.Type)),
		zap.String("conversation_id", ev.ConversationID),
		zap.Int("delivered", n),
	)
	return nil
}

// Run blocks until ctx is done; there is nothing to relay.
func (l *Local) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// Close is a no-op.
func (l *Local) Close() error { return nil }

// Open builds the bus named by cfg.Driver.
func Open(ctx context.Context, cfg Config, registry *broadcast.Registry, log *logger.Logger) (Bus, error) {
	switch cfg.Driver {
	case "", "local":
		return NewLocal(registry, log), nil
	case "nats":
		return OpenNATS(ctx, cfg.NATS, registry, log)
	case "redis":
		return OpenRedis(ctx, cfg.RedisURL, registry, log)
	default:
		return nil, fmt.Errorf("unknown event bus driver %q", cfg.Driver)
	}
}

// relay hands a broker event to the registry.
func relay(registry *broadcast.Registry, log *logger.Logger, ev model.Event) {
	n := registry.Publish(ev.ConversationID, ev)
	log.Debug("event relayed",
		zap.String("type", string(ev.Type)),
		zap.String("conversation_id", ev.ConversationID),
		zap.Int("delivered", n),
	)
}
