// Package store persists conversations, messages, artifacts and votes.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/capitalize-ai/canvas-chat/internal/model"
)

var (
	// ErrNotFound is returned by point lookups that match nothing.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned by CreateConversation when the id is taken.
	ErrExists = errors.New("already exists")
)

// Store is a keyed document store with point lookups, range queries and
// upsert/delete. Messages are returned in CreatedAt order.
type Store interface {
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// CreateConversation inserts conv only if its id is unused, otherwise it
	// returns ErrExists and leaves the stored conversation untouched.
	CreateConversation(ctx context.Context, conv *model.Conversation) error
	SaveConversation(ctx context.Context, conv *model.Conversation) error
	ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error)
	// DeleteConversation removes the conversation with its messages and votes.
	DeleteConversation(ctx context.Context, id string) error

	GetMessage(ctx context.Context, id string) (*model.Message, error)
	SaveMessages(ctx context.Context, msgs []model.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	DeleteMessage(ctx context.Context, conversationID, id string) error
	// DeleteMessagesAfter removes every message of the conversation created
	// strictly after ts and reports how many were removed.
	DeleteMessagesAfter(ctx context.Context, conversationID string, ts time.Time) (int, error)

	SaveArtifact(ctx context.Context, a *model.Artifact) error
	GetArtifact(ctx context.Context, id string) (*model.Artifact, error)
	ListArtifactVersions(ctx context.Context, id string) ([]model.Artifact, error)
	DeleteArtifactVersionsAfter(ctx context.Context, id string, ts time.Time) (int, error)

	SaveVote(ctx context.Context, v *model.Vote) error
	ListVotes(ctx context.Context, conversationID string) ([]model.Vote, error)

	Ping(ctx context.Context) error
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	Driver        string
	BoltPath      string
	MongoURI      string
	MongoDatabase string
}

// Open returns the backend named by cfg.Driver.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemory(), nil
	case "bolt":
		return OpenBolt(cfg.BoltPath)
	case "mongo":
		return OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func sortMessages(msgs []model.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
}

func sortArtifacts(versions []model.Artifact) {
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})
}

func sortConversations(convs []model.Conversation) {
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
}

func page[T any](items []T, limit, offset int) []T {
	if offset > len(items) {
		offset = len(items)
	}
	end := len(items)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return items[offset:end]
}
