package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/canvas-chat/internal/model"
)

var base = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func backends(t *testing.T) map[string]Store {
	t.Helper()

	b, err := OpenBolt(filepath.Join(t.TempDir(), "chat.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	return map[string]Store{
		"memory": NewMemory(),
		"bolt":   b,
	}
}

func msg(conv, id string, offset time.Duration, text string) model.Message {
	return model.Message{
		ID:             id,
		ConversationID: conv,
		Role:           model.RoleUser,
		Parts:          []model.Part{model.TextPart(text)},
		CreatedAt:      base.Add(offset),
	}
}

func TestStore_MessagesOrderedByCreatedAt(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveMessages(ctx, []model.Message{
				msg("c1", "m3", 3*time.Millisecond, "three"),
				msg("c1", "m1", 1*time.Millisecond, "one"),
				msg("c2", "x1", 2*time.Millisecond, "other"),
				msg("c1", "m2", 2*time.Millisecond, "two"),
			}))

			got, err := s.ListMessages(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, got, 3)
			assert.Equal(t, "m1", got[0].ID)
			assert.Equal(t, "m2", got[1].ID)
			assert.Equal(t, "m3", got[2].ID)
			assert.Equal(t, "two", got[1].Text())
		})
	}
}

func TestStore_UpsertMessageMovesIndex(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveMessages(ctx, []model.Message{
				msg("c1", "m1", time.Millisecond, "old"),
				msg("c1", "m2", 2*time.Millisecond, "next"),
			}))
			require.NoError(t, s.SaveMessages(ctx, []model.Message{
				msg("c1", "m1", 3*time.Millisecond, "new"),
			}))

			got, err := s.ListMessages(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "m2", got[0].ID)
			assert.Equal(t, "new", got[1].Text())
		})
	}
}

func TestStore_DeleteMessagesAfterIsStrict(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveMessages(ctx, []model.Message{
				msg("c1", "m1", 1*time.Millisecond, "a"),
				msg("c1", "m2", 2*time.Millisecond, "b"),
				msg("c1", "m3", 3*time.Millisecond, "c"),
				msg("c1", "m4", 4*time.Millisecond, "d"),
				msg("c2", "x1", 5*time.Millisecond, "e"),
			}))
			require.NoError(t, s.SaveVote(ctx, &model.Vote{ConversationID: "c1", MessageID: "m4", IsUpvoted: true}))
			require.NoError(t, s.SaveVote(ctx, &model.Vote{ConversationID: "c1", MessageID: "m1", IsUpvoted: false}))

			n, err := s.DeleteMessagesAfter(ctx, "c1", base.Add(2*time.Millisecond))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			got, err := s.ListMessages(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "m2", got[1].ID)

			other, err := s.ListMessages(ctx, "c2")
			require.NoError(t, err)
			assert.Len(t, other, 1)

			votes, err := s.ListVotes(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, votes, 1)
			assert.Equal(t, "m1", votes[0].MessageID)

			n, err = s.DeleteMessagesAfter(ctx, "c1", base.Add(time.Hour))
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestStore_DeleteMessage(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveMessages(ctx, []model.Message{msg("c1", "m1", 0, "a")}))

			assert.ErrorIs(t, s.DeleteMessage(ctx, "c2", "m1"), ErrNotFound)
			require.NoError(t, s.DeleteMessage(ctx, "c1", "m1"))
			assert.ErrorIs(t, s.DeleteMessage(ctx, "c1", "m1"), ErrNotFound)

			_, err := s.GetMessage(ctx, "m1")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_ConversationsListedNewestFirst(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, id := range []string{"a", "b", "c"} {
				require.NoError(t, s.SaveConversation(ctx, &model.Conversation{
					ID: id, UserID: "u1", Title: id, CreatedAt: base.Add(time.Duration(i) * time.Minute),
				}))
			}
			require.NoError(t, s.SaveConversation(ctx, &model.Conversation{ID: "z", UserID: "u2", CreatedAt: base}))

			got, err := s.ListConversations(ctx, "u1", 2, 0)
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "c", got[0].ID)
			assert.Equal(t, "b", got[1].ID)

			got, err = s.ListConversations(ctx, "u1", 2, 2)
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "a", got[0].ID)

			got, err = s.ListConversations(ctx, "u1", 10, 5)
			require.NoError(t, err)
			assert.Empty(t, got)
		})
	}
}

func TestStore_CreateConversationKeepsFirstOwner(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.CreateConversation(ctx, &model.Conversation{ID: "c1", UserID: "alice", CreatedAt: base}))
			err := s.CreateConversation(ctx, &model.Conversation{ID: "c1", UserID: "mallory", CreatedAt: base})
			assert.ErrorIs(t, err, ErrExists)

			conv, err := s.GetConversation(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, "alice", conv.UserID)
		})
	}
}

func TestStore_DeleteConversationCascades(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveConversation(ctx, &model.Conversation{ID: "c1", UserID: "u1", CreatedAt: base}))
			require.NoError(t, s.SaveMessages(ctx, []model.Message{msg("c1", "m1", 0, "a")}))
			require.NoError(t, s.SaveVote(ctx, &model.Vote{ConversationID: "c1", MessageID: "m1", IsUpvoted: true}))

			require.NoError(t, s.DeleteConversation(ctx, "c1"))

			_, err := s.GetConversation(ctx, "c1")
			assert.ErrorIs(t, err, ErrNotFound)
			msgs, err := s.ListMessages(ctx, "c1")
			require.NoError(t, err)
			assert.Empty(t, msgs)
			votes, err := s.ListVotes(ctx, "c1")
			require.NoError(t, err)
			assert.Empty(t, votes)

			assert.ErrorIs(t, s.DeleteConversation(ctx, "c1"), ErrNotFound)
		})
	}
}

func TestStore_ArtifactVersions(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for i, content := range []string{"v1", "v2", "v3"} {
				require.NoError(t, s.SaveArtifact(ctx, &model.Artifact{
					ID: "doc", Title: "Doc", Kind: "text", Content: content, UserID: "u1",
					CreatedAt: base.Add(time.Duration(i) * time.Second),
				}))
			}

			latest, err := s.GetArtifact(ctx, "doc")
			require.NoError(t, err)
			assert.Equal(t, "v3", latest.Content)

			n, err := s.DeleteArtifactVersionsAfter(ctx, "doc", base)
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			versions, err := s.ListArtifactVersions(ctx, "doc")
			require.NoError(t, err)
			require.Len(t, versions, 1)
			assert.Equal(t, "v1", versions[0].Content)

			_, err = s.GetArtifact(ctx, "missing")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestStore_VoteUpsert(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.SaveVote(ctx, &model.Vote{ConversationID: "c1", MessageID: "m1", IsUpvoted: true}))
			require.NoError(t, s.SaveVote(ctx, &model.Vote{ConversationID: "c1", MessageID: "m1", IsUpvoted: false}))

			votes, err := s.ListVotes(ctx, "c1")
			require.NoError(t, err)
			require.Len(t, votes, 1)
			assert.False(t, votes[0].IsUpvoted)
		})
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), Config{Driver: "cassandra"})
	assert.Error(t, err)

	s, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	assert.NoError(t, s.Ping(context.Background()))
}
