package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/capitalize-ai/canvas-chat/internal/model"
)

var (
	bucketConversations = []byte("conversations")
	bucketMessages      = []byte("messages")
	bucketMessageIndex  = []byte("message_index")
	bucketArtifacts     = []byte("artifacts")
	bucketVotes         = []byte("votes")
)

// Bolt is a Store backed by a single bbolt file. Messages are indexed by
// conversation id + creation time so range deletes are cursor scans.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens (creating if needed) the database at path.
func OpenBolt(path string) (*Bolt, error) {
	if path == "" {
		path = "data/canvas-chat.bolt"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketConversations, bucketMessages, bucketMessageIndex, bucketArtifacts, bucketVotes} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &Bolt{db: db}, nil
}

func tsKey(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UnixNano()))
	return b
}

func prefixKey(parts ...string) []byte {
	var buf bytes.Buffer
	for _, p := range parts {
		buf.WriteString(p)
		buf.WriteByte(0)
	}
	return buf.Bytes()
}

func messageIndexKey(msg *model.Message) []byte {
	key := prefixKey(msg.ConversationID)
	key = append(key, tsKey(msg.CreatedAt)...)
	return append(key, msg.ID...)
}

func artifactKey(a *model.Artifact) []byte {
	return append(prefixKey(a.ID), tsKey(a.CreatedAt)...)
}

func (s *Bolt) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConversations).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &conv)
	})
	if err != nil {
		return nil, err
	}
	return &conv, nil
}

func (s *Bolt) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConversations)
		if b.Get([]byte(conv.ID)) != nil {
			return ErrExists
		}
		return b.Put([]byte(conv.ID), data)
	})
}

func (s *Bolt) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("marshal conversation: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).Put([]byte(conv.ID), data)
	})
}

func (s *Bolt) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	var convs []model.Conversation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketConversations).ForEach(func(k, v []byte) error {
			var conv model.Conversation
			if err := json.Unmarshal(v, &conv); err != nil {
				// skip malformed entries
				return nil
			}
			if conv.UserID == userID {
				convs = append(convs, conv)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortConversations(convs)
	return page(convs, limit, offset), nil
}

func (s *Bolt) DeleteConversation(ctx context.Context, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		convs := tx.Bucket(bucketConversations)
		if convs.Get([]byte(id)) == nil {
			return ErrNotFound
		}
		if err := convs.Delete([]byte(id)); err != nil {
			return err
		}
		if _, err := deleteMessagesFrom(tx, id, nil); err != nil {
			return err
		}
		return deletePrefix(tx.Bucket(bucketVotes), prefixKey(id))
	})
}

func (s *Bolt) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketMessages).Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &msg)
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *Bolt) SaveMessages(ctx context.Context, msgs []model.Message) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		index := tx.Bucket(bucketMessageIndex)

		for i := range msgs {
			msg := &msgs[i]

			if old := messages.Get([]byte(msg.ID)); old != nil {
				var prev model.Message
				if err := json.Unmarshal(old, &prev); err == nil {
					if err := index.Delete(messageIndexKey(&prev)); err != nil {
						return err
					}
				}
			}

			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("marshal message: %w", err)
			}
			if err := messages.Put([]byte(msg.ID), data); err != nil {
				return err
			}
			if err := index.Put(messageIndexKey(msg), []byte(msg.ID)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Bolt) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	var msgs []model.Message
	err := s.db.View(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		prefix := prefixKey(conversationID)
		c := tx.Bucket(bucketMessageIndex).Cursor()

		for k, id := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
			v := messages.Get(id)
			if v == nil {
				continue
			}
			var msg model.Message
			if err := json.Unmarshal(v, &msg); err != nil {
				return fmt.Errorf("decode message %s: %w", id, err)
			}
			msgs = append(msgs, msg)
		}
		return nil
	})
	return msgs, err
}

func (s *Bolt) DeleteMessage(ctx context.Context, conversationID, id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		messages := tx.Bucket(bucketMessages)
		v := messages.Get([]byte(id))
		if v == nil {
			return ErrNotFound
		}
		var msg model.Message
		if err := json.Unmarshal(v, &msg); err != nil {
			return err
		}
		if msg.ConversationID != conversationID {
			return ErrNotFound
		}
		if err := tx.Bucket(bucketMessageIndex).Delete(messageIndexKey(&msg)); err != nil {
			return err
		}
		if err := tx.Bucket(bucketVotes).Delete(prefixKey(conversationID, id)); err != nil {
			return err
		}
		return messages.Delete([]byte(id))
	})
}

func (s *Bolt) DeleteMessagesAfter(ctx context.Context, conversationID string, ts time.Time) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		var err error
		after := ts.Add(time.Nanosecond)
		n, err = deleteMessagesFrom(tx, conversationID, &after)
		return err
	})
	return n, err
}

// deleteMessagesFrom removes the conversation's messages created at or after
// from; a nil from removes all of them.
func deleteMessagesFrom(tx *bolt.Tx, conversationID string, from *time.Time) (int, error) {
	messages := tx.Bucket(bucketMessages)
	index := tx.Bucket(bucketMessageIndex)
	votes := tx.Bucket(bucketVotes)

	prefix := prefixKey(conversationID)
	start := prefix
	if from != nil {
		start = append(append([]byte(nil), prefix...), tsKey(*from)...)
	}

	var keys, ids [][]byte
	c := index.Cursor()
	for k, id := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, id = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
		ids = append(ids, append([]byte(nil), id...))
	}

	for i := range keys {
		if err := index.Delete(keys[i]); err != nil {
			return 0, err
		}
		if err := messages.Delete(ids[i]); err != nil {
			return 0, err
		}
		if err := votes.Delete(prefixKey(conversationID, string(ids[i]))); err != nil {
			return 0, err
		}
	}
	return len(keys), nil
}

func deletePrefix(b *bolt.Bucket, prefix []byte) error {
	var keys [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	for _, k := range keys {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (s *Bolt) SaveArtifact(ctx context.Context, a *model.Artifact) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketArtifacts).Put(artifactKey(a), data)
	})
}

func (s *Bolt) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	versions, err := s.ListArtifactVersions(ctx, id)
	if err != nil {
		return nil, err
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

func (s *Bolt) ListArtifactVersions(ctx context.Context, id string) ([]model.Artifact, error) {
	var versions []model.Artifact
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := prefixKey(id)
		c := tx.Bucket(bucketArtifacts).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var a model.Artifact
			if err := json.Unmarshal(v, &a); err != nil {
				return fmt.Errorf("decode artifact %s: %w", id, err)
			}
			versions = append(versions, a)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return versions, nil
}

func (s *Bolt) DeleteArtifactVersionsAfter(ctx context.Context, id string, ts time.Time) (int, error) {
	var n int
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketArtifacts)
		prefix := prefixKey(id)
		start := append(append([]byte(nil), prefix...), tsKey(ts.Add(time.Nanosecond))...)

		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek(start); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		n = len(keys)
		return nil
	})
	return n, err
}

func (s *Bolt) SaveVote(ctx context.Context, v *model.Vote) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal vote: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVotes).Put(prefixKey(v.ConversationID, v.MessageID), data)
	})
}

func (s *Bolt) ListVotes(ctx context.Context, conversationID string) ([]model.Vote, error) {
	votes := []model.Vote{}
	err := s.db.View(func(tx *bolt.Tx) error {
		prefix := prefixKey(conversationID)
		c := tx.Bucket(bucketVotes).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			var vote model.Vote
			if err := json.Unmarshal(v, &vote); err != nil {
				continue
			}
			votes = append(votes, vote)
		}
		return nil
	})
	return votes, err
}

func (s *Bolt) Ping(ctx context.Context) error {
	return s.db.View(func(tx *bolt.Tx) error { return nil })
}

func (s *Bolt) Close() error {
	return s.db.Close()
}
