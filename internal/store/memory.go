package store

import (
	"context"
	"sync"
	"time"

	"github.com/capitalize-ai/canvas-chat/internal/model"
)

// Memory is an in-process Store. Data does not survive a restart.
type Memory struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string]model.Message
	artifacts     map[string][]model.Artifact
	votes         map[string]map[string]model.Vote
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]model.Message),
		artifacts:     make(map[string][]model.Artifact),
		votes:         make(map[string]map[string]model.Vote),
	}
}

func (s *Memory) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &conv, nil
}

func (s *Memory) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[conv.ID]; ok {
		return ErrExists
	}
	s.conversations[conv.ID] = *conv
	return nil
}

func (s *Memory) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conv.ID] = *conv
	return nil
}

func (s *Memory) ListConversations(ctx context.Context, userID string, limit, offset int) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var convs []model.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			convs = append(convs, conv)
		}
	}
	sortConversations(convs)
	return page(convs, limit, offset), nil
}

func (s *Memory) DeleteConversation(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrNotFound
	}
	delete(s.conversations, id)
	delete(s.votes, id)
	for msgID, msg := range s.messages {
		if msg.ConversationID == id {
			delete(s.messages, msgID)
		}
	}
	return nil
}

func (s *Memory) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	msg = cloneMessage(msg)
	return &msg, nil
}

func (s *Memory) SaveMessages(ctx context.Context, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, msg := range msgs {
		s.messages[msg.ID] = cloneMessage(msg)
	}
	return nil
}

func (s *Memory) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var msgs []model.Message
	for _, msg := range s.messages {
		if msg.ConversationID == conversationID {
			msgs = append(msgs, cloneMessage(msg))
		}
	}
	sortMessages(msgs)
	return msgs, nil
}

func (s *Memory) DeleteMessage(ctx context.Context, conversationID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[id]
	if !ok || msg.ConversationID != conversationID {
		return ErrNotFound
	}
	delete(s.messages, id)
	if votes := s.votes[conversationID]; votes != nil {
		delete(votes, id)
	}
	return nil
}

func (s *Memory) DeleteMessagesAfter(ctx context.Context, conversationID string, ts time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, msg := range s.messages {
		if msg.ConversationID == conversationID && msg.CreatedAt.After(ts) {
			delete(s.messages, id)
			if votes := s.votes[conversationID]; votes != nil {
				delete(votes, id)
			}
			n++
		}
	}
	return n, nil
}

func (s *Memory) SaveArtifact(ctx context.Context, a *model.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.artifacts[a.ID] = append(s.artifacts[a.ID], *a)
	sortArtifacts(s.artifacts[a.ID])
	return nil
}

func (s *Memory) GetArtifact(ctx context.Context, id string) (*model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.artifacts[id]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	latest := versions[len(versions)-1]
	return &latest, nil
}

func (s *Memory) ListArtifactVersions(ctx context.Context, id string) ([]model.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	versions := s.artifacts[id]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return append([]model.Artifact(nil), versions...), nil
}

func (s *Memory) DeleteArtifactVersionsAfter(ctx context.Context, id string, ts time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	versions := s.artifacts[id]
	kept := versions[:0]
	for _, v := range versions {
		if !v.CreatedAt.After(ts) {
			kept = append(kept, v)
		}
	}
	n := len(versions) - len(kept)
	if len(kept) == 0 {
		delete(s.artifacts, id)
	} else {
		s.artifacts[id] = kept
	}
	return n, nil
}

func (s *Memory) SaveVote(ctx context.Context, v *model.Vote) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	votes := s.votes[v.ConversationID]
	if votes == nil {
		votes = make(map[string]model.Vote)
		s.votes[v.ConversationID] = votes
	}
	votes[v.MessageID] = *v
	return nil
}

func (s *Memory) ListVotes(ctx context.Context, conversationID string) ([]model.Vote, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	votes := make([]model.Vote, 0, len(s.votes[conversationID]))
	for _, v := range s.votes[conversationID] {
		votes = append(votes, v)
	}
	return votes, nil
}

func (s *Memory) Ping(ctx context.Context) error { return nil }

func (s *Memory) Close() error { return nil }

func cloneMessage(msg model.Message) model.Message {
	msg.Parts = append([]model.Part(nil), msg.Parts...)
	msg.Attachments = append([]model.Attachment(nil), msg.Attachments...)
	return msg
}
