package service

import (
	"context"

	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/store"
)

// VoteService records ratings of assistant messages.
type VoteService struct {
	store         store.Store
	conversations *ConversationService
}

// NewVoteService creates a vote service.
func NewVoteService(st store.Store, conversations *ConversationService) *VoteService {
	return &VoteService{store: st, conversations: conversations}
}

// Vote upserts the caller's rating of a message in an owned conversation.
func (s *VoteService) Vote(ctx context.Context, userID string, req *model.VoteRequest) (*model.Vote, error) {
	var missing []string
	if req.ConversationID == "" {
		missing = append(missing, "conversationId")
	}
	if req.MessageID == "" {
		missing = append(missing, "messageId")
	}
	if req.Type != "up" && req.Type != "down" {
		missing = append(missing, "type")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	if _, err := s.conversations.GetOwned(ctx, userID, req.ConversationID); err != nil {
		return nil, err
	}

	msg, err := s.store.GetMessage(ctx, req.MessageID)
	if err != nil {
		return nil, translate(err, "get message")
	}
	if msg.ConversationID != req.ConversationID {
		return nil, ErrNotFound
	}

	vote := &model.Vote{
		ConversationID: req.ConversationID,
		MessageID:      req.MessageID,
		IsUpvoted:      req.Type == "up",
	}
	if err := s.store.SaveVote(ctx, vote); err != nil {
		return nil, translate(err, "save vote")
	}
	return vote, nil
}

// List returns the votes of a readable conversation.
func (s *VoteService) List(ctx context.Context, userID, conversationID string) ([]model.Vote, error) {
	if conversationID == "" {
		return nil, &ValidationError{Fields: []string{"conversationId"}}
	}
	if _, err := s.conversations.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	votes, err := s.store.ListVotes(ctx, conversationID)
	if err != nil {
		return nil, translate(err, "list votes")
	}
	return votes, nil
}
