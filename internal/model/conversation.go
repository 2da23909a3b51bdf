// Package model defines data structures for the conversation platform.
package model

import (
	"time"
)

// Visibility controls who may read a conversation.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// Valid reports whether v is a known visibility.
func (v Visibility) Valid() bool {
	return v == VisibilityPrivate || v == VisibilityPublic
}

// Conversation represents a conversation thread.
type Conversation struct {
	ID         string     `json:"id" bson:"_id"`
	UserID     string     `json:"userId" bson:"user_id"`
	Title      string     `json:"title" bson:"title"`
	Visibility Visibility `json:"visibility" bson:"visibility"`
	ModelID    string     `json:"modelId" bson:"model_id"`
	CreatedAt  time.Time  `json:"createdAt" bson:"created_at"`
}

// UpdateConversationRequest changes mutable conversation settings.
type UpdateConversationRequest struct {
	ID         string     `json:"id"`
	Visibility Visibility `json:"visibility,omitempty"`
	ModelID    string     `json:"modelId,omitempty"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	HasMore       bool           `json:"hasMore"`
}

// Vote is a user's rating of an assistant message.
type Vote struct {
	ConversationID string `json:"conversationId" bson:"conversation_id"`
	MessageID      string `json:"messageId" bson:"message_id"`
	IsUpvoted      bool   `json:"isUpvoted" bson:"is_upvoted"`
}

// VoteRequest is the body of PATCH /vote.
type VoteRequest struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	Type           string `json:"type"`
}
