// Package service provides business logic for the conversation platform.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/llm"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/store"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
	"github.com/capitalize-ai/canvas-chat/pkg/metrics"
)

const (
	maxTitleLength   = 80
	defaultPageLimit = 20
	maxPageLimit     = 100
)

const titlePrompt = `You generate a short title based on the first message a user begins a conversation with.
Keep it under 80 characters. Use no quotes or colons. Reply with the title only.`

// ConversationService handles conversation operations.
type ConversationService struct {
	store  store.Store
	llm    llm.Client
	logger *logger.Logger
	now    func() time.Time
}

// NewConversationService creates a new conversation service. llmClient is
// used for title generation and may be nil.
func NewConversationService(st store.Store, llmClient llm.Client, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  st,
		llm:    llmClient,
		logger: log,
		now:    time.Now,
	}
}

// Get returns a conversation the caller may read: their own, or any public one.
func (s *ConversationService) Get(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, translate(err, "get conversation")
	}
	if conv.UserID != userID && conv.Visibility != model.VisibilityPublic {
		return nil, ErrUnauthorized
	}
	return conv, nil
}

// GetOwned returns a conversation only if the caller owns it.
func (s *ConversationService) GetOwned(ctx context.Context, userID, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, translate(err, "get conversation")
	}
	if conv.UserID != userID {
		return nil, ErrUnauthorized
	}
	return conv, nil
}

// Create stores a new private conversation titled from firstMessage. The
// title is generated before the insert; if the id was claimed meanwhile the
// existing conversation is kept and store.ErrExists is returned.
func (s *ConversationService) Create(ctx context.Context, userID, conversationID, modelID, firstMessage string) (*model.Conversation, error) {
	if conversationID == "" {
		conversationID = uuid.Must(uuid.NewV7()).String()
	}

	conv := &model.Conversation{
		ID:         conversationID,
		UserID:     userID,
		Title:      s.GenerateTitle(ctx, firstMessage),
		Visibility: model.VisibilityPrivate,
		ModelID:    modelID,
		CreatedAt:  s.now().UTC(),
	}

	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, translate(err, "create conversation")
	}

	metrics.ConversationsTotal.Inc()
	s.logger.Info("conversation created",
		zap.String("conversation_id", conv.ID),
		zap.String("user_id", userID),
	)

	return conv, nil
}

// GenerateTitle asks the model for a title. Any failure falls back to the
// truncated message text.
func (s *ConversationService) GenerateTitle(ctx context.Context, firstMessage string) string {
	fallback := truncate(strings.TrimSpace(firstMessage), maxTitleLength)
	if s.llm == nil {
		return fallback
	}

	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		System:    titlePrompt,
		Messages:  []llm.ChatMessage{{Role: string(model.RoleUser), Content: firstMessage}},
		MaxTokens: 32,
	})
	if err != nil {
		s.logger.Warn("title generation failed", zap.Error(err))
		return fallback
	}

	title, _ := llm.SplitReasoning(resp.Content)
	title = strings.Trim(strings.TrimSpace(title), `"'`)
	if title == "" {
		return fallback
	}
	return truncate(title, maxTitleLength)
}

// List returns the caller's conversations, newest first.
func (s *ConversationService) List(ctx context.Context, userID string, limit, offset int) (*model.ListConversationsResponse, error) {
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	if offset < 0 {
		offset = 0
	}

	// one extra row tells whether another page exists
	convs, err := s.store.ListConversations(ctx, userID, limit+1, offset)
	if err != nil {
		return nil, translate(err, "list conversations")
	}

	hasMore := len(convs) > limit
	if hasMore {
		convs = convs[:limit]
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		HasMore:       hasMore,
	}, nil
}

// Update changes visibility or model of an owned conversation.
func (s *ConversationService) Update(ctx context.Context, userID string, req *model.UpdateConversationRequest) (*model.Conversation, error) {
	var missing []string
	if req.ID == "" {
		missing = append(missing, "id")
	}
	if req.Visibility != "" && !req.Visibility.Valid() {
		missing = append(missing, "visibility")
	}
	if req.Visibility == "" && req.ModelID == "" {
		missing = append(missing, "visibility|modelId")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	conv, err := s.GetOwned(ctx, userID, req.ID)
	if err != nil {
		return nil, err
	}

	if req.Visibility != "" {
		conv.Visibility = req.Visibility
	}
	if req.ModelID != "" {
		conv.ModelID = req.ModelID
	}

	if err := s.store.SaveConversation(ctx, conv); err != nil {
		return nil, translate(err, "update conversation")
	}
	return conv, nil
}

// Delete removes an owned conversation with its messages and votes.
func (s *ConversationService) Delete(ctx context.Context, userID, conversationID string) error {
	if conversationID == "" {
		return &ValidationError{Fields: []string{"id"}}
	}
	if _, err := s.GetOwned(ctx, userID, conversationID); err != nil {
		return err
	}
	if err := s.store.DeleteConversation(ctx, conversationID); err != nil {
		return translate(err, "delete conversation")
	}

	s.logger.Info("conversation deleted",
		zap.String("conversation_id", conversationID),
		zap.String("user_id", userID),
	)
	return nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
