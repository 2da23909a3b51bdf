package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/llm"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/ratelimit"
	"github.com/capitalize-ai/canvas-chat/internal/store"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
	"github.com/capitalize-ai/canvas-chat/pkg/metrics"
)

const systemPrompt = `You are a friendly assistant! Keep your responses concise and helpful.

Documents are a side panel that helps users with writing, editing and other content creation tasks.
Use createDocument for substantial content (over 10 lines) or code, and updateDocument only after the
user asks for changes. Do not update a document right after creating it; wait for feedback.`

// DefaultMaxSteps bounds the provider calls of one turn.
const DefaultMaxSteps = 5

// StreamWriter receives the frames of a generation as they are produced.
// The first write commits the response.
type StreamWriter interface {
	WriteFrame(code model.StreamCode, payload any) error
}

// EventPublisher announces application events to conversation observers.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// ToolExecutor runs the tools the model may call.
type ToolExecutor interface {
	Tools() []llm.Tool
	Execute(ctx context.Context, tc ToolContext, call llm.ToolCall) (any, error)
}

// ReconcilerConfig holds the reconciler's collaborators.
type ReconcilerConfig struct {
	Store         store.Store
	Conversations *ConversationService
	LLM           llm.Client
	Tools         ToolExecutor
	Events        EventPublisher
	Logger        *logger.Logger
	MaxSteps      int
	DefaultModel  string
}

// Reconciler records turns, drives generations and keeps history linear.
type Reconciler struct {
	store         store.Store
	conversations *ConversationService
	llm           llm.Client
	tools         ToolExecutor
	events        EventPublisher
	logger        *logger.Logger
	stamps        *stamper
	tracer        trace.Tracer
	maxSteps      int
	defaultModel  string
}

// NewReconciler creates a reconciler.
func NewReconciler(cfg ReconcilerConfig) *Reconciler {
	maxSteps := cfg.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Reconciler{
		store:         cfg.Store,
		conversations: cfg.Conversations,
		llm:           cfg.LLM,
		tools:         cfg.Tools,
		events:        cfg.Events,
		logger:        cfg.Logger,
		stamps:        newStamper(time.Now),
		tracer:        otel.Tracer("github.com/capitalize-ai/canvas-chat/internal/service"),
		maxSteps:      maxSteps,
		defaultModel:  cfg.DefaultModel,
	}
}

// SubmitTurn persists the user's turn, streams the model's answer to out and
// persists the sanitized assistant messages once the generation completes.
// A failed generation leaves the user message in place and persists nothing
// else.
func (r *Reconciler) SubmitTurn(ctx context.Context, userID string, req *model.ChatRequest, out StreamWriter) error {
	turn, err := lastUserMessage(req)
	if err != nil {
		return err
	}

	ctx, span := r.tracer.Start(ctx, "reconciler.SubmitTurn",
		trace.WithAttributes(attribute.String("conversation.id", req.ID)))
	defer span.End()

	log := logger.FromContext(ctx, r.logger).ForConversation(req.ID, userID)

	conv, err := r.resolveConversation(ctx, userID, req, turn.Text())
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	history, err := r.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return translate(err, "load history")
	}
	if n := len(history); n > 0 {
		r.stamps.observe(conv.ID, history[n-1].CreatedAt)
	}

	turn.ConversationID = conv.ID
	turn.CreatedAt = r.stamps.next(conv.ID)
	if err := r.store.SaveMessages(ctx, []model.Message{turn}); err != nil {
		return translate(err, "save user message")
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleUser)).Inc()

	history = append(history, turn)

	modelID := req.ModelID
	if modelID == "" {
		modelID = conv.ModelID
	}
	if modelID == "" {
		modelID = r.defaultModel
	}

	raw, err := r.generate(ctx, userID, conv.ID, modelID, history, out)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		log.Warn("generation aborted", zap.Error(err))
		return err
	}

	msgs := Sanitize(raw)
	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		msgs[i].ID = uuid.Must(uuid.NewV7()).String()
		msgs[i].ConversationID = conv.ID
		msgs[i].CreatedAt = r.stamps.next(conv.ID)
		ids = append(ids, msgs[i].ID)
	}

	if len(msgs) > 0 {
		if err := r.store.SaveMessages(ctx, msgs); err != nil {
			log.Error("failed to persist assistant messages", zap.Error(err))
			return translate(err, "save assistant messages")
		}
		for _, m := range msgs {
			metrics.MessagesTotal.WithLabelValues(string(m.Role)).Inc()
		}
	}

	log.Info("turn completed", zap.Int("messages", len(msgs)))
	return out.WriteFrame(model.StreamFinish, model.FinishFrame{FinishReason: "stop", MessageIDs: ids})
}

// resolveConversation loads or creates the conversation. A concurrent first
// turn for the same id loses the insert and falls through to the owner check.
func (r *Reconciler) resolveConversation(ctx context.Context, userID string, req *model.ChatRequest, text string) (*model.Conversation, error) {
	conv, err := r.store.GetConversation(ctx, req.ID)
	if errors.Is(err, store.ErrNotFound) {
		conv, err = r.conversations.Create(ctx, userID, req.ID, req.ModelID, text)
		if !errors.Is(err, store.ErrExists) {
			return conv, err
		}
		conv, err = r.store.GetConversation(ctx, req.ID)
	}
	if err != nil {
		return nil, translate(err, "get conversation")
	}
	if conv.UserID != userID {
		return nil, ErrUnauthorized
	}
	return conv, nil
}

// generate runs the provider/tool loop and returns the raw messages it
// produced. Nothing is persisted here.
func (r *Reconciler) generate(ctx context.Context, userID, conversationID, modelID string, history []model.Message, out StreamWriter) ([]model.Message, error) {
	system, prompt := toLLMMessages(history)
	if system != "" {
		system = systemPrompt + "\n\nContext from documents the user attached:\n" + system
	} else {
		system = systemPrompt
	}

	var tools []llm.Tool
	if r.tools != nil {
		tools = r.tools.Tools()
	}
	tc := ToolContext{UserID: userID, ConversationID: conversationID, ModelID: modelID, Out: out}

	var raw []model.Message
	for step := 0; step < r.maxSteps; step++ {
		var splitter llm.ThinkSplitter
		var text, reasoning strings.Builder

		emit := func(segs []llm.Segment) error {
			for _, seg := range segs {
				code := model.StreamText
				if seg.Reasoning {
					code = model.StreamReasoning
					reasoning.WriteString(seg.Text)
				} else {
					text.WriteString(seg.Text)
				}
				if err := out.WriteFrame(code, seg.Text); err != nil {
					return err
				}
			}
			return nil
		}

		resp, err := r.llm.CompleteStream(ctx, &llm.CompletionRequest{
			Model:    modelID,
			System:   system,
			Messages: prompt,
			Tools:    tools,
			Stream:   true,
		}, func(token string, _ int) error {
			return emit(splitter.Push(token))
		})
		if err != nil {
			return nil, upstream(ctx, err)
		}
		if err := emit(splitter.Flush()); err != nil {
			return nil, err
		}

		assistant := model.Message{Role: model.RoleAssistant}
		if reasoning.Len() > 0 {
			assistant.Parts = append(assistant.Parts, model.Part{Type: model.PartReasoning, Reasoning: reasoning.String()})
		}
		assistant.Parts = append(assistant.Parts, model.TextPart(text.String()))

		if len(resp.ToolCalls) == 0 {
			raw = append(raw, assistant)
			break
		}

		toolMsg := model.Message{Role: model.RoleTool}
		results := make([]llm.ChatMessage, 0, len(resp.ToolCalls))

		for _, call := range resp.ToolCalls {
			args := json.RawMessage(call.Arguments)
			if !json.Valid(args) {
				args = json.RawMessage("{}")
			}
			assistant.Parts = append(assistant.Parts, model.Part{
				Type: model.PartToolCall,
				ToolInvocation: &model.ToolInvocation{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					State:      model.ToolStateCall,
					Args:       args,
				},
			})
			if err := out.WriteFrame(model.StreamToolCall, model.ToolCallFrame{
				ToolCallID: call.ID, ToolName: call.Name, Args: args,
			}); err != nil {
				return nil, err
			}

			result, err := r.tools.Execute(ctx, tc, call)
			var verr *ValidationError
			switch {
			case errors.As(err, &verr):
				result = map[string]string{"error": verr.Error()}
			case err != nil:
				return nil, upstream(ctx, err)
			}

			payload, err := json.Marshal(result)
			if err != nil {
				return nil, err
			}
			toolMsg.Parts = append(toolMsg.Parts, model.Part{
				Type: model.PartToolResult,
				ToolInvocation: &model.ToolInvocation{
					ToolCallID: call.ID,
					ToolName:   call.Name,
					State:      model.ToolStateResult,
					Args:       args,
					Result:     payload,
				},
			})
			if err := out.WriteFrame(model.StreamToolResult, model.ToolResultFrame{
				ToolCallID: call.ID, Result: json.RawMessage(payload),
			}); err != nil {
				return nil, err
			}
			results = append(results, llm.ChatMessage{
				Role: string(model.RoleTool), Content: string(payload), ToolCallID: call.ID,
			})
		}

		raw = append(raw, assistant, toolMsg)
		prompt = append(prompt, llm.ChatMessage{
			Role:      string(model.RoleAssistant),
			Content:   text.String(),
			ToolCalls: resp.ToolCalls,
		})
		prompt = append(prompt, results...)
	}

	return raw, nil
}

// upstream classifies a provider or tool failure.
func upstream(ctx context.Context, err error) error {
	var rl *ratelimit.RateLimitedError
	if errors.As(err, &rl) {
		return rl
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue
	}
	return &UpstreamError{Err: err}
}

// EditMessage replaces the content of a message in place and deletes every
// later message of its conversation. Role, conversation and timestamp come
// from the stored record. A failed trailing delete does not undo the edit.
func (r *Reconciler) EditMessage(ctx context.Context, userID string, req *model.EditMessageRequest) (*model.Message, error) {
	var missing []string
	if req.ID == "" {
		missing = append(missing, "id")
	}
	if req.ConversationID == "" {
		missing = append(missing, "conversationId")
	}
	if strings.TrimSpace(req.Content) == "" {
		missing = append(missing, "content")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	msg, err := r.store.GetMessage(ctx, req.ID)
	if err != nil {
		return nil, translate(err, "get message")
	}
	if _, err := r.conversations.GetOwned(ctx, userID, msg.ConversationID); err != nil {
		return nil, err
	}

	msg.Parts = []model.Part{model.TextPart(req.Content)}
	if err := r.store.SaveMessages(ctx, []model.Message{*msg}); err != nil {
		return nil, translate(err, "save edited message")
	}

	log := r.logger.With(
		zap.String("conversation_id", msg.ConversationID),
		zap.String("message_id", msg.ID),
	)

	n, err := r.store.DeleteMessagesAfter(ctx, msg.ConversationID, msg.CreatedAt)
	if err != nil {
		metrics.TrailingDeleteFailures.Inc()
		log.Error("trailing delete after edit failed", zap.Error(err))
		return msg, nil
	}

	log.Info("message edited", zap.Int("trailing_deleted", n))
	return msg, nil
}

// DeleteMessage removes one message. Removing extracted attachment text
// tells observers to refresh their document context.
func (r *Reconciler) DeleteMessage(ctx context.Context, userID, conversationID, messageID string) error {
	var missing []string
	if conversationID == "" {
		missing = append(missing, "conversationId")
	}
	if messageID == "" {
		missing = append(missing, "messageId")
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}

	if _, err := r.conversations.GetOwned(ctx, userID, conversationID); err != nil {
		return err
	}

	msg, err := r.store.GetMessage(ctx, messageID)
	if err != nil {
		return translate(err, "get message")
	}
	if msg.ConversationID != conversationID {
		return ErrNotFound
	}

	if err := r.store.DeleteMessage(ctx, conversationID, messageID); err != nil {
		return translate(err, "delete message")
	}

	if msg.Kind == model.KindDocumentContext && r.events != nil {
		ev := model.Event{
			Type:           model.EventDocumentContextUpdate,
			ConversationID: conversationID,
			Data:           map[string]any{"messageId": messageID},
			Timestamp:      time.Now().UTC(),
		}
		if err := r.events.Publish(ctx, ev); err != nil {
			r.logger.Warn("failed to publish document context update",
				zap.String("conversation_id", conversationID), zap.Error(err))
		}
	}
	return nil
}

// ListMessages returns the conversation's messages in timestamp order.
// Extracted attachment text is included only when includeSystem is set.
func (r *Reconciler) ListMessages(ctx context.Context, userID, conversationID string, includeSystem bool) ([]model.Message, error) {
	if conversationID == "" {
		return nil, &ValidationError{Fields: []string{"conversationId"}}
	}
	if _, err := r.conversations.Get(ctx, userID, conversationID); err != nil {
		return nil, err
	}

	msgs, err := r.store.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, translate(err, "list messages")
	}

	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		if !includeSystem && m.Kind == model.KindDocumentContext {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// AddDocumentContext stores text extracted from an attachment as a system
// message of the conversation.
func (r *Reconciler) AddDocumentContext(ctx context.Context, conversationID string, att model.Attachment, text string) (*model.Message, error) {
	msg := model.Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		ConversationID: conversationID,
		Role:           model.RoleSystem,
		Kind:           model.KindDocumentContext,
		Parts:          []model.Part{model.TextPart(text)},
		Attachments:    []model.Attachment{att},
		CreatedAt:      r.stamps.next(conversationID),
	}
	if err := r.store.SaveMessages(ctx, []model.Message{msg}); err != nil {
		return nil, translate(err, "save document context")
	}
	metrics.MessagesTotal.WithLabelValues(string(model.RoleSystem)).Inc()
	return &msg, nil
}

// ForgetConversation drops timestamp bookkeeping for a deleted conversation.
func (r *Reconciler) ForgetConversation(conversationID string) {
	r.stamps.forget(conversationID)
}

func lastUserMessage(req *model.ChatRequest) (model.Message, error) {
	var missing []string
	if req.ID == "" {
		missing = append(missing, "id")
	}

	var turn *model.ChatMessage
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == model.RoleUser {
			turn = &req.Messages[i]
			break
		}
	}

	var parts []model.Part
	if turn != nil {
		if turn.Content != "" {
			parts = append(parts, model.TextPart(turn.Content))
		} else {
			for _, p := range turn.Parts {
				if p.Type == model.PartText && p.Text != "" {
					parts = append(parts, p)
				}
			}
		}
	}
	if len(parts) == 0 {
		missing = append(missing, "messages")
	}
	if len(missing) > 0 {
		return model.Message{}, &ValidationError{Fields: missing}
	}

	// Ids are always minted here; a client id could name a message in
	// another conversation and the store upserts.
	return model.Message{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Role:        model.RoleUser,
		Parts:       parts,
		Attachments: turn.Attachments,
	}, nil
}

// toLLMMessages converts stored history into provider messages. Extracted
// attachment text is returned separately for the system prompt.
func toLLMMessages(history []model.Message) (string, []llm.ChatMessage) {
	var system strings.Builder
	msgs := make([]llm.ChatMessage, 0, len(history))

	for _, m := range history {
		if m.Kind == model.KindDocumentContext {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			for _, a := range m.Attachments {
				system.WriteString("[" + a.Name + "]\n")
			}
			system.WriteString(m.Text())
			continue
		}

		switch m.Role {
		case model.RoleUser, model.RoleSystem:
			msgs = append(msgs, llm.ChatMessage{Role: string(m.Role), Content: m.Text()})
		case model.RoleAssistant:
			cm := llm.ChatMessage{Role: string(model.RoleAssistant), Content: m.Text()}
			for _, p := range m.Parts {
				if p.Type == model.PartToolCall && p.ToolInvocation != nil {
					cm.ToolCalls = append(cm.ToolCalls, llm.ToolCall{
						ID:        p.ToolInvocation.ToolCallID,
						Name:      p.ToolInvocation.ToolName,
						Arguments: string(p.ToolInvocation.Args),
					})
				}
			}
			msgs = append(msgs, cm)
		case model.RoleTool:
			for _, p := range m.Parts {
				if p.Type == model.PartToolResult && p.ToolInvocation != nil {
					msgs = append(msgs, llm.ChatMessage{
						Role:       string(model.RoleTool),
						Content:    string(p.ToolInvocation.Result),
						ToolCallID: p.ToolInvocation.ToolCallID,
					})
				}
			}
		}
	}
	return system.String(), msgs
}
