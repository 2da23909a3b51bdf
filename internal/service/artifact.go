package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/llm"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/store"
	"github.com/capitalize-ai/canvas-chat/pkg/artifact"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
	"github.com/capitalize-ai/canvas-chat/pkg/metrics"
)

// Tool names.
const (
	ToolCreateDocument     = "createDocument"
	ToolUpdateDocument     = "updateDocument"
	ToolRequestSuggestions = "requestSuggestions"
)

const maxSuggestions = 5

var kindPrompts = map[artifact.Kind]string{
	artifact.KindText: `Write about the given topic. Markdown is supported. Use headings wherever appropriate.`,
	artifact.KindCode: `You are a code generator that creates self-contained, executable snippets.
Include helpful comments, keep snippets short, and reply with the code only, no fences.`,
	artifact.KindSheet: `You are a spreadsheet creation assistant. Create a spreadsheet in csv format based on the
given prompt. The spreadsheet should contain meaningful column headers and data. Reply with csv only.`,
}

const suggestionsPrompt = `You are a writing assistant. Given a piece of writing, offer suggestions to improve it.
Reply with a JSON array of at most 5 objects with the fields originalSentence, suggestedSentence and
description. originalSentence must be copied verbatim from the text.`

// ToolContext carries the turn a tool call belongs to.
type ToolContext struct {
	UserID         string
	ConversationID string
	ModelID        string
	Out            StreamWriter
}

// ArtifactService implements the artifact tools and artifact version access.
// Generated content streams to the caller as deltas while it is produced.
type ArtifactService struct {
	store  store.Store
	llm    llm.Client
	images llm.ImageGenerator
	logger *logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewArtifactService creates an artifact service. images may be nil, in which
// case image documents cannot be created.
func NewArtifactService(st store.Store, llmClient llm.Client, images llm.ImageGenerator, log *logger.Logger) *ArtifactService {
	return &ArtifactService{
		store:  st,
		llm:    llmClient,
		images: images,
		logger: log,
		tracer: otel.Tracer("github.com/capitalize-ai/canvas-chat/internal/service"),
		now:    time.Now,
	}
}

// Tools returns the definitions offered to the model.
func (s *ArtifactService) Tools() []llm.Tool {
	kinds := []string{string(artifact.KindText), string(artifact.KindCode), string(artifact.KindSheet)}
	if s.images != nil {
		kinds = append(kinds, string(artifact.KindImage))
	}

	return []llm.Tool{
		{
			Name:        ToolCreateDocument,
			Description: "Create a document for writing or content creation activities. The content is generated from the title and kind.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title": map[string]any{"type": "string"},
					"kind":  map[string]any{"type": "string", "enum": kinds},
				},
				"required": []string{"title", "kind"},
			},
		},
		{
			Name:        ToolUpdateDocument,
			Description: "Update a document with the given description of the changes.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id":          map[string]any{"type": "string", "description": "The ID of the document to update"},
					"description": map[string]any{"type": "string", "description": "The description of changes that need to be made"},
				},
				"required": []string{"id", "description"},
			},
		},
		{
			Name:        ToolRequestSuggestions,
			Description: "Request suggestions for a document.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"documentId": map[string]any{"type": "string", "description": "The ID of the document to request edits"},
				},
				"required": []string{"documentId"},
			},
		},
	}
}

type createArgs struct {
	Title string        `json:"title"`
	Kind  artifact.Kind `json:"kind"`
}

type updateArgs struct {
	ID          string `json:"id"`
	Description string `json:"description"`
}

type suggestionArgs struct {
	DocumentID string `json:"documentId"`
}

// Execute runs one tool call. Bad arguments yield a *ValidationError that is
// reported back to the model; any other error aborts the turn.
func (s *ArtifactService) Execute(ctx context.Context, tc ToolContext, call llm.ToolCall) (any, error) {
	ctx, span := s.tracer.Start(ctx, "artifact."+call.Name,
		trace.WithAttributes(attribute.String("conversation.id", tc.ConversationID)))
	defer span.End()

	switch call.Name {
	case ToolCreateDocument:
		var args createArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return s.Create(ctx, tc, args.Title, args.Kind)
	case ToolUpdateDocument:
		var args updateArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return s.Update(ctx, tc, args.ID, args.Description)
	case ToolRequestSuggestions:
		var args suggestionArgs
		if err := decodeArgs(call.Arguments, &args); err != nil {
			return nil, err
		}
		return s.Suggest(ctx, tc, args.DocumentID)
	default:
		return nil, &ValidationError{Fields: []string{"tool " + call.Name}}
	}
}

func decodeArgs(raw string, v any) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return &ValidationError{Fields: []string{"arguments"}}
	}
	return nil
}

// Create generates a new document and streams its deltas.
func (s *ArtifactService) Create(ctx context.Context, tc ToolContext, title string, kind artifact.Kind) (*model.ArtifactSummary, error) {
	var missing []string
	if strings.TrimSpace(title) == "" {
		missing = append(missing, "title")
	}
	if !kind.Valid() || (kind == artifact.KindImage && s.images == nil) {
		missing = append(missing, "kind")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	id := uuid.Must(uuid.NewV7()).String()
	if err := s.emit(tc.Out,
		artifact.KindOf(kind),
		artifact.ID(id),
		artifact.Title(title),
		artifact.Clear(),
	); err != nil {
		return nil, err
	}

	content, err := s.generate(ctx, tc, kind, title, kindPrompts[kind])
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, tc, id, title, kind, content, ToolCreateDocument); err != nil {
		return nil, err
	}

	return &model.ArtifactSummary{
		ID:      id,
		Title:   title,
		Kind:    kind,
		Message: "A document was created and is now visible to the user.",
	}, nil
}

// Update regenerates a document from its current content and a description
// of the change, saving the result as a new version.
func (s *ArtifactService) Update(ctx context.Context, tc ToolContext, id, description string) (*model.ArtifactSummary, error) {
	if id == "" || strings.TrimSpace(description) == "" {
		return nil, &ValidationError{Fields: []string{"id", "description"}}
	}

	current, err := s.owned(ctx, tc.UserID, id)
	if err != nil {
		return nil, err
	}

	if err := s.emit(tc.Out, artifact.Clear()); err != nil {
		return nil, err
	}

	prompt := kindPrompts[current.Kind]
	if current.Kind != artifact.KindImage {
		prompt = fmt.Sprintf("Improve the following contents of the document based on the given prompt.\n\n%s", current.Content)
	}

	content, err := s.generate(ctx, tc, current.Kind, description, prompt)
	if err != nil {
		return nil, err
	}

	if err := s.save(ctx, tc, id, current.Title, current.Kind, content, ToolUpdateDocument); err != nil {
		return nil, err
	}

	return &model.ArtifactSummary{
		ID:      id,
		Title:   current.Title,
		Kind:    current.Kind,
		Message: "The document has been updated successfully.",
	}, nil
}

type rawSuggestion struct {
	OriginalSentence  string `json:"originalSentence"`
	SuggestedSentence string `json:"suggestedSentence"`
	Description       string `json:"description"`
}

// Suggest asks the model for edits to a text document and streams them as
// suggestion deltas.
func (s *ArtifactService) Suggest(ctx context.Context, tc ToolContext, documentID string) (*model.ArtifactSummary, error) {
	if documentID == "" {
		return nil, &ValidationError{Fields: []string{"documentId"}}
	}

	doc, err := s.owned(ctx, tc.UserID, documentID)
	if err != nil {
		return nil, err
	}
	if doc.Kind != artifact.KindText {
		return nil, &ValidationError{Fields: []string{"documentId"}}
	}

	resp, err := s.llm.Complete(ctx, &llm.CompletionRequest{
		Model:    tc.ModelID,
		System:   suggestionsPrompt,
		Messages: []llm.ChatMessage{{Role: string(model.RoleUser), Content: doc.Content}},
	})
	if err != nil {
		return nil, err
	}

	text, _ := llm.SplitReasoning(resp.Content)
	var raw []rawSuggestion
	if err := json.Unmarshal([]byte(extractJSONArray(text)), &raw); err != nil {
		s.logger.Warn("unparseable suggestions", zap.String("document_id", documentID), zap.Error(err))
	}
	if len(raw) > maxSuggestions {
		raw = raw[:maxSuggestions]
	}

	for _, r := range raw {
		if r.OriginalSentence == "" || !strings.Contains(doc.Content, r.OriginalSentence) {
			continue
		}
		delta := artifact.Suggest(artifact.Suggestion{
			ID:            uuid.Must(uuid.NewV7()).String(),
			DocumentID:    documentID,
			OriginalText:  r.OriginalSentence,
			SuggestedText: r.SuggestedSentence,
			Description:   r.Description,
		})
		if err := s.emit(tc.Out, delta); err != nil {
			return nil, err
		}
	}
	if err := s.emit(tc.Out, artifact.Finish()); err != nil {
		return nil, err
	}

	return &model.ArtifactSummary{
		ID:      documentID,
		Title:   doc.Title,
		Kind:    doc.Kind,
		Message: "Suggestions have been added to the document.",
	}, nil
}

// generate streams content deltas for kind and returns the final content.
func (s *ArtifactService) generate(ctx context.Context, tc ToolContext, kind artifact.Kind, input, system string) (string, error) {
	if kind == artifact.KindImage {
		b64, err := s.images.GenerateImage(ctx, input)
		if err != nil {
			return "", err
		}
		if err := s.emit(tc.Out, artifact.ContentFor(kind, b64), artifact.Finish()); err != nil {
			return "", err
		}
		return b64, nil
	}

	var splitter llm.ThinkSplitter
	var content strings.Builder

	push := func(segs []llm.Segment) error {
		for _, seg := range segs {
			if seg.Reasoning {
				continue
			}
			content.WriteString(seg.Text)
			delta := artifact.ContentFor(kind, seg.Text)
			if kind == artifact.KindSheet {
				// sheet deltas carry the whole payload
				delta = artifact.ContentFor(kind, content.String())
			}
			if err := s.emit(tc.Out, delta); err != nil {
				return err
			}
		}
		return nil
	}

	_, err := s.llm.CompleteStream(ctx, &llm.CompletionRequest{
		Model:    tc.ModelID,
		System:   system,
		Messages: []llm.ChatMessage{{Role: string(model.RoleUser), Content: input}},
		Stream:   true,
	}, func(token string, _ int) error {
		return push(splitter.Push(token))
	})
	if err != nil {
		return "", err
	}
	if err := push(splitter.Flush()); err != nil {
		return "", err
	}

	if err := s.emit(tc.Out, artifact.Finish()); err != nil {
		return "", err
	}
	return content.String(), nil
}

func (s *ArtifactService) save(ctx context.Context, tc ToolContext, id, title string, kind artifact.Kind, content, tool string) error {
	a := &model.Artifact{
		ID:        id,
		Title:     title,
		Kind:      kind,
		Content:   content,
		UserID:    tc.UserID,
		CreatedAt: s.now().UTC().Truncate(time.Millisecond),
	}
	if err := s.store.SaveArtifact(ctx, a); err != nil {
		return translate(err, "save artifact")
	}

	metrics.ArtifactsGenerated.WithLabelValues(string(kind), tool).Inc()
	s.logger.Info("artifact saved",
		zap.String("artifact_id", id),
		zap.String("kind", string(kind)),
		zap.String("tool", tool),
		zap.String("conversation_id", tc.ConversationID),
	)
	return nil
}

func (s *ArtifactService) emit(out StreamWriter, deltas ...artifact.Delta) error {
	if out == nil {
		return nil
	}
	for _, d := range deltas {
		if err := out.WriteFrame(model.StreamData, []artifact.Delta{d}); err != nil {
			return err
		}
	}
	return nil
}

func (s *ArtifactService) owned(ctx context.Context, userID, id string) (*model.Artifact, error) {
	a, err := s.store.GetArtifact(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &ValidationError{Fields: []string{"id"}}
	}
	if err != nil {
		return nil, translate(err, "get artifact")
	}
	if a.UserID != userID {
		return nil, ErrUnauthorized
	}
	return a, nil
}

// Versions returns every version of an owned artifact, oldest first.
func (s *ArtifactService) Versions(ctx context.Context, userID, id string) ([]model.Artifact, error) {
	if id == "" {
		return nil, &ValidationError{Fields: []string{"id"}}
	}
	versions, err := s.store.ListArtifactVersions(ctx, id)
	if err != nil {
		return nil, translate(err, "list artifact versions")
	}
	if versions[0].UserID != userID {
		return nil, ErrUnauthorized
	}
	return versions, nil
}

// DeleteVersionsAfter drops the versions of an owned artifact created after ts.
func (s *ArtifactService) DeleteVersionsAfter(ctx context.Context, userID, id string, ts time.Time) (int, error) {
	if id == "" || ts.IsZero() {
		return 0, &ValidationError{Fields: []string{"id", "timestamp"}}
	}
	if _, err := s.Versions(ctx, userID, id); err != nil {
		return 0, err
	}
	n, err := s.store.DeleteArtifactVersionsAfter(ctx, id, ts)
	if err != nil {
		return 0, translate(err, "delete artifact versions")
	}
	return n, nil
}

func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start < 0 || end < start {
		return "[]"
	}
	return s[start : end+1]
}
