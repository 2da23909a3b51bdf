package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/microcosm-cc/bluemonday"
	"go.uber.org/zap"

	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
)

// JobExtract names extraction jobs in logs and metrics.
const JobExtract = "extract_document"

// MaxExtractedChars caps the text kept from one attachment.
const MaxExtractedChars = 100_000

// ErrUnsupportedType is returned for uploads that are not text documents.
var ErrUnsupportedType = errors.New("unsupported document type")

// DocumentSink stores extracted attachment text in a conversation.
type DocumentSink interface {
	AddDocumentContext(ctx context.Context, conversationID string, att model.Attachment, text string) (*model.Message, error)
}

// Publisher announces job outcomes to conversation observers.
type Publisher interface {
	Publish(ctx context.Context, ev model.Event) error
}

// Upload is a file waiting for extraction.
type Upload struct {
	ConversationID string
	Name           string
	Data           []byte
}

// Extractor turns uploads into document context messages.
type Extractor struct {
	runner *Runner
	sink   DocumentSink
	events Publisher
	logger *logger.Logger
	html   *bluemonday.Policy
	now    func() time.Time
}

// NewExtractor creates an extractor that runs on runner.
func NewExtractor(runner *Runner, sink DocumentSink, events Publisher, log *logger.Logger) *Extractor {
	return &Extractor{
		runner: runner,
		sink:   sink,
		events: events,
		logger: log,
		html:   bluemonday.StrictPolicy(),
		now:    time.Now,
	}
}

// Detect sniffs the content type of data.
func Detect(data []byte) string {
	return mimetype.Detect(data).String()
}

// Enqueue schedules extraction of up and returns the job id. Observers of the
// conversation receive document-context-update-complete or
// document-context-update-failed when the job ends.
func (e *Extractor) Enqueue(up Upload) (string, error) {
	return e.runner.Submit(JobExtract, func(ctx context.Context) error {
		return e.Process(ctx, up)
	})
}

// Process extracts up synchronously and publishes the outcome.
func (e *Extractor) Process(ctx context.Context, up Upload) error {
	att := model.Attachment{Name: up.Name, ContentType: Detect(up.Data)}

	msg, err := e.store(ctx, up, att)
	if err != nil {
		e.publish(ctx, model.Event{
			Type:           model.EventDocumentContextUpdateFailed,
			ConversationID: up.ConversationID,
			Data:           map[string]any{"fileName": up.Name, "error": err.Error()},
			Timestamp:      e.now().UTC(),
		})
		return err
	}

	e.publish(ctx, model.Event{
		Type:           model.EventDocumentContextUpdateComplete,
		ConversationID: up.ConversationID,
		Data:           map[string]any{"fileName": up.Name, "messageId": msg.ID},
		Timestamp:      e.now().UTC(),
	})
	return nil
}

func (e *Extractor) store(ctx context.Context, up Upload, att model.Attachment) (*model.Message, error) {
	text, err := e.Extract(up.Data)
	if err != nil {
		return nil, err
	}
	msg, err := e.sink.AddDocumentContext(ctx, up.ConversationID, att, text)
	if err != nil {
		return nil, fmt.Errorf("failed to store document context: %w", err)
	}
	return msg, nil
}

// Extract returns the readable text of a text-like document. Markup is
// stripped from HTML.
func (e *Extractor) Extract(data []byte) (string, error) {
	mt := mimetype.Detect(data)
	if !isText(mt) {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, mt.String())
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: not valid UTF-8", ErrUnsupportedType)
	}

	text := string(data)
	if mt.Is("text/html") {
		text = e.html.Sanitize(text)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("document is empty")
	}
	if utf8.RuneCountInString(text) > MaxExtractedChars {
		text = string([]rune(text)[:MaxExtractedChars])
	}
	return text, nil
}

func isText(mt *mimetype.MIME) bool {
	for m := mt; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true
		}
	}
	return false
}

func (e *Extractor) publish(ctx context.Context, ev model.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, ev); err != nil {
		e.logger.Warn("failed to publish job event",
			zap.String("type", string(ev.Type)),
			zap.String("conversation_id", ev.ConversationID),
			zap.Error(err))
	}
}
