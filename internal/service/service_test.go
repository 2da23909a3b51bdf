package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/canvas-chat/internal/llm"
	"github.com/capitalize-ai/canvas-chat/internal/model"
	"github.com/capitalize-ai/canvas-chat/internal/ratelimit"
	"github.com/capitalize-ai/canvas-chat/internal/store"
	"github.com/capitalize-ai/canvas-chat/pkg/artifact"
	"github.com/capitalize-ai/canvas-chat/pkg/logger"
	"github.com/capitalize-ai/canvas-chat/pkg/metrics"
)

type step struct {
	tokens []string
	calls  []llm.ToolCall
	err    error
}

// scriptedLLM plays back one step per streaming call.
type scriptedLLM struct {
	steps    []step
	requests []*llm.CompletionRequest
	title    string
}

func (f *scriptedLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.title == "" {
		return nil, errors.New("no title")
	}
	return &llm.CompletionResponse{Content: f.title}, nil
}

func (f *scriptedLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	f.requests = append(f.requests, req)
	if len(f.steps) == 0 {
		return &llm.CompletionResponse{}, nil
	}
	s := f.steps[0]
	f.steps = f.steps[1:]

	var content string
	for i, tok := range s.tokens {
		if err := cb(tok, i); err != nil {
			return nil, err
		}
		content += tok
	}
	if s.err != nil {
		return nil, s.err
	}
	return &llm.CompletionResponse{Content: content, ToolCalls: s.calls, Model: "fake"}, nil
}

func (f *scriptedLLM) Name() string     { return "scripted" }
func (f *scriptedLLM) Models() []string { return nil }

type frame struct {
	code    model.StreamCode
	payload any
}

type recorder struct {
	frames []frame
}

func (r *recorder) WriteFrame(code model.StreamCode, payload any) error {
	r.frames = append(r.frames, frame{code, payload})
	return nil
}

func (r *recorder) codes() string {
	var s string
	for _, f := range r.frames {
		s += string(f.code)
	}
	return s
}

type publisher struct {
	events []model.Event
}

func (p *publisher) Publish(ctx context.Context, ev model.Event) error {
	p.events = append(p.events, ev)
	return nil
}

type fixture struct {
	store   *store.Memory
	llm     *scriptedLLM
	convs   *ConversationService
	recon   *Reconciler
	docs    *ArtifactService
	events  *publisher
	votes   *VoteService
	chatLLM llm.Client
}

func newFixture(t *testing.T, chat llm.Client, steps ...step) *fixture {
	t.Helper()

	f := &fixture{
		store:  store.NewMemory(),
		llm:    &scriptedLLM{steps: steps},
		events: &publisher{},
	}
	if chat == nil {
		chat = f.llm
	}
	f.chatLLM = chat

	log := logger.NewNop()
	f.convs = NewConversationService(f.store, f.llm, log)
	f.docs = NewArtifactService(f.store, f.llm, nil, log)
	f.votes = NewVoteService(f.store, f.convs)
	f.recon = NewReconciler(ReconcilerConfig{
		Store:         f.store,
		Conversations: f.convs,
		LLM:           chat,
		Tools:         f.docs,
		Events:        f.events,
		Logger:        log,
	})
	return f
}

func chat(convID, text string) *model.ChatRequest {
	return &model.ChatRequest{
		ID:       convID,
		Messages: []model.ChatMessage{{Role: model.RoleUser, Content: text}},
	}
}

func TestSubmitTurn_StreamsAndPersistsSanitizedTurn(t *testing.T) {
	f := newFixture(t, nil, step{tokens: []string{"<think>hm", "m</think>", "Hello", " there"}})
	f.llm.title = "Greetings"
	out := &recorder{}

	err := f.recon.SubmitTurn(context.Background(), "u1", chat("c1", "hi"), out)
	require.NoError(t, err)

	assert.Equal(t, "gg00d", out.codes())

	conv, err := f.store.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "Greetings", conv.Title)
	assert.Equal(t, "u1", conv.UserID)

	msgs, err := f.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].CreatedAt.After(msgs[0].CreatedAt))

	parts := msgs[1].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "Hello there", parts[0].Text)
	assert.Equal(t, model.PartReasoning, parts[1].Type)
	assert.Equal(t, "hmm", parts[1].Reasoning)

	finish := out.frames[len(out.frames)-1].payload.(model.FinishFrame)
	assert.Equal(t, []string{msgs[1].ID}, finish.MessageIDs)
}

func TestSubmitTurn_TitleFallsBackToMessageText(t *testing.T) {
	f := newFixture(t, nil, step{tokens: []string{"ok"}})

	require.NoError(t, f.recon.SubmitTurn(context.Background(), "u1", chat("c1", "what is a monad"), &recorder{}))

	conv, err := f.store.GetConversation(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "what is a monad", conv.Title)
}

func TestSubmitTurn_ToolLoopCreatesDocument(t *testing.T) {
	f := newFixture(t, nil,
		step{
			tokens: []string{"Writing it."},
			calls:  []llm.ToolCall{{ID: "call-1", Name: ToolCreateDocument, Arguments: `{"title":"Plan","kind":"text"}`}},
		},
		step{tokens: []string{"# Plan", "\nstep one"}},
		step{tokens: []string{"Done."}},
	)
	out := &recorder{}

	require.NoError(t, f.recon.SubmitTurn(context.Background(), "u1", chat("c1", "plan my week"), out))

	var deltas []artifact.Delta
	for _, fr := range out.frames {
		if fr.code == model.StreamData {
			deltas = append(deltas, fr.payload.([]artifact.Delta)...)
		}
	}
	draft := artifact.NewReducer().ApplyBatch(deltas)
	assert.Equal(t, "Plan", draft.Title)
	assert.Equal(t, "# Plan\nstep one", draft.Content)
	assert.Equal(t, artifact.StatusIdle, draft.Status)

	doc, err := f.store.GetArtifact(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "# Plan\nstep one", doc.Content)
	assert.Equal(t, "u1", doc.UserID)

	msgs, err := f.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, model.PartToolCall, msgs[1].Parts[1].Type)
	assert.Equal(t, model.RoleTool, msgs[2].Role)

	var summary model.ArtifactSummary
	require.NoError(t, json.Unmarshal(msgs[2].Parts[0].ToolInvocation.Result, &summary))
	assert.Equal(t, draft.ID, summary.ID)
	assert.Equal(t, "Done.", msgs[3].Text())

	// the follow-up step sees the call and its result
	last := f.llm.requests[len(f.llm.requests)-1]
	require.GreaterOrEqual(t, len(last.Messages), 3)
	assert.Equal(t, "tool", last.Messages[len(last.Messages)-1].Role)
	assert.Equal(t, "call-1", last.Messages[len(last.Messages)-1].ToolCallID)
}

func TestSubmitTurn_BadToolArgumentsReportedToModel(t *testing.T) {
	f := newFixture(t, nil,
		step{calls: []llm.ToolCall{{ID: "call-1", Name: ToolCreateDocument, Arguments: `{"title":""}`}}},
		step{tokens: []string{"Sorry."}},
	)
	out := &recorder{}

	require.NoError(t, f.recon.SubmitTurn(context.Background(), "u1", chat("c1", "make a doc"), out))
	assert.Contains(t, out.codes(), string(model.StreamToolResult))

	msgs, err := f.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Contains(t, string(msgs[2].Parts[0].ToolInvocation.Result), "error")
}

func TestSubmitTurn_UpstreamFailurePersistsOnlyUserMessage(t *testing.T) {
	f := newFixture(t, nil, step{tokens: []string{"partial"}, err: errors.New("connection reset")})
	out := &recorder{}

	err := f.recon.SubmitTurn(context.Background(), "u1", chat("c1", "hi"), out)
	var ue *UpstreamError
	require.ErrorAs(t, err, &ue)

	msgs, err := f.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.NotContains(t, out.codes(), string(model.StreamFinish))
}

func TestSubmitTurn_RateLimitedAfterCapacity(t *testing.T) {
	f := newFixture(t, nil)
	f.llm.steps = []step{{tokens: []string{"one"}}, {tokens: []string{"two"}}}
	gated := llm.NewGated(f.llm, ratelimit.NewGate(1, time.Hour))
	f.recon.llm = gated

	require.NoError(t, f.recon.SubmitTurn(context.Background(), "u1", chat("c1", "first"), &recorder{}))

	out := &recorder{}
	err := f.recon.SubmitTurn(context.Background(), "u1", chat("c1", "second"), out)
	var rl *ratelimit.RateLimitedError
	require.ErrorAs(t, err, &rl)
	assert.Positive(t, rl.Wait)
	assert.Empty(t, out.frames)

	msgs, err := f.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "second", msgs[2].Text())
}

func TestSubmitTurn_Validation(t *testing.T) {
	f := newFixture(t, nil)

	err := f.recon.SubmitTurn(context.Background(), "u1", &model.ChatRequest{
		ID:       "c1",
		Messages: []model.ChatMessage{{Role: model.RoleAssistant, Content: "hello"}},
	}, &recorder{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"messages"}, verr.Fields)

	err = f.recon.SubmitTurn(context.Background(), "u1", &model.ChatRequest{}, &recorder{})
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"id", "messages"}, verr.Fields)
}

func TestSubmitTurn_RejectsForeignConversation(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.SaveConversation(context.Background(), &model.Conversation{ID: "c1", UserID: "owner"}))

	err := f.recon.SubmitTurn(context.Background(), "intruder", chat("c1", "hi"), &recorder{})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestSubmitTurn_ClientMessageIDCannotMoveExistingMessage(t *testing.T) {
	f := newFixture(t, nil, step{tokens: []string{"hi"}}, step{tokens: []string{"hi"}})
	ctx := context.Background()

	owned := uuid.Must(uuid.NewV7()).String()
	first := chat("c1", "my secret")
	first.Messages[0].ID = owned
	require.NoError(t, f.recon.SubmitTurn(ctx, "alice", first, &recorder{}))

	before, err := f.store.ListMessages(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, before, 2)
	assert.NotEqual(t, owned, before[0].ID)

	second := chat("c2", "overwritten")
	second.Messages[0].ID = before[0].ID
	require.NoError(t, f.recon.SubmitTurn(ctx, "bob", second, &recorder{}))

	after, err := f.store.ListMessages(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	theirs, err := f.store.ListMessages(ctx, "c2")
	require.NoError(t, err)
	require.Len(t, theirs, 2)
	assert.NotEqual(t, before[0].ID, theirs[0].ID)
	assert.Equal(t, "overwritten", theirs[0].Parts[0].Text)
}

// slowTitleLLM is safe for concurrent turns and stalls title generation.
type slowTitleLLM struct {
	delay time.Duration
}

func (l slowTitleLLM) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	time.Sleep(l.delay)
	return &llm.CompletionResponse{Content: "Title"}, nil
}

func (l slowTitleLLM) CompleteStream(ctx context.Context, req *llm.CompletionRequest, cb llm.StreamCallback) (*llm.CompletionResponse, error) {
	if err := cb("ok", 0); err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: "ok"}, nil
}

func (slowTitleLLM) Name() string     { return "slow" }
func (slowTitleLLM) Models() []string { return nil }

func TestSubmitTurn_ConcurrentFirstTurnsKeepOneOwner(t *testing.T) {
	st := store.NewMemory()
	chatLLM := slowTitleLLM{delay: 50 * time.Millisecond}
	log := logger.NewNop()
	recon := NewReconciler(ReconcilerConfig{
		Store:         st,
		Conversations: NewConversationService(st, chatLLM, log),
		LLM:           chatLLM,
		Events:        &publisher{},
		Logger:        log,
	})

	users := []string{"alice", "mallory"}
	errs := make([]error, len(users))
	var wg sync.WaitGroup
	for i, user := range users {
		wg.Add(1)
		go func(i int, user string) {
			defer wg.Done()
			errs[i] = recon.SubmitTurn(context.Background(), user, chat("c1", "hello from "+user), &recorder{})
		}(i, user)
	}
	wg.Wait()

	conv, err := st.GetConversation(context.Background(), "c1")
	require.NoError(t, err)

	var ok int
	for i, user := range users {
		if user == conv.UserID {
			assert.NoError(t, errs[i])
			ok++
		} else {
			assert.ErrorIs(t, errs[i], ErrUnauthorized)
		}
	}
	assert.Equal(t, 1, ok)

	msgs, err := st.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello from "+conv.UserID, msgs[0].Text())
}

func seedHistory(t *testing.T, f *fixture) []model.Message {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.SaveConversation(ctx, &model.Conversation{ID: "c1", UserID: "u1"}))

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var msgs []model.Message
	for i, text := range []string{"q1", "a1", "q2", "a2"} {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		msgs = append(msgs, model.Message{
			ID:             text,
			ConversationID: "c1",
			Role:           role,
			Parts:          []model.Part{model.TextPart(text)},
			CreatedAt:      base.Add(time.Duration(i) * time.Second),
		})
	}
	require.NoError(t, f.store.SaveMessages(ctx, msgs))
	return msgs
}

func TestEditMessage_TruncatesLaterMessages(t *testing.T) {
	f := newFixture(t, nil)
	seeded := seedHistory(t, f)

	edited, err := f.recon.EditMessage(context.Background(), "u1", &model.EditMessageRequest{
		ID: "a1", ConversationID: "elsewhere", Content: "rewritten",
	})
	require.NoError(t, err)
	assert.Equal(t, "c1", edited.ConversationID)
	assert.Equal(t, model.RoleAssistant, edited.Role)

	msgs, err := f.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "q1", msgs[0].Text())
	assert.Equal(t, "rewritten", msgs[1].Text())
	assert.Equal(t, seeded[1].CreatedAt, msgs[1].CreatedAt)
}

func TestEditMessage_Errors(t *testing.T) {
	f := newFixture(t, nil)
	seedHistory(t, f)

	_, err := f.recon.EditMessage(context.Background(), "u1", &model.EditMessageRequest{ID: "q1"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"conversationId", "content"}, verr.Fields)

	_, err = f.recon.EditMessage(context.Background(), "u1", &model.EditMessageRequest{ID: "nope", ConversationID: "c1", Content: "x"})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.recon.EditMessage(context.Background(), "u2", &model.EditMessageRequest{ID: "q1", ConversationID: "c1", Content: "x"})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

type failingTruncate struct {
	*store.Memory
}

func (failingTruncate) DeleteMessagesAfter(context.Context, string, time.Time) (int, error) {
	return 0, errors.New("disk on fire")
}

func TestEditMessage_TrailingDeleteFailureIsTolerated(t *testing.T) {
	f := newFixture(t, nil)
	seedHistory(t, f)
	f.recon.store = failingTruncate{f.store}

	before := testutil.ToFloat64(metrics.TrailingDeleteFailures)
	edited, err := f.recon.EditMessage(context.Background(), "u1", &model.EditMessageRequest{
		ID: "q1", ConversationID: "c1", Content: "changed",
	})
	require.NoError(t, err)
	assert.Equal(t, "changed", edited.Text())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.TrailingDeleteFailures))

	msgs, err := f.store.ListMessages(context.Background(), "c1")
	require.NoError(t, err)
	assert.Len(t, msgs, 4)
	assert.Equal(t, "changed", msgs[0].Text())
}

func TestDeleteMessage(t *testing.T) {
	f := newFixture(t, nil)
	seedHistory(t, f)
	ctx := context.Background()

	require.NoError(t, f.recon.DeleteMessage(ctx, "u1", "c1", "a2"))
	assert.ErrorIs(t, f.recon.DeleteMessage(ctx, "u1", "c1", "a2"), ErrNotFound)
	assert.ErrorIs(t, f.recon.DeleteMessage(ctx, "u2", "c1", "a1"), ErrUnauthorized)
	assert.Empty(t, f.events.events)

	doc, err := f.recon.AddDocumentContext(ctx, "c1", model.Attachment{Name: "notes.txt"}, "extracted")
	require.NoError(t, err)
	require.NoError(t, f.recon.DeleteMessage(ctx, "u1", "c1", doc.ID))

	require.Len(t, f.events.events, 1)
	assert.Equal(t, model.EventDocumentContextUpdate, f.events.events[0].Type)
	assert.Equal(t, "c1", f.events.events[0].ConversationID)
}

func TestListMessages_DocumentContextFilter(t *testing.T) {
	f := newFixture(t, nil)
	seedHistory(t, f)
	ctx := context.Background()

	_, err := f.recon.AddDocumentContext(ctx, "c1", model.Attachment{Name: "a.txt"}, "ctx")
	require.NoError(t, err)

	all, err := f.recon.ListMessages(ctx, "u1", "c1", true)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	visible, err := f.recon.ListMessages(ctx, "u1", "c1", false)
	require.NoError(t, err)
	assert.Len(t, visible, 4)

	_, err = f.recon.ListMessages(ctx, "u2", "c1", false)
	assert.ErrorIs(t, err, ErrUnauthorized)

	conv, err := f.store.GetConversation(ctx, "c1")
	require.NoError(t, err)
	conv.Visibility = model.VisibilityPublic
	require.NoError(t, f.store.SaveConversation(ctx, conv))

	_, err = f.recon.ListMessages(ctx, "u2", "c1", false)
	assert.NoError(t, err)
}

func TestDocumentContextFeedsSystemPrompt(t *testing.T) {
	f := newFixture(t, nil, step{tokens: []string{"ok"}})
	seedHistory(t, f)
	ctx := context.Background()

	_, err := f.recon.AddDocumentContext(ctx, "c1", model.Attachment{Name: "report.pdf"}, "quarterly revenue grew")
	require.NoError(t, err)
	require.NoError(t, f.recon.SubmitTurn(ctx, "u1", chat("c1", "summarize"), &recorder{}))

	req := f.llm.requests[0]
	assert.Contains(t, req.System, "quarterly revenue grew")
	assert.Contains(t, req.System, "[report.pdf]")
	for _, m := range req.Messages {
		assert.NotContains(t, m.Content, "quarterly revenue grew")
	}
}

func TestStamper_Monotonic(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := newStamper(func() time.Time { return fixed })

	a := s.next("c")
	b := s.next("c")
	assert.True(t, b.After(a))

	s.observe("c", fixed.Add(time.Hour))
	assert.True(t, s.next("c").After(fixed.Add(time.Hour)))

	assert.Equal(t, fixed, s.next("other"))
}

func TestVoteService(t *testing.T) {
	f := newFixture(t, nil)
	seedHistory(t, f)
	ctx := context.Background()

	_, err := f.votes.Vote(ctx, "u1", &model.VoteRequest{ConversationID: "c1", MessageID: "a1", Type: "sideways"})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	v, err := f.votes.Vote(ctx, "u1", &model.VoteRequest{ConversationID: "c1", MessageID: "a1", Type: "up"})
	require.NoError(t, err)
	assert.True(t, v.IsUpvoted)

	_, err = f.votes.Vote(ctx, "u1", &model.VoteRequest{ConversationID: "c1", MessageID: "ghost", Type: "down"})
	assert.ErrorIs(t, err, ErrNotFound)

	votes, err := f.votes.List(ctx, "u1", "c1")
	require.NoError(t, err)
	assert.Len(t, votes, 1)
}

func TestConversationService_ListAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := f.convs.Create(ctx, "u1", "", "", "topic")
		require.NoError(t, err)
	}

	page, err := f.convs.List(ctx, "u1", 2, 0)
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 2)
	assert.True(t, page.HasMore)

	page, err = f.convs.List(ctx, "u1", 2, 2)
	require.NoError(t, err)
	assert.Len(t, page.Conversations, 1)
	assert.False(t, page.HasMore)

	id := page.Conversations[0].ID
	assert.ErrorIs(t, f.convs.Delete(ctx, "u2", id), ErrUnauthorized)
	require.NoError(t, f.convs.Delete(ctx, "u1", id))
	assert.ErrorIs(t, f.convs.Delete(ctx, "u1", id), ErrNotFound)
}
