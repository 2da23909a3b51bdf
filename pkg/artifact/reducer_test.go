package artifact

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func generation() []Delta {
	return []Delta{
		ID("doc-1"),
		Title("Notes"),
		KindOf(KindText),
		ContentFor(KindText, "a"),
		ContentFor(KindText, "b"),
		Finish(),
	}
}

func TestReducer_ReplayIsIdempotent(t *testing.T) {
	r := NewReducer()
	deltas := generation()

	first := r.ApplyBatch(deltas)
	second := r.ApplyBatch(deltas)

	assert.Equal(t, first, second)
	assert.Equal(t, "ab", second.Content)
	assert.Equal(t, StatusIdle, second.Status)
	assert.Equal(t, 6, r.Applied())
}

func TestReducer_AppliesOnlyUnseenSuffix(t *testing.T) {
	r := NewReducer()
	deltas := []Delta{ID("doc-1"), KindOf(KindCode)}

	d := r.ApplyBatch(deltas)
	assert.Equal(t, StatusStreaming, d.Status)

	deltas = append(deltas, ContentFor(KindCode, "fmt."))
	d = r.ApplyBatch(deltas)
	assert.Equal(t, "fmt.", d.Content)

	deltas = append(deltas, ContentFor(KindCode, "Println()"), Finish())
	d = r.ApplyBatch(deltas)
	assert.Equal(t, "fmt.Println()", d.Content)
	assert.Equal(t, StatusIdle, d.Status)
	assert.Equal(t, 5, r.Applied())
}

func TestApply_LazyInitOnContentDelta(t *testing.T) {
	d := Apply(Draft{}, ContentFor(KindText, "hello"))

	assert.Equal(t, DefaultDraftID, d.ID)
	assert.Equal(t, KindText, d.Kind)
	assert.Equal(t, StatusStreaming, d.Status)
	assert.Equal(t, "hello", d.Content)
}

func TestApply_ClearKeepsStreaming(t *testing.T) {
	d := Draft{ID: "x", Kind: KindText, Content: "old", Status: StatusStreaming}
	d = Apply(d, Clear())

	assert.Empty(t, d.Content)
	assert.Equal(t, StatusStreaming, d.Status)
}

func TestApply_TerminatesIdleAndFreezesContent(t *testing.T) {
	sequences := [][]Delta{
		{Finish()},
		{ID("a"), Finish()},
		{ContentFor(KindText, "x"), Clear(), ContentFor(KindText, "y"), Finish()},
		generation(),
	}

	for _, seq := range sequences {
		var d Draft
		for _, delta := range seq {
			d = Apply(d, delta)
		}
		require.Equal(t, StatusIdle, d.Status)

		frozen := d.Content
		d = Apply(d, Clear())
		d = Apply(d, Finish())
		d = Apply(d, Delta{Type: "future-kind", Content: "zzz"})
		assert.Equal(t, frozen, d.Content)
		assert.Equal(t, StatusIdle, d.Status)
	}
}

func TestApply_IdleReentersStreaming(t *testing.T) {
	var d Draft
	for _, delta := range generation() {
		d = Apply(d, delta)
	}
	require.Equal(t, StatusIdle, d.Status)

	d = Apply(d, ID("doc-2"))
	assert.Equal(t, StatusStreaming, d.Status)
	assert.Equal(t, "doc-2", d.ID)

	d = Apply(d, Clear())
	d = Apply(d, ContentFor(KindText, "new"))
	assert.Equal(t, "new", d.Content)
}

func TestApply_UnknownDeltaIgnored(t *testing.T) {
	d := Draft{ID: "x", Content: "keep", Status: StatusStreaming}
	assert.Equal(t, d, Apply(d, Delta{Type: "annotation", Content: "ignored"}))

	var zero Draft
	assert.Equal(t, zero, Apply(zero, Delta{Type: "annotation"}))
}

func TestApply_SheetAndImageReplace(t *testing.T) {
	d := Apply(Draft{}, KindOf(KindSheet))
	d = Apply(d, ContentFor(KindSheet, "a,b\n"))
	d = Apply(d, ContentFor(KindSheet, "a,b\n1,2\n"))

	assert.Equal(t, "a,b\n1,2\n", d.Content)
	assert.True(t, d.Visible)

	d = Apply(d, KindOf(KindImage))
	d = Apply(d, ContentFor(KindImage, "iVBORw0KGgo="))
	assert.Equal(t, "iVBORw0KGgo=", d.Content)
}

func TestApply_TextVisibilityThreshold(t *testing.T) {
	d := Apply(Draft{}, ContentFor(KindText, strings.Repeat("x", textVisibleAfter)))
	assert.False(t, d.Visible)

	d = Apply(d, ContentFor(KindText, "y"))
	assert.True(t, d.Visible)
}

func TestRules_CustomCombiner(t *testing.T) {
	rules := Rules{DeltaSheet: Concat}
	d := rules.Apply(Draft{}, ContentFor(KindSheet, "a"))
	d = rules.Apply(d, ContentFor(KindSheet, "b"))
	assert.Equal(t, "ab", d.Content)
}

func TestApply_SuggestionsAccumulateWhileIdle(t *testing.T) {
	d := Draft{ID: "doc", Status: StatusIdle, Content: "text"}
	d = Apply(d, Suggest(Suggestion{ID: "s1", DocumentID: "doc", OriginalText: "text", SuggestedText: "Text"}))

	require.Len(t, d.Suggestions, 1)
	assert.Equal(t, StatusIdle, d.Status)
	assert.Equal(t, "text", d.Content)
}

func TestDelta_WireShape(t *testing.T) {
	data, err := json.Marshal(ContentFor(KindCode, "x := 1"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"code-delta","content":"x := 1"}`, string(data))

	var got []Delta
	err = json.Unmarshal([]byte(`[
		{"type":"title","content":"Plan"},
		{"type":"suggestion","content":{"id":"s","documentId":"d","originalText":"a","suggestedText":"b","isResolved":false}},
		{"type":"finish","content":""},
		{"type":"mystery","content":42}
	]`), &got)
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.Equal(t, "Plan", got[0].Content)
	require.NotNil(t, got[1].Suggestion)
	assert.Equal(t, "b", got[1].Suggestion.SuggestedText)
	assert.Equal(t, DeltaFinish, got[2].Type)
	assert.Equal(t, DeltaType("mystery"), got[3].Type)
}
