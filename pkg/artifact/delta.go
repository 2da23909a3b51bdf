// Package artifact defines the incremental delta protocol for tool-generated
// documents and the consumer-side state machine that materializes them.
package artifact

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind is the document kind of an artifact.
type Kind string

const (
	KindText  Kind = "text"
	KindCode  Kind = "code"
	KindSheet Kind = "sheet"
	KindImage Kind = "image"
)

// Valid reports whether k is one of the known document kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindText, KindCode, KindSheet, KindImage:
		return true
	}
	return false
}

// DeltaType identifies one variant of the delta union.
type DeltaType string

const (
	DeltaID         DeltaType = "id"
	DeltaTitle      DeltaType = "title"
	DeltaKind       DeltaType = "kind"
	DeltaText       DeltaType = "text-delta"
	DeltaCode       DeltaType = "code-delta"
	DeltaSheet      DeltaType = "sheet-delta"
	DeltaImage      DeltaType = "image-delta"
	DeltaSuggestion DeltaType = "suggestion"
	DeltaClear      DeltaType = "clear"
	DeltaFinish     DeltaType = "finish"
)

// ContentDelta maps each document kind to the delta carrying its content.
var ContentDelta = map[Kind]DeltaType{
	KindText:  DeltaText,
	KindCode:  DeltaCode,
	KindSheet: DeltaSheet,
	KindImage: DeltaImage,
}

// Suggestion is a proposed edit to a span of a text artifact.
type Suggestion struct {
	ID            string `json:"id"`
	DocumentID    string `json:"documentId"`
	OriginalText  string `json:"originalText"`
	SuggestedText string `json:"suggestedText"`
	Description   string `json:"description,omitempty"`
	IsResolved    bool   `json:"isResolved"`
}

// Delta is one increment of an artifact. On the wire it is
// {"type": ..., "content": string | suggestion}.
type Delta struct {
	Type       DeltaType
	Content    string
	Suggestion *Suggestion
}

type wireDelta struct {
	Type    DeltaType       `json:"type"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON implements json.Marshaler.
func (d Delta) MarshalJSON() ([]byte, error) {
	var content any = d.Content
	if d.Suggestion != nil {
		content = d.Suggestion
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireDelta{Type: d.Type, Content: raw})
}

// UnmarshalJSON implements json.Unmarshaler. Unknown types decode without
// error so newer producers do not break older consumers.
func (d *Delta) UnmarshalJSON(data []byte) error {
	var w wireDelta
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	*d = Delta{Type: w.Type}

	raw := bytes.TrimSpace(w.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	switch raw[0] {
	case '"':
		return json.Unmarshal(raw, &d.Content)
	case '{':
		var s Suggestion
		if err := json.Unmarshal(raw, &s); err != nil {
			return fmt.Errorf("decode suggestion: %w", err)
		}
		d.Suggestion = &s
		return nil
	default:
		// numbers, arrays: keep the raw text
		d.Content = string(raw)
		return nil
	}
}

// Constructors used by producers.

func ID(id string) Delta         { return Delta{Type: DeltaID, Content: id} }
func Title(title string) Delta   { return Delta{Type: DeltaTitle, Content: title} }
func KindOf(kind Kind) Delta     { return Delta{Type: DeltaKind, Content: string(kind)} }
func Clear() Delta               { return Delta{Type: DeltaClear} }
func Finish() Delta              { return Delta{Type: DeltaFinish} }
func Suggest(s Suggestion) Delta { return Delta{Type: DeltaSuggestion, Suggestion: &s} }

// ContentFor returns the content delta of the given kind.
func ContentFor(kind Kind, content string) Delta {
	t, ok := ContentDelta[kind]
	if !ok {
		t = DeltaText
	}
	return Delta{Type: t, Content: content}
}
