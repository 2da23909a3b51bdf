package artifact

// Status is the lifecycle state of a draft.
type Status string

const (
	StatusUninitialized Status = "uninitialized"
	StatusStreaming     Status = "streaming"
	StatusIdle          Status = "idle"
)

// DefaultDraftID is the placeholder id of a lazily created draft.
const DefaultDraftID = "init"

// Content lengths at which a streaming text or code draft becomes visible.
const (
	textVisibleAfter = 400
	codeVisibleAfter = 300
)

// Draft is the live materialization of an artifact while its deltas stream.
// The zero value is an uninitialized draft.
type Draft struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Kind        Kind         `json:"kind"`
	Content     string       `json:"content"`
	Status      Status       `json:"status"`
	Visible     bool         `json:"isVisible"`
	Suggestions []Suggestion `json:"suggestions,omitempty"`
}

// State returns the draft's status, mapping the zero value to uninitialized.
func (d Draft) State() Status {
	if d.Status == "" {
		return StatusUninitialized
	}
	return d.Status
}

// Combiner merges a content delta into the current content.
type Combiner func(current, delta string) string

// Concat appends delta to current.
func Concat(current, delta string) string { return current + delta }

// Replace discards current in favor of delta.
func Replace(_, delta string) string { return delta }

// Rules selects the combiner per content delta type.
type Rules map[DeltaType]Combiner

// DefaultRules concatenates text and code; sheet and image deltas carry the
// full payload and replace.
var DefaultRules = Rules{
	DeltaText:  Concat,
	DeltaCode:  Concat,
	DeltaSheet: Replace,
	DeltaImage: Replace,
}

// Apply is the pure transition function (draft, delta) -> draft using
// DefaultRules.
func Apply(d Draft, delta Delta) Draft {
	return DefaultRules.Apply(d, delta)
}

// Apply is the transition function with r's combination rules.
func (r Rules) Apply(d Draft, delta Delta) Draft {
	if !known(delta.Type) {
		return d
	}

	switch d.State() {
	case StatusUninitialized:
		d = Draft{ID: DefaultDraftID, Kind: KindText, Status: StatusStreaming}
		if delta.Type == DeltaFinish {
			d.Status = StatusIdle
			return d
		}
	case StatusIdle:
		switch delta.Type {
		case DeltaClear, DeltaFinish:
			return d
		case DeltaSuggestion:
		default:
			d.Status = StatusStreaming
		}
	}

	switch delta.Type {
	case DeltaID:
		d.ID = delta.Content
	case DeltaTitle:
		d.Title = delta.Content
	case DeltaKind:
		if k := Kind(delta.Content); k.Valid() {
			d.Kind = k
		}
	case DeltaClear:
		d.Content = ""
	case DeltaFinish:
		d.Status = StatusIdle
	case DeltaSuggestion:
		if delta.Suggestion != nil {
			d.Suggestions = append(append([]Suggestion(nil), d.Suggestions...), *delta.Suggestion)
		}
	case DeltaText, DeltaCode, DeltaSheet, DeltaImage:
		combine := r[delta.Type]
		if combine == nil {
			combine = Concat
		}
		d.Content = combine(d.Content, delta.Content)
		d.Visible = visible(d, delta.Type)
	}

	return d
}

func visible(d Draft, t DeltaType) bool {
	if d.Visible {
		return true
	}
	switch t {
	case DeltaSheet, DeltaImage:
		return true
	case DeltaText:
		return d.Status == StatusStreaming && len(d.Content) > textVisibleAfter
	case DeltaCode:
		return d.Status == StatusStreaming && len(d.Content) > codeVisibleAfter
	}
	return false
}

func known(t DeltaType) bool {
	switch t {
	case DeltaID, DeltaTitle, DeltaKind, DeltaText, DeltaCode, DeltaSheet,
		DeltaImage, DeltaSuggestion, DeltaClear, DeltaFinish:
		return true
	}
	return false
}

// Reducer applies one generation's delta stream. Consumers typically hold
// the whole list of deltas received so far and hand it over on every
// update; only the unseen suffix is applied.
type Reducer struct {
	Rules   Rules
	draft   Draft
	applied int
}

// NewReducer creates a reducer with DefaultRules.
func NewReducer() *Reducer {
	return &Reducer{Rules: DefaultRules}
}

// ApplyBatch applies deltas[applied:] in order and returns the new draft.
// Re-delivering an already applied prefix is a no-op.
func (r *Reducer) ApplyBatch(deltas []Delta) Draft {
	rules := r.Rules
	if rules == nil {
		rules = DefaultRules
	}
	for ; r.applied < len(deltas); r.applied++ {
		r.draft = rules.Apply(r.draft, deltas[r.applied])
	}
	return r.draft
}

// Applied is the number of deltas applied in the current generation.
func (r *Reducer) Applied() int { return r.applied }

// Draft returns the current draft.
func (r *Reducer) Draft() Draft { return r.draft }

// Reset starts a new generation. The draft is kept so an idle artifact can
// be re-entered by the next generation's deltas.
func (r *Reducer) Reset() {
	r.applied = 0
}
