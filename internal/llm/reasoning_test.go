package llm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(tokens []string) (text, reasoning string) {
	var s ThinkSplitter
	var tb, rb strings.Builder
	var segs []Segment
	for _, tok := range tokens {
		segs = append(segs, s.Push(tok)...)
	}
	segs = append(segs, s.Flush()...)
	for _, seg := range segs {
		if seg.Reasoning {
			rb.WriteString(seg.Text)
		} else {
			tb.WriteString(seg.Text)
		}
	}
	return tb.String(), rb.String()
}

func TestThinkSplitter(t *testing.T) {
	tests := []struct {
		name      string
		tokens    []string
		text      string
		reasoning string
	}{
		{"plain", []string{"hello ", "world"}, "hello world", ""},
		{"whole tags", []string{"<think>plan</think>answer"}, "answer", "plan"},
		{"split open tag", []string{"<thi", "nk>pl", "an</th", "ink>ok"}, "ok", "plan"},
		{"char by char", strings.Split("a<think>b</think>c", ""), "ac", "b"},
		{"unterminated", []string{"<think>still thinking"}, "", "still thinking"},
		{"lookalike", []string{"a <thin", "g> b"}, "a <thing> b", ""},
		{"trailing partial", []string{"x <th"}, "x <th", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, reasoning := collect(tt.tokens)
			assert.Equal(t, tt.text, text)
			assert.Equal(t, tt.reasoning, reasoning)
		})
	}
}

func TestSplitReasoning(t *testing.T) {
	text, reasoning := SplitReasoning("<think>why</think>because")
	assert.Equal(t, "because", text)
	assert.Equal(t, "why", reasoning)
}
