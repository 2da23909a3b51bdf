package llm

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// Segment is a run of streamed output that is either visible text or
// reasoning.
type Segment struct {
	Text      string
	Reasoning bool
}

// ThinkSplitter separates <think>...</think> reasoning from visible text in
// a token stream. Tags may be split across tokens.
type ThinkSplitter struct {
	inThink bool
	pending string
}

// Push consumes one token and returns the segments that are now complete.
func (s *ThinkSplitter) Push(token string) []Segment {
	buf := s.pending + token
	s.pending = ""

	var out []Segment
	for buf != "" {
		tag := thinkOpen
		if s.inThink {
			tag = thinkClose
		}

		if i := strings.Index(buf, tag); i >= 0 {
			out = s.emit(out, buf[:i])
			buf = buf[i+len(tag):]
			s.inThink = !s.inThink
			continue
		}

		// Hold back a suffix that could be the start of the tag.
		keep := partialSuffix(buf, tag)
		out = s.emit(out, buf[:len(buf)-keep])
		s.pending = buf[len(buf)-keep:]
		break
	}
	return out
}

// Flush returns whatever is held back at the end of the stream.
func (s *ThinkSplitter) Flush() []Segment {
	rest := s.pending
	s.pending = ""
	return s.emit(nil, rest)
}

func (s *ThinkSplitter) emit(out []Segment, text string) []Segment {
	if text == "" {
		return out
	}
	return append(out, Segment{Text: text, Reasoning: s.inThink})
}

func partialSuffix(buf, tag string) int {
	longest := len(tag) - 1
	if longest > len(buf) {
		longest = len(buf)
	}
	for n := longest; n > 0; n-- {
		if strings.HasSuffix(buf, tag[:n]) {
			return n
		}
	}
	return 0
}

// SplitReasoning separates a complete response into visible text and
// reasoning.
func SplitReasoning(content string) (text, reasoning string) {
	var s ThinkSplitter
	var tb, rb strings.Builder
	for _, seg := range append(s.Push(content), s.Flush()...) {
		if seg.Reasoning {
			rb.WriteString(seg.Text)
		} else {
			tb.WriteString(seg.Text)
		}
	}
	return tb.String(), rb.String()
}
