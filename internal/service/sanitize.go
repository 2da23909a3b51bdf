package service

import "github.com/capitalize-ai/canvas-chat/internal/model"

// Sanitize cleans the raw messages of one generation before they are
// persisted:
//   - tool calls without a matching result anywhere in the generation are dropped
//   - tool results whose call did not survive are dropped
//   - duplicate tool call ids within one message are dropped
//   - empty text segments are dropped
//   - reasoning segments move behind the other segments
//   - messages left without segments are dropped
//
// The input is not modified.
func Sanitize(raw []model.Message) []model.Message {
	results := make(map[string]bool)
	for _, msg := range raw {
		for _, p := range msg.Parts {
			if p.Type == model.PartToolResult && p.ToolInvocation != nil {
				results[p.ToolInvocation.ToolCallID] = true
			}
		}
	}

	calls := make(map[string]bool)
	out := make([]model.Message, 0, len(raw))

	for _, msg := range raw {
		var parts, reasoning []model.Part
		seen := make(map[string]bool)

		for _, p := range msg.Parts {
			switch p.Type {
			case model.PartText:
				if p.Text == "" {
					continue
				}
			case model.PartReasoning:
				if p.Reasoning != "" {
					reasoning = append(reasoning, p)
				}
				continue
			case model.PartToolCall:
				if p.ToolInvocation == nil {
					continue
				}
				id := p.ToolInvocation.ToolCallID
				if !results[id] || seen[id] {
					continue
				}
				seen[id] = true
				calls[id] = true
			case model.PartToolResult:
				if p.ToolInvocation == nil || !calls[p.ToolInvocation.ToolCallID] {
					continue
				}
			}
			parts = append(parts, p)
		}

		parts = append(parts, reasoning...)
		if len(parts) == 0 {
			continue
		}

		msg.Parts = parts
		out = append(out, msg)
	}

	return out
}
