package model

// StreamCode prefixes each line of the chat response body. A line is
// "<code>:<json>\n".
type StreamCode string

const (
	StreamText       StreamCode = "0"
	StreamData       StreamCode = "2"
	StreamError      StreamCode = "3"
	StreamToolCall   StreamCode = "9"
	StreamToolResult StreamCode = "a"
	StreamFinish     StreamCode = "d"
	StreamReasoning  StreamCode = "g"
)

// ToolCallFrame is the payload of a tool call line.
type ToolCallFrame struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Args       any    `json:"args"`
}

// ToolResultFrame is the payload of a tool result line.
type ToolResultFrame struct {
	ToolCallID string `json:"toolCallId"`
	Result     any    `json:"result"`
}

// FinishFrame is the payload of the final line of a generation.
type FinishFrame struct {
	FinishReason string   `json:"finishReason"`
	MessageIDs   []string `json:"messageIds,omitempty"`
}
