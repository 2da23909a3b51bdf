package model

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageKind tags reserved classes of messages.
type MessageKind string

// KindDocumentContext marks system messages carrying text extracted from an
// uploaded attachment.
const KindDocumentContext MessageKind = "document-context"

// PartType is the type of one content segment.
type PartType string

const (
	PartText       PartType = "text"
	PartToolCall   PartType = "tool-call"
	PartToolResult PartType = "tool-result"
	PartReasoning  PartType = "reasoning"
)

// ToolState is the lifecycle state of a tool invocation.
type ToolState string

const (
	ToolStateCall   ToolState = "call"
	ToolStateResult ToolState = "result"
)

// ToolInvocation is a structured tool request and, once executed, its result.
type ToolInvocation struct {
	ToolCallID string          `json:"toolCallId" bson:"tool_call_id"`
	ToolName   string          `json:"toolName" bson:"tool_name"`
	State      ToolState       `json:"state" bson:"state"`
	Args       json.RawMessage `json:"args,omitempty" bson:"args,omitempty"`
	Result     json.RawMessage `json:"result,omitempty" bson:"result,omitempty"`
}

// Part is one typed content segment of a message.
type Part struct {
	Type           PartType        `json:"type" bson:"type"`
	Text           string          `json:"text,omitempty" bson:"text,omitempty"`
	Reasoning      string          `json:"reasoning,omitempty" bson:"reasoning,omitempty"`
	ToolInvocation *ToolInvocation `json:"toolInvocation,omitempty" bson:"tool_invocation,omitempty"`
}

// TextPart returns a text segment.
func TextPart(text string) Part { return Part{Type: PartText, Text: text} }

// Attachment references an uploaded file.
type Attachment struct {
	Name        string `json:"name" bson:"name"`
	URL         string `json:"url,omitempty" bson:"url,omitempty"`
	ContentType string `json:"contentType,omitempty" bson:"content_type,omitempty"`
}

// Message represents a conversation message.
type Message struct {
	ID             string       `json:"id" bson:"_id"`
	ConversationID string       `json:"conversationId" bson:"conversation_id"`
	Role           Role         `json:"role" bson:"role"`
	Parts          []Part       `json:"parts" bson:"parts"`
	Attachments    []Attachment `json:"attachments,omitempty" bson:"attachments,omitempty"`
	Kind           MessageKind  `json:"kind,omitempty" bson:"kind,omitempty"`
	CreatedAt      time.Time    `json:"createdAt" bson:"created_at"`
}

// Text concatenates the message's text segments.
func (m *Message) Text() string {
	var s string
	for _, p := range m.Parts {
		if p.Type == PartText {
			s += p.Text
		}
	}
	return s
}

// ChatRequest is the body of POST /conversation.
type ChatRequest struct {
	ID       string        `json:"id"`
	Messages []ChatMessage `json:"messages"`
	ModelID  string        `json:"modelId"`
}

// ChatMessage is a client-side message as sent with a chat request. Content
// is either a plain string or a list of parts. ID is ignored; stored
// messages always get a server id.
type ChatMessage struct {
	ID          string       `json:"id"`
	Role        Role         `json:"role"`
	Content     string       `json:"content"`
	Parts       []Part       `json:"parts,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// EditMessageRequest is the body of PATCH /conversation/message.
type EditMessageRequest struct {
	ID             string `json:"id"`
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}
