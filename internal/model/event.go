package model

import (
	"encoding/json"
	"errors"
	"time"
)

// EventType is the name of a push-channel frame.
type EventType string

const (
	EventConnected                     EventType = "connected"
	EventHeartbeat                     EventType = "heartbeat"
	EventDocumentContextUpdate         EventType = "document-context-update"
	EventDocumentContextUpdateComplete EventType = "document-context-update-complete"
	EventDocumentContextUpdateFailed   EventType = "document-context-update-failed"
)

// Event is an application event announced to conversation observers.
type Event struct {
	Type           EventType      `json:"type"`
	ConversationID string         `json:"conversationId"`
	Data           map[string]any `json:"data,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// HeartbeatEvent is the payload of connected and heartbeat frames.
type HeartbeatEvent struct {
	Timestamp time.Time `json:"timestamp"`
}

// ErrorEvent is the payload of an error frame.
type ErrorEvent struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// ParseEvent decodes an event relayed through a broker.
func ParseEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	if ev.ConversationID == "" || ev.Type == "" {
		return ev, errors.New("event without conversation or type")
	}
	return ev, nil
}
