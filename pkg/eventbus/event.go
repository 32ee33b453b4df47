package eventbus

import (
	"encoding/json"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

type EventType string

const (
	EventStatus   EventType = "status"
	EventMessages EventType = "messages"
	EventToolCall EventType = "tool-call"
	EventData     EventType = "data"
	EventError    EventType = "error"
	EventFinish   EventType = "finish"
	// EventDone is published once the request that started the turns has returned.
	EventDone EventType = "done"
)

// Event is the bus payload. Seq increases by one per event published for a chat,
// so a consumer can tell when it missed some.
type Event struct {
	Type   EventType `json:"type"`
	ChatID string    `json:"chat_id"`
	Seq    int64     `json:"seq"`

	Status string `json:"status,omitempty"`
	// Message is the last message of the transcript for messages and finish events.
	Message  *uimessage.Message  `json:"message,omitempty"`
	Count    int                 `json:"count,omitempty"`
	ToolCall *uimessage.ToolCall `json:"tool_call,omitempty"`
	DataName string              `json:"data_name,omitempty"`
	Data     json.RawMessage     `json:"data,omitempty"`
	Error    string              `json:"error,omitempty"`
	IsAbort  bool                `json:"is_abort,omitempty"`
	IsError  bool                `json:"is_error,omitempty"`
}

// Topic is the bus topic carrying a chat's events.
func Topic(chatID string) string { return "chat:" + chatID }
