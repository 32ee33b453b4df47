package chat

import (
	"github.com/go-go-golems/chatstream/pkg/chunks"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// FinishInfo describes how a turn ended.
type FinishInfo struct {
	// Message is the assistant message the turn assembled.
	Message  uimessage.Message
	Messages []uimessage.Message
	IsAbort  bool
	IsError  bool
}

// Observer receives conversation notifications. Calls happen on the goroutine that
// runs the turn, in order, and never while the controller holds its lock, so an
// observer may call back into the Chat (AddToolResult from OnToolCall, for example).
type Observer interface {
	OnStatusChange(status Status)
	OnMessagesChange(messages []uimessage.Message)
	OnToolCall(call uimessage.ToolCall)
	OnData(data chunks.Data)
	OnError(err error)
	OnFinish(info FinishInfo)
}

// Hooks adapts plain functions to Observer. Nil fields are skipped.
type Hooks struct {
	StatusChange   func(status Status)
	MessagesChange func(messages []uimessage.Message)
	ToolCall       func(call uimessage.ToolCall)
	Data           func(data chunks.Data)
	Error          func(err error)
	Finish         func(info FinishInfo)
}

var _ Observer = Hooks{}

func (h Hooks) OnStatusChange(status Status) {
	if h.StatusChange != nil {
		h.StatusChange(status)
	}
}

func (h Hooks) OnMessagesChange(messages []uimessage.Message) {
	if h.MessagesChange != nil {
		h.MessagesChange(messages)
	}
}

func (h Hooks) OnToolCall(call uimessage.ToolCall) {
	if h.ToolCall != nil {
		h.ToolCall(call)
	}
}

func (h Hooks) OnData(data chunks.Data) {
	if h.Data != nil {
		h.Data(data)
	}
}

func (h Hooks) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}

func (h Hooks) OnFinish(info FinishInfo) {
	if h.Finish != nil {
		h.Finish(info)
	}
}
