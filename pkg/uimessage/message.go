// Package uimessage holds the conversation transcript model: messages made of an
// ordered sequence of typed parts.
//
// Part is a closed set. Consumers switch over the concrete types:
//
//	switch p := part.(type) {
//	case TextPart:
//	case ToolPart:
//	...
//	}
//
// Parts are values. Mutating a part means replacing it at its index, which keeps
// the message's part slice the single source of truth.
package uimessage

import (
	"encoding/json"
	"strings"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry of a conversation.
type Message struct {
	ID       string          `json:"id"`
	Role     Role            `json:"role"`
	Parts    []Part          `json:"-"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// NewUserMessage wraps text and optional file attachments into a user message.
// Files come first, mirroring how attachments are shown above the prompt.
func NewUserMessage(id string, text string, files []FilePart) Message {
	parts := make([]Part, 0, len(files)+1)
	for _, f := range files {
		parts = append(parts, f)
	}
	if text != "" {
		parts = append(parts, TextPart{Text: text, State: TextStateDone})
	}
	return Message{ID: id, Role: RoleUser, Parts: parts}
}

// Clone returns a copy whose part slice can be modified independently.
// Raw JSON payloads are shared; they are treated as immutable.
func (m Message) Clone() Message {
	out := m
	if m.Parts != nil {
		out.Parts = make([]Part, len(m.Parts))
		copy(out.Parts, m.Parts)
	}
	return out
}

// Text concatenates all text parts.
func (m Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if t, ok := p.(TextPart); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// ToolCalls returns the tool state of every tool and dynamic tool part, in order.
func (m Message) ToolCalls() []ToolCall {
	var out []ToolCall
	for _, p := range m.Parts {
		if tc, ok := ToolCallOf(p); ok {
			out = append(out, tc)
		}
	}
	return out
}

// FindTool returns the index of the tool part with the given call id, or -1.
func (m Message) FindTool(toolCallID string) int {
	for i, p := range m.Parts {
		if tc, ok := ToolCallOf(p); ok && tc.ToolCallID == toolCallID {
			return i
		}
	}
	return -1
}

// CloneMessages copies a message list, cloning each message.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}

// IndexOf returns the position of the message with the given id, or -1.
func IndexOf(msgs []Message, id string) int {
	for i := range msgs {
		if msgs[i].ID == id {
			return i
		}
	}
	return -1
}

// LastAssistantMessageIsCompleteWithToolCalls reports whether the last message is an
// assistant message whose last step contains at least one tool call and every tool
// call of that step has an output or an error.
func LastAssistantMessageIsCompleteWithToolCalls(msgs []Message) bool {
	if len(msgs) == 0 {
		return false
	}
	last := msgs[len(msgs)-1]
	if last.Role != RoleAssistant {
		return false
	}

	stepStart := 0
	for i, p := range last.Parts {
		if _, ok := p.(StepStartPart); ok {
			stepStart = i
		}
	}

	calls := 0
	for _, p := range last.Parts[stepStart:] {
		tc, ok := ToolCallOf(p)
		if !ok || tc.ProviderExecuted {
			continue
		}
		calls++
		if tc.State != ToolStateOutputAvailable && tc.State != ToolStateOutputError {
			return false
		}
	}
	return calls > 0
}
