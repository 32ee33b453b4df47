package assembler

import (
	"sort"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// State is the assistant message under construction for one turn.
//
// The open-part maps point into Message.Parts by index; the part slice stays the
// only copy of every part. Parts are only ever appended during a turn, so indexes
// remain stable.
type State struct {
	Message uimessage.Message

	activeText      map[string]int
	activeReasoning map[string]int
	closedText      map[string]struct{}
	closedReasoning map[string]struct{}
	tools           map[string]int

	anomalies int
}

// NewState starts a turn from msg. Passing the previous assistant message continues
// it: its tool parts stay addressable by call id, its text parts are treated as closed.
func NewState(msg uimessage.Message) *State {
	s := &State{
		Message:         msg.Clone(),
		activeText:      map[string]int{},
		activeReasoning: map[string]int{},
		closedText:      map[string]struct{}{},
		closedReasoning: map[string]struct{}{},
		tools:           map[string]int{},
	}
	if s.Message.Role == "" {
		s.Message.Role = uimessage.RoleAssistant
	}
	for i, p := range s.Message.Parts {
		if tc, ok := uimessage.ToolCallOf(p); ok {
			s.tools[tc.ToolCallID] = i
		}
	}
	return s
}

// ActiveTextIDs returns the ids of text parts that are still streaming, sorted.
func (s *State) ActiveTextIDs() []string { return sortedKeys(s.activeText) }

// ActiveReasoningIDs returns the ids of reasoning parts that are still streaming, sorted.
func (s *State) ActiveReasoningIDs() []string { return sortedKeys(s.activeReasoning) }

// Anomalies counts protocol violations that were tolerated while folding.
func (s *State) Anomalies() int { return s.anomalies }

// Tool returns the current state of the tool call with the given id.
func (s *State) Tool(toolCallID string) (uimessage.ToolCall, bool) {
	idx, ok := s.tools[toolCallID]
	if !ok {
		return uimessage.ToolCall{}, false
	}
	return uimessage.ToolCallOf(s.Message.Parts[idx])
}

// SetToolCall replaces the state of an existing tool call, keeping its variant.
func (s *State) SetToolCall(tc uimessage.ToolCall) bool {
	idx, ok := s.tools[tc.ToolCallID]
	if !ok {
		return false
	}
	s.Message.Parts[idx] = uimessage.WithToolCall(s.Message.Parts[idx], tc)
	return true
}

// Snapshot returns a copy of the message that is safe to hand out while folding continues.
func (s *State) Snapshot() uimessage.Message {
	return s.Message.Clone()
}

func (s *State) appendPart(p uimessage.Part) int {
	s.Message.Parts = append(s.Message.Parts, p)
	return len(s.Message.Parts) - 1
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
