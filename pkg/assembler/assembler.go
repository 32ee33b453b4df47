// Package assembler folds decoded stream chunks, in arrival order, into the
// assistant message of the current turn.
package assembler

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chunks"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// Callbacks receive the side-channel notifications of a fold. All are optional.
type Callbacks struct {
	// OnToolCall fires when the input of a client-executed tool call is complete.
	OnToolCall func(call uimessage.ToolCall)
	// OnData fires for every data chunk, transient or not.
	OnData func(data chunks.Data)
	// OnError fires for error chunks. It does not stop the fold.
	OnError func(errorText string)
}

type streamKind int

const (
	kindText streamKind = iota
	kindReasoning
)

func (k streamKind) String() string {
	if k == kindReasoning {
		return "reasoning"
	}
	return "text"
}

// Fold applies one chunk to the state.
func Fold(s *State, c chunks.Chunk, cb Callbacks) {
	switch v := c.(type) {
	case chunks.TextStart:
		s.openStream(kindText, v.ID, v.ProviderMetadata)
	case chunks.TextDelta:
		s.appendStream(kindText, v.ID, v.Delta, v.ProviderMetadata)
	case chunks.TextEnd:
		s.closeStream(kindText, v.ID, v.ProviderMetadata)
	case chunks.ReasoningStart:
		s.openStream(kindReasoning, v.ID, v.ProviderMetadata)
	case chunks.ReasoningDelta:
		s.appendStream(kindReasoning, v.ID, v.Delta, v.ProviderMetadata)
	case chunks.ReasoningEnd:
		s.closeStream(kindReasoning, v.ID, v.ProviderMetadata)

	case chunks.ToolInputStart:
		s.toolInputStart(v)
	case chunks.ToolInputDelta:
		s.toolInputDelta(v)
	case chunks.ToolInputAvailable:
		tc := s.toolInputAvailable(v)
		if !tc.ProviderExecuted && cb.OnToolCall != nil {
			cb.OnToolCall(tc)
		}
	case chunks.ToolInputError:
		s.toolInputError(v)
	case chunks.ToolOutputAvailable:
		s.updateTool(v.ToolCallID, v.Type(), func(tc *uimessage.ToolCall) {
			tc.State = uimessage.ToolStateOutputAvailable
			tc.Output = v.Output
			tc.Preliminary = v.Preliminary
			tc.ProviderExecuted = tc.ProviderExecuted || v.ProviderExecuted
			tc.ErrorText = ""
		})
	case chunks.ToolOutputError:
		s.updateTool(v.ToolCallID, v.Type(), func(tc *uimessage.ToolCall) {
			tc.State = uimessage.ToolStateOutputError
			tc.ErrorText = v.ErrorText
			tc.ProviderExecuted = tc.ProviderExecuted || v.ProviderExecuted
		})

	case chunks.SourceURL:
		s.appendPart(uimessage.SourceURLPart{SourceID: v.SourceID, URL: v.URL, Title: v.Title, ProviderMetadata: v.ProviderMetadata})
	case chunks.SourceDocument:
		s.appendPart(uimessage.SourceDocumentPart{SourceID: v.SourceID, MediaType: v.MediaType, Title: v.Title, Filename: v.Filename, ProviderMetadata: v.ProviderMetadata})
	case chunks.File:
		s.appendPart(uimessage.FilePart{URL: v.URL, MediaType: v.MediaType, ProviderMetadata: v.ProviderMetadata})

	case chunks.StartStep:
		s.appendPart(uimessage.StepStartPart{})
	case chunks.FinishStep:
		// Tool parts stay indexed: their identity spans steps. Text and reasoning
		// ids are scoped to the step and may be reused by the next one.
		s.endStep()

	case chunks.Start:
		if v.MessageID != "" {
			s.Message.ID = v.MessageID
		}
		if v.MessageMetadata != nil {
			s.Message.Metadata = v.MessageMetadata
		}
	case chunks.Finish:
		if v.MessageMetadata != nil {
			s.Message.Metadata = v.MessageMetadata
		}
	case chunks.MessageMetadata:
		if v.MessageMetadata != nil {
			s.Message.Metadata = v.MessageMetadata
		}

	case chunks.Data:
		s.data(v)
		if cb.OnData != nil {
			cb.OnData(v)
		}
	case chunks.Error:
		if cb.OnError != nil {
			cb.OnError(v.ErrorText)
		}
	case chunks.Abort:
	}
}

// Finalize closes whatever the stream left open: streaming text and reasoning parts
// become done, and tool calls whose input never completed become input-abandoned.
func Finalize(s *State) {
	s.endStep()

	for id, idx := range s.tools {
		tc, ok := uimessage.ToolCallOf(s.Message.Parts[idx])
		if !ok || tc.State != uimessage.ToolStateInputStreaming {
			continue
		}
		log.Debug().Str("component", "assembler").Str("tool_call_id", id).Msg("tool input never completed")
		tc.State = uimessage.ToolStateInputAbandoned
		s.Message.Parts[idx] = uimessage.WithToolCall(s.Message.Parts[idx], tc)
	}
}

// endStep marks parts still streaming done and forgets every text and reasoning id.
func (s *State) endStep() {
	for _, idx := range s.activeText {
		s.Message.Parts[idx] = markDone(s.Message.Parts[idx], nil)
	}
	for _, idx := range s.activeReasoning {
		s.Message.Parts[idx] = markDone(s.Message.Parts[idx], nil)
	}
	s.activeText = map[string]int{}
	s.activeReasoning = map[string]int{}
	s.closedText = map[string]struct{}{}
	s.closedReasoning = map[string]struct{}{}
}

func (s *State) maps(k streamKind) (active map[string]int, closed map[string]struct{}) {
	if k == kindReasoning {
		return s.activeReasoning, s.closedReasoning
	}
	return s.activeText, s.closedText
}

func (s *State) anomaly(kind, id, msg string) {
	s.anomalies++
	log.Warn().Str("component", "assembler").Str("chunk", kind).Str("id", id).Str("message_id", s.Message.ID).Msg(msg)
}

func (s *State) openStream(k streamKind, id string, pm json.RawMessage) {
	active, closed := s.maps(k)
	if _, ok := closed[id]; ok {
		s.anomaly(k.String()+"-start", id, "part id reopened after end, ignoring")
		return
	}
	if prev, ok := active[id]; ok {
		s.anomaly(k.String()+"-start", id, "part id already open, replacing")
		s.Message.Parts[prev] = markDone(s.Message.Parts[prev], nil)
	}
	var p uimessage.Part
	if k == kindReasoning {
		p = uimessage.ReasoningPart{State: uimessage.TextStateStreaming, ProviderMetadata: pm}
	} else {
		p = uimessage.TextPart{State: uimessage.TextStateStreaming, ProviderMetadata: pm}
	}
	active[id] = s.appendPart(p)
}

func (s *State) appendStream(k streamKind, id, delta string, pm json.RawMessage) {
	active, _ := s.maps(k)
	idx, ok := active[id]
	if !ok {
		log.Debug().Str("component", "assembler").Str("kind", k.String()).Str("id", id).Msg("delta for unknown part, dropping")
		return
	}
	switch p := s.Message.Parts[idx].(type) {
	case uimessage.TextPart:
		p.Text += delta
		if pm != nil {
			p.ProviderMetadata = pm
		}
		s.Message.Parts[idx] = p
	case uimessage.ReasoningPart:
		p.Text += delta
		if pm != nil {
			p.ProviderMetadata = pm
		}
		s.Message.Parts[idx] = p
	}
}

func (s *State) closeStream(k streamKind, id string, pm json.RawMessage) {
	active, closed := s.maps(k)
	idx, ok := active[id]
	if !ok {
		log.Debug().Str("component", "assembler").Str("kind", k.String()).Str("id", id).Msg("end for unknown part, dropping")
		return
	}
	s.Message.Parts[idx] = markDone(s.Message.Parts[idx], pm)
	delete(active, id)
	closed[id] = struct{}{}
}

func markDone(p uimessage.Part, pm json.RawMessage) uimessage.Part {
	switch v := p.(type) {
	case uimessage.TextPart:
		v.State = uimessage.TextStateDone
		if pm != nil {
			v.ProviderMetadata = pm
		}
		return v
	case uimessage.ReasoningPart:
		v.State = uimessage.TextStateDone
		if pm != nil {
			v.ProviderMetadata = pm
		}
		return v
	}
	return p
}

func newToolPart(dynamic bool, tc uimessage.ToolCall) uimessage.Part {
	if dynamic {
		return uimessage.DynamicToolPart{ToolCall: tc}
	}
	return uimessage.ToolPart{ToolCall: tc}
}

// upsertTool finds the tool part by call id or appends a new one, then applies fn.
func (s *State) upsertTool(toolCallID string, dynamic bool, fn func(tc *uimessage.ToolCall)) uimessage.ToolCall {
	idx, ok := s.tools[toolCallID]
	if !ok {
		idx = s.appendPart(newToolPart(dynamic, uimessage.ToolCall{ToolCallID: toolCallID}))
		s.tools[toolCallID] = idx
	}
	tc, _ := uimessage.ToolCallOf(s.Message.Parts[idx])
	fn(&tc)
	s.Message.Parts[idx] = uimessage.WithToolCall(s.Message.Parts[idx], tc)
	return tc
}

// updateTool applies fn to an existing tool part. Unknown ids are tolerated anomalies.
func (s *State) updateTool(toolCallID, kind string, fn func(tc *uimessage.ToolCall)) {
	if _, ok := s.tools[toolCallID]; !ok {
		s.anomaly(kind, toolCallID, "no tool call with this id")
		return
	}
	s.upsertTool(toolCallID, false, fn)
}

func (s *State) toolInputStart(v chunks.ToolInputStart) {
	if _, ok := s.tools[v.ToolCallID]; ok {
		s.anomaly(v.Type(), v.ToolCallID, "tool call restarted")
	}
	s.upsertTool(v.ToolCallID, v.Dynamic, func(tc *uimessage.ToolCall) {
		tc.ToolName = v.ToolName
		tc.State = uimessage.ToolStateInputStreaming
		tc.RawInput = ""
		tc.Input = nil
		tc.ProviderExecuted = v.ProviderExecuted
	})
}

func (s *State) toolInputDelta(v chunks.ToolInputDelta) {
	s.updateTool(v.ToolCallID, v.Type(), func(tc *uimessage.ToolCall) {
		tc.RawInput += v.InputTextDelta
		if json.Valid([]byte(tc.RawInput)) {
			tc.Input = json.RawMessage(tc.RawInput)
		}
	})
}

func (s *State) toolInputAvailable(v chunks.ToolInputAvailable) uimessage.ToolCall {
	return s.upsertTool(v.ToolCallID, v.Dynamic, func(tc *uimessage.ToolCall) {
		if v.ToolName != "" {
			tc.ToolName = v.ToolName
		}
		tc.State = uimessage.ToolStateInputAvailable
		if v.Input != nil {
			tc.Input = v.Input
		}
		tc.ProviderExecuted = v.ProviderExecuted
		if v.ProviderMetadata != nil {
			tc.CallProviderMetadata = v.ProviderMetadata
		}
	})
}

func (s *State) toolInputError(v chunks.ToolInputError) {
	s.upsertTool(v.ToolCallID, v.Dynamic, func(tc *uimessage.ToolCall) {
		if v.ToolName != "" {
			tc.ToolName = v.ToolName
		}
		tc.State = uimessage.ToolStateOutputError
		if v.Input != nil {
			tc.Input = v.Input
		}
		tc.ErrorText = v.ErrorText
		tc.ProviderExecuted = v.ProviderExecuted
		if v.ProviderMetadata != nil {
			tc.CallProviderMetadata = v.ProviderMetadata
		}
	})
}

func (s *State) data(v chunks.Data) {
	if v.Transient {
		return
	}
	if v.ID != "" {
		for i, p := range s.Message.Parts {
			if d, ok := p.(uimessage.DataPart); ok && d.Name == v.Name && d.ID == v.ID {
				d.Data = v.Data
				s.Message.Parts[i] = d
				return
			}
		}
	}
	s.appendPart(uimessage.DataPart{Name: v.Name, ID: v.ID, Data: v.Data})
}
