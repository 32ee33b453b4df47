package uimessage

import "encoding/json"

// Part is one segment of a message. The set of implementations is closed.
type Part interface {
	// Type is the wire discriminator of the part, e.g. "text" or "tool-weather".
	Type() string
	isPart()
}

type TextState string

const (
	TextStateStreaming TextState = "streaming"
	TextStateDone      TextState = "done"
)

type ToolState string

const (
	ToolStateInputStreaming  ToolState = "input-streaming"
	ToolStateInputAvailable  ToolState = "input-available"
	ToolStateOutputAvailable ToolState = "output-available"
	ToolStateOutputError     ToolState = "output-error"
	// ToolStateInputAbandoned marks a call whose input never completed before the stream ended.
	ToolStateInputAbandoned ToolState = "input-abandoned"
)

type TextPart struct {
	Text             string          `json:"text"`
	State            TextState       `json:"state,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type ReasoningPart struct {
	Text             string          `json:"text"`
	State            TextState       `json:"state,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type FilePart struct {
	MediaType        string          `json:"mediaType"`
	Filename         string          `json:"filename,omitempty"`
	URL              string          `json:"url"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type SourceURLPart struct {
	SourceID         string          `json:"sourceId"`
	URL              string          `json:"url"`
	Title            string          `json:"title,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type SourceDocumentPart struct {
	SourceID         string          `json:"sourceId"`
	MediaType        string          `json:"mediaType"`
	Title            string          `json:"title"`
	Filename         string          `json:"filename,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

// ToolCall is the state shared by static and dynamic tool parts.
type ToolCall struct {
	ToolCallID string    `json:"toolCallId"`
	ToolName   string    `json:"toolName,omitempty"`
	State      ToolState `json:"state"`
	// RawInput accumulates streamed input text until the final input is known.
	RawInput             string          `json:"rawInput,omitempty"`
	Input                json.RawMessage `json:"input,omitempty"`
	Output               json.RawMessage `json:"output,omitempty"`
	ErrorText            string          `json:"errorText,omitempty"`
	ProviderExecuted     bool            `json:"providerExecuted,omitempty"`
	Preliminary          bool            `json:"preliminary,omitempty"`
	CallProviderMetadata json.RawMessage `json:"callProviderMetadata,omitempty"`
}

// ToolPart is a call of a tool known at build time; its name is part of the type tag.
type ToolPart struct {
	ToolCall
}

// DynamicToolPart is a call of a tool whose name is only known at runtime.
type DynamicToolPart struct {
	ToolCall
}

// DataPart carries an application-defined payload named by the "data-<name>" tag.
type DataPart struct {
	Name string          `json:"-"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data"`
}

// StepStartPart marks the beginning of a step inside a multi-step assistant turn.
type StepStartPart struct{}

func (TextPart) Type() string           { return "text" }
func (ReasoningPart) Type() string      { return "reasoning" }
func (FilePart) Type() string           { return "file" }
func (SourceURLPart) Type() string      { return "source-url" }
func (SourceDocumentPart) Type() string { return "source-document" }
func (p ToolPart) Type() string         { return "tool-" + p.ToolName }
func (DynamicToolPart) Type() string    { return "dynamic-tool" }
func (p DataPart) Type() string         { return "data-" + p.Name }
func (StepStartPart) Type() string      { return "step-start" }

func (TextPart) isPart()           {}
func (ReasoningPart) isPart()      {}
func (FilePart) isPart()           {}
func (SourceURLPart) isPart()      {}
func (SourceDocumentPart) isPart() {}
func (ToolPart) isPart()           {}
func (DynamicToolPart) isPart()    {}
func (DataPart) isPart()           {}
func (StepStartPart) isPart()      {}

// ToolCallOf extracts the tool state from a tool or dynamic tool part.
func ToolCallOf(p Part) (ToolCall, bool) {
	switch v := p.(type) {
	case ToolPart:
		return v.ToolCall, true
	case DynamicToolPart:
		return v.ToolCall, true
	}
	return ToolCall{}, false
}

// WithToolCall returns p with its tool state replaced, keeping the variant.
// Non-tool parts are returned unchanged.
func WithToolCall(p Part, tc ToolCall) Part {
	switch p.(type) {
	case ToolPart:
		return ToolPart{ToolCall: tc}
	case DynamicToolPart:
		return DynamicToolPart{ToolCall: tc}
	}
	return p
}
