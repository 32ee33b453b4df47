// Package chunks defines the stream protocol vocabulary and decodes transport
// units (one SSE data payload or one NDJSON line) into typed chunks.
package chunks

import "encoding/json"

// Chunk is one protocol event. The set of implementations is closed.
type Chunk interface {
	// Type is the wire discriminator, e.g. "text-delta" or "data-weather".
	Type() string
	isChunk()
}

type TextStart struct {
	ID               string          `json:"id"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type TextDelta struct {
	ID               string          `json:"id"`
	Delta            string          `json:"delta"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type TextEnd struct {
	ID               string          `json:"id"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type ReasoningStart struct {
	ID               string          `json:"id"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type ReasoningDelta struct {
	ID               string          `json:"id"`
	Delta            string          `json:"delta"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type ReasoningEnd struct {
	ID               string          `json:"id"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type SourceURL struct {
	SourceID         string          `json:"sourceId"`
	URL              string          `json:"url"`
	Title            string          `json:"title,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type SourceDocument struct {
	SourceID         string          `json:"sourceId"`
	MediaType        string          `json:"mediaType"`
	Title            string          `json:"title"`
	Filename         string          `json:"filename,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type File struct {
	URL              string          `json:"url"`
	MediaType        string          `json:"mediaType"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type ToolInputStart struct {
	ToolCallID       string `json:"toolCallId"`
	ToolName         string `json:"toolName"`
	ProviderExecuted bool   `json:"providerExecuted,omitempty"`
	Dynamic          bool   `json:"dynamic,omitempty"`
}

type ToolInputDelta struct {
	ToolCallID     string `json:"toolCallId"`
	InputTextDelta string `json:"inputTextDelta"`
}

type ToolInputAvailable struct {
	ToolCallID       string          `json:"toolCallId"`
	ToolName         string          `json:"toolName"`
	Input            json.RawMessage `json:"input,omitempty"`
	ProviderExecuted bool            `json:"providerExecuted,omitempty"`
	Dynamic          bool            `json:"dynamic,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type ToolInputError struct {
	ToolCallID       string          `json:"toolCallId"`
	ToolName         string          `json:"toolName"`
	Input            json.RawMessage `json:"input,omitempty"`
	ErrorText        string          `json:"errorText"`
	ProviderExecuted bool            `json:"providerExecuted,omitempty"`
	Dynamic          bool            `json:"dynamic,omitempty"`
	ProviderMetadata json.RawMessage `json:"providerMetadata,omitempty"`
}

type ToolOutputAvailable struct {
	ToolCallID       string          `json:"toolCallId"`
	Output           json.RawMessage `json:"output,omitempty"`
	ProviderExecuted bool            `json:"providerExecuted,omitempty"`
	Dynamic          bool            `json:"dynamic,omitempty"`
	Preliminary      bool            `json:"preliminary,omitempty"`
}

type ToolOutputError struct {
	ToolCallID       string `json:"toolCallId"`
	ErrorText        string `json:"errorText"`
	ProviderExecuted bool   `json:"providerExecuted,omitempty"`
	Dynamic          bool   `json:"dynamic,omitempty"`
}

type StartStep struct{}

type FinishStep struct{}

type Start struct {
	MessageID       string          `json:"messageId,omitempty"`
	MessageMetadata json.RawMessage `json:"messageMetadata,omitempty"`
}

type Finish struct {
	MessageMetadata json.RawMessage `json:"messageMetadata,omitempty"`
}

type MessageMetadata struct {
	MessageMetadata json.RawMessage `json:"messageMetadata"`
}

type Error struct {
	ErrorText string `json:"errorText"`
}

type Abort struct{}

// Data is the wildcard "data-<name>" chunk.
type Data struct {
	Name      string          `json:"-"`
	ID        string          `json:"id,omitempty"`
	Data      json.RawMessage `json:"data"`
	Transient bool            `json:"transient,omitempty"`
}

func (TextStart) Type() string           { return "text-start" }
func (TextDelta) Type() string           { return "text-delta" }
func (TextEnd) Type() string             { return "text-end" }
func (ReasoningStart) Type() string      { return "reasoning-start" }
func (ReasoningDelta) Type() string      { return "reasoning-delta" }
func (ReasoningEnd) Type() string        { return "reasoning-end" }
func (SourceURL) Type() string           { return "source-url" }
func (SourceDocument) Type() string      { return "source-document" }
func (File) Type() string                { return "file" }
func (ToolInputStart) Type() string      { return "tool-input-start" }
func (ToolInputDelta) Type() string      { return "tool-input-delta" }
func (ToolInputAvailable) Type() string  { return "tool-input-available" }
func (ToolInputError) Type() string      { return "tool-input-error" }
func (ToolOutputAvailable) Type() string { return "tool-output-available" }
func (ToolOutputError) Type() string     { return "tool-output-error" }
func (StartStep) Type() string           { return "start-step" }
func (FinishStep) Type() string          { return "finish-step" }
func (Start) Type() string               { return "start" }
func (Finish) Type() string              { return "finish" }
func (MessageMetadata) Type() string     { return "message-metadata" }
func (Error) Type() string               { return "error" }
func (Abort) Type() string               { return "abort" }
func (d Data) Type() string              { return "data-" + d.Name }

func (TextStart) isChunk()           {}
func (TextDelta) isChunk()           {}
func (TextEnd) isChunk()             {}
func (ReasoningStart) isChunk()      {}
func (ReasoningDelta) isChunk()      {}
func (ReasoningEnd) isChunk()        {}
func (SourceURL) isChunk()           {}
func (SourceDocument) isChunk()      {}
func (File) isChunk()                {}
func (ToolInputStart) isChunk()      {}
func (ToolInputDelta) isChunk()      {}
func (ToolInputAvailable) isChunk()  {}
func (ToolInputError) isChunk()      {}
func (ToolOutputAvailable) isChunk() {}
func (ToolOutputError) isChunk()     {}
func (StartStep) isChunk()           {}
func (FinishStep) isChunk()          {}
func (Start) isChunk()               {}
func (Finish) isChunk()              {}
func (MessageMetadata) isChunk()     {}
func (Error) isChunk()               {}
func (Abort) isChunk()               {}
func (Data) isChunk()                {}
