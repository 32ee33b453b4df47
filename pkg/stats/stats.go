// Package stats measures assembled messages: token counts, sizes, part and tool call counts.
package stats

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/tiktoken-go/tokenizer"
	"github.com/weaviate/tiktoken-go"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

const DefaultEncoding = "cl100k_base"

// Counter counts tokens in a piece of text.
type Counter interface {
	Count(text string) (int, error)
}

type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) (int, error) {
	return len(c.enc.Encode(text, nil, nil)), nil
}

type tokenizerCounter struct {
	codec tokenizer.Codec
}

func (c *tokenizerCounter) Count(text string) (int, error) {
	ids, _, err := c.codec.Encode(text)
	if err != nil {
		return 0, errors.Wrap(err, "encode")
	}
	return len(ids), nil
}

// NewCounter returns a counter for the named encoding. Backend "tiktoken" (the
// default) uses weaviate/tiktoken-go, "tokenizer" uses tiktoken-go/tokenizer.
func NewCounter(backend, encoding string) (Counter, error) {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	switch backend {
	case "", "tiktoken":
		enc, err := tiktoken.GetEncoding(encoding)
		if err != nil {
			return nil, errors.Wrapf(err, "load encoding %s", encoding)
		}
		return &tiktokenCounter{enc: enc}, nil
	case "tokenizer":
		var e tokenizer.Encoding
		switch encoding {
		case "cl100k_base":
			e = tokenizer.Cl100kBase
		case "p50k_base":
			e = tokenizer.P50kBase
		case "r50k_base":
			e = tokenizer.R50kBase
		default:
			return nil, errors.Errorf("encoding %s not supported by the tokenizer backend", encoding)
		}
		codec, err := tokenizer.Get(e)
		if err != nil {
			return nil, errors.Wrapf(err, "load encoding %s", encoding)
		}
		return &tokenizerCounter{codec: codec}, nil
	}
	return nil, errors.Errorf("unknown token counter backend %q", backend)
}

type MessageStats struct {
	Tokens          int `json:"tokens" yaml:"tokens"`
	TextTokens      int `json:"text_tokens" yaml:"text_tokens"`
	ReasoningTokens int `json:"reasoning_tokens" yaml:"reasoning_tokens"`
	Parts           int `json:"parts" yaml:"parts"`
	ToolCalls       int `json:"tool_calls" yaml:"tool_calls"`
	Lines           int `json:"lines" yaml:"lines"`
	Bytes           int `json:"bytes" yaml:"bytes"`
}

// ForMessage counts over the text and reasoning parts of msg.
func ForMessage(c Counter, msg uimessage.Message) (MessageStats, error) {
	s := MessageStats{Parts: len(msg.Parts)}
	var text strings.Builder
	for _, p := range msg.Parts {
		switch v := p.(type) {
		case uimessage.TextPart:
			n, err := c.Count(v.Text)
			if err != nil {
				return s, err
			}
			s.TextTokens += n
			text.WriteString(v.Text)
		case uimessage.ReasoningPart:
			n, err := c.Count(v.Text)
			if err != nil {
				return s, err
			}
			s.ReasoningTokens += n
		case uimessage.ToolPart, uimessage.DynamicToolPart:
			s.ToolCalls++
		}
	}
	s.Tokens = s.TextTokens + s.ReasoningTokens
	if body := text.String(); body != "" {
		s.Bytes = len(body)
		s.Lines = strings.Count(body, "\n") + 1
	}
	return s, nil
}
