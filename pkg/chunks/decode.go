package chunks

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DoneToken is the literal payload that terminates a stream successfully.
const DoneToken = "[DONE]"

// SSEDataPrefix starts every line carrying a chunk in the canonical framing.
const SSEDataPrefix = "data:"

// ErrDone is returned by the decoders when the termination sentinel is seen.
var ErrDone = errors.New("chunks: stream done")

// Decode maps one payload to a chunk.
//
// It returns ErrDone for the sentinel. Malformed JSON, unknown discriminators and
// records missing their identity field decode to (nil, nil) so the caller can skip
// the unit and keep reading.
func Decode(data []byte) (Chunk, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}
	if string(data) == DoneToken {
		return nil, ErrDone
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		log.Debug().Err(err).Str("component", "chunks").Int("bytes", len(data)).Msg("skipping malformed chunk")
		return nil, nil
	}

	c, err := decodeTyped(head.Type, data)
	if err != nil {
		log.Debug().Err(err).Str("component", "chunks").Str("type", head.Type).Msg("skipping undecodable chunk")
		return nil, nil
	}
	if c == nil {
		log.Debug().Str("component", "chunks").Str("type", head.Type).Msg("skipping unknown chunk type")
		return nil, nil
	}
	if !valid(c) {
		log.Debug().Str("component", "chunks").Str("type", head.Type).Msg("skipping chunk without identity")
		return nil, nil
	}
	return c, nil
}

// DecodeSSELine decodes one line of the canonical framing. Lines that do not carry
// a data payload (comments, event names, blank separators) yield (nil, nil).
func DecodeSSELine(line string) (Chunk, error) {
	payload, ok := SSEPayload(line)
	if !ok {
		return nil, nil
	}
	return Decode([]byte(payload))
}

// SSEPayload strips the data prefix and the single optional space after it.
func SSEPayload(line string) (string, bool) {
	line = strings.TrimRight(line, "\r\n")
	if !strings.HasPrefix(line, SSEDataPrefix) {
		return "", false
	}
	payload := strings.TrimPrefix(line, SSEDataPrefix)
	payload = strings.TrimPrefix(payload, " ")
	return payload, true
}

func decodeTyped(typ string, data []byte) (Chunk, error) {
	switch typ {
	case "text-start":
		return decodeAs[TextStart](data)
	case "text-delta":
		return decodeAs[TextDelta](data)
	case "text-end":
		return decodeAs[TextEnd](data)
	case "reasoning-start":
		return decodeAs[ReasoningStart](data)
	case "reasoning-delta":
		return decodeAs[ReasoningDelta](data)
	case "reasoning-end":
		return decodeAs[ReasoningEnd](data)
	case "source-url":
		return decodeAs[SourceURL](data)
	case "source-document":
		return decodeAs[SourceDocument](data)
	case "file":
		return decodeAs[File](data)
	case "tool-input-start":
		return decodeAs[ToolInputStart](data)
	case "tool-input-delta":
		return decodeAs[ToolInputDelta](data)
	case "tool-input-available":
		return decodeAs[ToolInputAvailable](data)
	case "tool-input-error":
		return decodeAs[ToolInputError](data)
	case "tool-output-available":
		return decodeAs[ToolOutputAvailable](data)
	case "tool-output-error":
		return decodeAs[ToolOutputError](data)
	case "start-step":
		return StartStep{}, nil
	case "finish-step":
		return FinishStep{}, nil
	case "start":
		return decodeAs[Start](data)
	case "finish":
		return decodeAs[Finish](data)
	case "message-metadata":
		return decodeAs[MessageMetadata](data)
	case "error":
		return decodeAs[Error](data)
	case "abort":
		return Abort{}, nil
	}

	if name, ok := strings.CutPrefix(typ, "data-"); ok && name != "" {
		var d Data
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		d.Name = name
		return d, nil
	}
	return nil, nil
}

func decodeAs[T Chunk](data []byte) (Chunk, error) {
	var c T
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func valid(c Chunk) bool {
	switch v := c.(type) {
	case TextStart:
		return v.ID != ""
	case TextDelta:
		return v.ID != ""
	case TextEnd:
		return v.ID != ""
	case ReasoningStart:
		return v.ID != ""
	case ReasoningDelta:
		return v.ID != ""
	case ReasoningEnd:
		return v.ID != ""
	case ToolInputStart:
		return v.ToolCallID != ""
	case ToolInputDelta:
		return v.ToolCallID != ""
	case ToolInputAvailable:
		return v.ToolCallID != ""
	case ToolInputError:
		return v.ToolCallID != ""
	case ToolOutputAvailable:
		return v.ToolCallID != ""
	case ToolOutputError:
		return v.ToolCallID != ""
	}
	return true
}

// Encode writes a chunk in its wire form, with the discriminator first.
func Encode(c Chunk) ([]byte, error) {
	if c == nil {
		return nil, errors.New("chunks: nil chunk")
	}
	body, err := json.Marshal(c)
	if err != nil {
		return nil, errors.Wrapf(err, "chunks: encode %s", c.Type())
	}
	typ, err := json.Marshal(c.Type())
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typ)
	if len(body) > 2 {
		buf.WriteByte(',')
		buf.Write(body[1:])
	} else {
		buf.WriteByte('}')
	}
	return buf.Bytes(), nil
}

// EncodeSSE writes a chunk as one framed SSE event, including the blank separator line.
func EncodeSSE(c Chunk) ([]byte, error) {
	b, err := Encode(c)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(b)+8)
	out = append(out, "data: "...)
	out = append(out, b...)
	out = append(out, "\n\n"...)
	return out, nil
}
