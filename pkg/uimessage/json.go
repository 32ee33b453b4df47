package uimessage

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// MarshalPart encodes a part as a JSON object with its "type" discriminator first.
func MarshalPart(p Part) ([]byte, error) {
	if p == nil {
		return nil, errors.New("uimessage: nil part")
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, errors.Wrapf(err, "uimessage: marshal %s part", p.Type())
	}
	typ, err := json.Marshal(p.Type())
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

// UnmarshalPart decodes a part produced by MarshalPart.
func UnmarshalPart(data []byte) (Part, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, errors.Wrap(err, "uimessage: decode part type")
	}

	switch head.Type {
	case "text":
		return decodeAs[TextPart](data, head.Type)
	case "reasoning":
		return decodeAs[ReasoningPart](data, head.Type)
	case "file":
		return decodeAs[FilePart](data, head.Type)
	case "source-url":
		return decodeAs[SourceURLPart](data, head.Type)
	case "source-document":
		return decodeAs[SourceDocumentPart](data, head.Type)
	case "step-start":
		return StepStartPart{}, nil
	case "dynamic-tool":
		return decodeAs[DynamicToolPart](data, head.Type)
	}

	switch {
	case strings.HasPrefix(head.Type, "tool-"):
		var p ToolPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrapf(err, "uimessage: decode %s part", head.Type)
		}
		p.ToolName = strings.TrimPrefix(head.Type, "tool-")
		return p, nil
	case strings.HasPrefix(head.Type, "data-"):
		var p DataPart
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, errors.Wrapf(err, "uimessage: decode %s part", head.Type)
		}
		p.Name = strings.TrimPrefix(head.Type, "data-")
		return p, nil
	}
	return nil, errors.Errorf("uimessage: unknown part type %q", head.Type)
}

func decodeAs[T Part](data []byte, typ string) (Part, error) {
	var p T
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrapf(err, "uimessage: decode %s part", typ)
	}
	return p, nil
}

type messageJSON struct {
	ID       string            `json:"id"`
	Role     Role              `json:"role"`
	Parts    []json.RawMessage `json:"parts"`
	Metadata json.RawMessage   `json:"metadata,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	out := messageJSON{
		ID:       m.ID,
		Role:     m.Role,
		Parts:    make([]json.RawMessage, 0, len(m.Parts)),
		Metadata: m.Metadata,
	}
	for _, p := range m.Parts {
		b, err := MarshalPart(p)
		if err != nil {
			return nil, errors.Wrapf(err, "message %s", m.ID)
		}
		out.Parts = append(out.Parts, b)
	}
	return json.Marshal(out)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var in messageJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	parts := make([]Part, 0, len(in.Parts))
	for _, raw := range in.Parts {
		p, err := UnmarshalPart(raw)
		if err != nil {
			return errors.Wrapf(err, "message %s", in.ID)
		}
		parts = append(parts, p)
	}
	*m = Message{ID: in.ID, Role: in.Role, Parts: parts, Metadata: in.Metadata}
	return nil
}
