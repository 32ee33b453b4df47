package uimessage

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMessageJSON_PartsCarryTypeTags(t *testing.T) {
	msg := Message{
		ID:   "m1",
		Role: RoleAssistant,
		Parts: []Part{
			StepStartPart{},
			TextPart{Text: "hi", State: TextStateDone},
			ToolPart{ToolCall: ToolCall{ToolCallID: "t1", ToolName: "weather", State: ToolStateInputAvailable, Input: json.RawMessage(`{"city":"Paris"}`)}},
			DynamicToolPart{ToolCall: ToolCall{ToolCallID: "t2", ToolName: "mcp_lookup", State: ToolStateOutputError, ErrorText: "boom"}},
			DataPart{Name: "weather", ID: "d1", Data: json.RawMessage(`{"temp":21}`)},
		},
		Metadata: json.RawMessage(`{"model":"x"}`),
	}

	b, err := json.Marshal(msg)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	parts, ok := raw["parts"].([]any)
	require.True(t, ok)
	require.Len(t, parts, 5)
	types := make([]string, 0, len(parts))
	for _, p := range parts {
		types = append(types, p.(map[string]any)["type"].(string))
	}
	require.Equal(t, []string{"step-start", "text", "tool-weather", "dynamic-tool", "data-weather"}, types)

	var back Message
	require.NoError(t, json.Unmarshal(b, &back))
	require.Equal(t, "m1", back.ID)
	require.Len(t, back.Parts, 5)
	tool, ok := back.Parts[2].(ToolPart)
	require.True(t, ok)
	require.Equal(t, "weather", tool.ToolName)
	require.JSONEq(t, `{"city":"Paris"}`, string(tool.Input))
	data, ok := back.Parts[4].(DataPart)
	require.True(t, ok)
	require.Equal(t, "weather", data.Name)
	require.Equal(t, "d1", data.ID)
}

func TestUnmarshalPart_UnknownType(t *testing.T) {
	_, err := UnmarshalPart([]byte(`{"type":"hologram"}`))
	require.Error(t, err)
}

func TestNewUserMessage(t *testing.T) {
	msg := NewUserMessage("u1", "describe this", []FilePart{{MediaType: "image/png", URL: "data:image/png;base64,AAAA"}})
	require.Equal(t, RoleUser, msg.Role)
	require.Len(t, msg.Parts, 2)
	_, isFile := msg.Parts[0].(FilePart)
	require.True(t, isFile)
	require.Equal(t, "describe this", msg.Text())
}

func TestClone_IndependentParts(t *testing.T) {
	msg := Message{ID: "a", Role: RoleAssistant, Parts: []Part{TextPart{Text: "one"}}}
	c := msg.Clone()
	c.Parts[0] = TextPart{Text: "two"}
	require.Equal(t, "one", msg.Parts[0].(TextPart).Text)
}

func TestLastAssistantMessageIsCompleteWithToolCalls(t *testing.T) {
	done := ToolPart{ToolCall: ToolCall{ToolCallID: "t1", ToolName: "a", State: ToolStateOutputAvailable}}
	pending := ToolPart{ToolCall: ToolCall{ToolCallID: "t2", ToolName: "a", State: ToolStateInputAvailable}}

	cases := []struct {
		name string
		msgs []Message
		want bool
	}{
		{name: "empty", msgs: nil, want: false},
		{name: "last is user", msgs: []Message{{ID: "u", Role: RoleUser}}, want: false},
		{name: "no tools", msgs: []Message{{ID: "a", Role: RoleAssistant, Parts: []Part{TextPart{Text: "x"}}}}, want: false},
		{name: "all resolved", msgs: []Message{{ID: "a", Role: RoleAssistant, Parts: []Part{StepStartPart{}, done}}}, want: true},
		{name: "pending call", msgs: []Message{{ID: "a", Role: RoleAssistant, Parts: []Part{done, pending}}}, want: false},
		{
			name: "only last step counts",
			msgs: []Message{{ID: "a", Role: RoleAssistant, Parts: []Part{StepStartPart{}, done, StepStartPart{}, TextPart{Text: "final"}}}},
			want: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, LastAssistantMessageIsCompleteWithToolCalls(tc.msgs))
		})
	}
}
