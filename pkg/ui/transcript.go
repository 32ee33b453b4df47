package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// TranscriptText is the compact, styled view of a conversation shown next to the list.
func TranscriptText(msgs []uimessage.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		b.WriteString(roleStyle.Render(string(m.Role)))
		b.WriteString("\n")
		if text := m.Text(); text != "" {
			b.WriteString(text)
			b.WriteString("\n")
		}
		for _, tc := range m.ToolCalls() {
			b.WriteString(toolStyle.Render(fmt.Sprintf("tool %s (%s): %s", tc.ToolName, tc.ToolCallID, tc.State)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// TranscriptMarkdown lays the conversation out as a markdown document.
func TranscriptMarkdown(chatID string, msgs []uimessage.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", chatID)
	for _, m := range msgs {
		fmt.Fprintf(&b, "## %s\n\n", m.Role)
		for _, p := range m.Parts {
			switch v := p.(type) {
			case uimessage.TextPart:
				b.WriteString(v.Text)
				b.WriteString("\n\n")
			case uimessage.ReasoningPart:
				fmt.Fprintf(&b, "> %s\n\n", strings.ReplaceAll(v.Text, "\n", "\n> "))
			case uimessage.FilePart:
				fmt.Fprintf(&b, "- file `%s` (%s)\n\n", v.Filename, v.MediaType)
			case uimessage.SourceURLPart:
				fmt.Fprintf(&b, "- [%s](%s)\n\n", v.Title, v.URL)
			}
			if tc, ok := uimessage.ToolCallOf(p); ok {
				fmt.Fprintf(&b, "- tool `%s` %s\n", tc.ToolName, tc.State)
				if len(tc.Input) > 0 {
					fmt.Fprintf(&b, "\n```json\n%s\n```\n", tc.Input)
				}
				if len(tc.Output) > 0 {
					fmt.Fprintf(&b, "\n```json\n%s\n```\n", tc.Output)
				}
				if tc.ErrorText != "" {
					fmt.Fprintf(&b, "\n  error: %s\n", tc.ErrorText)
				}
				b.WriteString("\n")
			}
		}
	}
	return b.String()
}

// RenderMarkdown styles md for the terminal, falling back to the raw text.
func RenderMarkdown(md string) string {
	styled, err := glamour.Render(md, "dark")
	if err != nil {
		return md
	}
	return styled
}
