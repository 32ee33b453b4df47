package eventbus

import (
	"context"
	"fmt"
	"io"

	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// Printer renders assistant text incrementally as messages events arrive.
type Printer struct {
	w         io.Writer
	showTools bool
	// printed is keyed by the message's position in the conversation. The
	// id of a streaming message may change when the start chunk names it.
	printed map[int]int
	dirty   bool
}

func NewPrinter(w io.Writer, showTools bool) *Printer {
	return &Printer{w: w, showTools: showTools, printed: map[int]int{}}
}

// Run consumes events until a done event, the end of the channel or ctx.
func (p *Printer) Run(ctx context.Context, events <-chan Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := p.Handle(ev); err != nil {
				return err
			}
			if ev.Type == EventDone {
				return nil
			}
		}
	}
}

func (p *Printer) Handle(ev Event) error {
	switch ev.Type {
	case EventMessages:
		if ev.Message == nil || ev.Message.Role != uimessage.RoleAssistant {
			return nil
		}
		text := ev.Message.Text()
		n := p.printed[ev.Count]
		if len(text) <= n {
			return nil
		}
		if _, err := io.WriteString(p.w, text[n:]); err != nil {
			return err
		}
		p.printed[ev.Count] = len(text)
		p.dirty = true
	case EventToolCall:
		if !p.showTools || ev.ToolCall == nil {
			return nil
		}
		if err := p.newline(); err != nil {
			return err
		}
		_, err := fmt.Fprintf(p.w, "[tool %s %s] %s\n", ev.ToolCall.ToolName, ev.ToolCall.ToolCallID, string(ev.ToolCall.Input))
		return err
	case EventFinish:
		return p.newline()
	case EventDone:
		p.printed = map[int]int{}
		return p.newline()
	}
	return nil
}

func (p *Printer) newline() error {
	if !p.dirty {
		return nil
	}
	p.dirty = false
	_, err := io.WriteString(p.w, "\n")
	return err
}
