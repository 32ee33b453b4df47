package eventbus

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/chunks"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// Publisher is a chat.Observer that forwards every notification to the bus.
// Publish failures are logged; they never reach the conversation.
type Publisher struct {
	bus    *Bus
	chatID string
	seq    atomic.Int64
}

var _ chat.Observer = &Publisher{}

func NewPublisher(bus *Bus, chatID string) *Publisher {
	return &Publisher{bus: bus, chatID: chatID}
}

func (p *Publisher) publish(ev Event) {
	ev.ChatID = p.chatID
	ev.Seq = p.seq.Add(1)
	if err := p.bus.Publish(ev); err != nil {
		log.Warn().Err(err).Str("component", "eventbus").Str("chat_id", p.chatID).Str("type", string(ev.Type)).Msg("publish failed")
	}
}

func (p *Publisher) OnStatusChange(status chat.Status) {
	p.publish(Event{Type: EventStatus, Status: string(status)})
}

func (p *Publisher) OnMessagesChange(messages []uimessage.Message) {
	ev := Event{Type: EventMessages, Count: len(messages)}
	if n := len(messages); n > 0 {
		last := messages[n-1]
		ev.Message = &last
	}
	p.publish(ev)
}

func (p *Publisher) OnToolCall(call uimessage.ToolCall) {
	p.publish(Event{Type: EventToolCall, ToolCall: &call})
}

func (p *Publisher) OnData(data chunks.Data) {
	p.publish(Event{Type: EventData, DataName: data.Name, Data: data.Data})
}

func (p *Publisher) OnError(err error) {
	p.publish(Event{Type: EventError, Error: err.Error()})
}

func (p *Publisher) OnFinish(info chat.FinishInfo) {
	msg := info.Message
	p.publish(Event{
		Type:    EventFinish,
		Message: &msg,
		Count:   len(info.Messages),
		IsAbort: info.IsAbort,
		IsError: info.IsError,
	})
}

// Done tells subscribers that no more events follow for the current request.
func (p *Publisher) Done() {
	p.publish(Event{Type: EventDone})
}
