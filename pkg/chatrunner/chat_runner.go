package chatrunner

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	input "github.com/tcnksm/go-input"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/chatstream/pkg/chat"
	"github.com/go-go-golems/chatstream/pkg/eventbus"
	"github.com/go-go-golems/chatstream/pkg/persistence/chatstore"
	"github.com/go-go-golems/chatstream/pkg/transport"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

// RunMode defines what a session does when run.
type RunMode string

const (
	// RunModeBlocking sends one prompt and returns when its turns are done.
	RunModeBlocking RunMode = "blocking"
	// RunModeInteractive sends the prompt, then keeps asking for the next one on the terminal.
	RunModeInteractive RunMode = "interactive"
	// RunModeResume reattaches to the turn the server is still producing.
	RunModeResume RunMode = "resume"
)

const (
	commandQuit       = "/quit"
	commandRegenerate = "/regenerate"
	commandClear      = "/clear"
)

// ChatSession holds a built conversation and runs it in the configured mode.
type ChatSession struct {
	ctx          context.Context
	chat         *chat.Chat
	bus          *eventbus.Bus
	pub          *eventbus.Publisher
	store        chatstore.Store
	mode         RunMode
	prompt       string
	files        []uimessage.FilePart
	requestOpts  []chat.RequestOption
	outputWriter io.Writer
	showTools    bool
	tty          io.ReadWriter
}

func (cs *ChatSession) Chat() *chat.Chat { return cs.chat }

// Run executes the session and returns the last assistant message, if any.
func (cs *ChatSession) Run() (uimessage.Message, error) {
	var err error
	switch cs.mode {
	case RunModeBlocking:
		err = cs.runBlockingInternal()
	case RunModeInteractive:
		err = cs.runInteractiveInternal()
	case RunModeResume:
		err = cs.runTurn(func(ctx context.Context) error {
			return cs.chat.ResumeStream(ctx, cs.requestOpts...)
		})
	default:
		err = errors.Errorf("unknown run mode: %v", cs.mode)
	}
	return lastAssistant(cs.chat.Messages()), err
}

func (cs *ChatSession) runBlockingInternal() error {
	if strings.TrimSpace(cs.prompt) == "" && len(cs.files) == 0 {
		return errors.New("prompt is empty")
	}
	return cs.send(cs.prompt, cs.files)
}

func (cs *ChatSession) send(prompt string, files []uimessage.FilePart) error {
	return cs.runTurn(func(ctx context.Context) error {
		return cs.chat.SendMessage(ctx, &chat.MessageInput{Text: prompt, Files: files}, cs.requestOpts...)
	})
}

// runTurn streams one request's output to the writer through the bus, then
// saves the transcript.
func (cs *ChatSession) runTurn(fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithCancel(cs.ctx)
	defer cancel()

	events, err := cs.bus.Subscribe(ctx, cs.chat.ID())
	if err != nil {
		return err
	}

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		err := eventbus.NewPrinter(cs.outputWriter, cs.showTools).Run(gctx, events)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	eg.Go(func() error {
		err := fn(gctx)
		cs.pub.Done()
		if serr := cs.save(); serr != nil {
			log.Warn().Err(serr).Str("component", "chatrunner").Str("chat_id", cs.chat.ID()).Msg("saving chat failed")
		}
		return err
	})
	return eg.Wait()
}

func (cs *ChatSession) save() error {
	if cs.store == nil {
		return nil
	}
	errText := ""
	if err := cs.chat.Error(); err != nil {
		errText = err.Error()
	}
	return cs.store.SaveMessages(context.WithoutCancel(cs.ctx), cs.chat.ID(), string(cs.chat.Status()), errText, cs.chat.Messages())
}

// runInteractiveInternal runs the initial prompt, if any, then reads prompts from
// the terminal until it is closed or the user quits.
func (cs *ChatSession) runInteractiveInternal() error {
	if strings.TrimSpace(cs.prompt) != "" || len(cs.files) > 0 {
		if err := cs.send(cs.prompt, cs.files); err != nil {
			if errors.Is(err, context.Canceled) && cs.ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "error during initial prompt")
		}
	}

	tty := cs.tty
	if tty == nil {
		if !isatty.IsTerminal(os.Stdin.Fd()) {
			log.Debug().Msg("stdin is not a TTY, not prompting for more")
			return nil
		}
		tty = stdio{}
	}
	in := &eofReader{r: tty}
	ui := &input.UI{Writer: tty, Reader: in}

	for cs.ctx.Err() == nil {
		line, err := askForPrompt(ui)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, input.ErrInterrupted) {
				return nil
			}
			return err
		}
		switch line {
		case "":
			if in.eof {
				return nil
			}
			continue
		case commandQuit:
			return nil
		case commandRegenerate:
			err = cs.runTurn(func(ctx context.Context) error {
				return cs.chat.Regenerate(ctx, "", cs.requestOpts...)
			})
		case commandClear:
			cs.chat.SetMessages(nil)
			err = cs.save()
		default:
			err = cs.send(line, nil)
		}
		if err != nil {
			// the conversation is in error; report it and let the user go on
			_, _ = fmt.Fprintf(tty, "error: %v\n", err)
			cs.chat.ClearError()
		}
	}
	return nil
}

func askForPrompt(ui *input.UI) (string, error) {
	answer, err := ui.Ask(">", &input.Options{
		Required:  false,
		HideOrder: true,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to get user input")
	}
	return strings.TrimSpace(answer), nil
}

// eofReader remembers hitting the end of input, which the prompt reports as an empty answer.
type eofReader struct {
	r   io.Reader
	eof bool
}

func (e *eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if errors.Is(err, io.EOF) {
		e.eof = true
	}
	return n, err
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stderr.Write(p) }

func lastAssistant(msgs []uimessage.Message) uimessage.Message {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == uimessage.RoleAssistant {
			return msgs[i]
		}
	}
	return uimessage.Message{}
}

// ChatBuilder collects the parts of a session. The first error sticks and is
// returned by Build.
type ChatBuilder struct {
	err          error
	ctx          context.Context
	transport    transport.Transport
	bus          *eventbus.Bus
	store        chatstore.Store
	chatID       string
	mode         RunMode
	prompt       string
	files        []uimessage.FilePart
	requestOpts  []chat.RequestOption
	outputWriter io.Writer
	showTools    bool
	tty          io.ReadWriter
	maxAuto      int
	autoContinue bool
	observers    []chat.Observer
}

func NewChatBuilder() *ChatBuilder {
	return &ChatBuilder{
		ctx:          context.Background(),
		outputWriter: os.Stdout,
		mode:         RunModeBlocking,
		maxAuto:      chat.DefaultMaxAutoContinuations,
	}
}

func (b *ChatBuilder) WithContext(ctx context.Context) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if ctx == nil {
		b.err = errors.New("context cannot be nil")
		return b
	}
	b.ctx = ctx
	return b
}

// WithTransport sets the transport turns run against. (Required)
func (b *ChatBuilder) WithTransport(t transport.Transport) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if t == nil {
		b.err = errors.New("transport cannot be nil")
		return b
	}
	b.transport = t
	return b
}

// WithBus sets the bus notifications travel over. Defaults to an in-process bus.
func (b *ChatBuilder) WithBus(bus *eventbus.Bus) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.bus = bus
	return b
}

// WithStore loads the chat's history from s and saves it back after every request.
func (b *ChatBuilder) WithStore(s chatstore.Store) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.store = s
	return b
}

func (b *ChatBuilder) WithChatID(id string) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.chatID = strings.TrimSpace(id)
	return b
}

func (b *ChatBuilder) WithMode(mode RunMode) *ChatBuilder {
	if b.err != nil {
		return b
	}
	switch mode {
	case RunModeBlocking, RunModeInteractive, RunModeResume:
		b.mode = mode
	default:
		b.err = errors.Errorf("invalid run mode: %s", mode)
	}
	return b
}

func (b *ChatBuilder) WithPrompt(prompt string) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.prompt = prompt
	return b
}

// WithAttachments attaches files to the first prompt.
func (b *ChatBuilder) WithAttachments(files []uimessage.FilePart) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.files = append(b.files, files...)
	return b
}

func (b *ChatBuilder) WithRequestOptions(opts ...chat.RequestOption) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.requestOpts = append(b.requestOpts, opts...)
	return b
}

func (b *ChatBuilder) WithOutputWriter(w io.Writer) *ChatBuilder {
	if b.err != nil {
		return b
	}
	if w == nil {
		b.err = errors.New("output writer cannot be nil")
		return b
	}
	b.outputWriter = w
	return b
}

func (b *ChatBuilder) WithShowTools(show bool) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.showTools = show
	return b
}

// WithTTY sets where interactive mode prompts and reads. Defaults to stdin/stderr
// when stdin is a terminal.
func (b *ChatBuilder) WithTTY(tty io.ReadWriter) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.tty = tty
	return b
}

func (b *ChatBuilder) WithMaxAutoContinuations(n int) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.maxAuto = n
	return b
}

// WithAutoContinue sends follow-up turns once every tool call of the last
// assistant message has an outcome.
func (b *ChatBuilder) WithAutoContinue(on bool) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.autoContinue = on
	return b
}

func (b *ChatBuilder) WithObserver(o chat.Observer) *ChatBuilder {
	if b.err != nil {
		return b
	}
	b.observers = append(b.observers, o)
	return b
}

func (b *ChatBuilder) Build() (*ChatSession, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.transport == nil {
		return nil, errors.New("transport is required")
	}
	if b.chatID == "" {
		b.chatID = uuid.NewString()
	}
	bus := b.bus
	if bus == nil {
		bus = eventbus.NewInMemory()
	}

	var history []uimessage.Message
	if b.store != nil {
		msgs, err := b.store.LoadMessages(b.ctx, b.chatID)
		switch {
		case errors.Is(err, chatstore.ErrChatNotFound):
		case err != nil:
			return nil, errors.Wrapf(err, "load chat %s", b.chatID)
		default:
			history = msgs
			log.Debug().Str("component", "chatrunner").Str("chat_id", b.chatID).Int("messages", len(msgs)).Msg("loaded chat history")
		}
	}

	pub := eventbus.NewPublisher(bus, b.chatID)
	opts := []chat.Option{
		chat.WithID(b.chatID),
		chat.WithTransport(b.transport),
		chat.WithMessages(history),
		chat.WithMaxAutoContinuations(b.maxAuto),
		chat.WithObserver(pub),
	}
	if b.autoContinue {
		opts = append(opts, chat.WithSendAutomaticallyWhen(uimessage.LastAssistantMessageIsCompleteWithToolCalls))
	}
	for _, o := range b.observers {
		opts = append(opts, chat.WithObserver(o))
	}
	c, err := chat.New(opts...)
	if err != nil {
		return nil, err
	}

	return &ChatSession{
		ctx:          b.ctx,
		chat:         c,
		bus:          bus,
		pub:          pub,
		store:        b.store,
		mode:         b.mode,
		prompt:       b.prompt,
		files:        b.files,
		requestOpts:  b.requestOpts,
		outputWriter: b.outputWriter,
		showTools:    b.showTools,
		tty:          b.tty,
	}, nil
}
