// Package ui holds the terminal browser for stored chats.
package ui

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"

	"github.com/go-go-golems/chatstream/pkg/persistence/chatstore"
	"github.com/go-go-golems/chatstream/pkg/uimessage"
)

const (
	normalMode = iota
	modalMode
)

type chatItem struct {
	rec chatstore.ChatRecord
}

func (i chatItem) Title() string { return i.rec.ChatID }
func (i chatItem) Description() string {
	updated := time.UnixMilli(i.rec.UpdatedAtMs).Format("2006-01-02 15:04")
	return fmt.Sprintf("%d messages, %s, %s", i.rec.Messages, i.rec.Status, updated)
}
func (i chatItem) FilterValue() string { return i.rec.ChatID }

type transcriptLoadedMsg struct {
	chatID string
	msgs   []uimessage.Message
	err    error
}

// Browser lists stored chats on the left and shows the selected transcript on
// the right. Enter opens the transcript rendered as markdown.
type Browser struct {
	ctx           context.Context
	store         chatstore.Store
	list          list.Model
	viewport      viewport.Model
	modalViewport viewport.Model
	transcripts   map[string][]uimessage.Message
	selected      string
	ready         bool
	width         int
	height        int
	mode          int
}

func NewBrowser(ctx context.Context, store chatstore.Store, records []chatstore.ChatRecord) Browser {
	items := make([]list.Item, 0, len(records))
	for _, r := range records {
		items = append(items, chatItem{rec: r})
	}

	delegate := list.NewDefaultDelegate()
	delegate.Styles.NormalTitle = itemTitleStyle
	delegate.Styles.NormalDesc = itemDescStyle
	delegate.Styles.SelectedTitle = selectedItemTitleStyle
	delegate.Styles.SelectedDesc = selectedItemDescStyle

	l := list.New(items, delegate, 0, 0)
	l.Title = "Chats"
	l.Styles.Title = titleStyle
	l.Styles.PaginationStyle = paginationStyle
	l.Styles.HelpStyle = helpStyle
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)

	b := Browser{
		ctx:         ctx,
		store:       store,
		list:        l,
		transcripts: map[string][]uimessage.Message{},
		mode:        normalMode,
	}
	if it, ok := l.SelectedItem().(chatItem); ok {
		b.selected = it.rec.ChatID
	}
	return b
}

// Selected is the chat id under the cursor.
func (m Browser) Selected() string { return m.selected }

func (m Browser) Init() tea.Cmd {
	if m.selected == "" {
		return nil
	}
	return m.load(m.selected)
}

func (m Browser) load(chatID string) tea.Cmd {
	ctx, store := m.ctx, m.store
	return func() tea.Msg {
		msgs, err := store.LoadMessages(ctx, chatID)
		return transcriptLoadedMsg{chatID: chatID, msgs: msgs, err: err}
	}
}

func (m Browser) baseView() string {
	listContent := listPane.Width(listWidth).Render(m.list.View())

	pane := transcriptPane.Width(m.width - listWidth - 5).Height(m.height - 4)
	var right string
	if m.selected != "" {
		right = pane.Render(m.viewport.View())
	} else {
		right = pane.Render(noSelectionStyle.Render("No chats stored"))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, listContent, right)
}

func (m Browser) modalView() string {
	modal := modalStyle.
		Width(m.width - 20).
		Height(m.height - 10).
		Render(lipgloss.JoinVertical(
			lipgloss.Left,
			modalTitleStyle.Render(" "+m.selected+" "),
			m.modalViewport.View(),
			modalCloseHelpStyle.Render("Press ESC or Enter to close"),
		))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal)
}

func (m *Browser) showTranscript() {
	msgs, ok := m.transcripts[m.selected]
	if !ok {
		m.viewport.SetContent("Loading...")
		return
	}
	m.viewport.SetContent(TranscriptText(msgs))
	m.viewport.GotoTop()
}

func (m Browser) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case transcriptLoadedMsg:
		if msg.err != nil {
			if msg.chatID == m.selected {
				m.viewport.SetContent(errorStyle.Render(errors.Wrap(msg.err, "load transcript").Error()))
			}
			return m, nil
		}
		m.transcripts[msg.chatID] = msg.msgs
		if msg.chatID == m.selected {
			m.showTranscript()
		}
		return m, nil

	case tea.KeyMsg:
		switch m.mode {
		case normalMode:
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "enter":
				msgs, ok := m.transcripts[m.selected]
				if !ok {
					return m, nil
				}
				m.mode = modalMode
				m.modalViewport.SetContent(RenderMarkdown(TranscriptMarkdown(m.selected, msgs)))
				m.modalViewport.GotoTop()
				return m, nil
			}

			var listCmd tea.Cmd
			m.list, listCmd = m.list.Update(msg)
			cmds = append(cmds, listCmd)
			if it, ok := m.list.SelectedItem().(chatItem); ok && it.rec.ChatID != m.selected {
				m.selected = it.rec.ChatID
				m.showTranscript()
				if _, cached := m.transcripts[m.selected]; !cached {
					cmds = append(cmds, m.load(m.selected))
				}
			}

		case modalMode:
			switch msg.String() {
			case "q", "ctrl+c":
				return m, tea.Quit
			case "esc", "enter", "backspace":
				m.mode = normalMode
				return m, nil
			}
			var vpCmd tea.Cmd
			m.modalViewport, vpCmd = m.modalViewport.Update(msg)
			cmds = append(cmds, vpCmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		top, right, bottom, left := docStyle.GetMargin()
		m.list.SetSize(listWidth, m.height-top-bottom-3)
		if !m.ready {
			m.viewport = viewport.New(m.width-listWidth-left-right-5, m.height-top-bottom-2)
			m.viewport.Style = lipgloss.NewStyle().Padding(0, 1)
			m.modalViewport = viewport.New(m.width-24, m.height-16)
			m.ready = true
			m.showTranscript()
		} else {
			m.viewport.Width = m.width - listWidth - left - right - 5
			m.viewport.Height = m.height - top - bottom - 2
			m.modalViewport.Width = m.width - 24
			m.modalViewport.Height = m.height - 16
		}
	}

	if m.mode == normalMode {
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		cmds = append(cmds, vpCmd)
	}

	return m, tea.Batch(cmds...)
}

func (m Browser) View() string {
	if !m.ready {
		return "Loading..."
	}
	if m.mode == modalMode {
		return m.modalView()
	}
	return m.baseView()
}

// Run lists up to limit chats from store and browses them in the alternate
// screen. It returns the chat id selected when the browser was closed.
func Run(ctx context.Context, store chatstore.Store, limit int) (string, error) {
	records, err := store.ListChats(ctx, limit)
	if err != nil {
		return "", errors.Wrap(err, "list chats")
	}
	if len(records) == 0 {
		return "", errors.New("no chats stored")
	}

	p := tea.NewProgram(NewBrowser(ctx, store, records), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	if err != nil {
		return "", errors.Wrap(err, "run browser")
	}
	if b, ok := final.(Browser); ok {
		return b.Selected(), nil
	}
	return "", nil
}
