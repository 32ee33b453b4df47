package ui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
)

const listWidth = 48

var (
	titleStyle      = lipgloss.NewStyle().MarginLeft(2).Bold(true).Foreground(lipgloss.Color("#FFFDF5"))
	paginationStyle = list.DefaultStyles().PaginationStyle.PaddingLeft(4)
	helpStyle       = list.DefaultStyles().HelpStyle.PaddingLeft(4).PaddingBottom(1)
	docStyle        = lipgloss.NewStyle().Margin(1, 2)

	listPane = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2)

	transcriptPane = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2)

	noSelectionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Align(lipgloss.Center).
				PaddingTop(2)

	modalStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("170")).
			Padding(1, 3)

	modalTitleStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("62")).
			Foreground(lipgloss.Color("#FFFFFF")).
			Padding(0, 1).
			Bold(true)

	modalCloseHelpStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#888888")).
				Align(lipgloss.Center).
				Padding(1, 0)

	roleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#AFAFAF"))
	toolStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
)

var (
	itemTitleStyle = lipgloss.NewStyle().
			Width(listWidth - 6).
			MaxWidth(listWidth - 6).
			Foreground(lipgloss.Color("#FFFDF5")).
			PaddingLeft(2)
	itemDescStyle = lipgloss.NewStyle().
			Width(listWidth - 6).
			MaxWidth(listWidth - 6).
			Foreground(lipgloss.Color("#888888")).
			PaddingLeft(2)
	selectedItemTitleStyle = itemTitleStyle.
				Foreground(lipgloss.Color("170")).
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(lipgloss.Color("170")).
				PaddingLeft(1)
	selectedItemDescStyle = itemDescStyle.
				Foreground(lipgloss.Color("170")).
				Border(lipgloss.NormalBorder(), false, false, false, true).
				BorderForeground(lipgloss.Color("170")).
				PaddingLeft(1)
)
