package ui

import "github.com/charmbracelet/lipgloss"

// Plain ANSI colors so the palette follows the user's terminal theme.
var (
	TitleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("6")).Bold(true).MarginBottom(1)

	UsageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))

	DescStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

	FlagStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))

	// AnswerStyle wraps model answers printed by the one-shot command.
	AnswerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("7"))

	// MetaStyle is for the citation and confidence footer.
	MetaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
)
