package tui

import "github.com/charmbracelet/lipgloss"

type theme struct {
	header      lipgloss.Style
	tabActive   lipgloss.Style
	tabInactive lipgloss.Style
	column      lipgloss.Style
	columnTitle lipgloss.Style
	card        lipgloss.Style
	cardActive  lipgloss.Style
	muted       lipgloss.Style
	status      lipgloss.Style
	errorStatus lipgloss.Style
	footer      lipgloss.Style
	sender      map[string]lipgloss.Style
	feed        map[string]lipgloss.Style
}

func newTheme() theme {
	blue := lipgloss.Color("#81a1c1")
	mint := lipgloss.Color("#a3be8c")
	red := lipgloss.Color("#bf616a")
	yellow := lipgloss.Color("#ebcb8b")
	text := lipgloss.Color("#d8dee9")
	muted := lipgloss.Color("#6b7385")

	return theme{
		header: lipgloss.NewStyle().
			Foreground(text).
			Bold(true).
			Padding(0, 1),
		tabActive: lipgloss.NewStyle().
			Foreground(lipgloss.Color("#111418")).
			Background(blue).
			Padding(0, 1),
		tabInactive: lipgloss.NewStyle().
			Foreground(muted).
			Padding(0, 1),
		column: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(muted).
			Padding(0, 1),
		columnTitle: lipgloss.NewStyle().Foreground(blue).Bold(true),
		card:        lipgloss.NewStyle().Foreground(text),
		cardActive:  lipgloss.NewStyle().Foreground(lipgloss.Color("#111418")).Background(mint),
		muted:       lipgloss.NewStyle().Foreground(muted),
		status:      lipgloss.NewStyle().Foreground(blue).Bold(true),
		errorStatus: lipgloss.NewStyle().Foreground(red).Bold(true),
		footer:      lipgloss.NewStyle().Foreground(muted).Padding(0, 1),
		sender: map[string]lipgloss.Style{
			"user":   lipgloss.NewStyle().Foreground(mint).Bold(true),
			"agent":  lipgloss.NewStyle().Foreground(blue).Bold(true),
			"system": lipgloss.NewStyle().Foreground(muted).Bold(true),
		},
		feed: map[string]lipgloss.Style{
			"message": lipgloss.NewStyle().Foreground(blue),
			"status":  lipgloss.NewStyle().Foreground(yellow),
			"task":    lipgloss.NewStyle().Foreground(mint),
			"system":  lipgloss.NewStyle().Foreground(muted),
			"error":   lipgloss.NewStyle().Foreground(red),
		},
	}
}
