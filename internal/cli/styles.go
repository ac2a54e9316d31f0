package cli

import "github.com/charmbracelet/lipgloss"

var (
	accent = lipgloss.Color("#22d3ee")
	muted  = lipgloss.Color("#6B7280")
	danger = lipgloss.Color("#EF4444")

	noticeStyle = lipgloss.NewStyle().Foreground(accent)
	timeStyle   = lipgloss.NewStyle().Foreground(muted)
	errorStyle  = lipgloss.NewStyle().Foreground(danger).Bold(true)
)

func notice(s string) string { return noticeStyle.Render(s) }

func failure(s string) string { return errorStyle.Render("! " + s) }
