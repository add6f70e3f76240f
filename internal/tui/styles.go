package tui

import "github.com/charmbracelet/lipgloss"

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#e2e8f0")).Background(lipgloss.Color("#1e293b")).Padding(0, 1)
	roomStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#94a3b8")).Padding(0, 1)
	currentRoom = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ade80")).Padding(0, 1)
	unreadBadge = lipgloss.NewStyle().Foreground(lipgloss.Color("#facc15"))
	timeStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#64748b"))
	handleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#38bdf8"))
	selfStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4ade80"))
	actionStyle = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("#c084fc"))
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#fbbf24"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#f87171"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#475569"))
)
