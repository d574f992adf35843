package tui

import (
	"energon/pkg/state"

	"github.com/charmbracelet/lipgloss"
)

// --- Styles ---
var (
	subtleStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	titleStyle  = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1).
			Bold(true)
	infoStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#04B575"))
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB000"))
	boxStyle  = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1)
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FAFAFA")).
			Bold(true)
	genesisStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Bold(true)
)

func modeStyle(mode state.Mode) lipgloss.Style {
	switch mode {
	case state.ModeCoherent:
		return infoStyle.Bold(true)
	case state.ModeFractured:
		return errStyle.Bold(true)
	case state.ModeSilent:
		return warnStyle.Bold(true)
	}
	return subtleStyle
}
