package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/creamcroissant/clashpilot/internal/clash"
)

var (
	// Colors
	colorPrimary = lipgloss.Color("#7C3AED")
	colorSuccess = lipgloss.Color("#22C55E")
	colorWarning = lipgloss.Color("#F59E0B")
	colorDanger  = lipgloss.Color("#EF4444")
	colorMuted   = lipgloss.Color("#6B7280")

	styleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FFFFFF")).
			Background(colorPrimary).
			Padding(0, 1)

	styleHelp = lipgloss.NewStyle().
			Foreground(colorMuted).
			Padding(0, 1)

	styleTableHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("#FFFFFF")).
				Background(colorPrimary).
				Padding(0, 1)

	styleTableRow = lipgloss.NewStyle().
			Padding(0, 1)

	styleTableRowSelected = lipgloss.NewStyle().
				Background(lipgloss.Color("#1F2937")).
				Foreground(lipgloss.Color("#FFFFFF")).
				Padding(0, 1)

	styleFast   = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleSlow   = lipgloss.NewStyle().Foreground(colorWarning).Bold(true)
	styleFailed = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	styleMuted  = lipgloss.NewStyle().Foreground(colorMuted)
)

// DelayLabel renders a member delay: green under 300ms, amber above, red on failure.
func DelayLabel(delay int) string {
	switch {
	case delay == clash.DelayFailed:
		return styleFailed.Render("timeout")
	case delay <= 0:
		return styleMuted.Render("-")
	case delay < 300:
		return styleFast.Render(fmt.Sprintf("%dms", delay))
	default:
		return styleSlow.Render(fmt.Sprintf("%dms", delay))
	}
}
