package main

import (
	"fmt"

	"github.com/PixPMusic/stem-capture/internal/audio"
	"github.com/charmbracelet/lipgloss"
)

var (
	nord3  = lipgloss.Color("#4C566A")
	nord4  = lipgloss.Color("#D8DEE9")
	nord8  = lipgloss.Color("#88C0D0")
	nord11 = lipgloss.Color("#BF616A")
	nord13 = lipgloss.Color("#EBCB8B")
	nord14 = lipgloss.Color("#A3BE8C")

	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(nord8)
	promptStyle = lipgloss.NewStyle().Foreground(nord13)
	warnStyle   = lipgloss.NewStyle().Bold(true).Padding(0, 1).Foreground(lipgloss.Color("#2E3440")).Background(nord11)
	panelStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(nord3).Padding(0, 1)
	dimStyle    = lipgloss.NewStyle().Foreground(nord3)
	okStyle     = lipgloss.NewStyle().Foreground(nord14)
	hotStyle    = lipgloss.NewStyle().Foreground(nord11)
	textStyle   = lipgloss.NewStyle().Foreground(nord4)
)

// levelStyle colours a meter reading: grey for silence, red near clipping
func levelStyle(db float64) lipgloss.Style {
	switch {
	case db <= audio.SilenceDb:
		return dimStyle
	case db > -6:
		return hotStyle
	default:
		return okStyle
	}
}

func renderLevel(db float64) string {
	return levelStyle(db).Render(fmt.Sprintf("%6.1f", db))
}
