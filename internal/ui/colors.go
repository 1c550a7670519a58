// Package ui holds the terminal styling shared by the CLI commands and the
// dashboard: colors, status symbols, sparklines and tables.
//
// Colors are ANSI codes so output degrades cleanly on basic terminals. Call
// DisableColors for --no-color or when output is not a terminal.
package ui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Semantic colors for status indication
const (
	ColorSuccess lipgloss.Color = "2" // Green
	ColorError   lipgloss.Color = "1" // Red
	ColorWarning lipgloss.Color = "3" // Yellow
	ColorInfo    lipgloss.Color = "6" // Cyan
)

// Text colors for content hierarchy
const (
	ColorPrimary   lipgloss.Color = "7" // White/default
	ColorSecondary lipgloss.Color = "4" // Blue
	ColorMuted     lipgloss.Color = "8" // Gray (bright black)
)

// Unicode symbols for status indicators.
const (
	SymbolSuccess = "✓"
	SymbolFail    = "✗"
	SymbolPending = "○"
)

// DisableColors switches lipgloss to plain ASCII output.
func DisableColors() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// ThresholdColor picks green, yellow or red for a value against warn and
// crit levels.
func ThresholdColor(value, warn, crit float64) lipgloss.Color {
	switch {
	case value >= crit:
		return ColorError
	case value >= warn:
		return ColorWarning
	default:
		return ColorSuccess
	}
}
