package dashboard

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/gpustat/internal/ui"
)

// Dashboard color palette
const (
	ColorSurfaceBg = lipgloss.Color("#12121A")
	ColorBorder    = lipgloss.Color("#2A2A4A")

	ColorHealthy  = lipgloss.Color("#39FF14")
	ColorWarning  = lipgloss.Color("#FFAA00")
	ColorCritical = lipgloss.Color("#FF0055")

	ColorTextPrimary   = lipgloss.Color("#FFFFFF")
	ColorTextSecondary = lipgloss.Color("#B4B4D0")
	ColorTextMuted     = lipgloss.Color("#6B6B8D")

	ColorAccent = lipgloss.Color("#FF2E97")
)

// Warning and critical levels per metric.
const (
	UtilWarn = 70.0
	UtilCrit = 90.0
	MemWarn  = 80.0
	MemCrit  = 95.0
	TempWarn = 75.0
	TempCrit = 85.0
)

var (
	HeaderStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Background(ColorSurfaceBg).
			Bold(true).
			Padding(0, 1)

	FooterStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted).
			Padding(0, 1)

	CardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorBorder).
			Padding(0, 1).
			MarginBottom(1)

	CardSelectedStyle = CardStyle.
				BorderForeground(ColorAccent)

	HostNameStyle = lipgloss.NewStyle().
			Foreground(ColorTextPrimary).
			Bold(true)

	LabelStyle = lipgloss.NewStyle().
			Foreground(ColorTextSecondary)

	MutedStyle = lipgloss.NewStyle().
			Foreground(ColorTextMuted)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(ColorCritical)
)

// Status glyphs
const (
	StatusHealthy = "◉"
	StatusFailing = "◌"
	StatusPending = "◐"
)

// MetricColor returns green, amber or red for value against warn and crit.
func MetricColor(value, warn, crit float64) lipgloss.Color {
	switch {
	case value >= crit:
		return ColorCritical
	case value >= warn:
		return ColorWarning
	default:
		return ColorHealthy
	}
}

// MetricStyle is a foreground style colored by MetricColor.
func MetricStyle(value, warn, crit float64) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(MetricColor(value, warn, crit))
}

// ProgressBar renders a bar of width cells filled to percent.
func ProgressBar(width int, percent, warn, crit float64) string {
	if width < 1 {
		width = 1
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	filled := int(percent / 100.0 * float64(width))
	bar := strings.Repeat("▰", filled) + strings.Repeat("▱", width-filled)
	return MetricStyle(percent, warn, crit).Render(bar)
}

// Sparkline draws a 0..100 series in the dashboard's thresholds.
func Sparkline(data []float64, width int, warn, crit float64) string {
	return ui.RenderSparkline(data, width, 0, 100, warn, crit)
}
