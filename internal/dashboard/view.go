package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/gpustat/internal/collector"
	"github.com/rileyhilliard/gpustat/internal/gpu"
)

// renderDashboard renders the host list view.
func (m Model) renderDashboard() string {
	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n\n")
	b.WriteString(m.renderHostCards())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

func (m Model) renderHeader() string {
	title := lipgloss.NewStyle().
		Foreground(ColorAccent).
		Bold(true).
		Render("gpustat")

	updated := "never"
	if !m.lastRefresh.IsZero() {
		updated = formatAge(m.now().Sub(m.lastRefresh))
	}

	stats := lipgloss.NewStyle().
		Foreground(ColorTextSecondary).
		Render(fmt.Sprintf(" | %d hosts | %d healthy | sort %s | updated %s",
			len(m.hosts), m.HealthyCount(), m.sortOrder, updated))

	header := HeaderStyle.Render(title + stats)
	if m.readErr != "" {
		header += "\n" + ErrorStyle.Render("store: "+m.readErr)
	}
	return header
}

func (m Model) renderHostCards() string {
	if len(m.hosts) == 0 {
		return LabelStyle.Render("No hosts configured")
	}

	width := m.cardWidth()
	cards := make([]string, 0, len(m.hosts))
	for i, host := range m.hosts {
		cards = append(cards, m.renderCard(host, width, i == m.selected))
	}
	return lipgloss.JoinVertical(lipgloss.Left, cards...)
}

func (m Model) cardWidth() int {
	if m.width == 0 {
		return 72
	}
	w := m.width - 4
	if w < 40 {
		w = 40
	}
	return w
}

// renderCard renders one host: status line then one line per GPU.
func (m Model) renderCard(host string, width int, selected bool) string {
	h, known := m.status[host]

	var lines []string
	lines = append(lines, HostNameStyle.Render(host)+"  "+m.renderStatus(h, known))

	samples := m.latest[host]
	if len(samples) == 0 {
		lines = append(lines, MutedStyle.Render("no samples yet"))
	}
	for _, s := range samples {
		lines = append(lines, renderGPULine(s, width))
	}

	style := CardStyle
	if selected {
		style = CardSelectedStyle
	}
	return style.Width(width).Render(strings.Join(lines, "\n"))
}

// renderStatus shows the last successful collection and the last error kind.
func (m Model) renderStatus(h collector.Health, known bool) string {
	if !known || h.Cycles == 0 {
		return MutedStyle.Render(StatusPending + " waiting for first cycle")
	}

	var parts []string
	if h.Healthy() {
		parts = append(parts, lipgloss.NewStyle().Foreground(ColorHealthy).Render(StatusHealthy))
	} else {
		parts = append(parts, ErrorStyle.Render(StatusFailing))
	}

	if h.LastSuccess.IsZero() {
		parts = append(parts, LabelStyle.Render("never collected"))
	} else {
		parts = append(parts, LabelStyle.Render("last ok "+formatAge(m.now().Sub(h.LastSuccess))))
	}

	if h.LastError != "" {
		errText := "last error " + h.LastError.String()
		if h.ConsecutiveFailures > 0 {
			errText += fmt.Sprintf(" (%d in a row)", h.ConsecutiveFailures)
			parts = append(parts, ErrorStyle.Render(errText))
		} else {
			parts = append(parts, MutedStyle.Render(errText))
		}
	}
	return strings.Join(parts, "  ")
}

// renderGPULine is "GPU0 ▰▰▱ 45%  mem 2.0/8.0G  62°C  120W  2 procs".
func renderGPULine(s gpu.Sample, width int) string {
	barWidth := 10
	if width >= 100 {
		barWidth = 20
	}

	util := float64(s.UtilizationPct)
	mem := s.MemoryPct()
	temp := float64(s.TemperatureC)

	return fmt.Sprintf("%s %s %s  %s %s  %s  %s  %s",
		LabelStyle.Render(fmt.Sprintf("GPU%d", s.GPUIndex)),
		ProgressBar(barWidth, util, UtilWarn, UtilCrit),
		MetricStyle(util, UtilWarn, UtilCrit).Render(fmt.Sprintf("%3d%%", s.UtilizationPct)),
		LabelStyle.Render("mem"),
		MetricStyle(mem, MemWarn, MemCrit).Render(formatMemory(s.MemoryUsedMB, s.MemoryTotalMB)),
		MetricStyle(temp, TempWarn, TempCrit).Render(fmt.Sprintf("%d°C", s.TemperatureC)),
		LabelStyle.Render(fmt.Sprintf("%.0fW", s.PowerDrawW)),
		MutedStyle.Render(fmt.Sprintf("%d procs", len(s.Processes))),
	)
}

func (m Model) renderFooter() string {
	hints := []string{
		"q quit",
		"r refresh",
		"s sort",
		"↑↓ select",
		"enter details",
		"? help",
	}
	return FooterStyle.Render(strings.Join(hints, " | "))
}

// formatMemory renders used/total MiB as GiB with one decimal.
func formatMemory(usedMB, totalMB int64) string {
	return fmt.Sprintf("%.1f/%.1fG", float64(usedMB)/1024, float64(totalMB)/1024)
}

// formatAge renders a duration as "just now", "42s ago", "5m ago" or "3h ago".
func formatAge(d time.Duration) string {
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}
