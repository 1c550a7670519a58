package dashboard

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/gpustat/internal/gpu"
	"github.com/rileyhilliard/gpustat/internal/ui"
)

var (
	detailContainerStyle = lipgloss.NewStyle().
				Padding(1, 2)

	detailSectionStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(ColorBorder).
				Padding(0, 1).
				MarginBottom(1)
)

// renderDetailView renders history and processes for the selected host.
func (m Model) renderDetailView() string {
	host := m.SelectedHost()
	if host == "" {
		return LabelStyle.Render("No host selected")
	}

	contentWidth := m.width - 8
	if contentWidth < 40 {
		contentWidth = 40
	}

	var b strings.Builder

	h, known := m.status[host]
	title := lipgloss.NewStyle().Foreground(ColorAccent).Bold(true).Render(host)
	b.WriteString(title + "  " + m.renderStatus(h, known))
	b.WriteString("\n")
	b.WriteString(MutedStyle.Render("range " + m.timeRange.String()))
	b.WriteString("\n\n")

	if m.seriesHost != host {
		b.WriteString(detailSectionStyle.Width(contentWidth).Render(LabelStyle.Render("Loading history...")))
	} else if len(m.series) == 0 {
		b.WriteString(detailSectionStyle.Width(contentWidth).Render(LabelStyle.Render("No samples in this range")))
	} else {
		for _, idx := range gpuIndexes(m.series) {
			b.WriteString(renderGPUHistory(idx, m.series, contentWidth))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(renderProcessTable(m.latest[host], contentWidth))
	b.WriteString("\n")
	b.WriteString(m.renderDetailFooter())

	return detailContainerStyle.Render(b.String())
}

// renderGPUHistory draws utilization, memory and temperature sparklines for
// one GPU plus a power summary.
func renderGPUHistory(idx int, series []gpu.Sample, width int) string {
	var util, mem, temp []float64
	var power []float64
	var last gpu.Sample
	for _, s := range series {
		if s.GPUIndex != idx {
			continue
		}
		util = append(util, float64(s.UtilizationPct))
		mem = append(mem, s.MemoryPct())
		temp = append(temp, float64(s.TemperatureC))
		power = append(power, s.PowerDrawW)
		last = s
	}

	graphWidth := width - 24
	if graphWidth < 10 {
		graphWidth = 10
	}

	label := func(s string) string { return LabelStyle.Render(fmt.Sprintf("%-6s", s)) }

	var lines []string
	lines = append(lines, HostNameStyle.Render(fmt.Sprintf("GPU %d", idx))+
		MutedStyle.Render(fmt.Sprintf("  %d samples", len(util))))
	lines = append(lines, label("util")+" "+Sparkline(util, graphWidth, UtilWarn, UtilCrit)+
		" "+MetricStyle(float64(last.UtilizationPct), UtilWarn, UtilCrit).Render(fmt.Sprintf("%d%%", last.UtilizationPct)))
	lines = append(lines, label("mem")+" "+Sparkline(mem, graphWidth, MemWarn, MemCrit)+
		" "+MetricStyle(last.MemoryPct(), MemWarn, MemCrit).Render(formatMemory(last.MemoryUsedMB, last.MemoryTotalMB)))
	lines = append(lines, label("temp")+" "+Sparkline(temp, graphWidth, TempWarn, TempCrit)+
		" "+MetricStyle(float64(last.TemperatureC), TempWarn, TempCrit).Render(fmt.Sprintf("%d°C", last.TemperatureC)))

	avg, peak := summarize(power)
	lines = append(lines, label("power")+" "+LabelStyle.Render(
		fmt.Sprintf("now %.0fW  avg %.0fW  peak %.0fW", last.PowerDrawW, avg, peak)))

	return detailSectionStyle.Width(width).Render(strings.Join(lines, "\n"))
}

// renderProcessTable lists the processes from the latest sample of each GPU.
func renderProcessTable(latest []gpu.Sample, width int) string {
	var rows []table.Row
	for _, s := range latest {
		for _, p := range s.Processes {
			rows = append(rows, table.Row{
				strconv.Itoa(s.GPUIndex),
				strconv.Itoa(p.PID),
				p.Name,
				fmt.Sprintf("%d MiB", p.MemoryMB),
			})
		}
	}
	if len(rows) == 0 {
		return MutedStyle.Render("No GPU processes")
	}

	nameWidth := width - 30
	if nameWidth < 12 {
		nameWidth = 12
	}
	columns := []ui.TableColumn{
		{Title: "GPU", Width: 4},
		{Title: "PID", Width: 8},
		{Title: "PROCESS", Width: nameWidth},
		{Title: "MEMORY", Width: 10},
	}
	return ui.NewTable(columns, rows, 0).View()
}

func (m Model) renderDetailFooter() string {
	hints := []string{
		"esc back",
		"t range " + m.timeRange.String(),
		"↑↓ host",
		"q quit",
	}
	return FooterStyle.Render(strings.Join(hints, " | "))
}

func gpuIndexes(series []gpu.Sample) []int {
	seen := make(map[int]bool)
	var out []int
	for _, s := range series {
		if !seen[s.GPUIndex] {
			seen[s.GPUIndex] = true
			out = append(out, s.GPUIndex)
		}
	}
	sort.Ints(out)
	return out
}

func summarize(values []float64) (avg, peak float64) {
	if len(values) == 0 {
		return 0, 0
	}
	var sum float64
	for i, v := range values {
		sum += v
		if i == 0 || v > peak {
			peak = v
		}
	}
	return sum / float64(len(values)), peak
}
