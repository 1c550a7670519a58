package ui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/stretchr/testify/assert"
)

func TestMain(m *testing.M) {
	lipgloss.SetColorProfile(termenv.Ascii)
	m.Run()
}

func TestRenderSparkline_Empty(t *testing.T) {
	assert.Empty(t, RenderSparkline(nil, 10, 0, 100, 60, 80))
	assert.Empty(t, RenderSparkline([]float64{1, 2}, 0, 0, 100, 60, 80))
}

func TestRenderSparkline_FixedScale(t *testing.T) {
	out := []rune(RenderSparkline([]float64{0, 50, 100}, 10, 0, 100, 60, 80))
	assert.Equal(t, []rune{'▁', '▄', '█'}, out)

	// Out-of-range values clamp instead of panicking.
	out = []rune(RenderSparkline([]float64{-20, 500}, 10, 0, 100, 60, 80))
	assert.Equal(t, []rune{'▁', '█'}, out)

	// A flat series on a fixed scale stays low, not mid-height.
	out = []rune(RenderSparkline([]float64{0, 0, 0}, 10, 0, 100, 60, 80))
	assert.Equal(t, []rune{'▁', '▁', '▁'}, out)
}

func TestRenderSparkline_Downsamples(t *testing.T) {
	data := make([]float64, 100)
	for i := range data {
		data[i] = float64(i)
	}
	out := RenderSparkline(data, 10, 0, 100, 60, 80)
	assert.Equal(t, 10, len([]rune(out)))
}

func TestDownsample(t *testing.T) {
	tests := []struct {
		name string
		data []float64
		n    int
		want []float64
	}{
		{"fits", []float64{1, 2, 3}, 5, []float64{1, 2, 3}},
		{"exact", []float64{1, 2}, 2, []float64{1, 2}},
		{"halves", []float64{1, 3, 5, 7}, 2, []float64{2, 6}},
		{"uneven", []float64{1, 2, 3, 4, 5}, 2, []float64{1.5, 4}},
		{"zero n", []float64{1, 2}, 0, []float64{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Downsample(tt.data, tt.n))
		})
	}
}

func TestThresholdColor(t *testing.T) {
	tests := []struct {
		value float64
		want  lipgloss.Color
	}{
		{0, ColorSuccess},
		{59.9, ColorSuccess},
		{60, ColorWarning},
		{79.9, ColorWarning},
		{80, ColorError},
		{100, ColorError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ThresholdColor(tt.value, 60, 80), "value %.1f", tt.value)
	}
}

func TestNewTable(t *testing.T) {
	columns := []TableColumn{{Title: "PID", Width: 8}, {Title: "NAME", Width: 20}}
	rows := []table.Row{{"1234", "train.py"}, {"99", "python"}}

	view := NewTable(columns, rows, 0).View()
	assert.Contains(t, view, "PID")
	assert.Contains(t, view, "train.py")
	assert.Contains(t, view, "python")
}

func TestRenderSimpleTable(t *testing.T) {
	columns := []TableColumn{{Title: "HOST", Width: 10}, {Title: "UTIL", Width: 6}}

	assert.Empty(t, RenderSimpleTable(columns, nil))

	out := RenderSimpleTable(columns, [][]string{{"gpu1", "45%"}})
	assert.Contains(t, out, "HOST")
	assert.Contains(t, out, "gpu1")
	assert.Contains(t, out, "45%")
}

func TestRenderCheckTable(t *testing.T) {
	assert.Equal(t, "No hosts configured", RenderCheckTable(nil))

	out := RenderCheckTable([]CheckRow{
		{OK: true, Host: "gpu1", Target: "ubuntu@10.0.0.5:22", Result: "2 GPU(s)", Latency: "120ms"},
		{OK: false, Host: "gpu2", Target: "ubuntu@10.0.0.6:22", Result: "Timeout: no answer", Latency: "-"},
	})

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	assert.Contains(t, out, "HOST")
	assert.Contains(t, out, "RESULT")

	var ok, failed string
	for _, l := range lines {
		if strings.Contains(l, "gpu1") {
			ok = l
		}
		if strings.Contains(l, "gpu2") {
			failed = l
		}
	}
	assert.True(t, strings.HasPrefix(ok, SymbolSuccess))
	assert.Contains(t, ok, "2 GPU(s)")
	assert.True(t, strings.HasPrefix(failed, SymbolFail))
	assert.Contains(t, failed, "Timeout: no answer")
}

func TestPadRight(t *testing.T) {
	assert.Equal(t, "ab   ", padRight("ab", 5))
	assert.Equal(t, "abcdef ", padRight("abcdef", 3))
}
