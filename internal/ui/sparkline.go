package ui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Sparkline block characters representing 8 vertical levels (lowest to highest).
const sparklineBlocks = "▁▂▃▄▅▆▇█"

var sparklineBlockRunes = []rune(sparklineBlocks)

// RenderSparkline draws data on a fixed lo..hi scale, one block per point.
// Longer series are averaged down to width points first. The color follows
// the last value against warn and crit.
func RenderSparkline(data []float64, width int, lo, hi, warn, crit float64) string {
	if len(data) == 0 || width <= 0 {
		return ""
	}
	data = Downsample(data, width)

	var sb strings.Builder
	sb.Grow(len(data) * 3)

	numLevels := len(sparklineBlockRunes)
	span := hi - lo

	for _, v := range data {
		level := 0
		if span > 0 {
			level = int((v - lo) / span * float64(numLevels-1))
		}
		if level < 0 {
			level = 0
		} else if level >= numLevels {
			level = numLevels - 1
		}
		sb.WriteRune(sparklineBlockRunes[level])
	}

	last := data[len(data)-1]
	return lipgloss.NewStyle().Foreground(ThresholdColor(last, warn, crit)).Render(sb.String())
}

// Downsample averages data into at most n evenly sized buckets, keeping
// order. Input that already fits is returned unchanged.
func Downsample(data []float64, n int) []float64 {
	if n <= 0 || len(data) <= n {
		return data
	}

	out := make([]float64, n)
	for i := 0; i < n; i++ {
		start := i * len(data) / n
		end := (i + 1) * len(data) / n
		var sum float64
		for _, v := range data[start:end] {
			sum += v
		}
		out[i] = sum / float64(end-start)
	}
	return out
}
