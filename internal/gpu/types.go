// Package gpu defines the GPU telemetry sample, the remote command that
// produces it and the parser for that command's output.
package gpu

import "time"

// Sample is one GPU's telemetry at one instant on one host.
type Sample struct {
	Host           string    `json:"host"`
	Timestamp      time.Time `json:"ts"`
	GPUIndex       int       `json:"gpu"`
	UtilizationPct int       `json:"util"`
	MemoryUsedMB   int64     `json:"mem_used_mb"`
	MemoryTotalMB  int64     `json:"mem_total_mb"`
	TemperatureC   int       `json:"temp_c"`
	PowerDrawW     float64   `json:"power_w"`
	Processes      []Process `json:"procs,omitempty"`
}

// Process is a compute process holding memory on a GPU.
type Process struct {
	PID      int    `json:"pid"`
	Name     string `json:"name"`
	MemoryMB int64  `json:"mem_mb"`
}

// MemoryPct returns used/total memory as a percentage, 0 when total is unknown.
func (s Sample) MemoryPct() float64 {
	if s.MemoryTotalMB <= 0 {
		return 0
	}
	return float64(s.MemoryUsedMB) / float64(s.MemoryTotalMB) * 100
}

// ProcessMemoryMB sums the memory held by the sample's processes.
func (s Sample) ProcessMemoryMB() int64 {
	var total int64
	for _, p := range s.Processes {
		total += p.MemoryMB
	}
	return total
}
