package gpu

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/gpustat/internal/errors"
)

// fieldCount is the number of comma-separated fields on every GPU line.
const fieldCount = 7

// Parse turns the output of MetricsCommand into one Sample per GPU, all
// stamped with observedAt. Parsing is all-or-nothing: any malformed line
// fails the whole output with an ErrParse error and no samples.
//
// Output with no GPU lines is valid and yields no samples.
func Parse(raw, host string, observedAt time.Time) ([]Sample, error) {
	var samples []Sample
	seen := make(map[int]int)

	for i, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(strings.TrimRight(line, "\r"))
		if line == "" {
			continue
		}
		lineNo := i + 1

		s, err := parseLine(line)
		if err != nil {
			return nil, parseError(host, lineNo, line, err)
		}
		if prev, dup := seen[s.GPUIndex]; dup {
			return nil, parseError(host, lineNo, line,
				fmt.Errorf("GPU index %d already reported on line %d", s.GPUIndex, prev))
		}
		seen[s.GPUIndex] = lineNo

		s.Host = host
		s.Timestamp = observedAt
		samples = append(samples, s)
	}

	return samples, nil
}

func parseError(host string, lineNo int, line string, cause error) error {
	return errors.WrapWithCode(fmt.Errorf("line %d %q: %w", lineNo, truncate(line, 80), cause), errors.ErrParse,
		fmt.Sprintf("Unexpected nvidia-smi output from '%s'", host),
		"Check the driver on that host: ssh <host> nvidia-smi")
}

func parseLine(line string) (Sample, error) {
	fields := strings.Split(line, ",")
	if len(fields) != fieldCount {
		return Sample{}, fmt.Errorf("expected %d fields, got %d", fieldCount, len(fields))
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	var (
		s   Sample
		err error
	)

	if s.GPUIndex, err = parseInt("index", fields[0], 0, math.MaxInt32); err != nil {
		return Sample{}, err
	}
	if s.UtilizationPct, err = parseInt("utilization", fields[1], 0, 100); err != nil {
		return Sample{}, err
	}
	if s.MemoryUsedMB, err = parseInt64("memory used", fields[2]); err != nil {
		return Sample{}, err
	}
	if s.MemoryTotalMB, err = parseInt64("memory total", fields[3]); err != nil {
		return Sample{}, err
	}
	if s.TemperatureC, err = parseInt("temperature", fields[4], math.MinInt32, math.MaxInt32); err != nil {
		return Sample{}, err
	}
	if s.PowerDrawW, err = parsePower(fields[5]); err != nil {
		return Sample{}, err
	}
	if s.Processes, err = parseProcesses(fields[6]); err != nil {
		return Sample{}, err
	}

	return s, nil
}

func parseInt(name, v string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer", name, v)
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("%s %d out of range %d..%d", name, n, lo, hi)
	}
	return n, nil
}

func parseInt64(name, v string) (int64, error) {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s %q is not an integer", name, v)
	}
	if n < 0 {
		return 0, fmt.Errorf("%s %d is negative", name, n)
	}
	return n, nil
}

func parsePower(v string) (float64, error) {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("power %q is not a number", v)
	}
	if f < 0 {
		return 0, fmt.Errorf("power %g is negative", f)
	}
	return f, nil
}

// parseProcesses reads "pid:name:mem;pid:name:mem". The pid ends at the first
// colon and the memory starts after the last one, so names may contain colons.
func parseProcesses(field string) ([]Process, error) {
	if field == "" {
		return nil, nil
	}

	entries := strings.Split(field, ";")
	procs := make([]Process, 0, len(entries))
	for _, entry := range entries {
		first := strings.Index(entry, ":")
		last := strings.LastIndex(entry, ":")
		if first < 0 || first == last {
			return nil, fmt.Errorf("process entry %q is not pid:name:memory", entry)
		}

		pid, err := strconv.Atoi(strings.TrimSpace(entry[:first]))
		if err != nil || pid < 0 {
			return nil, fmt.Errorf("process entry %q has a bad pid", entry)
		}
		mem, err := strconv.ParseInt(strings.TrimSpace(entry[last+1:]), 10, 64)
		if err != nil || mem < 0 {
			return nil, fmt.Errorf("process entry %q has a bad memory value", entry)
		}

		procs = append(procs, Process{
			PID:      pid,
			Name:     strings.TrimSpace(entry[first+1 : last]),
			MemoryMB: mem,
		})
	}
	return procs, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
