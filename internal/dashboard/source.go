package dashboard

import (
	"iter"
	"sort"
	"time"

	"github.com/rileyhilliard/gpustat/internal/collector"
	"github.com/rileyhilliard/gpustat/internal/gpu"
)

// Reader is the read-only view of the store the dashboard needs.
type Reader interface {
	Latest(host string) (map[int]gpu.Sample, error)
	Query(host string, from, to time.Time) iter.Seq2[gpu.Sample, error]
}

// HealthSource reports which hosts are being collected and how that is going.
type HealthSource interface {
	Hosts() []string
	HealthSnapshot() map[string]collector.Health
}

// TimeRange is the history window shown in the detail view.
type TimeRange int

const (
	RangeHour TimeRange = iota
	Range6Hours
	Range24Hours
	RangeAll
)

func (r TimeRange) String() string {
	switch r {
	case RangeHour:
		return "1h"
	case Range6Hours:
		return "6h"
	case Range24Hours:
		return "24h"
	default:
		return "all"
	}
}

// Next cycles to the next range.
func (r TimeRange) Next() TimeRange {
	return TimeRange((int(r) + 1) % 4)
}

// From returns the start of the window ending at now. RangeAll returns the
// zero time, which the store treats as unbounded.
func (r TimeRange) From(now time.Time) time.Time {
	switch r {
	case RangeHour:
		return now.Add(-time.Hour)
	case Range6Hours:
		return now.Add(-6 * time.Hour)
	case Range24Hours:
		return now.Add(-24 * time.Hour)
	default:
		return time.Time{}
	}
}

// snapshot is everything one refresh read.
type snapshot struct {
	at     time.Time
	hosts  []string
	health map[string]collector.Health
	latest map[string][]gpu.Sample

	// series is the history of seriesHost, only read in the detail view.
	seriesHost string
	series     []gpu.Sample

	err error
}

// readSnapshot gathers the latest samples for every host and, when detailHost
// is set, its history over r.
func readSnapshot(reader Reader, health HealthSource, detailHost string, r TimeRange, now time.Time) snapshot {
	snap := snapshot{
		at:     now,
		hosts:  health.Hosts(),
		health: health.HealthSnapshot(),
		latest: make(map[string][]gpu.Sample),
	}

	for _, host := range snap.hosts {
		latest, err := reader.Latest(host)
		if err != nil {
			snap.err = err
			continue
		}
		snap.latest[host] = sortedByIndex(latest)
	}

	if detailHost != "" {
		snap.seriesHost = detailHost
		for smp, err := range reader.Query(detailHost, r.From(now), time.Time{}) {
			if err != nil {
				snap.err = err
				break
			}
			snap.series = append(snap.series, smp)
		}
	}
	return snap
}

func sortedByIndex(m map[int]gpu.Sample) []gpu.Sample {
	out := make([]gpu.Sample, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GPUIndex < out[j].GPUIndex })
	return out
}
