package collector

import (
	"time"

	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/gpu"
)

// State is where a collector is in its cycle.
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSuccess
	StateFailure
	StateSleeping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSuccess:
		return "success"
	case StateFailure:
		return "failure"
	case StateSleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// Health is a point-in-time copy of one host's collection status.
type Health struct {
	Host string

	// LastSuccess is zero until the first successful cycle.
	LastSuccess time.Time

	// LastError is the kind of the most recent failure. It is kept after a
	// later success so the dashboard can still show what went wrong last.
	LastError        errors.Kind
	LastErrorMessage string

	ConsecutiveFailures int
	Cycles              int
	GPUs                int
	State               State
	NextDelay           time.Duration
}

// Healthy reports whether the latest cycle succeeded.
func (h Health) Healthy() bool {
	return h.Cycles > 0 && h.ConsecutiveFailures == 0
}

// Result is the outcome of one collection cycle. Samples is nil whenever
// Err is set.
type Result struct {
	Samples []gpu.Sample
	Err     error
}

// Kind returns the kind of Err, or "" on success.
func (r Result) Kind() errors.Kind {
	return errors.KindOf(r.Err)
}
