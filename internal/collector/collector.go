// Package collector runs the per-host collection loop: execute the metrics
// command, parse it, append the batch, sleep, repeat.
package collector

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/gpu"
	"github.com/rileyhilliard/gpustat/internal/logger"
	"github.com/rileyhilliard/gpustat/internal/runner"
)

// Store is the part of the time-series store a collector writes to.
type Store interface {
	Append(host string, batch []gpu.Sample) error
	Latest(host string) (map[int]gpu.Sample, error)
}

// Options control timing and failure handling.
type Options struct {
	// Timeout bounds one remote execution, dial included.
	Timeout time.Duration

	// FailureThreshold is how many consecutive failures are tolerated before
	// sleeps start growing.
	FailureThreshold int

	// MaxBackoff caps the sleep while backing off.
	MaxBackoff time.Duration

	Clock Clock
	Log   logger.Logger
}

// OptionsFromSettings maps config settings onto collector options.
func OptionsFromSettings(s config.Settings, log logger.Logger) Options {
	return Options{
		Timeout:          s.CommandTimeout,
		FailureThreshold: s.FailureThreshold,
		MaxBackoff:       s.MaxBackoff,
		Log:              log,
	}
}

func (o Options) withDefaults() Options {
	d := config.DefaultSettings()
	if o.Timeout <= 0 {
		o.Timeout = d.CommandTimeout
	}
	if o.FailureThreshold < 1 {
		o.FailureThreshold = d.FailureThreshold
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = d.MaxBackoff
	}
	if o.Clock == nil {
		o.Clock = RealClock()
	}
	if o.Log == nil {
		o.Log = logger.Noop()
	}
	return o
}

// Collector owns the collection loop for one host. Cycles never overlap, so
// appends for the host are serialized.
type Collector struct {
	host    config.Host
	command string
	runner  runner.Runner
	store   Store
	opts    Options
	log     logger.Logger
	backoff *backoff.ExponentialBackOff

	// cycleMu serializes RunOnce; lastTS and seeded belong to it.
	cycleMu sync.Mutex
	lastTS  time.Time
	seeded  bool

	mu     sync.RWMutex
	health Health
}

// New creates a collector for host.
func New(host config.Host, r runner.Runner, s Store, opts Options) *Collector {
	opts = opts.withDefaults()
	if host.Interval <= 0 {
		host.Interval = config.DefaultInterval
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = host.Interval
	b.MaxInterval = opts.MaxBackoff
	b.MaxElapsedTime = 0
	b.Clock = opts.Clock
	b.Reset()

	return &Collector{
		host:    host,
		command: gpu.MetricsCommand(),
		runner:  r,
		store:   s,
		opts:    opts,
		log:     logger.Named(opts.Log, "collector "+host.Name),
		backoff: b,
		health:  Health{Host: host.Name, State: StateIdle},
	}
}

// Host returns the descriptor this collector was built for.
func (c *Collector) Host() config.Host {
	return c.host
}

// Health returns a copy of the current health.
func (c *Collector) Health() Health {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Run collects until ctx is cancelled. The first cycle starts immediately.
// Cancellation is observed between cycles: a cycle that has started runs to
// completion, bounded by the command timeout.
func (c *Collector) Run(ctx context.Context) {
	c.log.Debug("starting, interval %s", c.host.Interval)
	defer c.setState(StateIdle)

	for {
		if ctx.Err() != nil {
			return
		}

		c.RunOnce(ctx)

		delay := c.nextDelay()
		c.mu.Lock()
		c.health.State = StateSleeping
		c.health.NextDelay = delay
		c.mu.Unlock()

		select {
		case <-ctx.Done():
			return
		case <-c.opts.Clock.After(delay):
		}
		c.setState(StateIdle)
	}
}

// RunOnce performs a single cycle and records its outcome in the health.
// ctx cancellation does not interrupt the remote command.
func (c *Collector) RunOnce(ctx context.Context) Result {
	c.cycleMu.Lock()
	defer c.cycleMu.Unlock()

	c.setState(StateRunning)

	samples, err := c.cycle(context.WithoutCancel(ctx))
	if err != nil {
		c.recordFailure(err)
		return Result{Err: err}
	}
	c.recordSuccess(len(samples))
	return Result{Samples: samples}
}

func (c *Collector) cycle(ctx context.Context) ([]gpu.Sample, error) {
	c.seed()

	out, err := c.runner.Execute(ctx, c.host, c.command, c.opts.Timeout)
	if err != nil {
		return nil, err
	}

	// The store orders by wall time, so the monotonic reading must not take
	// part in the comparison.
	ts := c.opts.Clock.Now().Round(0)
	if !ts.After(c.lastTS) {
		ts = c.lastTS.Add(time.Nanosecond)
	}

	samples, err := gpu.Parse(out.Stdout, c.host.Name, ts)
	if err != nil {
		return nil, err
	}
	if err := c.store.Append(c.host.Name, samples); err != nil {
		return nil, err
	}
	if len(samples) > 0 {
		c.lastTS = ts
	}
	return samples, nil
}

// seed picks up the newest stored timestamp once, so a clock that moved
// backwards across a restart still produces increasing timestamps.
func (c *Collector) seed() {
	if c.seeded {
		return
	}
	latest, err := c.store.Latest(c.host.Name)
	if err != nil {
		c.log.Warn("could not read latest samples: %s", errors.SummaryOf(err))
		return
	}
	for _, s := range latest {
		if s.Timestamp.After(c.lastTS) {
			c.lastTS = s.Timestamp
		}
	}
	c.seeded = true
}

func (c *Collector) recordSuccess(gpus int) {
	c.mu.Lock()
	recovered := c.health.ConsecutiveFailures
	c.health.State = StateSuccess
	c.health.LastSuccess = c.opts.Clock.Now()
	c.health.ConsecutiveFailures = 0
	c.health.Cycles++
	c.health.GPUs = gpus
	c.mu.Unlock()

	c.backoff.Reset()
	if recovered >= c.opts.FailureThreshold {
		c.log.Info("recovered after %d failed cycles", recovered)
	}
	c.log.Debug("stored %d sample(s)", gpus)
}

func (c *Collector) recordFailure(err error) {
	kind := errors.KindOf(err)
	msg := errors.SummaryOf(err)

	c.mu.Lock()
	c.health.State = StateFailure
	c.health.LastError = kind
	c.health.LastErrorMessage = msg
	c.health.ConsecutiveFailures++
	c.health.Cycles++
	failures := c.health.ConsecutiveFailures
	c.mu.Unlock()

	c.log.Warn("cycle failed (%s, %d in a row): %s", kind, failures, msg)
}

// RecordPanic marks the current cycle as failed with ErrUnknown after the
// loop panicked.
func (c *Collector) RecordPanic(v any) {
	c.recordFailure(errors.New(errors.ErrUnknown, fmt.Sprintf("collector panicked: %v", v), ""))
}

// nextDelay is the interval, or while failing past the threshold, the larger
// of the interval and the exponential backoff, capped at MaxBackoff.
func (c *Collector) nextDelay() time.Duration {
	c.mu.RLock()
	failures := c.health.ConsecutiveFailures
	c.mu.RUnlock()

	delay := c.host.Interval
	if failures < c.opts.FailureThreshold {
		return delay
	}

	next := c.backoff.NextBackOff()
	if next == backoff.Stop || next > c.opts.MaxBackoff {
		next = c.opts.MaxBackoff
	}
	if next > delay {
		delay = next
	}
	if failures == c.opts.FailureThreshold {
		c.log.Warn("backing off, next attempt in %s", delay.Round(time.Millisecond))
	}
	return delay
}

func (c *Collector) setState(s State) {
	c.mu.Lock()
	c.health.State = s
	if s != StateSleeping {
		c.health.NextDelay = 0
	}
	c.mu.Unlock()
}
