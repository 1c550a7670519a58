// Package supervisor keeps exactly one collector running per configured host
// and reconciles that set when the configuration changes.
package supervisor

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rileyhilliard/gpustat/internal/collector"
	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/logger"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// Factory builds the collector for one host.
type Factory func(host config.Host) *collector.Collector

// Options configure a Supervisor.
type Options struct {
	Log logger.Logger

	// OnStop is called with the host name after a removed host's collector
	// has exited. Used to release the host's SSH connection.
	OnStop func(host string)
}

// Diff describes what a reconciliation changed. Every list is sorted.
type Diff struct {
	Added     []string
	Removed   []string
	Restarted []string
	Unchanged []string
}

// Empty reports whether nothing was started, stopped or restarted.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Restarted) == 0
}

type worker struct {
	host   config.Host
	c      *collector.Collector
	cancel context.CancelFunc
	done   chan struct{}

	// replaced is set when a restart or re-add hands the host to a new
	// worker, so the old one must not run OnStop.
	replaced bool
}

// Supervisor runs collectors. Start must be called before Reconcile.
type Supervisor struct {
	factory Factory
	log     logger.Logger
	onStop  func(string)

	mu      sync.Mutex
	ctx     context.Context
	workers map[string]*worker
	// stopping holds removed workers until they exit. A host added back in
	// the meantime waits for its entry.
	stopping map[string]*worker
	started  bool
	shutdown bool

	wg conc.WaitGroup
}

// New creates a Supervisor that builds collectors with factory.
func New(factory Factory, opts Options) *Supervisor {
	if opts.Log == nil {
		opts.Log = logger.Noop()
	}
	return &Supervisor{
		factory: factory,
		log:     logger.Named(opts.Log, "supervisor"),
		onStop:  opts.OnStop,
		workers:  make(map[string]*worker),
		stopping: make(map[string]*worker),
	}
}

// Start spawns one collector per host. ctx bounds the lifetime of every
// collector, including ones added later by Reconcile.
func (s *Supervisor) Start(ctx context.Context, hosts []config.Host) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.shutdown {
		return errors.New(errors.ErrUnknown, "Supervisor already started", "")
	}
	s.started = true
	s.ctx = ctx

	for _, h := range dedupe(hosts, s.log) {
		s.spawn(h, nil)
	}
	s.log.Info("started %d collector(s)", len(s.workers))
	return nil
}

// Reconcile brings the running set in line with hosts: new names start,
// missing names stop, names whose descriptor changed restart and the rest
// keep running untouched.
func (s *Supervisor) Reconcile(hosts []config.Host) (Diff, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return Diff{}, errors.New(errors.ErrUnknown, "Supervisor not started", "")
	}
	if s.shutdown {
		return Diff{}, errors.New(errors.ErrUnknown, "Supervisor is shut down", "")
	}

	var diff Diff
	desired := make(map[string]config.Host)
	for _, h := range dedupe(hosts, s.log) {
		desired[h.Name] = h

		w, ok := s.workers[h.Name]
		switch {
		case !ok:
			var prev <-chan struct{}
			if old, ok := s.stopping[h.Name]; ok {
				old.replaced = true
				prev = old.done
				delete(s.stopping, h.Name)
			}
			s.spawn(h, prev)
			diff.Added = append(diff.Added, h.Name)
		case w.host != h:
			w.replaced = true
			w.cancel()
			s.spawn(h, w.done)
			diff.Restarted = append(diff.Restarted, h.Name)
		default:
			diff.Unchanged = append(diff.Unchanged, h.Name)
		}
	}

	for name, w := range s.workers {
		if _, ok := desired[name]; ok {
			continue
		}
		w.cancel()
		delete(s.workers, name)
		s.stopping[name] = w
		diff.Removed = append(diff.Removed, name)
	}

	sort.Strings(diff.Added)
	sort.Strings(diff.Removed)
	sort.Strings(diff.Restarted)
	sort.Strings(diff.Unchanged)

	if !diff.Empty() {
		s.log.Info("reconciled: added %v, removed %v, restarted %v", diff.Added, diff.Removed, diff.Restarted)
	}
	return diff, nil
}

// spawn starts a collector for h. With prev set, the new collector waits for
// the previous one for the same name to exit, so cycles for one host never
// overlap.
// Callers hold s.mu.
func (s *Supervisor) spawn(h config.Host, prev <-chan struct{}) {
	ctx, cancel := context.WithCancel(s.ctx)
	w := &worker{
		host:   h,
		c:      s.factory(h),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.workers[h.Name] = w

	s.wg.Go(func() {
		defer close(w.done)
		defer cancel()

		if prev != nil {
			<-prev
		}
		s.supervise(ctx, w)

		s.mu.Lock()
		release := !w.replaced && s.workers[h.Name] != w
		if s.stopping[h.Name] == w {
			delete(s.stopping, h.Name)
		}
		s.mu.Unlock()
		if release && s.onStop != nil {
			s.onStop(h.Name)
		}
	})
}

// supervise runs the collector, restarting it after a panic.
func (s *Supervisor) supervise(ctx context.Context, w *worker) {
	name := w.c.Host().Name
	for {
		var pc panics.Catcher
		pc.Try(func() { w.c.Run(ctx) })

		r := pc.Recovered()
		if r == nil {
			return
		}
		s.log.Error("collector for '%s' panicked: %v\n%s", name, r.Value, r.Stack)
		w.c.RecordPanic(r.Value)

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.c.Host().Interval):
		}
	}
}

// HealthSnapshot returns the health of every running host.
func (s *Supervisor) HealthSnapshot() map[string]collector.Health {
	s.mu.Lock()
	workers := make([]*worker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.mu.Unlock()

	out := make(map[string]collector.Health, len(workers))
	for _, w := range workers {
		h := w.c.Health()
		out[h.Host] = h
	}
	return out
}

// Hosts returns the names of running hosts, sorted.
func (s *Supervisor) Hosts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.workers))
	for name := range s.workers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Shutdown stops every collector after its current cycle and waits for them
// to exit, or for ctx to expire. Calling it again only waits again.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.shutdown {
		s.shutdown = true
		for _, w := range s.workers {
			w.cancel()
		}
		s.log.Info("stopping %d collector(s)", len(s.workers))
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
			"Collectors did not stop in time",
			"A remote command is still running; it will be abandoned")
	}
}

// dedupe keeps the first descriptor for each name.
func dedupe(hosts []config.Host, log logger.Logger) []config.Host {
	seen := make(map[string]bool, len(hosts))
	out := make([]config.Host, 0, len(hosts))
	for _, h := range hosts {
		if seen[h.Name] {
			log.Warn("ignoring duplicate host '%s'", h.Name)
			continue
		}
		seen[h.Name] = true
		out = append(out, h)
	}
	return out
}
