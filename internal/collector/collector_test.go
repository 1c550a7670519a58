package collector

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/gpu"
	"github.com/rileyhilliard/gpustat/internal/logger"
	"github.com/rileyhilliard/gpustat/internal/runner"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoGPUs = "0,45,2048,8192,62,120.5,1234:train.py:1500\n1,0,0,8192,30,20.00,\n"

type fakeRunner struct {
	mu    sync.Mutex
	calls int
	fn    func(ctx context.Context, call int) (runner.RawOutput, error)
}

func (r *fakeRunner) Execute(ctx context.Context, _ config.Host, _ string, _ time.Duration) (runner.RawOutput, error) {
	r.mu.Lock()
	r.calls++
	call := r.calls
	r.mu.Unlock()
	return r.fn(ctx, call)
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func always(stdout string) *fakeRunner {
	return &fakeRunner{fn: func(context.Context, int) (runner.RawOutput, error) {
		return runner.RawOutput{Stdout: stdout}, nil
	}}
}

type memStore struct {
	mu        sync.Mutex
	batches   [][]gpu.Sample
	latest    map[int]gpu.Sample
	appendErr error
	latestErr error
}

func newMemStore() *memStore {
	return &memStore{latest: make(map[int]gpu.Sample)}
}

func (s *memStore) Append(host string, batch []gpu.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.appendErr != nil {
		return s.appendErr
	}
	for _, smp := range batch {
		if prev, ok := s.latest[smp.GPUIndex]; ok && !smp.Timestamp.After(prev.Timestamp) {
			return errors.New(errors.ErrIO, "timestamp not increasing", "")
		}
		s.latest[smp.GPUIndex] = smp
	}
	if len(batch) > 0 {
		s.batches = append(s.batches, batch)
	}
	return nil
}

func (s *memStore) Latest(string) (map[int]gpu.Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latestErr != nil {
		return nil, s.latestErr
	}
	out := make(map[int]gpu.Sample, len(s.latest))
	for k, v := range s.latest {
		out[k] = v
	}
	return out, nil
}

func (s *memStore) stored() [][]gpu.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]gpu.Sample(nil), s.batches...)
}

// frozenClock never advances unless told to. After uses real timers so Run
// can still be driven.
type frozenClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *frozenClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *frozenClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (c *frozenClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

var (
	t0   = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	host = config.Host{Name: "gpu1", Address: "10.0.0.5", User: "ubuntu", Port: 22, Interval: 10 * time.Millisecond}
)

func newCollector(r runner.Runner, s Store, mutate ...func(*Options)) (*Collector, *frozenClock) {
	clock := &frozenClock{now: t0}
	opts := Options{
		Timeout:          time.Second,
		FailureThreshold: 3,
		MaxBackoff:       100 * time.Millisecond,
		Clock:            clock,
		Log:              logger.Noop(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return New(host, r, s, opts), clock
}

func TestRunOnce_Success(t *testing.T) {
	st := newMemStore()
	c, _ := newCollector(always(twoGPUs), st)

	res := c.RunOnce(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, errors.Kind(""), res.Kind())
	require.Len(t, res.Samples, 2)
	assert.Equal(t, "gpu1", res.Samples[0].Host)
	assert.Equal(t, t0, res.Samples[0].Timestamp)

	require.Len(t, st.stored(), 1)
	assert.Equal(t, res.Samples, st.stored()[0])

	h := c.Health()
	assert.Equal(t, "gpu1", h.Host)
	assert.Equal(t, StateSuccess, h.State)
	assert.Equal(t, t0, h.LastSuccess)
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, 1, h.Cycles)
	assert.Equal(t, 2, h.GPUs)
	assert.True(t, h.Healthy())
}

func TestRunOnce_FailuresWriteNothing(t *testing.T) {
	tests := []struct {
		name     string
		runner   *fakeRunner
		storeErr error
		want     errors.Kind
	}{
		{
			name: "network",
			runner: &fakeRunner{fn: func(context.Context, int) (runner.RawOutput, error) {
				return runner.RawOutput{}, errors.New(errors.ErrNetwork, "Can't reach 'gpu1'", "")
			}},
			want: errors.ErrNetwork,
		},
		{
			name: "remote exit",
			runner: &fakeRunner{fn: func(context.Context, int) (runner.RawOutput, error) {
				return runner.RawOutput{Stderr: "no driver"}, errors.NewRemoteExit("gpu1", 9, "no driver")
			}},
			want: errors.ErrRemoteExit,
		},
		{
			name:   "parse",
			runner: always("0,45,2048,8192,62,120.5,\n1,bad,0,8192,30,20.00,\n"),
			want:   errors.ErrParse,
		},
		{
			name:     "store",
			runner:   always(twoGPUs),
			storeErr: errors.New(errors.ErrIO, "disk full", ""),
			want:     errors.ErrIO,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := newMemStore()
			st.appendErr = tt.storeErr
			c, _ := newCollector(tt.runner, st)

			res := c.RunOnce(context.Background())
			require.Error(t, res.Err)
			assert.Nil(t, res.Samples)
			assert.Equal(t, tt.want, res.Kind())
			assert.Empty(t, st.stored())

			h := c.Health()
			assert.Equal(t, StateFailure, h.State)
			assert.Equal(t, tt.want, h.LastError)
			assert.NotEmpty(t, h.LastErrorMessage)
			assert.Equal(t, 1, h.ConsecutiveFailures)
			assert.True(t, h.LastSuccess.IsZero())
			assert.False(t, h.Healthy())
		})
	}
}

func TestRunOnce_FailureStreakAndRecovery(t *testing.T) {
	r := &fakeRunner{fn: func(_ context.Context, call int) (runner.RawOutput, error) {
		if call <= 3 {
			return runner.RawOutput{}, errors.New(errors.ErrTimeout, "timed out", "")
		}
		return runner.RawOutput{Stdout: twoGPUs}, nil
	}}
	c, _ := newCollector(r, newMemStore())

	for i := 1; i <= 3; i++ {
		c.RunOnce(context.Background())
		assert.Equal(t, i, c.Health().ConsecutiveFailures)
	}

	res := c.RunOnce(context.Background())
	require.NoError(t, res.Err)

	h := c.Health()
	assert.Equal(t, 0, h.ConsecutiveFailures)
	assert.Equal(t, errors.ErrTimeout, h.LastError, "last error kind is kept after recovery")
	assert.Equal(t, 4, h.Cycles)
}

func TestRunOnce_BumpsFrozenClock(t *testing.T) {
	st := newMemStore()
	c, _ := newCollector(always(twoGPUs), st)

	first := c.RunOnce(context.Background())
	require.NoError(t, first.Err)
	second := c.RunOnce(context.Background())
	require.NoError(t, second.Err)

	assert.Equal(t, t0.Add(time.Nanosecond), second.Samples[0].Timestamp)
	assert.Len(t, st.stored(), 2)
}

func TestRunOnce_WallClockStepsBack(t *testing.T) {
	st := newMemStore()
	c, clock := newCollector(always(twoGPUs), st)

	require.NoError(t, c.RunOnce(context.Background()).Err)
	clock.Set(t0.Add(-time.Minute))

	res := c.RunOnce(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, t0.Add(time.Nanosecond), res.Samples[0].Timestamp)
	assert.Len(t, st.stored(), 2)
}

// wallClock returns time.Now, which carries a monotonic reading.
type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func TestRunOnce_StripsMonotonicReading(t *testing.T) {
	st := newMemStore()
	c, _ := newCollector(always(twoGPUs), st, func(o *Options) { o.Clock = wallClock{} })

	for i := 0; i < 3; i++ {
		res := c.RunOnce(context.Background())
		require.NoError(t, res.Err)
		ts := res.Samples[0].Timestamp
		assert.Equal(t, ts.Round(0), ts, "cycle %d", i)
		assert.Equal(t, ts, c.lastTS)
	}
}

func TestRunOnce_ClockBehindStoredData(t *testing.T) {
	st := newMemStore()
	later := t0.Add(time.Hour)
	st.latest[0] = gpu.Sample{Host: "gpu1", GPUIndex: 0, Timestamp: later}

	c, _ := newCollector(always(twoGPUs), st)
	res := c.RunOnce(context.Background())
	require.NoError(t, res.Err)
	assert.Equal(t, later.Add(time.Nanosecond), res.Samples[0].Timestamp)
}

func TestRunOnce_LatestErrorIsRetried(t *testing.T) {
	st := newMemStore()
	st.latestErr = errors.New(errors.ErrIO, "locked", "")
	log := logger.NewBufferLogger()

	c, _ := newCollector(always(twoGPUs), st, func(o *Options) { o.Log = log })
	require.NoError(t, c.RunOnce(context.Background()).Err)
	assert.True(t, log.Contains("could not read latest samples"))
	assert.False(t, c.seeded)

	st.latestErr = nil
	require.NoError(t, c.RunOnce(context.Background()).Err)
	assert.True(t, c.seeded)
}

func TestRunOnce_EmptyOutputIsSuccess(t *testing.T) {
	st := newMemStore()
	c, _ := newCollector(always(""), st)

	res := c.RunOnce(context.Background())
	require.NoError(t, res.Err)
	assert.Empty(t, res.Samples)
	assert.Empty(t, st.stored())
	assert.Equal(t, 0, c.Health().GPUs)
}

func TestRunOnce_IgnoresCancellation(t *testing.T) {
	r := &fakeRunner{fn: func(ctx context.Context, _ int) (runner.RawOutput, error) {
		if ctx.Err() != nil {
			return runner.RawOutput{}, ctx.Err()
		}
		return runner.RawOutput{Stdout: twoGPUs}, nil
	}}
	c, _ := newCollector(r, newMemStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, c.RunOnce(ctx).Err)
}

func TestNextDelay(t *testing.T) {
	failing := &fakeRunner{fn: func(context.Context, int) (runner.RawOutput, error) {
		return runner.RawOutput{}, errors.New(errors.ErrNetwork, "down", "")
	}}
	c, _ := newCollector(failing, newMemStore())

	for i := 0; i < 2; i++ {
		c.RunOnce(context.Background())
		assert.Equal(t, host.Interval, c.nextDelay(), "below the threshold the interval is used")
	}

	var last time.Duration
	for i := 0; i < 20; i++ {
		c.RunOnce(context.Background())
		last = c.nextDelay()
		assert.GreaterOrEqual(t, last, host.Interval)
		assert.LessOrEqual(t, last, 100*time.Millisecond)
	}
	// Jitter keeps it within half of the cap once it has grown that far.
	assert.GreaterOrEqual(t, last, 50*time.Millisecond)

	c.runner = always(twoGPUs)
	require.NoError(t, c.RunOnce(context.Background()).Err)
	assert.Equal(t, host.Interval, c.nextDelay())
}

func TestNextDelay_IntervalAboveCap(t *testing.T) {
	failing := &fakeRunner{fn: func(context.Context, int) (runner.RawOutput, error) {
		return runner.RawOutput{}, errors.New(errors.ErrNetwork, "down", "")
	}}
	c, _ := newCollector(failing, newMemStore(), func(o *Options) {
		o.FailureThreshold = 1
		o.MaxBackoff = time.Millisecond
	})

	c.RunOnce(context.Background())
	assert.Equal(t, host.Interval, c.nextDelay())
}

func TestRun_LoopsUntilCancelled(t *testing.T) {
	st := newMemStore()
	r := always(twoGPUs)
	c, clock := newCollector(r, st)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
	}()

	require.Eventually(t, func() bool {
		clock.Set(clock.Now().Add(time.Second))
		return r.count() >= 3
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	assert.Equal(t, StateIdle, c.Health().State)
	assert.GreaterOrEqual(t, len(st.stored()), 3)
}

func TestRun_FirstCycleImmediate(t *testing.T) {
	r := always(twoGPUs)
	c, _ := newCollector(r, newMemStore())
	c.host.Interval = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	require.Eventually(t, func() bool { return r.count() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return c.Health().State == StateSleeping }, time.Second, time.Millisecond)
	assert.Equal(t, time.Hour, c.Health().NextDelay)
	assert.Equal(t, 1, r.count())
}

func TestRun_FinishesInFlightCycle(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	r := &fakeRunner{fn: func(context.Context, int) (runner.RawOutput, error) {
		once.Do(func() { close(started) })
		<-release
		return runner.RawOutput{Stdout: twoGPUs}, nil
	}}
	st := newMemStore()
	c, _ := newCollector(r, st)

	ctx, cancel := context.WithCancel(context.Background())
	var returned atomic.Bool
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx)
		returned.Store(true)
	}()

	<-started
	cancel()
	time.Sleep(20 * time.Millisecond)
	assert.False(t, returned.Load(), "Run must wait for the in-flight cycle")

	close(release)
	<-done
	assert.Len(t, st.stored(), 1)
	assert.Equal(t, 1, r.count())
}

func TestRecordPanic(t *testing.T) {
	c, _ := newCollector(always(twoGPUs), newMemStore())
	c.RecordPanic("boom")

	h := c.Health()
	assert.Equal(t, errors.ErrUnknown, h.LastError)
	assert.Contains(t, h.LastErrorMessage, "boom")
	assert.Equal(t, 1, h.ConsecutiveFailures)
}

func TestNew_Defaults(t *testing.T) {
	h := host
	h.Interval = 0
	c := New(h, always(""), newMemStore(), Options{})

	assert.Equal(t, config.DefaultInterval, c.Host().Interval)
	assert.Equal(t, config.DefaultSettings().CommandTimeout, c.opts.Timeout)
	assert.Equal(t, 3, c.opts.FailureThreshold)
	assert.NotNil(t, c.opts.Clock)
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateIdle:     "idle",
		StateRunning:  "running",
		StateSuccess:  "success",
		StateFailure:  "failure",
		StateSleeping: "sleeping",
		State(42):     "unknown",
	}
	for s, want := range tests {
		assert.Equal(t, want, s.String())
	}
}
