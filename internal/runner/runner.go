// Package runner executes a command on a remote host over SSH with a bounded
// timeout, reusing one cached connection per host.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/logger"
)

// RawOutput is what a successful remote execution produced.
type RawOutput struct {
	Stdout  string
	Stderr  string
	Latency time.Duration
}

// Runner runs one command on one host.
type Runner interface {
	Execute(ctx context.Context, host config.Host, command string, timeout time.Duration) (RawOutput, error)
}

// SSHRunner is the Runner used in production.
type SSHRunner struct {
	pool *Pool
	log  logger.Logger
}

// New creates an SSHRunner that opens connections with dial.
func New(dial DialFunc, log logger.Logger) *SSHRunner {
	return &SSHRunner{
		pool: NewPool(dial),
		log:  logger.Named(log, "runner"),
	}
}

// Execute runs command on host. timeout bounds dialing plus execution; when
// it expires the cached connection is dropped so the next call starts fresh.
//
// Errors carry one of ErrAuth, ErrNetwork, ErrTimeout, ErrRemoteExit or
// ErrUnknown.
func (r *SSHRunner) Execute(ctx context.Context, host config.Host, command string, timeout time.Duration) (RawOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()

	type result struct {
		out RawOutput
		err error
	}
	resultCh := make(chan result, 1)

	go func() {
		out, err := r.execute(ctx, host, command)
		resultCh <- result{out, err}
	}()

	select {
	case <-ctx.Done():
		// Closing the connection unblocks an Exec in progress. A dial in
		// progress sees ctx and its connection is not cached.
		r.pool.Invalidate(host.Name)
		if ctx.Err() == context.DeadlineExceeded {
			r.log.Debug("%s: timed out after %s, dropped cached connection", host.Name, timeout)
			return RawOutput{}, errors.WrapWithCode(ctx.Err(), errors.ErrTimeout,
				fmt.Sprintf("Collection from '%s' timed out after %s", host.Name, timeout),
				"The host or nvidia-smi is slow to respond. Raise settings.command_timeout if this persists.")
		}
		return RawOutput{}, errors.WrapWithCode(ctx.Err(), errors.ErrUnknown,
			fmt.Sprintf("Collection from '%s' was cancelled", host.Name), "")
	case res := <-resultCh:
		res.out.Latency = time.Since(start)
		return res.out, res.err
	}
}

func (r *SSHRunner) execute(ctx context.Context, host config.Host, command string) (RawOutput, error) {
	client, err := r.pool.Get(ctx, host)
	if err != nil {
		return RawOutput{}, classify(err, host.Name)
	}

	stdout, stderr, code, err := client.Exec(command)
	if err != nil {
		r.pool.remove(host.Name, client)
		return RawOutput{}, classify(err, host.Name)
	}

	out := RawOutput{Stdout: string(stdout), Stderr: string(stderr)}
	if code != 0 {
		return out, errors.NewRemoteExit(host.Name, code, out.Stderr)
	}
	return out, nil
}

// Invalidate drops the cached connection for a host, e.g. when its
// collector is stopped.
func (r *SSHRunner) Invalidate(name string) {
	r.pool.Invalidate(name)
}

// Close releases every cached connection.
func (r *SSHRunner) Close() {
	r.pool.Close()
}

// classify makes sure err carries a kind. Errors from sshutil already do;
// anything else becomes ErrUnknown.
func classify(err error, host string) error {
	var gsErr *errors.Error
	if errors.As(err, &gsErr) {
		return err
	}
	if errors.KindOf(err) == errors.ErrTimeout {
		return errors.WrapWithCode(err, errors.ErrTimeout,
			fmt.Sprintf("Collection from '%s' timed out", host), "")
	}
	return errors.WrapWithCode(err, errors.ErrUnknown,
		fmt.Sprintf("Unexpected SSH failure on '%s'", host), "")
}
