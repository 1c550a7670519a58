package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rileyhilliard/gpustat/internal/collector"
	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/gpu"
	"github.com/rileyhilliard/gpustat/internal/logger"
	"github.com/rileyhilliard/gpustat/internal/runner"
	"github.com/rileyhilliard/gpustat/internal/ui"
	"github.com/sourcegraph/conc"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one collection cycle per host and report the result",
	Long: `Connect to every configured host, run the nvidia-smi query once and
print a pass/fail table. Nothing is written to the store, so check can run
next to a running collector.

Exits non-zero when any host fails.

Examples:
  gpustat check
  gpustat check --config lab.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return checkCommand(cmd.Context(), CheckOptions{
			ConfigPath: cfgFile,
			Out:        os.Stdout,
		})
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// CheckOptions configures checkCommand.
type CheckOptions struct {
	ConfigPath string
	Out        io.Writer

	// Runner replaces the SSH runner. Nil means a real SSH runner.
	Runner runner.Runner
	Log    logger.Logger
}

// checkResult is one host's outcome, in config order.
type checkResult struct {
	host    config.Host
	result  collector.Result
	latency time.Duration
}

func checkCommand(ctx context.Context, opts CheckOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, rejected, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	log := opts.Log
	if log == nil {
		var closeLog func()
		log, closeLog, err = logger.New(logConfig(logger.Config{Level: "warn"}), os.Stderr)
		if err != nil {
			return err
		}
		defer closeLog()
	}
	for _, r := range rejected {
		log.Warn("rejected %s", r)
	}

	r := opts.Runner
	if r == nil {
		sshRunner := newSSHRunner(cfg.Settings, log)
		defer sshRunner.Close()
		r = sshRunner
	}

	collectorOpts := collector.OptionsFromSettings(cfg.Settings, log)
	results := make([]checkResult, len(cfg.Hosts))

	var wg conc.WaitGroup
	for i, h := range cfg.Hosts {
		wg.Go(func() {
			c := collector.New(h, r, discardStore{}, collectorOpts)
			start := time.Now()
			res := c.RunOnce(ctx)
			results[i] = checkResult{host: h, result: res, latency: time.Since(start)}
		})
	}
	wg.Wait()

	rows := make([]ui.CheckRow, 0, len(results))
	var failed []checkResult
	for _, res := range results {
		rows = append(rows, checkRow(res))
		if res.result.Err != nil {
			failed = append(failed, res)
		}
	}
	fmt.Fprintln(opts.Out, ui.RenderCheckTable(rows))

	if len(failed) > 0 {
		first := failed[0]
		return errors.WrapWithCode(first.result.Err, first.result.Kind(),
			fmt.Sprintf("%d of %d host(s) failed the check", len(failed), len(results)),
			"Run with --verbose for details, or try: ssh "+first.host.String())
	}
	return nil
}

func checkRow(res checkResult) ui.CheckRow {
	row := ui.CheckRow{
		OK:      res.result.Err == nil,
		Host:    res.host.Name,
		Target:  res.host.String(),
		Latency: res.latency.Round(time.Millisecond).String(),
	}
	if res.result.Err != nil {
		row.Result = res.result.Kind().String() + ": " + errors.SummaryOf(res.result.Err)
		return row
	}
	row.Result = describeSamples(res.result.Samples)
	return row
}

// describeSamples is "2 GPUs, 45% avg util" or "no GPUs reported".
func describeSamples(samples []gpu.Sample) string {
	if len(samples) == 0 {
		return "no GPUs reported"
	}
	var util int
	for _, s := range samples {
		util += s.UtilizationPct
	}
	noun := "GPUs"
	if len(samples) == 1 {
		noun = "GPU"
	}
	return fmt.Sprintf("%d %s, %d%% avg util", len(samples), noun, util/len(samples))
}

// discardStore satisfies collector.Store for one-off cycles.
type discardStore struct{}

func (discardStore) Append(string, []gpu.Sample) error { return nil }

func (discardStore) Latest(string) (map[int]gpu.Sample, error) { return nil, nil }
