package cli

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/gpustat/internal/collector"
	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/dashboard"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/logger"
	"github.com/rileyhilliard/gpustat/internal/runner"
	"github.com/rileyhilliard/gpustat/internal/store"
	"github.com/rileyhilliard/gpustat/internal/supervisor"
	"github.com/rileyhilliard/gpustat/pkg/sshutil"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
)

// dashboardLogFile receives logs while the dashboard owns the terminal.
const dashboardLogFile = "gpustat.log"

// shutdownGrace is added to the command timeout when waiting for collectors
// to finish their last cycle.
const shutdownGrace = 5 * time.Second

var runHeadless bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect GPU telemetry and show the live dashboard",
	Long: `Start one collector per configured host and show the dashboard.

Collectors keep running until SIGINT, SIGTERM, or q in the dashboard. The
config file is watched: added, removed and changed hosts take effect without
a restart.

When stdout is not a terminal, or with --headless, no dashboard is shown and
logs go to stderr.

Examples:
  gpustat run
  gpustat run --config /etc/gpustat.yaml
  gpustat run --headless`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCommand(cmd.Context(), RunOptions{
			ConfigPath: cfgFile,
			Headless:   runHeadless || !term.IsTerminal(int(os.Stdout.Fd())),
			LogOutput:  os.Stderr,
		})
	},
}

func init() {
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "collect without the dashboard")
	rootCmd.AddCommand(runCmd)
}

// RunOptions configures runCommand.
type RunOptions struct {
	ConfigPath string
	Headless   bool

	// LogOutput receives logs in headless mode when no log file is set.
	LogOutput io.Writer

	// Runner replaces the SSH runner. Nil means a real SSH runner.
	Runner runner.Runner
}

// runCommand collects until ctx is done, a signal arrives or the dashboard
// quits. Only startup failures are returned as errors.
func runCommand(ctx context.Context, opts RunOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, rejected, err := config.Load(opts.ConfigPath)
	if err != nil {
		return err
	}

	logCfg := logConfig(cfg.Log)
	if !opts.Headless && logCfg.File == "" {
		logCfg.File = filepath.Join(cfg.Settings.DataDir, dashboardLogFile)
	}
	log, closeLog, err := logger.New(logCfg, opts.LogOutput)
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid log settings",
			"Check log.level in "+opts.ConfigPath)
	}
	defer closeLog()
	logger.SetDefault(log)

	for _, r := range rejected {
		log.Warn("rejected %s", r)
	}

	st, err := store.Open(cfg.Settings.DataDir, store.Options{}, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warn("closing store: %s", errors.SummaryOf(err))
		}
	}()

	r := opts.Runner
	var sshRunner *runner.SSHRunner
	if r == nil {
		sshRunner = newSSHRunner(cfg.Settings, log)
		defer sshRunner.Close()
		r = sshRunner
	}

	collectorOpts := collector.OptionsFromSettings(cfg.Settings, log)
	supOpts := supervisor.Options{Log: log}
	if sshRunner != nil {
		supOpts.OnStop = sshRunner.Invalidate
	}
	sup := supervisor.New(func(h config.Host) *collector.Collector {
		return collector.New(h, r, st, collectorOpts)
	}, supOpts)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, quit := context.WithCancel(ctx)
	defer quit()

	if err := sup.Start(ctx, cfg.Hosts); err != nil {
		return err
	}
	log.Info("collecting from %d host(s), data in %s", len(cfg.Hosts), st.Dir())

	watcher, err := config.Watch(opts.ConfigPath, log, func(next *config.Config, _ []config.Rejected) {
		diff, err := sup.Reconcile(next.Hosts)
		if err != nil {
			log.Warn("config reload not applied: %s", errors.SummaryOf(err))
			return
		}
		if !diff.Empty() {
			log.Info("hosts added %v, removed %v, restarted %v", diff.Added, diff.Removed, diff.Restarted)
		}
	})
	if err != nil {
		log.Warn("config changes will need a restart: %s", errors.SummaryOf(err))
	} else {
		defer watcher.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	if !opts.Headless {
		g.Go(func() error {
			defer quit()
			model := dashboard.NewModel(st, sup, cfg.Settings.Refresh)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(gctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return errors.WrapWithCode(err, errors.ErrUnknown, "Dashboard failed", "Try --headless")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("stopping collectors")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Settings.CommandTimeout+shutdownGrace)
		defer cancel()
		return sup.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("stopped")
	return nil
}

// newSSHRunner builds the SSH runner with ~/.ssh/config alias resolution.
func newSSHRunner(s config.Settings, log logger.Logger) *runner.SSHRunner {
	sshCfg, err := sshutil.LoadSSHConfig(sshutil.DefaultSSHConfigPath())
	if err != nil {
		log.Warn("ignoring %s: %v", sshutil.DefaultSSHConfigPath(), err)
		sshCfg = nil
	}
	if sshCfg != nil && sshCfg.MatchLine > 0 {
		log.Debug("ssh config Match blocks from line %d on are ignored", sshCfg.MatchLine)
	}
	return runner.New(runner.SSHDialer(sshutil.Options{
		StrictHostKeyChecking: s.StrictHostKeyChecking,
		SSHConfig:             sshCfg,
	}), log)
}
