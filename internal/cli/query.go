package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/gpu"
	"github.com/rileyhilliard/gpustat/internal/logger"
	"github.com/rileyhilliard/gpustat/internal/store"
	"github.com/rileyhilliard/gpustat/internal/ui"
	"github.com/spf13/cobra"
)

// Command-specific flags
var (
	queryHostFlag    string
	querySinceFlag   time.Duration
	queryDataDirFlag string
	queryJSONFlag    bool
)

var queryCmd = &cobra.Command{
	Use:   "query",
	Short: "Print stored samples",
	Long: `Print samples from the local store.

Without --host, lists the hosts that have data. The store is opened
read-only; while "gpustat run" is writing, query waits briefly for the
file lock and then gives up.

Examples:
  gpustat query
  gpustat query --host gpu1
  gpustat query --host gpu1 --since 24h --json
  gpustat query --host gpu1 --since 0   # everything`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return queryCommand(QueryOptions{
			ConfigPath: cfgFile,
			Host:       queryHostFlag,
			Since:      querySinceFlag,
			DataDir:    queryDataDirFlag,
			JSON:       queryJSONFlag,
			Out:        os.Stdout,
		})
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryHostFlag, "host", "", "host to print samples for")
	queryCmd.Flags().DurationVar(&querySinceFlag, "since", time.Hour, "how far back to read (0 for everything)")
	queryCmd.Flags().StringVar(&queryDataDirFlag, "data-dir", "", "data directory (default: settings.data_dir)")
	queryCmd.Flags().BoolVar(&queryJSONFlag, "json", false, "print one JSON object per sample")
	rootCmd.AddCommand(queryCmd)
}

// QueryOptions configures queryCommand.
type QueryOptions struct {
	ConfigPath string
	Host       string
	Since      time.Duration
	DataDir    string
	JSON       bool
	Out        io.Writer

	// Now defaults to time.Now.
	Now func() time.Time
	// LockTimeout bounds the wait for a running collector's lock.
	LockTimeout time.Duration
}

func queryCommand(opts QueryOptions) error {
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir := resolveDataDir(opts.DataDir, opts.ConfigPath)
	st, err := store.Open(dir, store.Options{ReadOnly: true, LockTimeout: opts.LockTimeout}, logger.Noop())
	if err != nil {
		return err
	}
	defer st.Close()

	if opts.Host == "" {
		return printHosts(st, opts.Out)
	}

	var from time.Time
	if opts.Since > 0 {
		from = opts.Now().Add(-opts.Since)
	}

	if opts.JSON {
		enc := json.NewEncoder(opts.Out)
		for smp, err := range st.Query(opts.Host, from, time.Time{}) {
			if err != nil {
				return err
			}
			if err := enc.Encode(smp); err != nil {
				return errors.WrapWithCode(err, errors.ErrIO, "Failed to write output", "")
			}
		}
		return nil
	}

	var rows [][]string
	for smp, err := range st.Query(opts.Host, from, time.Time{}) {
		if err != nil {
			return err
		}
		rows = append(rows, sampleRow(smp))
	}
	if len(rows) == 0 {
		fmt.Fprintf(opts.Out, "No samples for %s", opts.Host)
		if opts.Since > 0 {
			fmt.Fprintf(opts.Out, " in the last %s", opts.Since)
		}
		fmt.Fprintln(opts.Out)
		return nil
	}

	columns := []ui.TableColumn{
		{Title: "TIME", Width: 19},
		{Title: "GPU", Width: 4},
		{Title: "UTIL", Width: 5},
		{Title: "MEMORY", Width: 12},
		{Title: "TEMP", Width: 5},
		{Title: "POWER", Width: 7},
		{Title: "PROCS", Width: 5},
	}
	fmt.Fprintln(opts.Out, ui.RenderSimpleTable(columns, rows))
	return nil
}

func sampleRow(s gpu.Sample) []string {
	return []string{
		s.Timestamp.Local().Format("2006-01-02 15:04:05"),
		strconv.Itoa(s.GPUIndex),
		fmt.Sprintf("%d%%", s.UtilizationPct),
		fmt.Sprintf("%d/%d", s.MemoryUsedMB, s.MemoryTotalMB),
		fmt.Sprintf("%dC", s.TemperatureC),
		fmt.Sprintf("%.1fW", s.PowerDrawW),
		strconv.Itoa(len(s.Processes)),
	}
}

func printHosts(st *store.Store, out io.Writer) error {
	hosts, err := st.Hosts()
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Fprintf(out, "No data in %s\n", st.Dir())
		return nil
	}

	rows := make([][]string, 0, len(hosts))
	for _, host := range hosts {
		n, err := st.Count(host)
		if err != nil {
			return err
		}
		latest, err := st.Latest(host)
		if err != nil {
			return err
		}
		var last time.Time
		for _, s := range latest {
			if s.Timestamp.After(last) {
				last = s.Timestamp
			}
		}
		lastSeen := "-"
		if !last.IsZero() {
			lastSeen = last.Local().Format("2006-01-02 15:04:05")
		}
		rows = append(rows, []string{host, strconv.Itoa(len(latest)), strconv.Itoa(n), lastSeen})
	}

	columns := []ui.TableColumn{
		{Title: "HOST", Width: 20},
		{Title: "GPUS", Width: 5},
		{Title: "SAMPLES", Width: 9},
		{Title: "LAST SAMPLE", Width: 19},
	}
	fmt.Fprintln(out, ui.RenderSimpleTable(columns, rows))
	return nil
}

// resolveDataDir picks --data-dir, then the config file's data_dir, then the
// default. A missing or invalid config is not an error here.
func resolveDataDir(flag, configPath string) string {
	if flag != "" {
		return config.ExpandTilde(flag)
	}
	if cfg, _, err := config.Load(configPath); err == nil {
		return cfg.Settings.DataDir
	}
	return config.DefaultSettings().DataDir
}
