package cli

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/gpustat/internal/config"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/ui"
	"github.com/rileyhilliard/gpustat/pkg/sshutil"
	"github.com/spf13/cobra"
)

// Command-specific flags
var (
	initForce          bool
	initNonInteractive bool
	initAddressFlag    string
	initNameFlag       string
	initUserFlag       string
	initKeyFlag        string
	initIntervalFlag   time.Duration
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a gpustat.yaml configuration",
	Long: `Create a new configuration file with one or more hosts.

Prompts for each host, offering the aliases from ~/.ssh/config. With
--non-interactive a single host is taken from the flags.

Examples:
  gpustat init
  gpustat init --force
  gpustat init --non-interactive --address gpu1 --user ubuntu`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sshCfg, err := sshutil.LoadSSHConfig(sshutil.DefaultSSHConfigPath())
		if err != nil {
			sshCfg = nil
		}
		return initCommand(InitOptions{
			Path:           cfgFile,
			Force:          initForce,
			NonInteractive: initNonInteractive || os.Getenv("GPUSTAT_NON_INTERACTIVE") != "",
			Address:        initAddressFlag,
			Name:           initNameFlag,
			User:           initUserFlag,
			KeyPath:        initKeyFlag,
			Interval:       initIntervalFlag,
			SSHConfig:      sshCfg,
			Out:            os.Stdout,
		})
	},
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing config")
	initCmd.Flags().BoolVar(&initNonInteractive, "non-interactive", false, "skip prompts, take the host from flags")
	initCmd.Flags().StringVar(&initAddressFlag, "address", "", "host address or ~/.ssh/config alias")
	initCmd.Flags().StringVar(&initNameFlag, "name", "", "host name (default: derived from the address)")
	initCmd.Flags().StringVar(&initUserFlag, "user", "", "SSH user (default: from ~/.ssh/config, then $USER)")
	initCmd.Flags().StringVar(&initKeyFlag, "key", "", "private key path")
	initCmd.Flags().DurationVar(&initIntervalFlag, "interval", 0, "collection interval (default: settings.default_interval)")
	rootCmd.AddCommand(initCmd)
}

// InitOptions configures initCommand.
type InitOptions struct {
	Path           string
	Force          bool
	NonInteractive bool

	// Single host for non-interactive mode.
	Address  string
	Name     string
	User     string
	KeyPath  string
	Interval time.Duration

	// SSHConfig supplies aliases and their defaults. May be nil.
	SSHConfig *sshutil.SSHConfig
	Out       io.Writer
}

func initCommand(opts InitOptions) error {
	if opts.Path == "" {
		opts.Path = config.DefaultConfigFile
	}

	if _, err := os.Stat(opts.Path); err == nil && !opts.Force {
		if opts.NonInteractive {
			return errors.New(errors.ErrConfig,
				"Config file already exists: "+opts.Path,
				"Use --force to overwrite it")
		}

		var overwrite bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title(fmt.Sprintf("'%s' already exists. Overwrite?", opts.Path)).
					Value(&overwrite),
			),
		)
		if err := form.Run(); err != nil || !overwrite {
			fmt.Fprintln(opts.Out, "Cancelled.")
			return nil
		}
	}

	var hosts []config.Host
	if opts.NonInteractive {
		h, err := hostFromFlags(opts)
		if err != nil {
			return err
		}
		hosts = append(hosts, h)
	} else {
		var err error
		hosts, err = promptHosts(opts.SSHConfig)
		if err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig,
				"Failed to get host details",
				"Check terminal compatibility or use --non-interactive")
		}
	}

	cfg := config.DefaultConfig()
	cfg.Hosts = hosts
	if err := config.Save(opts.Path, cfg, true); err != nil {
		return err
	}

	fmt.Fprintf(opts.Out, "%s Created %s with %d host(s)\n\n", ui.SymbolSuccess, opts.Path, len(hosts))
	fmt.Fprintln(opts.Out, "Next steps:")
	fmt.Fprintln(opts.Out, "  gpustat check  - Verify every host answers")
	fmt.Fprintln(opts.Out, "  gpustat run    - Start collecting")
	return nil
}

// hostFromFlags builds and validates the single non-interactive host.
func hostFromFlags(opts InitOptions) (config.Host, error) {
	if strings.TrimSpace(opts.Address) == "" {
		return config.Host{}, errors.New(errors.ErrConfig,
			"An address is required in non-interactive mode",
			"Pass --address with a hostname, IP or ~/.ssh/config alias")
	}

	h := hostDefaults(opts.Address, opts.SSHConfig)
	if opts.Name != "" {
		h.Name = opts.Name
	}
	if opts.User != "" {
		h.User = opts.User
	}
	if opts.KeyPath != "" {
		h.KeyPath = opts.KeyPath
	}
	if opts.Interval > 0 {
		h.Interval = opts.Interval
	}

	if err := config.ValidateHost(h); err != nil {
		return config.Host{}, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("Invalid host '%s'", h.Name),
			"Names use letters, digits, '.', '_' and '-'; --user is needed when $USER is unset")
	}
	return h, nil
}

// hostDefaults fills a host from an address, using the matching
// ~/.ssh/config entry when there is one.
func hostDefaults(address string, sc *sshutil.SSHConfig) config.Host {
	address = strings.TrimSpace(address)
	h := config.Host{
		Name:     defaultHostName(address),
		Address:  address,
		Port:     config.DefaultPort,
		Interval: config.DefaultInterval,
	}

	if user, rest, ok := strings.Cut(address, "@"); ok {
		h.User = user
		h.Address = rest
	}
	explicitPort := false
	if host, port, err := net.SplitHostPort(h.Address); err == nil {
		if p, err := strconv.Atoi(port); err == nil {
			h.Address = host
			h.Port = p
			explicitPort = true
		}
	}

	if sc != nil {
		alias := sc.Resolve(h.Address)
		if h.User == "" {
			h.User = alias.User
		}
		if alias.Port != 0 && !explicitPort {
			h.Port = alias.Port
		}
		h.KeyPath = alias.IdentityFile
	}
	if h.User == "" {
		h.User = os.Getenv("USER")
	}
	return h
}

// defaultHostName turns "ubuntu@gpu1.lab:2222" into "gpu1.lab".
func defaultHostName(address string) string {
	if _, rest, ok := strings.Cut(address, "@"); ok {
		address = rest
	}
	if host, _, err := net.SplitHostPort(address); err == nil {
		address = host
	}
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			return r
		default:
			return '-'
		}
	}, address)
	return strings.TrimLeft(name, ".-_")
}

// otherAddress is the select value for typing an address by hand.
const otherAddress = ""

// promptHosts asks for hosts until the user declines to add another.
func promptHosts(sc *sshutil.SSHConfig) ([]config.Host, error) {
	var aliases []sshutil.Alias
	if sc != nil {
		aliases = sc.Aliases()
	}

	var hosts []config.Host
	for {
		h, err := promptHost(sc, aliases, len(hosts)+1)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)

		var more bool
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewConfirm().
					Title("Add another host?").
					Value(&more),
			),
		)
		if err := form.Run(); err != nil {
			return nil, err
		}
		if !more {
			return hosts, nil
		}
	}
}

func promptHost(sc *sshutil.SSHConfig, aliases []sshutil.Alias, n int) (config.Host, error) {
	address := otherAddress
	if len(aliases) > 0 {
		options := make([]huh.Option[string], 0, len(aliases)+1)
		for _, a := range aliases {
			options = append(options, huh.NewOption(a.Name+" ("+a.Description()+")", a.Name))
		}
		options = append(options, huh.NewOption("Enter an address", otherAddress))

		form := huh.NewForm(
			huh.NewGroup(
				huh.NewSelect[string]().
					Title(fmt.Sprintf("Host %d", n)).
					Description("Pick an entry from ~/.ssh/config or type an address").
					Options(options...).
					Value(&address),
			),
		)
		if err := form.Run(); err != nil {
			return config.Host{}, err
		}
	}

	if address == otherAddress {
		form := huh.NewForm(
			huh.NewGroup(
				huh.NewInput().
					Title("Address").
					Description("Hostname, IP, or user@host:port").
					Placeholder("10.0.0.5").
					Value(&address).
					Validate(required("address")),
			),
		)
		if err := form.Run(); err != nil {
			return config.Host{}, err
		}
	}

	h := hostDefaults(address, sc)
	interval := h.Interval.String()

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Name").
				Description("Unique name, also used for the data file").
				Value(&h.Name).
				Validate(func(s string) error {
					return config.ValidateHost(config.Host{
						Name: s, Address: h.Address, User: "x", Port: config.DefaultPort, Interval: time.Second,
					})
				}),
			huh.NewInput().
				Title("SSH user").
				Value(&h.User).
				Validate(required("user")),
			huh.NewInput().
				Title("Private key (optional)").
				Description("Leave empty to use ssh-agent and default keys").
				Placeholder("~/.ssh/id_ed25519").
				Value(&h.KeyPath),
			huh.NewInput().
				Title("Collection interval").
				Value(&interval).
				Validate(func(s string) error {
					d, err := time.ParseDuration(s)
					if err != nil || d <= 0 {
						return fmt.Errorf("use a positive duration like 5s or 1m")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return config.Host{}, err
	}

	h.Interval, _ = time.ParseDuration(interval)
	return h, nil
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
