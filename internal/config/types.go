package config

import (
	"fmt"
	"strconv"
	"time"

	"github.com/rileyhilliard/gpustat/internal/logger"
)

// Config represents the gpustat configuration file.
type Config struct {
	Hosts    []Host        `yaml:"hosts" mapstructure:"hosts"`
	Settings Settings      `yaml:"settings" mapstructure:"settings"`
	Log      logger.Config `yaml:"log" mapstructure:"log"`
}

// Host describes one remote machine to collect GPU telemetry from.
// A Host is immutable once loaded; changing any field means a new descriptor
// and a restarted collector.
type Host struct {
	// Name is the unique key of the host. It also names the store file.
	Name string `yaml:"name" mapstructure:"name" validate:"required,hostkey"`

	// Address is a hostname, IP, or ~/.ssh/config alias.
	Address string `yaml:"address" mapstructure:"address" validate:"required"`

	User string `yaml:"user" mapstructure:"user" validate:"required"`

	// KeyPath points at a private key. Empty means ssh-agent and default keys.
	KeyPath string `yaml:"key_path,omitempty" mapstructure:"key_path"`

	Port int `yaml:"port,omitempty" mapstructure:"port" validate:"min=1,max=65535"`

	// Interval between collection cycles. Zero falls back to settings.default_interval.
	Interval time.Duration `yaml:"interval,omitempty" mapstructure:"interval" validate:"gt=0"`
}

// SSHAddress returns address:port.
func (h Host) SSHAddress() string {
	return h.Address + ":" + strconv.Itoa(h.Port)
}

// String returns user@address:port, for log lines.
func (h Host) String() string {
	return fmt.Sprintf("%s@%s:%d", h.User, h.Address, h.Port)
}

// Settings holds the process-wide knobs.
type Settings struct {
	DataDir               string        `yaml:"data_dir" mapstructure:"data_dir" validate:"required"`
	DefaultInterval       time.Duration `yaml:"default_interval" mapstructure:"default_interval" validate:"gt=0"`
	CommandTimeout        time.Duration `yaml:"command_timeout" mapstructure:"command_timeout" validate:"gt=0"`
	FailureThreshold      int           `yaml:"failure_threshold" mapstructure:"failure_threshold" validate:"min=1"`
	MaxBackoff            time.Duration `yaml:"max_backoff" mapstructure:"max_backoff" validate:"gt=0"`
	Refresh               time.Duration `yaml:"refresh" mapstructure:"refresh" validate:"gt=0"`
	StrictHostKeyChecking bool          `yaml:"strict_host_key_checking" mapstructure:"strict_host_key_checking"`
}

// Rejected records a host entry dropped at load time.
type Rejected struct {
	Index  int
	Name   string
	Reason string
}

func (r Rejected) String() string {
	name := r.Name
	if name == "" {
		name = "<unnamed>"
	}
	return fmt.Sprintf("hosts[%d] %s: %s", r.Index, name, r.Reason)
}

const (
	// DefaultPort is used when a host omits port.
	DefaultPort = 22
	// DefaultInterval is the collection interval when neither host nor settings set one.
	DefaultInterval = 5 * time.Second
	// DefaultConfigFile is where commands look when --config is not given.
	DefaultConfigFile = "gpustat.yaml"
)

// DefaultSettings returns the settings applied before the file is decoded.
func DefaultSettings() Settings {
	return Settings{
		DataDir:               "./data",
		DefaultInterval:       DefaultInterval,
		CommandTimeout:        10 * time.Second,
		FailureThreshold:      3,
		MaxBackoff:            2 * time.Minute,
		Refresh:               2 * time.Second,
		StrictHostKeyChecking: true,
	}
}

// DefaultConfig returns a Config with default settings and no hosts.
func DefaultConfig() *Config {
	return &Config{
		Settings: DefaultSettings(),
		Log: logger.Config{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// HostNames returns the names of the configured hosts in file order.
func (c *Config) HostNames() []string {
	names := make([]string, 0, len(c.Hosts))
	for _, h := range c.Hosts {
		names = append(names, h.Name)
	}
	return names
}

// Host looks up a host by name.
func (c *Config) Host(name string) (Host, bool) {
	for _, h := range c.Hosts {
		if h.Name == name {
			return h, true
		}
	}
	return Host{}, false
}
