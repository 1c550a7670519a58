package config

import (
	"bytes"
	"os"
	"path/filepath"
	"time"

	"github.com/rileyhilliard/gpustat/internal/errors"
	"gopkg.in/yaml.v3"
)

// yaml.v3 encodes time.Duration as nanoseconds, so the writer goes through
// these mirrors that carry durations as strings ("5s").
type fileHost struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	User     string `yaml:"user"`
	KeyPath  string `yaml:"key_path,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

type fileSettings struct {
	DataDir               string `yaml:"data_dir"`
	DefaultInterval       string `yaml:"default_interval"`
	CommandTimeout        string `yaml:"command_timeout"`
	FailureThreshold      int    `yaml:"failure_threshold"`
	MaxBackoff            string `yaml:"max_backoff"`
	Refresh               string `yaml:"refresh"`
	StrictHostKeyChecking bool   `yaml:"strict_host_key_checking"`
}

type fileLog struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type fileConfig struct {
	Hosts    []fileHost   `yaml:"hosts"`
	Settings fileSettings `yaml:"settings"`
	Log      fileLog      `yaml:"log"`
}

// Marshal renders cfg as YAML in the same shape Load reads.
func Marshal(cfg *Config) ([]byte, error) {
	fc := fileConfig{
		Settings: fileSettings{
			DataDir:               cfg.Settings.DataDir,
			DefaultInterval:       formatDuration(cfg.Settings.DefaultInterval),
			CommandTimeout:        formatDuration(cfg.Settings.CommandTimeout),
			FailureThreshold:      cfg.Settings.FailureThreshold,
			MaxBackoff:            formatDuration(cfg.Settings.MaxBackoff),
			Refresh:               formatDuration(cfg.Settings.Refresh),
			StrictHostKeyChecking: cfg.Settings.StrictHostKeyChecking,
		},
		Log: fileLog(cfg.Log),
	}
	for _, h := range cfg.Hosts {
		fh := fileHost{
			Name:    h.Name,
			Address: h.Address,
			User:    h.User,
			KeyPath: h.KeyPath,
		}
		if h.Port != DefaultPort {
			fh.Port = h.Port
		}
		if h.Interval != 0 {
			fh.Interval = formatDuration(h.Interval)
		}
		fc.Hosts = append(fc.Hosts, fh)
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(fc); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Failed to encode config", "")
	}
	if err := enc.Close(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig, "Failed to encode config", "")
	}
	return buf.Bytes(), nil
}

// Save writes cfg to path. An existing file is only replaced when force is set.
func Save(path string, cfg *Config, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return errors.New(errors.ErrConfig,
			"Config file already exists: "+path,
			"Use --force to overwrite it")
	}

	data, err := Marshal(cfg)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.WrapWithCode(err, errors.ErrIO, "Can't create "+dir, "Check directory permissions")
		}
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.WrapWithCode(err, errors.ErrIO, "Can't write "+path, "Check directory permissions")
	}
	return nil
}

func formatDuration(d time.Duration) string {
	if d == 0 {
		return ""
	}
	return d.String()
}
