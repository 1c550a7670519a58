package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/spf13/viper"
)

// Load reads config from path. Host entries that fail validation are dropped
// and reported in the returned Rejected slice; the error is only set when the
// file cannot be read or no valid host remains.
func Load(path string) (*Config, []Rejected, error) {
	v := newViper(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found: "+path,
				"Run 'gpustat init' to create one, or point at it with --config")
		}
		return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	setDefaults(v)
	return v
}

// setDefaults mirrors DefaultConfig so keys missing from the file still decode.
func setDefaults(v *viper.Viper) {
	def := DefaultConfig()
	v.SetDefault("settings.data_dir", def.Settings.DataDir)
	v.SetDefault("settings.default_interval", def.Settings.DefaultInterval)
	v.SetDefault("settings.command_timeout", def.Settings.CommandTimeout)
	v.SetDefault("settings.failure_threshold", def.Settings.FailureThreshold)
	v.SetDefault("settings.max_backoff", def.Settings.MaxBackoff)
	v.SetDefault("settings.refresh", def.Settings.Refresh)
	v.SetDefault("settings.strict_host_key_checking", def.Settings.StrictHostKeyChecking)
	v.SetDefault("log.level", def.Log.Level)
	v.SetDefault("log.max_size_mb", def.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", def.Log.MaxBackups)
	v.SetDefault("log.max_age_days", def.Log.MaxAgeDays)
}

// parseConfig converts viper config to our Config struct, applies defaults
// and filters out invalid hosts.
func parseConfig(v *viper.Viper, path string) (*Config, []Rejected, error) {
	cfg := DefaultConfig()

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		secondsToDuration(),
		mapstructure.StringToTimeDurationHookFunc(),
	))
	if err := v.Unmarshal(cfg, hook); err != nil {
		return nil, nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+path)
	}

	if err := ValidateSettings(cfg.Settings); err != nil {
		return nil, nil, err
	}

	cfg.Settings.DataDir = Expand(cfg.Settings.DataDir)
	cfg.Log.File = Expand(cfg.Log.File)

	hosts, rejected := filterHosts(cfg.Hosts, cfg.Settings)
	cfg.Hosts = hosts

	if len(hosts) == 0 {
		msg := "No valid hosts in " + path
		if len(rejected) > 0 {
			msg = fmt.Sprintf("%s (%d rejected, first: %s)", msg, len(rejected), rejected[0])
		}
		return nil, rejected, errors.New(errors.ErrConfig, msg,
			"Each host needs a name, address and user. Run 'gpustat init' for a starting point.")
	}

	return cfg, rejected, nil
}

// filterHosts applies per-host defaults and keeps the entries that validate.
// The first occurrence of a name wins; later duplicates are rejected.
func filterHosts(in []Host, s Settings) ([]Host, []Rejected) {
	var (
		out      []Host
		rejected []Rejected
		seen     = make(map[string]bool)
	)

	for i, h := range in {
		h = applyHostDefaults(h, s)

		if err := ValidateHost(h); err != nil {
			rejected = append(rejected, Rejected{Index: i, Name: h.Name, Reason: err.Error()})
			continue
		}
		if seen[h.Name] {
			rejected = append(rejected, Rejected{Index: i, Name: h.Name, Reason: "duplicate host name"})
			continue
		}
		seen[h.Name] = true
		out = append(out, h)
	}

	return out, rejected
}

func applyHostDefaults(h Host, s Settings) Host {
	if h.Port == 0 {
		h.Port = DefaultPort
	}
	if h.Interval == 0 {
		h.Interval = s.DefaultInterval
	}
	h.KeyPath = ExpandTilde(h.KeyPath)
	return h
}

// secondsToDuration lets intervals be written as bare numbers of seconds
// ("interval: 5") as well as duration strings ("interval: 5s").
func secondsToDuration() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(_ reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
		if t != durationType {
			return data, nil
		}
		switch n := data.(type) {
		case int:
			return time.Duration(n) * time.Second, nil
		case int64:
			return time.Duration(n) * time.Second, nil
		case uint64:
			return time.Duration(n) * time.Second, nil
		case float64:
			return time.Duration(n * float64(time.Second)), nil
		}
		return data, nil
	}
}
