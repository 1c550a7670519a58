package config

import (
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/rileyhilliard/gpustat/internal/errors"
	"github.com/rileyhilliard/gpustat/internal/logger"
)

// ReloadFunc receives every successfully reloaded config.
type ReloadFunc func(cfg *Config, rejected []Rejected)

// Watcher reloads the config file when it changes on disk.
type Watcher struct {
	path     string
	log      logger.Logger
	onChange ReloadFunc

	mu      sync.Mutex
	stopped atomic.Bool
}

// Watch starts watching path. A reload that fails or leaves no valid host
// is logged and otherwise ignored, so the running set of hosts survives a
// half-saved file.
func Watch(path string, log logger.Logger, onChange ReloadFunc) (*Watcher, error) {
	w := &Watcher{path: path, log: logger.Named(log, "config"), onChange: onChange}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Can't watch config file "+path,
			"Check the file exists and is readable")
	}
	v.OnConfigChange(w.handle)
	v.WatchConfig()

	return w, nil
}

// Stop silences further reloads. viper keeps its fsnotify watcher for the
// life of the process, so this only detaches the callback.
func (w *Watcher) Stop() {
	w.stopped.Store(true)
}

func (w *Watcher) handle(e fsnotify.Event) {
	if w.stopped.Load() {
		return
	}
	if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) && !e.Has(fsnotify.Rename) {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	cfg, rejected, err := Load(w.path)
	if err != nil {
		w.log.Warn("ignoring config reload after %s: %s", e.Op, errors.SummaryOf(err))
		return
	}
	for _, r := range rejected {
		w.log.Warn("rejected %s", r)
	}
	w.log.Info("config reloaded: %d host(s)", len(cfg.Hosts))

	if w.onChange != nil && !w.stopped.Load() {
		w.onChange(cfg, rejected)
	}
}
