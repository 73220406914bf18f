package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads the application configuration when the backing file
// changes and hands each re-validated snapshot to the caller's callback.
// Components that copied their settings at construction (server timeouts,
// database pool) keep the old values until the process restarts.
type Watcher struct {
	loader   *Loader
	logger   *zap.Logger
	onChange func(*Config)

	mu      sync.Mutex
	running bool
}

// NewWatcher wraps a loader whose Load has already succeeded. onChange
// receives each re-validated configuration.
func NewWatcher(loader *Loader, logger *zap.Logger, onChange func(*Config)) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{
		loader:   loader,
		logger:   logger,
		onChange: onChange,
	}
}

// Start begins watching the config file. It fails when the loader found no
// file to watch.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("config watcher already running")
	}
	if w.loader.ConfigFileUsed() == "" {
		return fmt.Errorf("no config file in use, nothing to watch")
	}

	// Viper re-reads the file before invoking the callback; rebuild then
	// re-applies defaults and validation. A change that fails validation is
	// logged and dropped, keeping the last good configuration in effect.
	w.loader.v.OnConfigChange(func(e fsnotify.Event) {
		if !w.IsRunning() {
			return
		}
		cfg, err := w.loader.rebuild()
		if err != nil {
			w.logger.Warn("config change rejected",
				zap.String("file", e.Name),
				zap.Error(err))
			return
		}
		w.logger.Info("config reloaded", zap.String("file", e.Name))
		if w.onChange != nil {
			w.onChange(cfg)
		}
	})
	w.loader.v.WatchConfig()

	w.running = true
	return nil
}

// Stop disables change callbacks. The underlying file watch goroutine stays
// alive for the life of the process; Stop only makes it inert.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.running = false
}

// IsRunning reports whether change callbacks are active
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
