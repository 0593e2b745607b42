package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of writes into one reload.
const DefaultDebounce = 200 * time.Millisecond

// ConfigChangeCallback receives the configuration before and after a reload.
type ConfigChangeCallback func(oldConfig, newConfig *Config)

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithWatcherLogger sets the logger used for reload diagnostics.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// Watcher keeps a configuration file loaded and reloads it when it changes
// on disk. A reload that fails to load or validate keeps the previous
// configuration.
type Watcher struct {
	path     string
	loader   *Loader
	logger   *slog.Logger
	debounce time.Duration
	fs       *fsnotify.Watcher

	reloadMu sync.Mutex // serializes reloads so callbacks see them in order

	mu        sync.RWMutex
	current   *Config
	callbacks []ConfigChangeCallback

	started  atomic.Bool
	done     chan struct{}
	loopDone chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// NewWatcher loads path once and prepares to watch it. Nothing is watched
// until Start.
func NewWatcher(path string, loader *Loader, opts ...WatcherOption) (*Watcher, error) {
	if _, err := formatOf(path); err != nil {
		return nil, err
	}
	if loader == nil {
		loader = NewLoader()
	}

	initial, err := loader.LoadFromFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load initial config: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file system watcher: %w", err)
	}

	w := &Watcher{
		path:     filepath.Clean(path),
		loader:   loader,
		logger:   slog.Default(),
		debounce: DefaultDebounce,
		fs:       fs,
		current:  initial,
		done:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "config-watcher", "file", w.path)
	return w, nil
}

// Start begins watching. The parent directory is watched so editors that
// replace the file by rename are still seen.
func (w *Watcher) Start() error {
	if w.started.Load() {
		return fmt.Errorf("config watcher already started")
	}
	if err := w.fs.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	w.started.Store(true)
	go w.run()
	return nil
}

// Stop ends watching. It is safe to call more than once and before Start.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
		w.stopErr = w.fs.Close()
		if w.started.Load() {
			<-w.loopDone
		}
	})
	return w.stopErr
}

// GetConfig returns the configuration from the last successful load.
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// OnConfigChange registers callback for later reloads. Callbacks run on
// their own goroutines.
func (w *Watcher) OnConfigChange(callback ConfigChangeCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Reload loads the file now.
func (w *Watcher) Reload() error {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	next, err := w.loader.LoadFromFile(w.path)
	if err != nil {
		return fmt.Errorf("failed to reload config: %w", err)
	}

	w.mu.Lock()
	prev := w.current
	w.current = next
	callbacks := append([]ConfigChangeCallback(nil), w.callbacks...)
	w.mu.Unlock()

	w.logger.Info("configuration reloaded")
	for _, cb := range callbacks {
		go w.notify(cb, prev, next)
	}
	return nil
}

func (w *Watcher) notify(cb ConfigChangeCallback, prev, next *Config) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("config change callback panicked", "panic", r)
		}
	}()
	cb(prev, next)
}

// run turns file events into debounced reloads.
func (w *Watcher) run() {
	defer close(w.loopDone)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create):
				timer.Reset(w.debounce)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.logger.Warn("config file removed or renamed, keeping current config")
			}

		case <-timer.C:
			if err := w.Reload(); err != nil {
				w.logger.Warn("config reload failed", "error", err)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}
