package config

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Getter provides access to the current config.
type Getter interface {
	Config() *Config
}

// Static wraps a config for use without hot-reloading (e.g., in tests).
type Static struct {
	cfg *Config
}

// NewStatic creates a Getter that always returns the same config.
func NewStatic(cfg *Config) *Static {
	return &Static{cfg: cfg}
}

// Config returns the static config.
func (s *Static) Config() *Config {
	return s.cfg
}

// Watcher watches the config file and reloads it on change. Components
// holding a Getter see updated values on their next Config() call;
// settings read once at startup (store path, worker count, listen
// address) keep their running values until restart.
type Watcher struct {
	path    string
	log     *slog.Logger
	watcher *fsnotify.Watcher

	mu  sync.RWMutex
	cfg *Config

	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// NewWatcher creates a watcher seeded with the given config.
func NewWatcher(path string, cfg *Config, log *slog.Logger) *Watcher {
	return &Watcher{
		path:   path,
		log:    log,
		cfg:    cfg,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Config returns the most recently loaded config.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

// Start begins watching the config file. It watches the containing
// directory so atomic rename-based saves are observed.
func (w *Watcher) Start() error {
	if w.path == "" {
		close(w.doneCh)
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		fw.Close()
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}
	w.watcher = fw

	go w.loop()
	return nil
}

// Stop halts the watcher. Not restart-safe.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.watcher != nil {
			w.watcher.Close()
		}
	})
	<-w.doneCh
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.log.Warn("config reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.log.Warn("config reload rejected", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	w.cfg = cfg
	w.mu.Unlock()
	w.log.Info("config reloaded", "path", w.path)
}
