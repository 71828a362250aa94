package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// ChangeFunc receives the previous and the new config and what changed
// between them.
type ChangeFunc func(old, new *Config, diff ConfigDiff)

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Non-positive values keep
// [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// fileState identifies one version of the config file.
type fileState struct {
	modTime time.Time
	sum     [sha256.Size]byte
}

// Watcher keeps the voice tuning of a running server in step with its config
// file. It stats the file every interval, re-reads it when the mtime moves,
// and reports content changes that pass validation. An invalid file is
// logged and ignored; the previous config stays current.
//
// [Watcher.Reload] forces a read, e.g. on SIGHUP.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeFunc

	// reloadMu serialises reloads so callbacks see changes in order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	state   fileState

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher loads path and starts watching it. It fails if the initial
// load fails.
func NewWatcher(path string, onChange ChangeFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := readConfigFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.state = cfg, st

	go w.loop()
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.done) })
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.done:
			return
		case <-t.C:
			if w.modified() {
				if _, err := w.Reload(); err != nil {
					slog.Warn("config: reload rejected, keeping previous config", "path", w.path, "err", err)
				}
			}
		}
	}
}

// modified reports whether the file's mtime differs from the accepted one.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat watched file", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.state.modTime)
}

// Reload reads the file now. When the content changed and is valid, the new
// config becomes current and the change callback runs before Reload
// returns. It reports whether the content changed.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, st, err := readConfigFile(w.path)
	if err != nil {
		return false, err
	}

	w.mu.Lock()
	if st.sum == w.state.sum {
		// Touched, not edited.
		w.state.modTime = st.modTime
		w.mu.Unlock()
		return false, nil
	}
	old := w.current
	w.current, w.state = cfg, st
	w.mu.Unlock()

	diff := Diff(old, cfg)
	slog.Info("config: reloaded",
		"path", w.path,
		"thresholds_changed", diff.ThresholdsChanged,
		"log_level_changed", diff.LogLevelChanged,
		"restart_required", diff.RestartRequired,
	)
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
	return true, nil
}

// readConfigFile parses and validates path and returns its file state.
func readConfigFile(path string) (*Config, fileState, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fileState{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileState{}, err
	}
	return cfg, fileState{modTime: info.ModTime(), sum: sha256.Sum256(data)}, nil
}
