package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"
)

// ReloadFunc applies the hot-reloadable part of a config edit to the running
// recognizer. A non-nil error rejects the edit.
type ReloadFunc func(d ConfigDiff) error

// Watcher keeps the detection tunables of a running recognizer in sync with
// its config file.
//
// It polls the file's modification time and confirms edits by content hash.
// Each edit is parsed and validated, then diffed against the config in
// effect. Sections that need a restart are logged and left alone. When a
// hot-reloadable field (log level, score threshold, suppression,
// include_other_label) changed, the diff is handed to the [ReloadFunc]. An
// edit that fails validation or that the ReloadFunc rejects leaves the
// previous config in effect.
type Watcher struct {
	path     string
	interval time.Duration
	apply    ReloadFunc

	mu       sync.Mutex
	current  *Config
	done     chan struct{}
	stopOnce sync.Once

	lastMtime time.Time
	lastHash  [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path and starts polling it. apply may be
// nil, in which case edits are validated and tracked but not applied.
func NewWatcher(path string, apply ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		apply:    apply,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastMtime = mtime

	go w.poll()
	return w, nil
}

// Current returns the config currently in effect.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) poll() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check handles at most one edit. Only the poll goroutine calls it, so the
// lock guards Current readers, not concurrent checks.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: watcher cannot stat file", "path", w.path, "err", err)
		return
	}
	if info.ModTime().Equal(w.lastMtime) {
		return
	}

	cfg, hash, mtime, err := w.read()
	if err != nil {
		// Remember the mtime so a broken file is reported once per edit.
		w.lastMtime = info.ModTime()
		slog.Warn("config: invalid edit ignored; previous config stays in effect", "path", w.path, "err", err)
		return
	}
	w.lastMtime = mtime
	if hash == w.lastHash {
		return
	}
	w.lastHash = hash

	prev := w.Current()
	d := Diff(prev, cfg)
	if d.RestartRequired {
		slog.Warn("config: edit needs a restart to take effect", "path", w.path, "sections", d.RestartSections)
	}
	if d.Changed() && w.apply != nil {
		if err := w.apply(d); err != nil {
			slog.Warn("config: reload rejected; previous config stays in effect", "path", w.path, "fields", d.Fields(), "err", err)
			return
		}
	}

	w.mu.Lock()
	w.current = cfg
	w.mu.Unlock()

	if d.Changed() {
		slog.Info("config: detection settings reloaded", "path", w.path, "fields", d.Fields())
	}
}

// read parses and validates the file, returning the config with the file's
// SHA-256 and modification time.
func (w *Watcher) read() (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	f, err := os.Open(w.path)
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, zero, time.Time{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
