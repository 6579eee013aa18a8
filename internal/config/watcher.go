package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// stamp identifies one version of the file on disk without reading it.
type stamp struct {
	modTime time.Time
	size    int64
}

func stampOf(fi os.FileInfo) stamp { return stamp{modTime: fi.ModTime(), size: fi.Size()} }

// Watcher polls a config file and hands every new valid version to a
// callback, which the app uses to re-apply the log level, local port and
// target. A rejected edit leaves the running settings alone and is not
// re-parsed until the file changes again.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	seen    stamp
	sum     [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: 2s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithLogger sets the logger for reload messages.
func WithLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher reads path once, failing if it is not a valid config, and
// returns a watcher that polls it from [Watcher.Run].
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 2 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, sum, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %s: %w", path, err)
	}
	w.current, w.seen, w.sum = cfg, st, sum
	return w, nil
}

// Current returns the last valid config read from the file.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls until ctx ends. It always returns nil.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if old, next := w.poll(); next != nil && w.onChange != nil {
				w.onChange(old, next)
			}
		}
	}
}

// poll returns the previous and new config when the file holds a new valid
// version, and nils otherwise.
func (w *Watcher) poll() (old, next *Config) {
	fi, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config: cannot stat file", "path", w.path, "err", err)
		return nil, nil
	}
	w.mu.Lock()
	unchanged := stampOf(fi) == w.seen
	w.mu.Unlock()
	if unchanged {
		return nil, nil
	}

	cfg, st, sum, err := w.read()
	w.mu.Lock()
	defer w.mu.Unlock()
	if err != nil {
		w.seen = stampOf(fi)
		w.log.Warn("config: edit rejected, link settings unchanged", "path", w.path, "err", err)
		return nil, nil
	}
	w.seen = st
	if sum == w.sum {
		return nil, nil
	}
	old, w.current, w.sum = w.current, cfg, sum
	w.log.Info("config: reloaded", "path", w.path,
		"local_port", cfg.Link.LocalPort, "target_port", cfg.Link.TargetPort)
	return old, cfg
}

func (w *Watcher) read() (*Config, stamp, [sha256.Size]byte, error) {
	f, err := os.Open(w.path)
	if err != nil {
		return nil, stamp{}, [sha256.Size]byte{}, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, stamp{}, [sha256.Size]byte{}, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(f); err != nil {
		return nil, stamp{}, [sha256.Size]byte{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(buf.Bytes()))
	if err != nil {
		return nil, stamp{}, [sha256.Size]byte{}, err
	}
	return cfg, stampOf(fi), sha256.Sum256(buf.Bytes()), nil
}
