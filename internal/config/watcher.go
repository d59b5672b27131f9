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

// Watcher polls a config file, and the instructions file it references, and
// reports validated changes to a callback. Polling keeps the dependency set
// small and works on every filesystem.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config, diff ConfigDiff)

	mu         sync.Mutex
	current    *Config
	lastHash   [sha256.Size]byte
	lastPrompt [sha256.Size]byte

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
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

// NewWatcher loads the config at path and starts polling it in the
// background. onChange runs on the polling goroutine whenever a new, valid
// revision with at least one difference appears.
func NewWatcher(path string, onChange func(old, new *Config, diff ConfigDiff), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, hash, prompt, err := w.load()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.lastHash = hash
	w.lastPrompt = prompt

	go w.poll()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop stops polling and waits for the polling goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	<-w.stopped
}

func (w *Watcher) poll() {
	defer close(w.stopped)
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

// check reloads the files and, if their content changed and the result is
// valid, swaps the current config and notifies onChange.
func (w *Watcher) check() {
	cfg, hash, prompt, err := w.load()
	if err != nil {
		slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	if hash == w.lastHash && prompt == w.lastPrompt {
		w.mu.Unlock()
		return
	}
	promptChanged := prompt != w.lastPrompt
	old := w.current
	w.current = cfg
	w.lastHash = hash
	w.lastPrompt = prompt
	w.mu.Unlock()

	diff := Diff(old, cfg)
	if promptChanged {
		diff.InstructionsChanged = true
		diff.AgentChanged = true
	}
	if !diff.HasChanges() {
		return
	}
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"agent_changed", diff.AgentChanged,
		"restart_required", diff.RestartRequired,
	)

	// Outside the lock so the callback may call Current.
	if w.onChange != nil {
		w.onChange(old, cfg, diff)
	}
}

// load parses and validates the config file and hashes it together with the
// instructions file it references, if any.
func (w *Watcher) load() (cfg *Config, hash, prompt [sha256.Size]byte, err error) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, hash, prompt, err
	}
	cfg, err = LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, hash, prompt, err
	}
	hash = sha256.Sum256(data)

	if cfg.Agent.InstructionsFile != "" {
		b, err := os.ReadFile(cfg.Agent.InstructionsFile)
		if err != nil {
			return nil, hash, prompt, fmt.Errorf("config: read instructions %q: %w", cfg.Agent.InstructionsFile, err)
		}
		prompt = sha256.Sum256(b)
	}
	return cfg, hash, prompt, nil
}
