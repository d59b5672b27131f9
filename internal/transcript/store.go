package transcript

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
)

// Store persists transcript entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Save persists e.
	Save(ctx context.Context, e Entry) error

	// Close releases the store's resources.
	Close() error
}

// Compile-time interface checks.
var (
	_ Store = (*FileStore)(nil)
	_ Store = (*Guard)(nil)
)

// FileStore appends entries as JSON lines to a local file. The file is
// created on first use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save implements [Store].
func (fs *FileStore) Save(_ context.Context, e Entry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("transcript: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("transcript: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("transcript: write: %w", err)
	}
	return nil
}

// Close implements [Store]. The file is not held open between writes.
func (fs *FileStore) Close() error { return nil }

// Guard wraps a [Store] and makes Save non-fatal: failures are logged and
// swallowed and the guard reports itself degraded until the next success.
type Guard struct {
	name     string
	store    Store
	degraded atomic.Bool
}

// NewGuard wraps store. name identifies it in logs and health checks.
func NewGuard(name string, store Store) *Guard {
	return &Guard{name: name, store: store}
}

// Name returns the name given to [NewGuard].
func (g *Guard) Name() string { return g.name }

// Save implements [Store]. It never returns an error.
func (g *Guard) Save(ctx context.Context, e Entry) error {
	if err := g.store.Save(ctx, e); err != nil {
		g.degraded.Store(true)
		slog.Warn("transcript: save failed, swallowing error",
			"store", g.name,
			"session_id", e.SessionID,
			"err", err,
		)
		return nil
	}
	g.degraded.Store(false)
	return nil
}

// Close implements [Store].
func (g *Guard) Close() error { return g.store.Close() }

// IsDegraded reports whether the most recent Save failed.
func (g *Guard) IsDegraded() bool {
	return g.degraded.Load()
}

// Check reports an error while the store is degraded. It matches the
// readiness check signature of the health package.
func (g *Guard) Check(context.Context) error {
	if g.IsDegraded() {
		return fmt.Errorf("transcript store %s is degraded", g.name)
	}
	return nil
}
