package transcript

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultBuffer is the number of entries a [Recorder] queues before it
// starts dropping.
const DefaultBuffer = 256

// saveTimeout bounds a single Save call.
const saveTimeout = 5 * time.Second

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithBuffer sets the queue length. Values below 1 are ignored.
func WithBuffer(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.buffer = n
		}
	}
}

// Recorder persists entries to a set of stores on a background goroutine.
// Record never blocks; when the queue is full the entry is dropped with a
// warning.
type Recorder struct {
	stores []Store
	buffer int

	queue   chan Entry
	done    chan struct{}
	dropped atomic.Uint64

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a Recorder writing to stores, in order.
func NewRecorder(stores []Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		stores: stores,
		buffer: DefaultBuffer,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	r.queue = make(chan Entry, r.buffer)
	go r.run()
	return r
}

// Record queues e for persistence. It returns false if e was dropped.
func (r *Recorder) Record(e Entry) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return false
	}
	select {
	case r.queue <- e:
		return true
	default:
		r.dropped.Add(1)
		slog.Warn("transcript: recorder queue full, dropping entry",
			"session_id", e.SessionID,
			"buffer", r.buffer,
		)
		return false
	}
}

// Dropped returns the number of entries dropped because the queue was full.
func (r *Recorder) Dropped() uint64 {
	return r.dropped.Load()
}

// Close stops accepting entries, waits for the queue to drain or ctx to
// end, then closes every store.
func (r *Recorder) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	var errs []error
	select {
	case <-r.done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	for _, s := range r.stores {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Recorder) run() {
	defer close(r.done)
	for e := range r.queue {
		for _, s := range r.stores {
			ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
			if err := s.Save(ctx, e); err != nil {
				slog.Warn("transcript: save entry", "session_id", e.SessionID, "err", err)
			}
			cancel()
		}
	}
}
