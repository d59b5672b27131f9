package session

import (
	"log/slog"
	"sync"
	"time"
)

// KeepAlive calls a send function on a fixed interval until stopped. The
// zero value is ready to use. Ticks are not drift-corrected.
type KeepAlive struct {
	// Logger receives send failures. Defaults to [slog.Default]. Set it
	// before the first Start.
	Logger *slog.Logger

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// Start arms the timer. A timer that is already running is stopped first, so
// two timers never run at once. Send errors are logged and do not disarm the
// timer.
func (k *KeepAlive) Start(interval time.Duration, send func() error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	k.stopLocked()
	stop, done := make(chan struct{}), make(chan struct{})
	k.stop, k.done = stop, done
	log := k.Logger
	if log == nil {
		log = slog.Default()
	}
	go k.run(interval, send, log, stop, done)
}

// Stop disarms the timer and waits for an in-flight send to return. It is
// safe to call when not running.
func (k *KeepAlive) Stop() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.stopLocked()
}

// Running reports whether the timer is armed.
func (k *KeepAlive) Running() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stop != nil
}

func (k *KeepAlive) stopLocked() {
	if k.stop == nil {
		return
	}
	close(k.stop)
	<-k.done
	k.stop, k.done = nil, nil
}

func (k *KeepAlive) run(interval time.Duration, send func() error, log *slog.Logger, stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := send(); err != nil {
				log.Warn("keepalive: send failed", "err", err)
			}
		}
	}
}
