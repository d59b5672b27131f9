package session

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Default reconnection parameters.
const (
	defaultMaxRetries = 5
	defaultBackoff    = 1 * time.Second
	defaultMaxBackoff = 30 * time.Second
)

// Connector starts a session. [*Controller] satisfies it.
type Connector interface {
	Connect(ctx context.Context) error
}

var _ Connector = (*Controller)(nil)

// ReconnectorConfig configures a [Reconnector].
type ReconnectorConfig struct {
	// Connector is re-connected after each reported drop.
	Connector Connector

	// MaxRetries is the maximum number of attempts per drop before giving up.
	// Defaults to 5 if zero.
	MaxRetries int

	// Backoff is the delay before the first attempt. Doubles each attempt up
	// to MaxBackoff. Defaults to 1s if zero.
	Backoff time.Duration

	// MaxBackoff is the upper limit on the delay. Defaults to 30s if zero.
	MaxBackoff time.Duration

	// OnReconnect is called with the attempt number after a successful
	// reconnection. May be nil.
	OnReconnect func(attempt int)

	// OnGiveUp is called when every attempt for one drop failed. May be nil.
	OnGiveUp func(err error)
}

// Reconnector re-establishes a session after the agent dropped it.
//
// It never decides on its own that a session was lost: the owner calls
// [Reconnector.NotifyDisconnect], typically from the controller's error
// handler when an [ErrUnexpectedClose] is surfaced. A deliberate Disconnect
// therefore never triggers a reconnect.
//
// All methods are safe for concurrent use.
type Reconnector struct {
	connector   Connector
	maxRetries  int
	backoff     time.Duration
	maxBackoff  time.Duration
	onReconnect func(int)
	onGiveUp    func(error)

	done         chan struct{}
	stopOnce     sync.Once
	disconnected chan struct{}
}

// NewReconnector creates a new [Reconnector] with the given configuration.
func NewReconnector(cfg ReconnectorConfig) *Reconnector {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultBackoff
	}
	maxBackoff := cfg.MaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = defaultMaxBackoff
	}
	return &Reconnector{
		connector:    cfg.Connector,
		maxRetries:   maxRetries,
		backoff:      backoff,
		maxBackoff:   maxBackoff,
		onReconnect:  cfg.OnReconnect,
		onGiveUp:     cfg.OnGiveUp,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}, 1),
	}
}

// Monitor runs the reconnect loop until ctx is cancelled or Stop is called.
// It blocks; run it on its own goroutine.
func (r *Reconnector) Monitor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-r.disconnected:
			r.attemptReconnect(ctx)
		}
	}
}

// NotifyDisconnect signals that the session was lost. Signals that arrive
// while one is already pending are coalesced.
func (r *Reconnector) NotifyDisconnect() {
	select {
	case r.disconnected <- struct{}{}:
	default:
	}
}

// Stop halts monitoring. Safe to call multiple times.
func (r *Reconnector) Stop() {
	r.stopOnce.Do(func() {
		close(r.done)
	})
}

// attemptReconnect retries Connect with exponential backoff.
func (r *Reconnector) attemptReconnect(ctx context.Context) {
	current := r.backoff
	var lastErr error

	for attempt := 1; attempt <= r.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case <-time.After(current):
		}

		slog.Info("session: attempting reconnection",
			"attempt", attempt,
			"max_retries", r.maxRetries,
			"backoff", current,
		)

		err := r.connector.Connect(ctx)
		if err == nil {
			slog.Info("session: reconnection successful", "attempt", attempt)
			if r.onReconnect != nil {
				r.onReconnect(attempt)
			}
			return
		}
		lastErr = err

		slog.Warn("session: reconnection attempt failed",
			"attempt", attempt,
			"err", err,
		)

		current *= 2
		if current > r.maxBackoff {
			current = r.maxBackoff
		}
	}

	slog.Error("session: reconnection failed after max retries",
		"max_retries", r.maxRetries,
		"err", lastErr,
	)
	if r.onGiveUp != nil {
		r.onGiveUp(lastErr)
	}
}
