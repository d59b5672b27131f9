package credential

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [Breaker.Token] while the wrapped source is
// considered down.
var ErrCircuitOpen = errors.New("credential: token source circuit open")

// BreakerState is the operating mode of a [Breaker].
type BreakerState int

const (
	// BreakerClosed forwards every request.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects requests with [ErrCircuitOpen] until the cool-down
	// elapses.
	BreakerOpen

	// BreakerHalfOpen lets a single probe through. Its outcome closes or
	// re-opens the breaker.
	BreakerHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig tunes a [Breaker].
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the
	// breaker. Default: 3.
	MaxFailures int

	// CoolDown is how long the breaker stays open before a probe is allowed.
	// Default: 30s.
	CoolDown time.Duration
}

var _ Source = (*Breaker)(nil)

// Breaker wraps a [Source] and stops calling it after repeated failures, so
// that a reconnect loop does not hammer a token service that is down.
// Context cancellation of the caller does not count as a failure.
type Breaker struct {
	src         Source
	maxFailures int
	coolDown    time.Duration

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool
}

// NewBreaker wraps src. Zero config fields take their defaults.
func NewBreaker(src Source, cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &Breaker{src: src, maxFailures: cfg.MaxFailures, coolDown: cfg.CoolDown}
}

// Token implements [Source].
func (b *Breaker) Token(ctx context.Context) (string, error) {
	if err := b.admit(); err != nil {
		return "", err
	}
	tok, err := b.src.Token(ctx)
	b.record(ctx, err)
	return tok, err
}

// State returns the current state. An open breaker whose cool-down elapsed
// reports [BreakerHalfOpen].
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && time.Since(b.openedAt) >= b.coolDown {
		return BreakerHalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if time.Since(b.openedAt) < b.coolDown {
			return ErrCircuitOpen
		}
		b.state = BreakerHalfOpen
		b.probing = false
		fallthrough
	case BreakerHalfOpen:
		if b.probing {
			return ErrCircuitOpen
		}
		b.probing = true
	}
	return nil
}

func (b *Breaker) record(ctx context.Context, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	halfOpen := b.state == BreakerHalfOpen
	b.probing = false

	switch {
	case err == nil:
		if b.state != BreakerClosed {
			slog.Info("credential: token source recovered")
		}
		b.state = BreakerClosed
		b.failures = 0
	case ctx.Err() != nil:
		// The caller gave up; says nothing about the source.
	case halfOpen:
		b.state = BreakerOpen
		b.openedAt = time.Now()
		slog.Warn("credential: token source still failing, circuit re-opened", "err", err)
	default:
		b.failures++
		if b.failures >= b.maxFailures {
			b.state = BreakerOpen
			b.openedAt = time.Now()
			slog.Warn("credential: token source failing, circuit opened",
				"consecutive_failures", b.failures,
				"cool_down", b.coolDown,
				"err", err,
			)
		}
	}
}
