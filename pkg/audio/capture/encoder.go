// Package capture turns microphone blocks into outbound PCM frames.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// ErrAlreadyCapturing is returned by Start while a microphone is held.
var ErrAlreadyCapturing = errors.New("capture: already capturing")

// Option configures an [Encoder].
type Option func(*Encoder)

// WithLogger sets the logger. Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(e *Encoder) {
		e.log = l
	}
}

// WithEndHandler registers fn to run when the microphone stream ends on its
// own, as opposed to being stopped. fn runs on the capture goroutine.
func WithEndHandler(fn func()) Option {
	return func(e *Encoder) {
		e.onEnd = fn
	}
}

// Encoder reads float blocks from a [audio.CaptureDevice], converts each one
// to a 16-bit [audio.AudioFrame] and hands it to a sink in capture order.
//
// The sink runs on the encoder's goroutine, one frame at a time; a slow sink
// delays capture but never reorders it.
type Encoder struct {
	dev   audio.CaptureDevice
	sink  func(audio.AudioFrame)
	log   *slog.Logger
	onEnd func()

	muted  atomic.Bool
	frames atomic.Uint64

	mu       sync.Mutex
	stream   audio.CaptureStream
	stop     chan struct{}
	done     chan struct{}
	stopOnce *sync.Once
}

// New creates an Encoder that delivers frames captured from dev to sink.
func New(dev audio.CaptureDevice, sink func(audio.AudioFrame), opts ...Option) *Encoder {
	e := &Encoder{
		dev:  dev,
		sink: sink,
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Start opens the microphone and begins emitting frames of blockSize samples
// at sampleRate. Failures to acquire the device wrap
// [audio.ErrDeviceUnavailable].
func (e *Encoder) Start(ctx context.Context, sampleRate, blockSize int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stream != nil {
		return ErrAlreadyCapturing
	}
	st, err := e.dev.Open(ctx, sampleRate, blockSize)
	if err != nil {
		if errors.Is(err, audio.ErrDeviceUnavailable) {
			return fmt.Errorf("capture: open microphone: %w", err)
		}
		return fmt.Errorf("capture: open microphone: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	e.stream = st
	e.stop = make(chan struct{})
	e.done = make(chan struct{})
	e.stopOnce = &sync.Once{}
	go e.pump(st, sampleRate, e.stop, e.done)

	e.log.Debug("capture: microphone open", "sample_rate", sampleRate, "block_size", blockSize)
	return nil
}

func (e *Encoder) pump(st audio.CaptureStream, sampleRate int, stop, done chan struct{}) {
	defer close(done)

	var offset int
	blocks := st.Blocks()
	for {
		select {
		case <-stop:
			return
		case block, ok := <-blocks:
			if !ok {
				e.log.Warn("capture: microphone stream ended")
				if e.onEnd != nil {
					e.onEnd()
				}
				return
			}
			ts := audio.SamplesDuration(offset, sampleRate)
			offset += len(block)
			if e.muted.Load() || len(block) == 0 {
				continue
			}
			e.frames.Add(1)
			e.sink(audio.AudioFrame{
				Samples:    audio.Float32ToPCM16(block),
				SampleRate: sampleRate,
				Timestamp:  ts,
			})
		}
	}
}

// SetMuted stops (true) or resumes (false) frame emission without releasing
// the microphone. Blocks captured while muted are discarded.
func (e *Encoder) SetMuted(muted bool) {
	e.muted.Store(muted)
}

// Muted reports whether emission is muted.
func (e *Encoder) Muted() bool {
	return e.muted.Load()
}

// Frames returns the number of frames handed to the sink so far.
func (e *Encoder) Frames() uint64 {
	return e.frames.Load()
}

// Stop halts frame emission and waits for the capture goroutine to exit. The
// microphone stays open until [Encoder.Close]. It must not be called from the
// sink.
func (e *Encoder) Stop() {
	e.mu.Lock()
	stop, done, once := e.stop, e.done, e.stopOnce
	e.mu.Unlock()

	if stop == nil {
		return
	}
	once.Do(func() { close(stop) })
	<-done
}

// Close stops emission and releases the microphone synchronously. It is safe
// to call more than once and before Start.
func (e *Encoder) Close() error {
	e.Stop()

	e.mu.Lock()
	st := e.stream
	e.stream = nil
	e.stop, e.done, e.stopOnce = nil, nil, nil
	e.mu.Unlock()

	if st == nil {
		return nil
	}
	err := st.Close()
	audio.Drain(st.Blocks())
	if err != nil {
		return fmt.Errorf("capture: release microphone: %w", err)
	}
	e.log.Debug("capture: microphone released")
	return nil
}
