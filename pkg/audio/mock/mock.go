// Package mock provides in-memory implementations of the [audio.CaptureDevice]
// and [audio.OutputDevice] contracts for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	mic := &mock.CaptureDevice{}
//	spk := &mock.OutputDevice{}
//	// ... start a session using mic and spk ...
//	mic.Stream.Send(make([]float32, 1024))
//	spk.Stream.Advance(64 * time.Millisecond)
//	calls := spk.Stream.Scheduled()
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// ─── CaptureDevice ────────────────────────────────────────────────────────────

// OpenCall records one call to [CaptureDevice.Open].
type OpenCall struct {
	SampleRate int
	BlockSize  int
}

// CaptureDevice is a mock implementation of [audio.CaptureDevice].
type CaptureDevice struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil.
	OpenError error

	// Stream is the stream handed out by the most recent successful Open.
	// Open replaces it with a fresh [CaptureStream] each time.
	Stream *CaptureStream

	// OpenCalls records the arguments of every Open call.
	OpenCalls []OpenCall
}

var _ audio.CaptureDevice = (*CaptureDevice)(nil)

// Open implements [audio.CaptureDevice].
func (d *CaptureDevice) Open(_ context.Context, sampleRate, blockSize int) (audio.CaptureStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenCalls = append(d.OpenCalls, OpenCall{SampleRate: sampleRate, BlockSize: blockSize})
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	d.Stream = NewCaptureStream()
	return d.Stream, nil
}

// CurrentStream returns the stream from the most recent Open, or nil.
func (d *CaptureDevice) CurrentStream() *CaptureStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Stream
}

// CallCountOpen returns how many times Open was called.
func (d *CaptureDevice) CallCountOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.OpenCalls)
}

// CaptureStream is a mock implementation of [audio.CaptureStream]. Tests push
// blocks with Send and end the stream with End.
type CaptureStream struct {
	mu     sync.Mutex
	sendMu sync.RWMutex
	blocks chan []float32
	done   chan struct{}
	ended  bool

	closeCalls int
}

var _ audio.CaptureStream = (*CaptureStream)(nil)

// NewCaptureStream returns an open mock stream.
func NewCaptureStream() *CaptureStream {
	return &CaptureStream{
		blocks: make(chan []float32),
		done:   make(chan struct{}),
	}
}

// Blocks implements [audio.CaptureStream].
func (s *CaptureStream) Blocks() <-chan []float32 { return s.blocks }

// Send delivers one block to the consumer. It returns false without sending
// when the stream has been closed or ended.
func (s *CaptureStream) Send(block []float32) bool {
	s.sendMu.RLock()
	defer s.sendMu.RUnlock()
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.blocks <- block:
		return true
	case <-s.done:
		return false
	}
}

// End simulates the microphone stream ending on its own.
func (s *CaptureStream) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	close(s.done)
	s.mu.Unlock()

	// Pending senders observe done and release sendMu before blocks closes.
	s.sendMu.Lock()
	close(s.blocks)
	s.sendMu.Unlock()
}

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	s.closeCalls++
	s.mu.Unlock()
	s.End()
	return nil
}

// CallCountClose returns how many times Close was called.
func (s *CaptureStream) CallCountClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// ─── OutputDevice ─────────────────────────────────────────────────────────────

// OutputDevice is a mock implementation of [audio.OutputDevice].
type OutputDevice struct {
	mu sync.Mutex

	// OpenError is returned by Open when non-nil.
	OpenError error

	// Stream is returned by Open. If nil, Open creates one on first use and
	// reuses it afterwards so tests can keep a handle across sessions.
	Stream *OutputStream

	// OpenRates records the sample rate of every Open call.
	OpenRates []int
}

var _ audio.OutputDevice = (*OutputDevice)(nil)

// Open implements [audio.OutputDevice].
func (d *OutputDevice) Open(sampleRate int) (audio.OutputStream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.OpenRates = append(d.OpenRates, sampleRate)
	if d.OpenError != nil {
		return nil, d.OpenError
	}
	if d.Stream == nil {
		d.Stream = &OutputStream{}
	}
	return d.Stream, nil
}

// CurrentStream returns the stream handed out by Open, or nil.
func (d *OutputDevice) CurrentStream() *OutputStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.Stream
}

// ScheduleCall records one call to [OutputStream.Schedule]. Its Voice reports
// whether the buffer was stopped.
type ScheduleCall struct {
	Samples []float32
	At      time.Duration
	Voice   *Voice
}

// OutputStream is a mock implementation of [audio.OutputStream] with a
// manually driven clock.
type OutputStream struct {
	mu  sync.Mutex
	now time.Duration

	// ScheduleError is returned by Schedule when non-nil.
	ScheduleError error

	scheduled  []ScheduleCall
	closeCalls int
}

var _ audio.OutputStream = (*OutputStream)(nil)

// Now implements [audio.OutputStream].
func (s *OutputStream) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetNow moves the output clock to t.
func (s *OutputStream) SetNow(t time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = t
}

// Advance moves the output clock forward by d.
func (s *OutputStream) Advance(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now += d
}

// Schedule implements [audio.OutputStream].
func (s *OutputStream) Schedule(samples []float32, at time.Duration) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ScheduleError != nil {
		return nil, s.ScheduleError
	}
	v := &Voice{}
	s.scheduled = append(s.scheduled, ScheduleCall{Samples: samples, At: at, Voice: v})
	return v, nil
}

// Scheduled returns a copy of all Schedule calls in order.
func (s *OutputStream) Scheduled() []ScheduleCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ScheduleCall, len(s.scheduled))
	copy(out, s.scheduled)
	return out
}

// Close implements [audio.OutputStream].
func (s *OutputStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCalls++
	return nil
}

// CallCountClose returns how many times Close was called.
func (s *OutputStream) CallCountClose() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalls
}

// Voice is a mock implementation of [audio.Voice].
type Voice struct {
	mu      sync.Mutex
	stopped bool
}

// Stop implements [audio.Voice].
func (v *Voice) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopped
}
