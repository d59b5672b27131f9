// Package playback schedules inbound agent audio onto an [audio.OutputStream]
// so that consecutive chunks play back to back without gaps or overlap.
//
// Every enqueued frame is placed at max(output clock, end of the previous
// frame). When the network delivers audio faster than real time the frames
// queue up on the device clock; when it delivers slower, playback simply
// leaves silence until the next frame arrives.
//
// The scheduler also tracks turn segments. [Scheduler.Boundary] marks the end
// of one agent turn, and [Scheduler.FlushStale] later discards whatever is
// still queued from earlier turns while keeping audio that already arrived
// for the current one.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxagent/pkg/audio"
)

var (
	// ErrPlaybackUnavailable is returned when the output device cannot be
	// opened. It is non-fatal to the session.
	ErrPlaybackUnavailable = errors.New("playback: output device unavailable")

	// ErrMuted is returned by Enqueue while the scheduler is muted. The frame
	// is discarded.
	ErrMuted = errors.New("playback: muted")

	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("playback: scheduler closed")
)

// Entry describes one scheduled frame on the output clock.
type Entry struct {
	// Start is the absolute output clock position where the frame begins.
	Start time.Duration

	// End is Start plus the frame's duration.
	End time.Duration

	// Samples is the number of samples in the frame.
	Samples int
}

type entry struct {
	Entry
	pcm     []float32
	voice   audio.Voice
	segment uint64
}

// Option configures a [Scheduler] during construction.
type Option func(*Scheduler)

// WithLogger sets the logger used for dropped and failed frames.
// Defaults to [slog.Default].
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		s.log = l
	}
}

// Scheduler places PCM frames gaplessly on an output device clock.
//
// The output device is opened lazily by the first Enqueue, or eagerly with
// [Scheduler.Open]. All exported methods are safe for concurrent use.
type Scheduler struct {
	dev        audio.OutputDevice
	sampleRate int
	log        *slog.Logger

	mu       sync.Mutex
	out      audio.OutputStream
	queue    []entry
	nextFree time.Duration
	muted    bool
	segment  uint64
	closed   bool
}

// New creates a Scheduler that plays frames of sampleRate Hz on dev.
func New(dev audio.OutputDevice, sampleRate int, opts ...Option) *Scheduler {
	s := &Scheduler{
		dev:        dev,
		sampleRate: sampleRate,
		log:        slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open opens the output device if it is not open yet. It returns an error
// wrapping [ErrPlaybackUnavailable] when the device cannot be created.
func (s *Scheduler) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return s.openLocked()
}

func (s *Scheduler) openLocked() error {
	if s.out != nil {
		return nil
	}
	out, err := s.dev.Open(s.sampleRate)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPlaybackUnavailable, err)
	}
	s.out = out
	s.nextFree = out.Now()
	return nil
}

// Enqueue schedules frame directly after everything already queued, or at the
// current clock position if the queue has drained. A zero-length frame is a
// no-op. While muted the frame is dropped and [ErrMuted] is returned.
func (s *Scheduler) Enqueue(frame audio.AudioFrame) error {
	if frame.Len() == 0 {
		return nil
	}
	if frame.SampleRate == 0 {
		frame.SampleRate = s.sampleRate
	}
	if frame.SampleRate != s.sampleRate {
		return fmt.Errorf("playback: frame rate %d Hz does not match stream rate %d Hz", frame.SampleRate, s.sampleRate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.muted {
		return ErrMuted
	}
	if err := s.openLocked(); err != nil {
		return err
	}

	now := s.out.Now()
	s.pruneLocked(now)

	e := entry{
		Entry:   Entry{Start: max(now, s.nextFree), Samples: frame.Len()},
		pcm:     audio.PCM16ToFloat32(frame.Samples),
		segment: s.segment,
	}
	e.End = e.Start + frame.Duration()

	voice, err := s.out.Schedule(e.pcm, e.Start)
	if err != nil {
		return fmt.Errorf("playback: schedule frame at %s: %w", e.Start, err)
	}
	e.voice = voice
	s.queue = append(s.queue, e)
	s.nextFree = e.End
	return nil
}

// Flush stops the buffer that is currently playing, discards everything
// queued behind it and resets the next free slot to the current clock. It
// returns the number of entries discarded.
func (s *Scheduler) Flush() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.queue)
	s.stopLocked(s.queue)
	s.queue = nil
	if s.out != nil {
		s.nextFree = s.out.Now()
	}
	return n
}

// Boundary marks the end of the current turn segment. Frames enqueued after
// the call belong to a new segment.
func (s *Scheduler) Boundary() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segment++
}

// FlushStale discards queued frames that were enqueued before the latest
// [Scheduler.Boundary]. Frames of the current segment survive and are packed
// back to back from the current clock position. It returns the number of
// entries discarded.
func (s *Scheduler) FlushStale() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.out == nil {
		return 0
	}
	now := s.out.Now()
	s.pruneLocked(now)

	var stale, keep []entry
	for _, e := range s.queue {
		if e.segment < s.segment {
			stale = append(stale, e)
		} else {
			keep = append(keep, e)
		}
	}
	if len(stale) == 0 {
		return 0
	}
	s.stopLocked(stale)

	// Current-segment frames sat behind the stale audio and cannot have
	// started yet, so they are safe to move forward.
	s.stopLocked(keep)
	s.queue = s.queue[:0]
	s.nextFree = now
	for _, e := range keep {
		dur := e.End - e.Start
		e.Start = s.nextFree
		e.End = e.Start + dur
		voice, err := s.out.Schedule(e.pcm, e.Start)
		if err != nil {
			s.log.Warn("playback: reschedule frame", "err", err)
			continue
		}
		e.voice = voice
		s.queue = append(s.queue, e)
		s.nextFree = e.End
	}
	return len(stale)
}

// Mute suppresses (true) or resumes (false) scheduling of further frames.
// Audio that is already scheduled keeps playing.
func (s *Scheduler) Mute(muted bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.muted = muted
}

// Muted reports whether the scheduler currently drops new frames.
func (s *Scheduler) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.muted
}

// Busy reports whether any scheduled audio has not finished playing yet.
func (s *Scheduler) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return false
	}
	s.pruneLocked(s.out.Now())
	return len(s.queue) > 0
}

// Queue returns the entries that are playing or waiting to play, in order.
func (s *Scheduler) Queue() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out != nil {
		s.pruneLocked(s.out.Now())
	}
	out := make([]Entry, len(s.queue))
	for i, e := range s.queue {
		out[i] = e.Entry
	}
	return out
}

// Now returns the output clock position, or zero before the device is open.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return 0
	}
	return s.out.Now()
}

// Close flushes all audio and releases the output device. It is safe to call
// more than once.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.stopLocked(s.queue)
	s.queue = nil
	if s.out == nil {
		return nil
	}
	err := s.out.Close()
	s.out = nil
	if err != nil {
		return fmt.Errorf("playback: close output: %w", err)
	}
	return nil
}

// pruneLocked drops entries that finished playing before now.
func (s *Scheduler) pruneLocked(now time.Duration) {
	i := 0
	for i < len(s.queue) && s.queue[i].End <= now {
		i++
	}
	if i > 0 {
		s.queue = append(s.queue[:0], s.queue[i:]...)
	}
}

func (s *Scheduler) stopLocked(entries []entry) {
	for _, e := range entries {
		if e.voice != nil {
			e.voice.Stop()
		}
	}
}
