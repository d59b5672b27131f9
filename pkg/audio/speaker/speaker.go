// Package speaker plays scheduled PCM buffers on the system audio output via
// github.com/faiface/beep.
//
// The output clock is the number of samples the speaker has pulled from the
// stream, which makes scheduling sample-exact: a buffer placed at the end
// position of the previous one follows it without a gap.
package speaker

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/speaker"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// DefaultBuffer is the speaker buffer length. Flushes take effect within one
// buffer.
const DefaultBuffer = 100 * time.Millisecond

// Option configures a [Device].
type Option func(*Device)

// WithBuffer sets the speaker buffer length.
func WithBuffer(d time.Duration) Option {
	return func(dev *Device) {
		if d > 0 {
			dev.buffer = d
		}
	}
}

// Device is an [audio.OutputDevice] for the default system speaker.
//
// The beep speaker is process-wide, so a Device initialises it once per
// sample rate and plays one stream per Open.
type Device struct {
	buffer time.Duration

	mu       sync.Mutex
	initRate int
}

var _ audio.OutputDevice = (*Device)(nil)

// New creates a speaker Device.
func New(opts ...Option) *Device {
	d := &Device{buffer: DefaultBuffer}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Open implements [audio.OutputDevice].
func (d *Device) Open(sampleRate int) (audio.OutputStream, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("speaker: invalid sample rate %d", sampleRate)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.initRate != sampleRate {
		sr := beep.SampleRate(sampleRate)
		if err := speaker.Init(sr, sr.N(d.buffer)); err != nil {
			return nil, fmt.Errorf("speaker: %w: init: %w", audio.ErrDeviceUnavailable, err)
		}
		d.initRate = sampleRate
	}

	s := newStream(sampleRate)
	speaker.Play(s)
	return s, nil
}

// stream mixes scheduled voices onto the speaker. It implements both
// [beep.Streamer] (pulled by the speaker goroutine) and [audio.OutputStream].
type stream struct {
	rate int

	mu     sync.Mutex
	pos    int64    // samples handed to the speaker so far
	voices []*voice // ordered by start
	closed bool
}

var (
	_ beep.Streamer      = (*stream)(nil)
	_ audio.OutputStream = (*stream)(nil)
)

func newStream(rate int) *stream {
	return &stream{rate: rate}
}

type voice struct {
	start   int64
	pcm     []float32
	stopped atomic.Bool
}

func (v *voice) Stop() { v.stopped.Store(true) }

func (v *voice) end() int64 { return v.start + int64(len(v.pcm)) }

// Stream implements [beep.Streamer].
func (s *stream) Stream(out [][2]float64) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, false
	}
	for i := range out {
		t := s.pos + int64(i)
		var v float64
		for _, vc := range s.voices {
			if vc.start > t {
				break
			}
			if t < vc.end() && !vc.stopped.Load() {
				v += float64(vc.pcm[t-vc.start])
			}
		}
		out[i][0], out[i][1] = v, v
	}
	s.pos += int64(len(out))

	s.voices = slices.DeleteFunc(s.voices, func(vc *voice) bool {
		return vc.stopped.Load() || vc.end() <= s.pos
	})
	return len(out), true
}

// Err implements [beep.Streamer].
func (s *stream) Err() error { return nil }

// Now implements [audio.OutputStream].
func (s *stream) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return audio.SamplesDuration(int(s.pos), s.rate)
}

// Schedule implements [audio.OutputStream].
func (s *stream) Schedule(samples []float32, at time.Duration) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("speaker: stream closed")
	}
	start := int64(math.Round(at.Seconds() * float64(s.rate)))
	start = max(start, s.pos)

	v := &voice{start: start, pcm: samples}
	i := sort.Search(len(s.voices), func(i int) bool { return s.voices[i].start > start })
	s.voices = slices.Insert(s.voices, i, v)
	return v, nil
}

// Close implements [audio.OutputStream]. The speaker drops the stream on its
// next pull.
func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.voices = nil
	return nil
}
