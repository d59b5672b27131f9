package playback_test

import (
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/voxagent/pkg/audio"
	"github.com/MrWong99/voxagent/pkg/audio/mock"
	"github.com/MrWong99/voxagent/pkg/audio/playback"
)

const rate = 16000

// frame returns a 16 kHz frame of n samples (n/16 ms).
func frame(n int) audio.AudioFrame {
	s := make([]int16, n)
	for i := range s {
		s[i] = int16(i)
	}
	return audio.AudioFrame{Samples: s, SampleRate: rate}
}

func newScheduler(t *testing.T) (*playback.Scheduler, *mock.OutputStream) {
	t.Helper()
	dev := &mock.OutputDevice{Stream: &mock.OutputStream{}}
	s := playback.New(dev, rate)
	if err := s.Open(); err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, dev.Stream
}

func mustEnqueue(t *testing.T, s *playback.Scheduler, f audio.AudioFrame) {
	t.Helper()
	if err := s.Enqueue(f); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

func TestEnqueue_GaplessWhenFasterThanRealTime(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)
	out.SetNow(10 * time.Millisecond)

	sizes := []int{1024, 512, 1600, 1024, 16}
	for _, n := range sizes {
		mustEnqueue(t, s, frame(n))
	}

	calls := out.Scheduled()
	if len(calls) != len(sizes) {
		t.Fatalf("scheduled %d buffers, want %d", len(calls), len(sizes))
	}
	if calls[0].At != 10*time.Millisecond {
		t.Errorf("first start = %v, want 10ms", calls[0].At)
	}
	for i := 1; i < len(calls); i++ {
		prevEnd := calls[i-1].At + audio.SamplesDuration(len(calls[i-1].Samples), rate)
		if calls[i].At != prevEnd {
			t.Errorf("buffer %d starts at %v, previous ends at %v", i, calls[i].At, prevEnd)
		}
	}
}

func TestEnqueue_SilenceGapWhenSlowerThanRealTime(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)

	mustEnqueue(t, s, frame(1024)) // 0..64ms
	out.SetNow(100 * time.Millisecond)
	mustEnqueue(t, s, frame(1024))

	calls := out.Scheduled()
	if calls[1].At != 100*time.Millisecond {
		t.Errorf("late frame start = %v, want clock position 100ms", calls[1].At)
	}
}

func TestEnqueue_NeverOverlaps(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)

	// Clock moves irregularly while frames arrive.
	steps := []time.Duration{0, 5, 70, 3, 200, 0, 64}
	for _, step := range steps {
		out.Advance(step * time.Millisecond)
		mustEnqueue(t, s, frame(1024))
	}
	calls := out.Scheduled()
	for i := 1; i < len(calls); i++ {
		prevEnd := calls[i-1].At + 64*time.Millisecond
		if calls[i].At < prevEnd {
			t.Errorf("buffer %d at %v overlaps previous ending %v", i, calls[i].At, prevEnd)
		}
	}
}

func TestEnqueue_ConvertsSamples(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)
	mustEnqueue(t, s, audio.AudioFrame{Samples: []int16{-32768, 16384}, SampleRate: rate})

	got := out.Scheduled()[0].Samples
	if got[0] != -1 || got[1] != 0.5 {
		t.Errorf("samples = %v, want [-1 0.5]", got)
	}
}

func TestEnqueue_ZeroLengthIsNoop(t *testing.T) {
	t.Parallel()
	dev := &mock.OutputDevice{}
	s := playback.New(dev, rate)

	if err := s.Enqueue(audio.AudioFrame{SampleRate: rate}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(dev.OpenRates) != 0 {
		t.Error("zero-length frame must not open the device")
	}
}

func TestEnqueue_RateMismatch(t *testing.T) {
	t.Parallel()
	s, _ := newScheduler(t)
	err := s.Enqueue(audio.AudioFrame{Samples: []int16{1}, SampleRate: 48000})
	if err == nil {
		t.Fatal("expected error for mismatched sample rate")
	}
}

func TestEnqueue_LazyOpenFailure(t *testing.T) {
	t.Parallel()
	devErr := errors.New("no sound card")
	s := playback.New(&mock.OutputDevice{OpenError: devErr}, rate)

	err := s.Enqueue(frame(10))
	if !errors.Is(err, playback.ErrPlaybackUnavailable) {
		t.Errorf("err = %v, want ErrPlaybackUnavailable", err)
	}
	if !errors.Is(err, devErr) {
		t.Errorf("err = %v, want wrapped device error", err)
	}
}

func TestEnqueue_ScheduleFailureKeepsSlot(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)
	out.ScheduleError = errors.New("underrun")

	if err := s.Enqueue(frame(1024)); err == nil {
		t.Fatal("expected schedule error")
	}
	out.ScheduleError = nil
	mustEnqueue(t, s, frame(1024))
	if at := out.Scheduled()[0].At; at != 0 {
		t.Errorf("start after failed frame = %v, want 0", at)
	}
}

func TestFlush_BargeIn(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)

	for range 4 {
		mustEnqueue(t, s, frame(1024))
	}
	out.SetNow(30 * time.Millisecond)

	if n := s.Flush(); n != 4 {
		t.Errorf("Flush discarded %d entries, want 4", n)
	}
	if q := s.Queue(); len(q) != 0 {
		t.Errorf("queue after flush has %d entries, want 0", len(q))
	}
	for i, c := range out.Scheduled() {
		if !c.Voice.Stopped() {
			t.Errorf("buffer %d still playing after flush", i)
		}
	}

	// New audio starts at the flush timestamp, not after the discarded tail.
	mustEnqueue(t, s, frame(1024))
	calls := out.Scheduled()
	if last := calls[len(calls)-1].At; last != 30*time.Millisecond {
		t.Errorf("post-flush start = %v, want 30ms", last)
	}
}

func TestMute(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)

	mustEnqueue(t, s, frame(1024))
	s.Mute(true)
	if !s.Muted() {
		t.Fatal("Muted() = false after Mute(true)")
	}
	if err := s.Enqueue(frame(1024)); !errors.Is(err, playback.ErrMuted) {
		t.Errorf("Enqueue while muted: err = %v, want ErrMuted", err)
	}
	if c := out.Scheduled()[0]; c.Voice.Stopped() {
		t.Error("mute must not stop running audio")
	}

	s.Mute(false)
	mustEnqueue(t, s, frame(1024))
	if got := len(out.Scheduled()); got != 2 {
		t.Errorf("scheduled %d buffers, want 2", got)
	}
}

func TestBusy(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)

	if s.Busy() {
		t.Error("Busy() on empty scheduler")
	}
	mustEnqueue(t, s, frame(1024))
	mustEnqueue(t, s, frame(1024))
	out.SetNow(100 * time.Millisecond)
	if !s.Busy() {
		t.Error("Busy() = false while second frame plays")
	}
	out.SetNow(128 * time.Millisecond)
	if s.Busy() {
		t.Error("Busy() = true after all frames finished")
	}
}

func TestFlushStale_KeepsCurrentSegment(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)

	// Tail of the previous turn.
	mustEnqueue(t, s, frame(1024))
	mustEnqueue(t, s, frame(1024))
	s.Boundary()
	// First chunk of the next turn arrives before its start event.
	mustEnqueue(t, s, frame(1024))

	out.SetNow(20 * time.Millisecond)
	if n := s.FlushStale(); n != 2 {
		t.Fatalf("FlushStale discarded %d, want 2", n)
	}

	calls := out.Scheduled()
	for i := range 3 {
		if !calls[i].Voice.Stopped() {
			t.Errorf("original buffer %d not stopped", i)
		}
	}
	last := calls[len(calls)-1]
	if last.At != 20*time.Millisecond {
		t.Errorf("kept frame rescheduled at %v, want 20ms", last.At)
	}
	if last.Voice.Stopped() {
		t.Error("rescheduled frame was stopped")
	}
	q := s.Queue()
	if len(q) != 1 || q[0].Start != 20*time.Millisecond || q[0].End != 84*time.Millisecond {
		t.Errorf("queue = %+v, want single entry 20ms..84ms", q)
	}
}

func TestFlushStale_NothingStale(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)

	s.Boundary()
	mustEnqueue(t, s, frame(1024))
	if n := s.FlushStale(); n != 0 {
		t.Errorf("FlushStale discarded %d, want 0", n)
	}
	if out.Scheduled()[0].Voice.Stopped() {
		t.Error("current-segment frame stopped")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()
	s, out := newScheduler(t)
	mustEnqueue(t, s, frame(1024))

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if out.CallCountClose() != 1 {
		t.Errorf("output closed %d times, want 1", out.CallCountClose())
	}
	if !out.Scheduled()[0].Voice.Stopped() {
		t.Error("Close left audio playing")
	}
	if err := s.Enqueue(frame(10)); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Enqueue after Close: err = %v, want ErrClosed", err)
	}
}
