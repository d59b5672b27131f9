package speaker

import (
	"testing"
	"time"
)

func pull(s *stream, n int) []float64 {
	buf := make([][2]float64, n)
	got, ok := s.Stream(buf)
	if !ok {
		return nil
	}
	out := make([]float64, got)
	for i := range out {
		out[i] = buf[i][0]
	}
	return out
}

func TestStream_BackToBack(t *testing.T) {
	t.Parallel()
	s := newStream(1000) // 1 sample per millisecond

	if _, err := s.Schedule([]float32{0.1, 0.2}, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule([]float32{0.3, 0.4}, 2*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	got := pull(s, 5)
	want := []float64{0.1, 0.2, 0.3, 0.4, 0}
	for i := range want {
		if diff := got[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
	if now := s.Now(); now != 5*time.Millisecond {
		t.Errorf("Now() = %v, want 5ms", now)
	}
	if len(s.voices) != 0 {
		t.Errorf("%d finished voices not pruned", len(s.voices))
	}
}

func TestStream_FutureAndPastPositions(t *testing.T) {
	t.Parallel()
	s := newStream(1000)
	pull(s, 3)

	// A position in the past starts at the current clock.
	if _, err := s.Schedule([]float32{0.5}, time.Millisecond); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Schedule([]float32{0.25}, 5*time.Millisecond); err != nil {
		t.Fatal(err)
	}

	got := pull(s, 3)
	want := []float64{0.5, 0, 0.25}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestStream_StopSilencesVoice(t *testing.T) {
	t.Parallel()
	s := newStream(1000)

	v, err := s.Schedule([]float32{1, 1, 1, 1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	pull(s, 2)
	v.Stop()
	got := pull(s, 2)
	if got[0] != 0 || got[1] != 0 {
		t.Errorf("stopped voice still audible: %v", got)
	}
}

func TestStream_Close(t *testing.T) {
	t.Parallel()
	s := newStream(1000)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Stream(make([][2]float64, 4)); ok {
		t.Error("closed stream still reports ok")
	}
	if _, err := s.Schedule([]float32{1}, 0); err == nil {
		t.Error("Schedule on closed stream succeeded")
	}
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	out, err := Discard{}.Open(16000)
	if err != nil {
		t.Fatal(err)
	}
	v, err := out.Schedule([]float32{1}, 0)
	if err != nil {
		t.Fatal(err)
	}
	v.Stop()
	first := out.Now()
	time.Sleep(5 * time.Millisecond)
	if out.Now() <= first {
		t.Error("discard clock does not advance")
	}
	if err := out.Close(); err != nil {
		t.Error(err)
	}
}
