package speaker

import (
	"time"

	"github.com/MrWong99/voxagent/pkg/audio"
)

// Discard is an [audio.OutputDevice] without hardware. Its clock follows wall
// time from Open and every buffer is silently dropped. It keeps headless
// deployments scheduling on a realistic clock.
type Discard struct{}

var _ audio.OutputDevice = Discard{}

// Open implements [audio.OutputDevice].
func (Discard) Open(int) (audio.OutputStream, error) {
	return &discardStream{opened: time.Now()}, nil
}

type discardStream struct {
	opened time.Time
}

func (s *discardStream) Now() time.Duration { return time.Since(s.opened) }

func (s *discardStream) Schedule([]float32, time.Duration) (audio.Voice, error) {
	return nopVoice{}, nil
}

func (s *discardStream) Close() error { return nil }

type nopVoice struct{}

func (nopVoice) Stop() {}
