package audio

import (
	"fmt"
	"time"
)

// AudioFrame is one block of mono 16-bit signed PCM. Frames flow in two
// directions: outbound (microphone → agent socket) and inbound (agent socket →
// speakers). A frame is immutable once produced; consumers must not modify
// Samples.
type AudioFrame struct {
	// Samples holds the PCM samples in playback order.
	Samples []int16

	// SampleRate in Hz (16000 for the agent socket in both directions).
	SampleRate int

	// Timestamp is the offset of the first sample relative to stream start.
	// Zero for inbound frames, whose timing is assigned by the scheduler.
	Timestamp time.Duration
}

// Len returns the number of samples in the frame.
func (f AudioFrame) Len() int { return len(f.Samples) }

// Duration returns how long the frame plays at its sample rate.
// A frame with no samples or no sample rate has zero duration.
func (f AudioFrame) Duration() time.Duration {
	return SamplesDuration(len(f.Samples), f.SampleRate)
}

// Bytes returns the frame encoded as 16-bit little-endian PCM, the wire format
// of the agent socket.
func (f AudioFrame) Bytes() []byte {
	return EncodePCM16LE(f.Samples)
}

// FrameFromBytes decodes a 16-bit little-endian PCM payload into a frame.
// An odd-length payload cannot hold whole samples and is rejected.
func FrameFromBytes(b []byte, sampleRate int) (AudioFrame, error) {
	samples, err := DecodePCM16LE(b)
	if err != nil {
		return AudioFrame{}, err
	}
	return AudioFrame{Samples: samples, SampleRate: sampleRate}, nil
}

// SamplesDuration returns the playback duration of n samples at sampleRate.
// The result is rounded to the nearest nanosecond so that consecutive
// durations accumulate without drifting against the sample clock.
func SamplesDuration(n, sampleRate int) time.Duration {
	if n <= 0 || sampleRate <= 0 {
		return 0
	}
	return time.Duration((int64(n)*int64(time.Second) + int64(sampleRate)/2) / int64(sampleRate))
}

// String implements [fmt.Stringer] for log output.
func (f AudioFrame) String() string {
	return fmt.Sprintf("AudioFrame{samples=%d rate=%d ts=%s}", len(f.Samples), f.SampleRate, f.Timestamp)
}
