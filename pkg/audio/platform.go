// Package audio defines the PCM frame type, the sample codecs and the device
// contracts used by a voice-agent session.
//
// The two device abstractions are:
//
//   - [CaptureDevice] — opens a microphone and delivers blocks of normalised
//     float samples on a [CaptureStream].
//   - [OutputDevice] — opens a speaker and returns an [OutputStream] that
//     plays buffers at absolute positions on its own output clock.
//
// Backends live in sub-packages (audio/ffmpeg, audio/speaker). Each device is
// held by exactly one owner for the lifetime of a session: the capture
// encoder owns the microphone and the playback scheduler owns the speaker.
//
// This package lives under pkg/ because external code is expected to provide
// additional device backends.
package audio

import (
	"context"
	"errors"
	"time"
)

// ErrDeviceUnavailable reports that a microphone or speaker could not be
// acquired (missing hardware, denied permission, missing backend binary).
// Backends wrap it so callers can test with [errors.Is].
var ErrDeviceUnavailable = errors.New("audio: device unavailable")

// CaptureDevice opens a microphone.
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// Open starts capturing mono audio at sampleRate and delivers blocks of
	// exactly blockSize samples. The supplied ctx bounds device acquisition
	// only; the stream runs until [CaptureStream.Close] is called or the
	// device ends on its own.
	Open(ctx context.Context, sampleRate, blockSize int) (CaptureStream, error)
}

// CaptureStream is an open microphone.
type CaptureStream interface {
	// Blocks returns the channel of captured blocks. Each block holds samples
	// nominally in [-1, 1]. The channel is closed when the device stops,
	// either after Close or because the underlying stream ended.
	Blocks() <-chan []float32

	// Close releases the device. It blocks until the device is released and
	// is safe to call more than once.
	Close() error
}

// OutputDevice opens a speaker.
//
// Implementations must be safe for concurrent use.
type OutputDevice interface {
	// Open prepares mono playback at sampleRate.
	Open(sampleRate int) (OutputStream, error)
}

// OutputStream is an open speaker with its own monotonic output clock.
//
// The clock starts at zero when the stream is opened and advances only as
// samples are consumed by the hardware, so positions on it are sample-exact.
type OutputStream interface {
	// Now returns the current output clock position.
	Now() time.Duration

	// Schedule plays samples starting at the absolute clock position at. A
	// position in the past starts playback immediately. The returned [Voice]
	// can stop the buffer before or during playback.
	Schedule(samples []float32, at time.Duration) (Voice, error)

	// Close stops all scheduled buffers and releases the device. Safe to call
	// more than once.
	Close() error
}

// Voice is one scheduled playback buffer.
type Voice interface {
	// Stop silences the buffer immediately. Stopping a buffer that already
	// finished is a no-op.
	Stop()
}
