// Package ffmpeg captures microphone audio by running the ffmpeg binary as a
// subprocess and reading raw float samples from its stdout.
//
// The host's default input is used unless configured otherwise: PulseAudio
// on Linux, AVFoundation on macOS and DirectShow on Windows.
package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"sync"

	"github.com/MrWong99/voxagent/pkg/audio"
)

const (
	defaultBinary = "ffmpeg"

	// blockBuffer is how many decoded blocks may wait for the consumer before
	// the reader stops pulling from ffmpeg.
	blockBuffer = 8

	// stderrLimit caps the diagnostic output kept from ffmpeg.
	stderrLimit = 4096
)

// Option configures a [Device].
type Option func(*Device)

// WithBinary sets the ffmpeg executable name or path.
func WithBinary(path string) Option {
	return func(d *Device) {
		if path != "" {
			d.binary = path
		}
	}
}

// WithInputFormat sets the ffmpeg input format (-f), e.g. "pulse", "alsa",
// "avfoundation" or "dshow".
func WithInputFormat(format string) Option {
	return func(d *Device) {
		if format != "" {
			d.format = format
		}
	}
}

// WithInput sets the ffmpeg input device (-i), e.g. "default", "hw:1" or ":0".
func WithInput(input string) Option {
	return func(d *Device) {
		if input != "" {
			d.input = input
		}
	}
}

// Device is an [audio.CaptureDevice] backed by an ffmpeg subprocess.
type Device struct {
	binary string
	format string
	input  string
}

var _ audio.CaptureDevice = (*Device)(nil)

// New creates a Device with host defaults.
func New(opts ...Option) *Device {
	format, input := defaultInput(runtime.GOOS)
	d := &Device{
		binary: defaultBinary,
		format: format,
		input:  input,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

func defaultInput(goos string) (format, input string) {
	switch goos {
	case "darwin":
		return "avfoundation", ":0"
	case "windows":
		return "dshow", "audio=default"
	default:
		return "pulse", "default"
	}
}

// Args returns the ffmpeg command line for mono float capture at sampleRate.
func (d *Device) Args(sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", d.format,
		"-i", d.input,
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"-",
	}
}

// Open implements [audio.CaptureDevice]. Missing binaries and start failures
// wrap [audio.ErrDeviceUnavailable].
func (d *Device) Open(ctx context.Context, sampleRate, blockSize int) (audio.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sampleRate <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("ffmpeg: invalid capture format rate=%d block=%d", sampleRate, blockSize)
	}
	path, err := exec.LookPath(d.binary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %w", audio.ErrDeviceUnavailable, err)
	}

	// The process outlives ctx, which only bounds acquisition.
	cmd := exec.Command(path, d.Args(sampleRate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: start: %w", audio.ErrDeviceUnavailable, err)
	}

	slog.Debug("ffmpeg: capture started", "pid", cmd.Process.Pid, "format", d.format, "input", d.input)

	s := newStream(stdout, blockSize, func() error {
		_ = cmd.Process.Kill()
		return nil
	})
	s.wait = func() {
		if err := cmd.Wait(); err != nil && !s.closing() {
			slog.Warn("ffmpeg: capture exited", "err", err, "stderr", stderr.String())
		}
	}
	go s.read()
	return s, nil
}

// stream reads fixed-size float blocks from r.
type stream struct {
	r         io.Reader
	blockSize int
	kill      func() error
	wait      func()

	blocks chan []float32
	done   chan struct{}
	exited chan struct{}

	mu        sync.Mutex
	closed    bool
	closeOnce sync.Once
}

var _ audio.CaptureStream = (*stream)(nil)

func newStream(r io.Reader, blockSize int, kill func() error) *stream {
	return &stream{
		r:         r,
		blockSize: blockSize,
		kill:      kill,
		blocks:    make(chan []float32, blockBuffer),
		done:      make(chan struct{}),
		exited:    make(chan struct{}),
	}
}

func (s *stream) read() {
	defer close(s.exited)
	defer func() {
		if s.wait != nil {
			s.wait()
		}
	}()
	defer close(s.blocks)

	buf := make([]byte, s.blockSize*4)
	for {
		if _, err := io.ReadFull(s.r, buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !s.closing() {
				slog.Warn("ffmpeg: read capture", "err", err)
			}
			return
		}
		select {
		case s.blocks <- audio.DecodeFloat32LE(buf):
		case <-s.done:
			return
		}
	}
}

func (s *stream) closing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Blocks implements [audio.CaptureStream].
func (s *stream) Blocks() <-chan []float32 { return s.blocks }

// Close implements [audio.CaptureStream]. It kills ffmpeg and waits until the
// reader has exited and the process has been reaped.
func (s *stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		close(s.done)
		err = s.kill()
		<-s.exited
	})
	return err
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
