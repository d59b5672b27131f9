package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Scale factors between normalised float samples and 16-bit PCM. Capture
// scales by the positive peak so that +1.0 maps to 32767 without overflow;
// playback divides by the negative peak so that every int16 lands in [-1, 1).
const (
	encodeScale = 32767.0
	decodeScale = 32768.0
)

// ErrOddPCMLength is returned when a 16-bit PCM payload has an odd byte count.
var ErrOddPCMLength = errors.New("audio: odd byte count for 16-bit PCM")

// Float32ToPCM16 converts normalised float samples to 16-bit PCM. Each sample
// is clamped to [-1, 1], scaled by 32767 and rounded half away from zero.
// NaN is treated as silence.
func Float32ToPCM16(in []float32) []int16 {
	out := make([]int16, len(in))
	for i, x := range in {
		out[i] = encodeSample(float64(x))
	}
	return out
}

func encodeSample(x float64) int16 {
	switch {
	case math.IsNaN(x):
		return 0
	case x > 1:
		x = 1
	case x < -1:
		x = -1
	}
	return int16(math.Round(x * encodeScale))
}

// PCM16ToFloat32 converts 16-bit PCM to normalised float samples in [-1, 1).
func PCM16ToFloat32(in []int16) []float32 {
	out := make([]float32, len(in))
	for i, s := range in {
		out[i] = float32(float64(s) / decodeScale)
	}
	return out
}

// EncodePCM16LE packs samples as little-endian 16-bit PCM.
func EncodePCM16LE(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// DecodePCM16LE unpacks little-endian 16-bit PCM. It returns [ErrOddPCMLength]
// when b cannot hold a whole number of samples.
func DecodePCM16LE(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("%w: %d bytes", ErrOddPCMLength, len(b))
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples, nil
}

// DecodeFloat32LE unpacks little-endian IEEE-754 float32 samples, the raw
// format produced by capture backends. Trailing bytes that do not form a
// whole sample are ignored.
func DecodeFloat32LE(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
