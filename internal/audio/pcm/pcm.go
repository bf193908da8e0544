// Package pcm converts between raw little-endian 16-bit PCM byte streams and
// normalized float32 sample buffers, and provides the start-of-playback
// shaping (fade-in ramp, silent pre-roll) used by the playback scheduler.
package pcm

import (
	"encoding/binary"
	"time"
)

// Format describes a fixed PCM stream layout. Playback output is mono; the
// codec does no resampling, so the rate is whatever the caller negotiated.
type Format struct {
	SampleRate int
	Channels   int
}

// DefaultFormat is the playback format used by streaming TTS providers.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1}

// SamplesIn returns the number of samples covering the given duration.
func (f Format) SamplesIn(d time.Duration) int {
	return int(time.Duration(f.SampleRate) * d / time.Second)
}

// BytesIn returns the number of encoded bytes covering the given duration.
func (f Format) BytesIn(d time.Duration) int {
	return f.SamplesIn(d) * f.Channels * 2
}

// Duration returns the play time of the given number of samples.
func (f Format) Duration(samples int) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// Decode interprets data as little-endian signed 16-bit samples and maps each
// into [-1.0, 1.0). An odd trailing byte is dropped, not an error; callers
// that receive samples split across reads must re-align before decoding.
func Decode(data []byte) []float32 {
	n := len(data) / 2
	if n == 0 {
		return nil
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[2*i:]))
		samples[i] = float32(v) / 32768.0
	}
	return samples
}

// Encode is the inverse of Decode. Samples outside [-1.0, 1.0) are clamped.
func Encode(samples []float32) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := s * 32768.0
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(data[2*i:], uint16(int16(v)))
	}
	return data
}

// ApplyGain scales samples in place by the given linear gain.
func ApplyGain(samples []float32, gain float32) {
	if gain == 1 {
		return
	}
	for i := range samples {
		samples[i] *= gain
	}
}
