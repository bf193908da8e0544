package pcm

import (
	"math"
	"testing"
	"time"
)

func TestDecodeRoundTrip(t *testing.T) {
	raw := []byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80, 0x01, 0x00}
	samples := Decode(raw)
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	back := Encode(samples)
	if len(back) != len(raw) {
		t.Fatalf("expected %d bytes, got %d", len(raw), len(back))
	}
	for i := range raw {
		if back[i] != raw[i] {
			t.Fatalf("byte %d: expected %#x, got %#x", i, raw[i], back[i])
		}
	}
}

func TestDecodeAmplitudeError(t *testing.T) {
	// Every even-length byte sequence must round-trip within 1/32768 per sample.
	raw := make([]byte, 512)
	for i := range raw {
		raw[i] = byte(i * 37)
	}
	samples := Decode(raw)
	again := Decode(Encode(samples))
	for i := range samples {
		if diff := math.Abs(float64(samples[i] - again[i])); diff > 1.0/32768.0 {
			t.Fatalf("sample %d: round-trip error %v exceeds 1/32768", i, diff)
		}
	}
}

func TestDecodeDropsOddTrailingByte(t *testing.T) {
	samples := Decode([]byte{0x01, 0x02, 0x03})
	if len(samples) != 1 {
		t.Fatalf("expected odd trailing byte dropped, got %d samples", len(samples))
	}
	if Decode([]byte{0x42}) != nil {
		t.Fatal("expected nil for a single dangling byte")
	}
}

func TestDecodeRange(t *testing.T) {
	samples := Decode([]byte{0x00, 0x80, 0xff, 0x7f})
	if samples[0] != -1.0 {
		t.Fatalf("expected -1.0 for math.MinInt16, got %v", samples[0])
	}
	if samples[1] >= 1.0 {
		t.Fatalf("expected value below 1.0 for math.MaxInt16, got %v", samples[1])
	}
}

func TestFadeInRamp(t *testing.T) {
	const ramp = 1200
	samples := make([]float32, 2400)
	for i := range samples {
		samples[i] = 1.0
	}
	FadeIn(samples, ramp)

	if samples[0] != 0.0 {
		t.Fatalf("expected sample 0 to be 0.0, got %v", samples[0])
	}
	if math.Abs(float64(samples[ramp-1])-1.0) > 1e-3 {
		t.Fatalf("expected sample %d near 1.0, got %v", ramp-1, samples[ramp-1])
	}
	for i := ramp; i < len(samples); i++ {
		if samples[i] != 1.0 {
			t.Fatalf("sample %d beyond ramp changed: %v", i, samples[i])
		}
	}
}

func TestFadeInShortBuffer(t *testing.T) {
	samples := []float32{1, 1, 1, 1}
	FadeIn(samples, 8)
	for i, s := range samples {
		want := float32(i) / 8
		if s != want {
			t.Fatalf("sample %d: expected %v, got %v", i, want, s)
		}
	}
}

func TestPreRoll(t *testing.T) {
	roll := PreRoll(480)
	if len(roll) != 480 {
		t.Fatalf("expected 480 samples, got %d", len(roll))
	}
	for i, s := range roll {
		if s != 0 {
			t.Fatalf("pre-roll sample %d not silent: %v", i, s)
		}
	}
	if PreRoll(0) != nil {
		t.Fatal("expected nil pre-roll for n=0")
	}
}

func TestFormatHelpers(t *testing.T) {
	f := Format{SampleRate: 24000, Channels: 1}
	if got := f.SamplesIn(200 * time.Millisecond); got != 4800 {
		t.Fatalf("expected 4800 samples in 200ms, got %d", got)
	}
	if got := f.BytesIn(20 * time.Millisecond); got != 960 {
		t.Fatalf("expected 960 bytes in 20ms, got %d", got)
	}
	if got := f.Duration(4800); got != 200*time.Millisecond {
		t.Fatalf("expected 200ms for 4800 samples, got %v", got)
	}
}

func TestApplyGain(t *testing.T) {
	samples := []float32{1, -1, 0.5}
	ApplyGain(samples, 0.5)
	if samples[0] != 0.5 || samples[1] != -0.5 || samples[2] != 0.25 {
		t.Fatalf("unexpected gain result: %v", samples)
	}
}
