package speech

import (
	"context"
	"encoding/binary"
	"math"
	"time"
)

type mockProvider struct {
	sampleRate int
	chunkDelay time.Duration
}

// NewMockProvider synthesizes a short tone regardless of input text. Used in
// mock mode and tests so the playback path runs without a real model.
func NewMockProvider(sampleRate int) Provider {
	return &mockProvider{sampleRate: sampleRate, chunkDelay: 10 * time.Millisecond}
}

func (m *mockProvider) OpenStream(ctx context.Context, text, voice string) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)

		const freq = 440.0
		total := m.sampleRate / 2 // half a second
		chunkSamples := m.sampleRate / 10
		for offset := 0; offset < total; offset += chunkSamples {
			n := chunkSamples
			if offset+n > total {
				n = total - offset
			}
			buf := make([]byte, n*2)
			for i := 0; i < n; i++ {
				v := 0.2 * math.Sin(2*math.Pi*freq*float64(offset+i)/float64(m.sampleRate))
				binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(v*32767)))
			}
			select {
			case chunks <- buf:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
			select {
			case <-time.After(m.chunkDelay):
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
	}()
	return chunks, errs
}
