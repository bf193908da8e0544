package diarize

import (
	"context"
	"errors"
)

// ErrEngineNotReady is returned when diarization is requested before the
// engine has been initialized.
var ErrEngineNotReady = errors.New("diarization engine not initialized")

// Segment is one time span attributed to a single speaker by the engine.
// SpeakerID starts as the engine's cluster label and is remapped to a
// gallery profile id by the identification step; nothing else is mutated.
type Segment struct {
	SpeakerID string    `json:"speaker"`
	Embedding []float64 `json:"embedding"`
	Start     float64   `json:"start"`
	End       float64   `json:"end"`
	Quality   float64   `json:"score"`
}

// Engine abstracts the external diarization model: little-endian int16 mono
// PCM in, unordered speaker segments out.
type Engine interface {
	Diarize(ctx context.Context, pcm []byte, sampleRate int) ([]Segment, error)
}
