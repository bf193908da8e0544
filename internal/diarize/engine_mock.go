package diarize

import (
	"context"
	"sync"
)

// MockEngine returns scripted segments. Used in tests and as the default
// engine in mock mode so the pipeline runs without an external model.
type MockEngine struct {
	mu       sync.Mutex
	Segments []Segment
	Err      error
	calls    int
}

func (m *MockEngine) Diarize(_ context.Context, _ []byte, _ int) ([]Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([]Segment, len(m.Segments))
	copy(out, m.Segments)
	return out, nil
}

// Calls reports how many times Diarize ran.
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
