package device

import (
	"errors"
	"sync"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio/pcm"
)

// MemorySink collects written windows in memory. It backs the mock playback
// path and the package tests; an optional write delay simulates a device
// that renders in real time.
type MemorySink struct {
	WriteDelay time.Duration

	mu     sync.Mutex
	open   bool
	format pcm.Format
	writes [][]byte
	opens  int
}

func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Open(format pcm.Format) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
	m.format = format
	m.opens++
	return nil
}

func (m *MemorySink) Write(data []byte) error {
	m.mu.Lock()
	if !m.open {
		m.mu.Unlock()
		return errors.New("memory sink closed")
	}
	m.writes = append(m.writes, append([]byte(nil), data...))
	delay := m.WriteDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	return nil
}

func (m *MemorySink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
	return nil
}

// Writes returns a copy of everything written so far.
func (m *MemorySink) Writes() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.writes))
	copy(out, m.writes)
	return out
}

// OpenCount reports how many times the sink was (re)opened.
func (m *MemorySink) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Format returns the format of the most recent Open.
func (m *MemorySink) Format() pcm.Format {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.format
}
