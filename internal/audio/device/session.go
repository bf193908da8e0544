// Package device owns the lifetime of one audio output connection: start,
// format reconfiguration, FIFO window submission, volume, and teardown.
package device

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/murmurlabs/murmur-core/internal/audio/pcm"
)

// ErrNotStarted is returned by Submit when the session has no running sink.
var ErrNotStarted = errors.New("device session not started")

// Sink is the raw output endpoint behind a session. Write may block while the
// endpoint consumes audio; that back-pressure is what paces playback.
type Sink interface {
	Open(format pcm.Format) error
	Write(data []byte) error
	Close() error
}

type queued struct {
	data       []byte
	onRendered func()
}

// Session serializes access to exactly one Sink. Only one logical writer may
// drive a Session; concurrent playback requests must serialize upstream.
type Session struct {
	sink Sink
	log  *slog.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []queued
	started bool
	format  pcm.Format
	volume  float32
	closing bool
	loopWG  sync.WaitGroup
}

func NewSession(sink Sink, log *slog.Logger) *Session {
	s := &Session{
		sink:   sink,
		log:    log.With(slog.String("component", "audio-device")),
		volume: 1.0,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// EnsureStarted is idempotent: it no-ops when already connected with a
// matching format, and otherwise (re)configures and starts the sink.
func (s *Session) EnsureStarted(format pcm.Format) error {
	s.mu.Lock()
	if s.started && s.format == format {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	// Format change: tear the old connection down first.
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return nil
	}
	if err := s.sink.Open(format); err != nil {
		return err
	}
	s.format = format
	s.started = true
	s.closing = false
	s.loopWG.Add(1)
	go s.renderLoop()
	s.log.Debug("output device started", slog.Int("sample_rate", format.SampleRate))
	return nil
}

// Submit enqueues one window for playback in FIFO order. onRendered, when
// non-nil, fires exactly once after the window has been fully handed to the
// sink; callers attach it to at most one window per utterance (the last).
// The configured volume is baked in at submission time, so a later
// SetVolume does not affect already-queued audio.
func (s *Session) Submit(window []float32, onRendered func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started || s.closing {
		return ErrNotStarted
	}
	samples := append([]float32(nil), window...)
	pcm.ApplyGain(samples, s.volume)
	s.queue = append(s.queue, queued{data: pcm.Encode(samples), onRendered: onRendered})
	s.cond.Signal()
	return nil
}

// Stop halts output immediately and discards unsent windows. Discarded
// windows never fire their callbacks. Safe to call in any state.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.closing = true
	s.queue = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	// Close first: a render loop blocked inside sink.Write must be unblocked
	// before it can observe the closing flag.
	if err := s.sink.Close(); err != nil {
		s.log.Warn("closing output sink", slog.String("error", err.Error()))
	}
	s.loopWG.Wait()

	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
}

// SetVolume applies to subsequently submitted windows only.
func (s *Session) SetVolume(level float32) {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	s.mu.Lock()
	s.volume = level
	s.mu.Unlock()
}

// Teardown releases the device entirely; a later EnsureStarted reinitializes.
func (s *Session) Teardown() {
	s.Stop()
}

func (s *Session) renderLoop() {
	defer s.loopWG.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closing {
			s.cond.Wait()
		}
		if s.closing {
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if err := s.sink.Write(item.data); err != nil {
			s.log.Warn("output sink write failed", slog.String("error", err.Error()))
		}
		if item.onRendered != nil {
			item.onRendered()
		}
	}
}
