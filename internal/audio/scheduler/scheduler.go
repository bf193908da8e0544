// Package scheduler turns an incrementally arriving PCM byte stream into
// fixed-size playback windows submitted to an output device in FIFO order,
// with a single completion signal deferred to the true end of audio.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/murmurlabs/murmur-core/internal/audio/pcm"
)

// Sink is the slice of the device session the scheduler needs.
type Sink interface {
	EnsureStarted(format pcm.Format) error
	Submit(window []float32, onRendered func()) error
	Stop()
}

// State tracks one playback session through its lifecycle.
type State int

const (
	Idle State = iota
	Priming
	Playing
	Draining
	Completed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Priming:
		return "priming"
	case Playing:
		return "playing"
	case Draining:
		return "draining"
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown"
}

var (
	// ErrCancelled is the first-class cancellation outcome: a resolution of
	// the completion signal distinct from success and from failure.
	ErrCancelled = errors.New("playback cancelled")

	// ErrSessionState is returned for operations invalid in the current state.
	ErrSessionState = errors.New("invalid session state")
)

// Config fixes the window geometry of a session. Values are in samples at
// the session's format rate.
type Config struct {
	Format         pcm.Format
	WindowSamples  int
	FadeSamples    int
	PreRollSamples int
}

// DefaultConfig is 200ms windows with a 50ms fade and 20ms pre-roll at 24kHz.
func DefaultConfig() Config {
	f := pcm.DefaultFormat
	return Config{
		Format:         f,
		WindowSamples:  4800,
		FadeSamples:    1200,
		PreRollSamples: 480,
	}
}

// Session is one utterance in flight. All methods are safe for concurrent
// use, but Feed/EndStream are expected from a single producer goroutine.
type Session struct {
	cfg  Config
	sink Sink
	log  *slog.Logger

	mu       sync.Mutex
	state    State
	accum    []float32
	dangling []byte // carries a sample split across two byte reads
	resolved bool
	outcome  error
	done     chan struct{}
}

// NewSession creates an idle session over the given sink.
func NewSession(cfg Config, sink Sink, log *slog.Logger) *Session {
	if cfg.WindowSamples <= 0 {
		cfg.WindowSamples = DefaultConfig().WindowSamples
	}
	return &Session{
		cfg:  cfg,
		sink: sink,
		log:  log.With(slog.String("component", "playback-scheduler")),
		done: make(chan struct{}),
	}
}

// State reports the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Begin transitions Idle→Priming and allocates the window accumulator.
func (s *Session) Begin() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Idle {
		return fmt.Errorf("%w: begin from %s", ErrSessionState, s.state)
	}
	s.state = Priming
	s.accum = make([]float32, 0, s.cfg.WindowSamples)
	return nil
}

// Feed decodes an arriving byte chunk and schedules any full windows it
// completes. Chunk boundaries are arbitrary: a sample straddling two reads
// is reassembled, and only a trailing odd byte at end of stream is dropped.
func (s *Session) Feed(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Priming, Playing:
	case Cancelled, Completed:
		return nil // late chunks after termination are ignored
	default:
		return fmt.Errorf("%w: feed in %s", ErrSessionState, s.state)
	}
	if len(data) == 0 {
		return nil
	}

	if len(s.dangling) > 0 {
		data = append(s.dangling, data...)
		s.dangling = nil
	}
	if len(data)%2 != 0 {
		s.dangling = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}
	s.accum = append(s.accum, pcm.Decode(data)...)

	for len(s.accum) >= s.cfg.WindowSamples {
		window := make([]float32, s.cfg.WindowSamples)
		copy(window, s.accum[:s.cfg.WindowSamples])
		s.accum = s.accum[s.cfg.WindowSamples:]
		if err := s.scheduleLocked(window, nil); err != nil {
			return err
		}
	}
	return nil
}

// EndStream submits whatever partial window remains as the final,
// completion-bearing window. An empty residual is replaced by a one-sample
// silent sentinel so the completion signal still fires after all prior
// windows drain. A session that never left Priming gets the full
// first-and-final treatment: fade-in, pre-roll, device start.
func (s *Session) EndStream() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Priming, Playing:
	case Cancelled:
		return nil
	default:
		return fmt.Errorf("%w: end stream in %s", ErrSessionState, s.state)
	}

	if len(s.dangling) > 0 {
		s.log.Debug("dropping odd trailing byte at end of stream")
		s.dangling = nil
	}

	final := s.accum
	s.accum = nil
	if len(final) == 0 {
		// Sentinel keeps the completion callback attached to a real window.
		final = make([]float32, 1)
	}

	err := s.scheduleLocked(final, func() {
		s.resolve(Completed, nil)
	})
	if err != nil {
		return err
	}
	s.state = Draining
	return nil
}

// scheduleLocked routes one window to the sink. The first window of a
// session carries the start-of-audio shaping: fade-in, then a silent
// pre-roll window scheduled immediately before it, then device start.
func (s *Session) scheduleLocked(window []float32, onRendered func()) error {
	if s.state == Priming {
		pcm.FadeIn(window, s.cfg.FadeSamples)
		if err := s.sink.EnsureStarted(s.cfg.Format); err != nil {
			startErr := fmt.Errorf("output device start: %w", err)
			s.resolveLocked(Cancelled, startErr)
			return startErr
		}
		if roll := pcm.PreRoll(s.cfg.PreRollSamples); roll != nil {
			if err := s.sink.Submit(roll, nil); err != nil {
				s.resolveLocked(Cancelled, fmt.Errorf("submit pre-roll: %w", err))
				return err
			}
		}
		s.state = Playing
	}
	if err := s.sink.Submit(window, onRendered); err != nil {
		s.resolveLocked(Cancelled, fmt.Errorf("submit window: %w", err))
		return err
	}
	return nil
}

// Cancel stops device submission immediately, discards buffered windows,
// and unblocks any completion waiter with the cancellation outcome.
func (s *Session) Cancel() {
	s.mu.Lock()
	if s.state == Idle || s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolveLocked(Cancelled, ErrCancelled)
	s.mu.Unlock()
	s.sink.Stop()
}

// Fail resolves the session with a non-cancellation error (device or
// transport failure) and stops output without finishing the utterance.
func (s *Session) Fail(err error) {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return
	}
	s.resolveLocked(Cancelled, err)
	s.mu.Unlock()
	s.sink.Stop()
}

// AwaitCompletion blocks until the final window has rendered, the session
// is cancelled or failed, or ctx expires. It returns nil on normal
// completion, ErrCancelled on cancellation, and the failure otherwise.
// The underlying signal resolves exactly once per session.
func (s *Session) AwaitCompletion(ctx context.Context) error {
	select {
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.outcome
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) resolve(state State, outcome error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resolveLocked(state, outcome)
}

// resolveLocked is the session's one-shot completion primitive. Double
// resolution is a programming defect; the guard downgrades it to a log line.
func (s *Session) resolveLocked(state State, outcome error) {
	if s.resolved {
		s.log.Debug("duplicate completion resolution ignored",
			slog.String("state", s.state.String()),
			slog.String("attempted", state.String()))
		return
	}
	s.resolved = true
	s.state = state
	s.outcome = outcome
	close(s.done)
}
