package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio/pcm"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSink records submissions; callbacks fire when the test renders.
type fakeSink struct {
	mu        sync.Mutex
	started   bool
	stops     int
	windows   [][]float32
	callbacks []func()
	startErr  error
}

func (f *fakeSink) EnsureStarted(pcm.Format) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started = true
	return nil
}

func (f *fakeSink) Submit(window []float32, onRendered func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.started {
		return errors.New("not started")
	}
	f.windows = append(f.windows, append([]float32(nil), window...))
	f.callbacks = append(f.callbacks, onRendered)
	return nil
}

func (f *fakeSink) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.started = false
}

func (f *fakeSink) renderAll() {
	f.mu.Lock()
	cbs := f.callbacks
	f.callbacks = nil
	f.mu.Unlock()
	for _, cb := range cbs {
		if cb != nil {
			cb()
		}
	}
}

func (f *fakeSink) windowLens() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	lens := make([]int, len(f.windows))
	for i, w := range f.windows {
		lens[i] = len(w)
	}
	return lens
}

func newSession(sink Sink) *Session {
	return NewSession(DefaultConfig(), sink, newLogger())
}

func await(t *testing.T, s *Session) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.AwaitCompletion(ctx)
}

func TestSingleFeedScenario(t *testing.T) {
	// 10,000 bytes = 5,000 samples: one full 4800-sample window immediately,
	// 200 residual samples held back until EndStream.
	sink := &fakeSink{}
	s := newSession(sink)
	if err := s.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}

	data := make([]byte, 10000)
	for i := range data {
		data[i] = 0x10 // non-zero so the fade is observable
	}
	if err := s.Feed(data); err != nil {
		t.Fatalf("feed: %v", err)
	}

	lens := sink.windowLens()
	if len(lens) != 2 || lens[0] != 480 || lens[1] != 4800 {
		t.Fatalf("expected pre-roll(480) + window(4800), got %v", lens)
	}
	// Pre-roll is silent, first real window is faded in from zero.
	for _, v := range sink.windows[0] {
		if v != 0 {
			t.Fatal("pre-roll must be silent")
		}
	}
	if sink.windows[1][0] != 0 {
		t.Fatalf("expected faded first sample, got %v", sink.windows[1][0])
	}
	if s.State() != Playing {
		t.Fatalf("expected playing, got %v", s.State())
	}

	if err := s.EndStream(); err != nil {
		t.Fatalf("end stream: %v", err)
	}
	lens = sink.windowLens()
	if len(lens) != 3 || lens[2] != 200 {
		t.Fatalf("expected 200-sample residual window, got %v", lens)
	}
	// Residual window gets no second fade: session already left Priming.
	last := sink.windows[2]
	if last[0] == 0 {
		t.Fatalf("unexpected fade on residual window")
	}

	sink.renderAll()
	if err := await(t, s); err != nil {
		t.Fatalf("expected clean completion, got %v", err)
	}
	if s.State() != Completed {
		t.Fatalf("expected completed, got %v", s.State())
	}
}

func TestByteAtATimeMatchesSingleFeed(t *testing.T) {
	data := make([]byte, 10000)
	for i := range data {
		data[i] = byte(i * 31)
	}

	run := func(feed func(s *Session)) ([][]float32, error) {
		sink := &fakeSink{}
		s := newSession(sink)
		if err := s.Begin(); err != nil {
			return nil, err
		}
		feed(s)
		if err := s.EndStream(); err != nil {
			return nil, err
		}
		sink.renderAll()
		if err := await(t, s); err != nil {
			return nil, err
		}
		return sink.windows, nil
	}

	single, err := run(func(s *Session) { s.Feed(data) })
	if err != nil {
		t.Fatalf("single feed: %v", err)
	}
	bytewise, err := run(func(s *Session) {
		for i := range data {
			s.Feed(data[i : i+1])
		}
	})
	if err != nil {
		t.Fatalf("byte-at-a-time feed: %v", err)
	}

	if len(single) != len(bytewise) {
		t.Fatalf("window count differs: %d vs %d", len(single), len(bytewise))
	}
	for i := range single {
		if len(single[i]) != len(bytewise[i]) {
			t.Fatalf("window %d length differs: %d vs %d", i, len(single[i]), len(bytewise[i]))
		}
		for j := range single[i] {
			if single[i][j] != bytewise[i][j] {
				t.Fatalf("window %d sample %d differs", i, j)
			}
		}
	}
}

func TestEndStreamWithoutFeedSchedulesSentinel(t *testing.T) {
	sink := &fakeSink{}
	s := newSession(sink)
	if err := s.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.EndStream(); err != nil {
		t.Fatalf("end stream: %v", err)
	}

	lens := sink.windowLens()
	if len(lens) != 2 || lens[0] != 480 || lens[1] != 1 {
		t.Fatalf("expected pre-roll + 1-sample sentinel, got %v", lens)
	}

	sink.renderAll()
	if err := await(t, s); err != nil {
		t.Fatalf("expected completion after sentinel renders, got %v", err)
	}
}

func TestShortUtteranceFirstAndFinalWindow(t *testing.T) {
	// Residual shorter than one window when the stream ends while still
	// priming: fade-in, pre-roll, device start, and completion in one step.
	sink := &fakeSink{}
	s := newSession(sink)
	if err := s.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Feed(make([]byte, 1000)); err != nil { // 500 samples
		t.Fatalf("feed: %v", err)
	}
	if got := len(sink.windowLens()); got != 0 {
		t.Fatalf("expected nothing scheduled while priming, got %d windows", got)
	}
	if err := s.EndStream(); err != nil {
		t.Fatalf("end stream: %v", err)
	}
	lens := sink.windowLens()
	if len(lens) != 2 || lens[0] != 480 || lens[1] != 500 {
		t.Fatalf("expected pre-roll + 500-sample final window, got %v", lens)
	}
	sink.renderAll()
	if err := await(t, s); err != nil {
		t.Fatalf("await: %v", err)
	}
}

func TestCancelResolvesWaiterAndStopsSink(t *testing.T) {
	sink := &fakeSink{}
	s := newSession(sink)
	if err := s.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Feed(make([]byte, 3*4800*2)); err != nil {
		t.Fatalf("feed: %v", err)
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- await(t, s) }()

	s.Cancel()
	select {
	case err := <-waitErr:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("expected ErrCancelled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("await did not resolve after cancel")
	}
	if sink.stops != 1 {
		t.Fatalf("expected one sink stop, got %d", sink.stops)
	}
	if s.State() != Cancelled {
		t.Fatalf("expected cancelled, got %v", s.State())
	}

	// Late feeds after termination are quietly dropped.
	if err := s.Feed(make([]byte, 100)); err != nil {
		t.Fatalf("late feed should be a no-op, got %v", err)
	}
	if len(sink.windowLens()) != 4 { // pre-roll + 3 windows + nothing new
		t.Fatalf("late feed scheduled windows: %v", sink.windowLens())
	}

	// Cancel is idempotent and never double-resolves.
	s.Cancel()
	if sink.stops != 1 {
		t.Fatalf("repeated cancel stopped sink again: %d", sink.stops)
	}
}

func TestDeviceStartFailureFailsCompletion(t *testing.T) {
	sink := &fakeSink{startErr: errors.New("no output device")}
	s := newSession(sink)
	if err := s.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Feed(make([]byte, 4800*2)); err == nil {
		t.Fatal("expected feed to surface device start failure")
	}
	err := await(t, s)
	if err == nil || errors.Is(err, ErrCancelled) {
		t.Fatalf("expected device error outcome, got %v", err)
	}
}

func TestCompletionResolvesExactlyOnce(t *testing.T) {
	sink := &fakeSink{}
	s := newSession(sink)
	if err := s.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.EndStream(); err != nil {
		t.Fatalf("end stream: %v", err)
	}
	sink.renderAll()
	if err := await(t, s); err != nil {
		t.Fatalf("await: %v", err)
	}
	// A duplicate render callback or late cancel must not re-resolve.
	sink.renderAll()
	s.Cancel()
	if err := await(t, s); err != nil {
		t.Fatalf("outcome changed after duplicate resolution attempts: %v", err)
	}
}

func TestBeginTwiceRejected(t *testing.T) {
	s := newSession(&fakeSink{})
	if err := s.Begin(); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := s.Begin(); !errors.Is(err, ErrSessionState) {
		t.Fatalf("expected state error, got %v", err)
	}
}
