package speech

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/murmurlabs/murmur-core/internal/audio/pcm"
	"github.com/murmurlabs/murmur-core/internal/audio/scheduler"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/voicestate"
)

// recordingSink implements scheduler.Sink and fires rendered callbacks
// synchronously, so tests do not need a render loop.
type recordingSink struct {
	mu      sync.Mutex
	windows int
	stopped bool
}

func (r *recordingSink) EnsureStarted(pcm.Format) error { return nil }

func (r *recordingSink) Submit(window []float32, onRendered func()) error {
	r.mu.Lock()
	r.windows++
	r.mu.Unlock()
	if onRendered != nil {
		onRendered()
	}
	return nil
}

func (r *recordingSink) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()
}

func (r *recordingSink) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.windows
}

// failingProvider reports an error before emitting any audio.
type failingProvider struct{ err error }

func (f *failingProvider) OpenStream(context.Context, string, string) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error) // unbuffered: the error is delivered before EOF
	go func() {
		defer close(chunks)
		defer close(errs)
		errs <- f.err
	}()
	return chunks, errs
}

// stallingProvider emits one chunk and then blocks until cancelled.
type stallingProvider struct{}

func (s *stallingProvider) OpenStream(ctx context.Context, _, _ string) (<-chan []byte, <-chan error) {
	chunks := make(chan []byte)
	errs := make(chan error, 1)
	go func() {
		defer close(chunks)
		defer close(errs)
		chunk := make([]byte, 9600)
		select {
		case chunks <- chunk:
		case <-ctx.Done():
			return
		}
		<-ctx.Done()
	}()
	return chunks, errs
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testAudioConfig() config.AudioConfig {
	return config.AudioConfig{SampleRate: 24000, Channels: 1, WindowMS: 200, FadeMS: 50, PreRollMS: 20, Volume: 1.0}
}

func newTestService(prov Provider, sink scheduler.Sink) *Service {
	return &Service{
		cfg:    config.SpeechConfig{Enabled: true, Mode: "mock", Voice: "en-US"},
		audio:  testAudioConfig(),
		prov:   prov,
		sink:   sink,
		state:  &voicestate.Cell{},
		logger: newLogger(),
	}
}

func TestSchedulerConfigGeometry(t *testing.T) {
	s := newTestService(nil, nil)
	cfg := s.schedulerConfig()
	if cfg.WindowSamples != 4800 {
		t.Fatalf("window samples = %d, want 4800", cfg.WindowSamples)
	}
	if cfg.FadeSamples != 1200 {
		t.Fatalf("fade samples = %d, want 1200", cfg.FadeSamples)
	}
	if cfg.PreRollSamples != 480 {
		t.Fatalf("pre-roll samples = %d, want 480", cfg.PreRollSamples)
	}
	if cfg.Format.SampleRate != 24000 || cfg.Format.Channels != 1 {
		t.Fatalf("format = %+v", cfg.Format)
	}
}

func TestPlayCompletesWithMockProvider(t *testing.T) {
	sink := &recordingSink{}
	s := newTestService(NewMockProvider(24000), sink)

	utt := &utterance{
		sessionID:  "sess-1",
		sched:      scheduler.NewSession(s.schedulerConfig(), sink, newLogger()),
		stopStream: func() {},
	}
	err := s.play(context.Background(), protocol.SpeakRequest{SessionID: "sess-1", Text: "hello"}, utt)
	if err != nil {
		t.Fatalf("play returned %v, want nil", err)
	}
	if sink.count() == 0 {
		t.Fatal("no windows reached the sink")
	}
}

func TestPlayReportsProviderFailure(t *testing.T) {
	sink := &recordingSink{}
	s := newTestService(&failingProvider{err: errors.New("model exploded")}, sink)

	utt := &utterance{
		sessionID:  "sess-2",
		sched:      scheduler.NewSession(s.schedulerConfig(), sink, newLogger()),
		stopStream: func() {},
	}
	err := s.play(context.Background(), protocol.SpeakRequest{SessionID: "sess-2", Text: "hi"}, utt)
	if err == nil || errors.Is(err, scheduler.ErrCancelled) {
		t.Fatalf("play returned %v, want synthesis failure", err)
	}
}

func TestCancelSessionResolvesCancelled(t *testing.T) {
	sink := &recordingSink{}
	s := newTestService(&stallingProvider{}, sink)

	ctx, stop := context.WithCancel(context.Background())
	utt := &utterance{
		sessionID:  "sess-3",
		sched:      scheduler.NewSession(s.schedulerConfig(), sink, newLogger()),
		stopStream: stop,
	}
	s.mu.Lock()
	s.current = utt
	s.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		done <- s.play(ctx, protocol.SpeakRequest{SessionID: "sess-3", Text: "hi"}, utt)
	}()

	time.Sleep(20 * time.Millisecond)
	if !s.cancelSession("sess-3") {
		t.Fatal("cancelSession found nothing to cancel")
	}

	select {
	case err := <-done:
		if !errors.Is(err, scheduler.ErrCancelled) {
			t.Fatalf("play returned %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("play did not resolve after cancel")
	}
}

func TestCancelSessionIgnoresOtherSessions(t *testing.T) {
	s := newTestService(nil, nil)
	s.mu.Lock()
	s.current = &utterance{sessionID: "sess-a", sched: scheduler.NewSession(s.schedulerConfig(), &recordingSink{}, newLogger()), stopStream: func() {}}
	s.mu.Unlock()

	if s.cancelSession("sess-b") {
		t.Fatal("cancel of a different session should be a no-op")
	}
}
