package device

import (
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

func waitWrites(t *testing.T, sink *MemorySink, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.Writes()) >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, have %d", n, len(sink.Writes()))
}

func TestEnsureStartedIdempotent(t *testing.T) {
	sink := NewMemorySink()
	s := NewSession(sink, newLogger())
	defer s.Teardown()

	f := pcm.Format{SampleRate: 24000, Channels: 1}
	if err := s.EnsureStarted(f); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.EnsureStarted(f); err != nil {
		t.Fatalf("restart with same format: %v", err)
	}
	if sink.OpenCount() != 1 {
		t.Fatalf("expected one open for matching format, got %d", sink.OpenCount())
	}

	// Format change forces a reconnect.
	if err := s.EnsureStarted(pcm.Format{SampleRate: 16000, Channels: 1}); err != nil {
		t.Fatalf("restart with new format: %v", err)
	}
	if sink.OpenCount() != 2 {
		t.Fatalf("expected reopen on format change, got %d opens", sink.OpenCount())
	}
	if sink.Format().SampleRate != 16000 {
		t.Fatalf("expected new format applied, got %d", sink.Format().SampleRate)
	}
}

func TestSubmitFIFOOrder(t *testing.T) {
	sink := NewMemorySink()
	s := NewSession(sink, newLogger())
	defer s.Teardown()

	if err := s.EnsureStarted(pcm.DefaultFormat); err != nil {
		t.Fatalf("start: %v", err)
	}

	for i := 1; i <= 5; i++ {
		window := make([]float32, i)
		if err := s.Submit(window, nil); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}
	waitWrites(t, sink, 5)

	writes := sink.Writes()
	for i, w := range writes {
		if len(w) != (i+1)*2 {
			t.Fatalf("write %d out of order: %d bytes", i, len(w))
		}
	}
}

func TestRenderedCallbackFiresOnce(t *testing.T) {
	sink := NewMemorySink()
	s := NewSession(sink, newLogger())
	defer s.Teardown()

	if err := s.EnsureStarted(pcm.DefaultFormat); err != nil {
		t.Fatalf("start: %v", err)
	}

	var mu sync.Mutex
	calls := 0
	done := make(chan struct{})
	if err := s.Submit(make([]float32, 4), func() {
		mu.Lock()
		calls++
		mu.Unlock()
		close(done)
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("callback never fired")
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("expected exactly one callback, got %d", calls)
	}
}

func TestStopDiscardsQueuedWindows(t *testing.T) {
	sink := NewMemorySink()
	sink.WriteDelay = 50 * time.Millisecond
	s := NewSession(sink, newLogger())

	if err := s.EnsureStarted(pcm.DefaultFormat); err != nil {
		t.Fatalf("start: %v", err)
	}
	fired := false
	for i := 0; i < 3; i++ {
		cb := func() {}
		if i == 2 {
			cb = func() { fired = true }
		}
		if err := s.Submit(make([]float32, 4800), cb); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	s.Stop()

	if len(sink.Writes()) >= 3 {
		t.Fatalf("expected queued windows discarded, got %d writes", len(sink.Writes()))
	}
	if fired {
		t.Fatal("discarded window must not fire its callback")
	}

	// Submit after stop is rejected, not silently queued.
	if err := s.Submit(make([]float32, 4), nil); err == nil {
		t.Fatal("expected submit on stopped session to fail")
	}

	// Stop is always safe to repeat.
	s.Stop()
	s.Teardown()
}

func TestSetVolumeAppliesToNewSubmissionsOnly(t *testing.T) {
	sink := NewMemorySink()
	s := NewSession(sink, newLogger())
	defer s.Teardown()

	if err := s.EnsureStarted(pcm.DefaultFormat); err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := s.Submit([]float32{0.5}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitWrites(t, sink, 1)

	s.SetVolume(0.5)
	if err := s.Submit([]float32{0.5}, nil); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitWrites(t, sink, 2)

	writes := sink.Writes()
	first := pcm.Decode(writes[0])[0]
	second := pcm.Decode(writes[1])[0]
	if first != 0.5 {
		t.Fatalf("expected full volume on first window, got %v", first)
	}
	if second <= 0.24 || second >= 0.26 {
		t.Fatalf("expected halved second window, got %v", second)
	}
}
