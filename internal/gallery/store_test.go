package gallery

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "speakers.json"), newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if got := len(s.Snapshot()); got != 0 {
		t.Fatalf("expected empty gallery, got %d profiles", got)
	}
}

func TestEnrollPersistsAndReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speakers.json")
	s, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	p, err := s.Enroll("Alice", []float64{1, 0, 0})
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if !p.Permanent {
		t.Fatal("enrolled profile must be permanent")
	}

	reopened, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Get(p.ID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}
	if got.Name != "Alice" || len(got.Embedding) != 3 {
		t.Fatalf("unexpected reloaded profile: %+v", got)
	}
}

func TestFileRewrittenInFullPerMutation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speakers.json")
	s, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	a, _ := s.Enroll("Alice", []float64{1, 0})
	b, _ := s.Enroll("Bob", []float64{0, 1})

	readFile := func() []Profile {
		t.Helper()
		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read gallery: %v", err)
		}
		var list []Profile
		if err := json.Unmarshal(data, &list); err != nil {
			t.Fatalf("parse gallery: %v", err)
		}
		return list
	}

	if got := readFile(); len(got) != 2 {
		t.Fatalf("expected 2 profiles on disk, got %d", len(got))
	}

	if err := s.Rename(a.ID, "Alicia"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	found := false
	for _, p := range readFile() {
		if p.ID == a.ID && p.Name == "Alicia" {
			found = true
		}
	}
	if !found {
		t.Fatal("rename not reflected on disk")
	}

	if err := s.Remove(b.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := readFile(); len(got) != 1 {
		t.Fatalf("expected 1 profile after remove, got %d", len(got))
	}
}

func TestTransientProfilesNeverWritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speakers.json")
	s, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	s.Enroll("Alice", []float64{1, 0})
	guest := s.AddTransient("Speaker 2", []float64{0, 1})

	if len(s.Snapshot()) != 2 {
		t.Fatal("transient profile should be visible in snapshot")
	}

	reopened, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if _, err := reopened.Get(guest.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("transient profile leaked to disk: %v", err)
	}

	s.DropTransient()
	if len(s.Snapshot()) != 1 {
		t.Fatal("expected transient profile dropped")
	}
}

func TestSnapshotOrderedByID(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "speakers.json"), newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := s.Enroll("p", []float64{1}); err != nil {
			t.Fatalf("enroll: %v", err)
		}
	}
	snap := s.Snapshot()
	for i := 1; i < len(snap); i++ {
		if snap[i-1].ID >= snap[i].ID {
			t.Fatal("snapshot not ordered by id")
		}
	}
}

func TestSetEmbedding(t *testing.T) {
	path := filepath.Join(t.TempDir(), "speakers.json")
	s, err := Open(path, newLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	p, _ := s.Enroll("Alice", []float64{1, 0})
	if err := s.SetEmbedding(p.ID, []float64{0, 1}); err != nil {
		t.Fatalf("set embedding: %v", err)
	}
	got, _ := s.Get(p.ID)
	if got.Embedding[0] != 0 || got.Embedding[1] != 1 {
		t.Fatalf("embedding not updated: %v", got.Embedding)
	}
	if err := s.SetEmbedding("missing", []float64{1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
