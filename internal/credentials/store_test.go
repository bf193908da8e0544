package credentials

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/murmurlabs/murmur-core/internal/config"
)

func TestEnvStoreGet(t *testing.T) {
	t.Setenv("MURMUR_SECRET_TTS_API_KEY", "abc123")

	store, err := Open(config.CredentialsConfig{Mode: "env"})
	if err != nil {
		t.Fatalf("open env store: %v", err)
	}
	value, err := store.Get("tts_api_key")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if value != "abc123" {
		t.Fatalf("got %q", value)
	}
}

func TestEnvStoreMissingIsNotConfigured(t *testing.T) {
	store, err := Open(config.CredentialsConfig{Mode: "env"})
	if err != nil {
		t.Fatalf("open env store: %v", err)
	}
	if _, err := store.Get("definitely-not-set"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("got %v, want ErrNotConfigured", err)
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "secrets.json")
	store, err := Open(config.CredentialsConfig{Mode: "file", Path: path})
	if err != nil {
		t.Fatalf("open file store: %v", err)
	}

	if err := store.Set("tts_api_key", "s3cret"); err != nil {
		t.Fatalf("set: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Fatalf("secrets file mode = %o, want 600", perm)
	}

	reopened, err := Open(config.CredentialsConfig{Mode: "file", Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	value, err := reopened.Get("tts_api_key")
	if err != nil {
		t.Fatalf("get after reopen: %v", err)
	}
	if value != "s3cret" {
		t.Fatalf("got %q", value)
	}

	if err := reopened.Delete("tts_api_key"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reopened.Get("tts_api_key"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("got %v after delete, want ErrNotConfigured", err)
	}
}

func TestFileStoreMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "none.json")
	store, err := Open(config.CredentialsConfig{Mode: "file", Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := store.Get("anything"); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("got %v, want ErrNotConfigured", err)
	}
}
