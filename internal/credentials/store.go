package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// ErrNotConfigured is returned when a named secret has no value. Callers
// treat it as "feature not set up", not as a transient failure.
var ErrNotConfigured = errors.New("credential not configured")

// Store resolves named secrets for providers that need them.
type Store interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
}

// Open selects the backend named by config.
func Open(cfg config.CredentialsConfig) (Store, error) {
	switch cfg.Mode {
	case "env":
		return &envStore{}, nil
	case "file":
		return openFileStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown credentials mode %q", cfg.Mode)
	}
}

// envStore reads secrets from MURMUR_SECRET_<NAME> environment variables.
// It is read-only: writes belong to the process supervisor, not the runtime.
type envStore struct{}

func envKey(name string) string {
	upper := strings.ToUpper(name)
	upper = strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(upper)
	return "MURMUR_SECRET_" + upper
}

func (e *envStore) Get(name string) (string, error) {
	value, ok := os.LookupEnv(envKey(name))
	if !ok || strings.TrimSpace(value) == "" {
		return "", ErrNotConfigured
	}
	return value, nil
}

func (e *envStore) Set(string, string) error {
	return errors.New("env credential store is read-only")
}

func (e *envStore) Delete(string) error {
	return errors.New("env credential store is read-only")
}

// fileStore keeps secrets in a mode-0600 JSON file and rewrites it in full
// on every mutation.
type fileStore struct {
	path    string
	mu      sync.Mutex
	secrets map[string]string
}

func openFileStore(path string) (*fileStore, error) {
	s := &fileStore{path: path, secrets: make(map[string]string)}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read credentials file: %w", err)
	}
	if err := json.Unmarshal(data, &s.secrets); err != nil {
		return nil, fmt.Errorf("parse credentials file: %w", err)
	}
	return s, nil
}

func (f *fileStore) Get(name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	value, ok := f.secrets[name]
	if !ok || value == "" {
		return "", ErrNotConfigured
	}
	return value, nil
}

func (f *fileStore) Set(name, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[name] = value
	return f.saveLocked()
}

func (f *fileStore) Delete(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.secrets[name]; !ok {
		return ErrNotConfigured
	}
	delete(f.secrets, name)
	return f.saveLocked()
}

func (f *fileStore) saveLocked() error {
	dir := filepath.Dir(f.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create credentials dir: %w", err)
		}
	}
	data, err := json.MarshalIndent(f.secrets, "", "  ")
	if err != nil {
		return fmt.Errorf("encode credentials: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace credentials file: %w", err)
	}
	return nil
}
