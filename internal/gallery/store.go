// Package gallery persists the enrolled-speaker voiceprint gallery: a JSON
// file of profiles loaded at startup and rewritten in full on every
// mutation. Transient in-session speakers live alongside enrolled ones in
// memory but are never written to disk.
package gallery

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("speaker profile not found")
	ErrDuplicate = errors.New("speaker profile id already exists")
)

// Profile is one enrolled or in-session speaker identity. Embedding is kept
// L2-normalized by the matcher's update path.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Embedding []float64 `json:"embedding"`
	Permanent bool      `json:"permanent"`
}

// Store is the single-writer gallery. Reads take a snapshot; all mutations
// serialize on one mutex and rewrite the backing file atomically.
type Store struct {
	path string
	log  *slog.Logger

	mu       sync.Mutex
	profiles map[string]Profile
}

// Open loads the gallery file, treating a missing file as an empty gallery.
func Open(path string, log *slog.Logger) (*Store, error) {
	s := &Store{
		path:     path,
		log:      log.With(slog.String("component", "speaker-gallery")),
		profiles: make(map[string]Profile),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("read gallery file: %w", err)
	}

	var list []Profile
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parse gallery file: %w", err)
	}
	for _, p := range list {
		if _, ok := s.profiles[p.ID]; ok {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, p.ID)
		}
		p.Permanent = true // anything on disk is enrolled
		s.profiles[p.ID] = p
	}
	s.log.Info("speaker gallery loaded", slog.Int("profiles", len(list)))
	return s, nil
}

// Enroll adds a durable profile and rewrites the gallery file.
func (s *Store) Enroll(name string, embedding []float64) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Profile{
		ID:        uuid.NewString(),
		Name:      name,
		Embedding: append([]float64(nil), embedding...),
		Permanent: true,
	}
	s.profiles[p.ID] = p
	if err := s.saveLocked(); err != nil {
		delete(s.profiles, p.ID)
		return Profile{}, err
	}
	return p, nil
}

// AddTransient registers an in-session identity that is never persisted.
func (s *Store) AddTransient(name string, embedding []float64) Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := Profile{
		ID:        uuid.NewString(),
		Name:      name,
		Embedding: append([]float64(nil), embedding...),
		Permanent: false,
	}
	s.profiles[p.ID] = p
	return p
}

// Rename updates a profile's display name.
func (s *Store) Rename(id, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Name = name
	s.profiles[id] = p
	if p.Permanent {
		return s.saveLocked()
	}
	return nil
}

// Remove deletes a profile.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.profiles, id)
	if p.Permanent {
		return s.saveLocked()
	}
	return nil
}

// SetEmbedding replaces a profile's voiceprint, typically with the matcher's
// moving-average update after a confident identification.
func (s *Store) SetEmbedding(id string, embedding []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	p.Embedding = append([]float64(nil), embedding...)
	s.profiles[id] = p
	if p.Permanent {
		return s.saveLocked()
	}
	return nil
}

// Get returns one profile.
func (s *Store) Get(id string) (Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return p, nil
}

// Snapshot returns all profiles ordered by id, for stable matching.
func (s *Store) Snapshot() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// DropTransient discards all non-permanent profiles, typically at the end
// of a recording session.
func (s *Store) DropTransient() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.profiles {
		if !p.Permanent {
			delete(s.profiles, id)
		}
	}
}

// saveLocked rewrites the whole gallery file. Only permanent profiles are
// written; the write goes through a temp file plus rename so a crash never
// leaves a partial gallery behind.
func (s *Store) saveLocked() error {
	var list []Profile
	for _, p := range s.profiles {
		if p.Permanent {
			list = append(list, p)
		}
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gallery: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create gallery dir: %w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write gallery: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace gallery: %w", err)
	}
	return nil
}
