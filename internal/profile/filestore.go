package profile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Compile-time assertion that FileStore satisfies the Store interface.
var _ Store = (*FileStore)(nil)

// FileStore is a [Store] that persists one JSON file per profile in a
// directory, named "<id>.json". Writes go through a temp file and rename so
// a crash mid-write never leaves a truncated profile, and an Update is
// atomic with respect to concurrent reads.
type FileStore struct {
	mu  sync.RWMutex
	dir string
}

// NewFileStore returns a [FileStore] rooted at dir, creating the directory
// if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("profile: file store dir must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("profile: create store dir %q: %w", dir, err)
	}
	return &FileStore{dir: dir}, nil
}

// Dir returns the directory the store persists into.
func (s *FileStore) Dir() string {
	return s.dir
}

// Add implements [Store.Add].
func (s *FileStore) Add(ctx context.Context, p Profile) (Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.path(p.ID)
	if _, err := os.Stat(path); err == nil {
		return Profile{}, ErrDuplicateID
	} else if !errors.Is(err, fs.ErrNotExist) {
		return Profile{}, fmt.Errorf("profile: stat %q: %w", path, err)
	}

	if err := s.write(p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Get implements [Store.Get].
func (s *FileStore) Get(ctx context.Context, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read(id)
}

// Update implements [Store.Update].
func (s *FileStore) Update(ctx context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.read(p.ID); err != nil {
		return err
	}
	return s.write(p)
}

// Remove implements [Store.Remove].
func (s *FileStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("profile: remove %q: %w", id, err)
	}
	return nil
}

// List implements [Store.List]. Unparseable files are skipped with a
// warning so one corrupt profile does not hide the rest.
func (s *FileStore) List(ctx context.Context) ([]Summary, error) {
	profiles, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	result := make([]Summary, 0, len(profiles))
	for _, p := range profiles {
		result = append(result, SummaryOf(p))
	}
	sortSummaries(result)
	return result, nil
}

// Snapshot implements [Store.Snapshot].
func (s *FileStore) Snapshot(ctx context.Context) ([]Profile, error) {
	profiles, err := s.loadAll()
	if err != nil {
		return nil, err
	}
	// loadAll returns fresh values straight from disk, already detached.
	sortProfilesByID(profiles)
	return profiles, nil
}

func (s *FileStore) loadAll() ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("profile: read store dir %q: %w", s.dir, err)
	}

	var profiles []Profile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".json")
		p, err := s.read(id)
		if err != nil {
			slog.Warn("skipping unreadable profile file",
				"file", entry.Name(), "error", err)
			continue
		}
		profiles = append(profiles, p)
	}
	return profiles, nil
}

func (s *FileStore) path(id string) string {
	// Profile IDs are UUIDs; Base guards against path traversal anyway.
	return filepath.Join(s.dir, filepath.Base(id)+".json")
}

func (s *FileStore) read(id string) (Profile, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("profile: read %q: %w", id, err)
	}

	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("profile: parse %q: %w", id, err)
	}
	return p, nil
}

func (s *FileStore) write(p Profile) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: encode %q: %w", p.ID, err)
	}

	path := s.path(p.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("profile: write %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("profile: rename %q: %w", tmp, err)
	}
	return nil
}

// sortProfilesByID orders profiles by ID for deterministic matching.
func sortProfilesByID(profiles []Profile) {
	slices.SortFunc(profiles, func(a, b Profile) int {
		return strings.Compare(a.ID, b.ID)
	})
}
