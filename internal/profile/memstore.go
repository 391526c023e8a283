package profile

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
//
// Profiles are deep-copied on the way in and on the way out, so a re-enroll
// replacing a profile can never corrupt embeddings a concurrent matcher is
// reading.
type MemStore struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{
		profiles: make(map[string]Profile),
	}
}

// Add implements [Store.Add].
func (s *MemStore) Add(ctx context.Context, p Profile) (Profile, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.profiles == nil {
		s.profiles = make(map[string]Profile)
	}

	if _, exists := s.profiles[p.ID]; exists {
		return Profile{}, ErrDuplicateID
	}

	s.profiles[p.ID] = cloneProfile(p)
	return p, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(ctx context.Context, id string) (Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return cloneProfile(p), nil
}

// Update implements [Store.Update]. The replacement is atomic: readers see
// the old profile until the write lock is released, then only the new one.
func (s *MemStore) Update(ctx context.Context, p Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[p.ID]; !ok {
		return ErrNotFound
	}

	s.profiles[p.ID] = cloneProfile(p)
	return nil
}

// Remove implements [Store.Remove].
func (s *MemStore) Remove(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.profiles[id]; !ok {
		return ErrNotFound
	}

	delete(s.profiles, id)
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(ctx context.Context) ([]Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Summary, 0, len(s.profiles))
	for _, p := range s.profiles {
		result = append(result, SummaryOf(p))
	}
	sortSummaries(result)
	return result, nil
}

// Snapshot implements [Store.Snapshot].
func (s *MemStore) Snapshot(ctx context.Context) ([]Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]Profile, 0, len(s.profiles))
	for _, p := range s.profiles {
		result = append(result, cloneProfile(p))
	}
	sortProfilesByID(result)
	return result, nil
}

// cloneProfile deep-copies p: fresh embedding slices and metadata map.
func cloneProfile(p Profile) Profile {
	c := p
	if p.Embeddings != nil {
		c.Embeddings = make([][]float32, len(p.Embeddings))
		for i, e := range p.Embeddings {
			c.Embeddings[i] = slices.Clone(e)
		}
	}
	if p.Metadata != nil {
		c.Metadata = maps.Clone(p.Metadata)
	}
	return c
}

// sortSummaries orders summaries by name, case-insensitive, with ID as the
// tie-break so the order is stable across calls.
func sortSummaries(list []Summary) {
	slices.SortFunc(list, func(a, b Summary) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
