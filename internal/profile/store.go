package profile

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get, Update and Remove when the requested
// profile does not exist.
var ErrNotFound = errors.New("profile not found")

// ErrDuplicateID is returned by Add when a profile with the same ID already
// exists.
var ErrDuplicateID = errors.New("profile with that ID already exists")

// ErrInsufficientEnrollment is returned by the enroller when the combined
// enrollment audio is shorter than the configured minimum. No profile is
// created or modified.
var ErrInsufficientEnrollment = errors.New("insufficient enrollment audio")

// Store holds enrolled speaker profiles.
//
// Recognition only ever reads; enrollment writes. Implementations must
// guarantee that Update replaces a profile atomically: a concurrent Snapshot
// or Get sees either the old profile or the new one, never a mix.
//
// All implementations must be safe for concurrent use.
type Store interface {
	// Add creates a new profile. Returns the profile with a generated ID if
	// the provided profile's ID is empty.
	// Returns [ErrDuplicateID] if a profile with the same non-empty ID exists.
	Add(ctx context.Context, p Profile) (Profile, error)

	// Get retrieves a profile by identity ID.
	// Returns [ErrNotFound] when no profile with that ID exists.
	Get(ctx context.Context, id string) (Profile, error)

	// Update replaces an existing profile wholesale. The profile's ID must be
	// non-empty.
	// Returns [ErrNotFound] when no profile with that ID exists.
	Update(ctx context.Context, p Profile) error

	// Remove deletes a profile by identity ID.
	// Returns [ErrNotFound] when no profile with that ID exists.
	Remove(ctx context.Context, id string) error

	// List returns embedding-free summaries of all profiles, sorted by name
	// (case-insensitive).
	List(ctx context.Context) ([]Summary, error)

	// Snapshot returns full copies of all profiles for matching, ordered by
	// ID. The result is detached from the store: later writes do not alter
	// it. The ID ordering makes score tie-breaks deterministic.
	Snapshot(ctx context.Context) ([]Profile, error)
}
