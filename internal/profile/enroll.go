package profile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/earshot-audio/earshot/pkg/provider/embedder"
)

// DefaultMinEnrollment is the minimum combined duration of enrollment audio
// accepted when no explicit minimum is configured.
const DefaultMinEnrollment = 3 * time.Second

// Clip is one enrollment recording: mono PCM16LE audio at the given rate.
type Clip struct {
	PCM        []byte
	SampleRate int
}

// Duration returns the clip's play time.
func (c Clip) Duration() time.Duration {
	if c.SampleRate <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// Enroller derives profiles from enrollment recordings. It extracts one
// reference embedding per clip and rejects enrollments with less than the
// configured minimum of combined audio.
type Enroller struct {
	store       Store
	embedder    embedder.Provider
	minDuration time.Duration
}

// NewEnroller returns an [Enroller] writing to store and extracting
// embeddings through emb. A non-positive minDuration falls back to
// [DefaultMinEnrollment].
func NewEnroller(store Store, emb embedder.Provider, minDuration time.Duration) *Enroller {
	if minDuration <= 0 {
		minDuration = DefaultMinEnrollment
	}
	return &Enroller{store: store, embedder: emb, minDuration: minDuration}
}

// Enroll creates a profile for a new identity from the given clips.
//
// The clips' combined duration must meet the configured minimum, otherwise
// Enroll fails with [ErrInsufficientEnrollment] and no profile is created.
// Any extraction failure likewise aborts without a partial profile.
func (e *Enroller) Enroll(ctx context.Context, name string, clips []Clip) (Profile, error) {
	if name == "" {
		return Profile{}, fmt.Errorf("profile: enroll: name must not be empty")
	}

	embeddings, total, err := e.extract(ctx, clips)
	if err != nil {
		return Profile{}, err
	}

	now := time.Now()
	p, err := e.store.Add(ctx, Profile{
		Name:           name,
		Embeddings:     embeddings,
		EmbeddingModel: e.embedder.ModelID(),
		TotalDuration:  total,
		Quality:        GradeFor(total),
		CreatedAt:      now,
	})
	if err != nil {
		return Profile{}, fmt.Errorf("profile: enroll %q: %w", name, err)
	}

	slog.Info("enrolled speaker profile",
		"id", p.ID,
		"name", p.Name,
		"clips", len(clips),
		"total_duration", total,
		"quality", p.Quality)
	return p, nil
}

// ReEnroll replaces the stored embeddings of an existing identity with ones
// derived from the new clips. The replacement is wholesale, not a merge:
// mixing old and new reference embeddings would let a bad early enrollment
// contaminate the profile indefinitely.
func (e *Enroller) ReEnroll(ctx context.Context, id string, clips []Clip) (Profile, error) {
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: re-enroll %q: %w", id, err)
	}

	embeddings, total, err := e.extract(ctx, clips)
	if err != nil {
		return Profile{}, err
	}

	p.Embeddings = embeddings
	p.EmbeddingModel = e.embedder.ModelID()
	p.TotalDuration = total
	p.Quality = GradeFor(total)
	p.UpdatedAt = time.Now()

	if err := e.store.Update(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("profile: re-enroll %q: %w", id, err)
	}

	slog.Info("re-enrolled speaker profile",
		"id", p.ID,
		"name", p.Name,
		"clips", len(clips),
		"total_duration", total,
		"quality", p.Quality)
	return p, nil
}

// Rename updates a profile's display name without touching its embeddings.
func (e *Enroller) Rename(ctx context.Context, id, name string) (Profile, error) {
	if name == "" {
		return Profile{}, fmt.Errorf("profile: rename: name must not be empty")
	}
	p, err := e.store.Get(ctx, id)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: rename %q: %w", id, err)
	}
	p.Name = name
	p.UpdatedAt = time.Now()
	if err := e.store.Update(ctx, p); err != nil {
		return Profile{}, fmt.Errorf("profile: rename %q: %w", id, err)
	}
	return p, nil
}

// extract derives one embedding per clip and sums the clip durations,
// enforcing the minimum combined duration first.
func (e *Enroller) extract(ctx context.Context, clips []Clip) ([][]float32, time.Duration, error) {
	var total time.Duration
	for _, c := range clips {
		total += c.Duration()
	}
	if total < e.minDuration {
		return nil, 0, fmt.Errorf("profile: %w: %.1fs of audio, need at least %.1fs",
			ErrInsufficientEnrollment, total.Seconds(), e.minDuration.Seconds())
	}

	embeddings := make([][]float32, 0, len(clips))
	for i, c := range clips {
		vec, err := e.embedder.Embed(ctx, c.PCM, c.SampleRate)
		if err != nil {
			return nil, 0, fmt.Errorf("profile: extract embedding for clip %d: %w", i, err)
		}
		embeddings = append(embeddings, vec)
	}
	return embeddings, total, nil
}
