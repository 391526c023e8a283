// Package profile manages enrolled speaker identities for Earshot.
//
// A profile holds the reference embeddings derived from a speaker's
// enrollment recordings plus display metadata. Recognition sessions read
// profiles through snapshot semantics: a re-enrollment replaces a profile's
// embeddings atomically and concurrent readers never observe a
// partially-written profile.
//
// Store implementations in this package:
//   - [MemStore] — in-memory, for single-process use and tests.
//   - [FileStore] — one JSON file per profile under a directory.
//   - postgres.Store — pgvector-backed persistent store (subpackage).
//
// All store operations are safe for concurrent use.
package profile

import (
	"time"
)

// Profile is an enrolled speaker identity.
type Profile struct {
	// ID is the unique identity ID (UUID). Auto-generated on Add if empty.
	ID string `json:"id"`

	// Name is the speaker's display name.
	Name string `json:"name"`

	// Embeddings holds one L2-normalized reference embedding per enrollment
	// clip. Replaced wholesale on re-enrollment; never mutated in place.
	Embeddings [][]float32 `json:"embeddings"`

	// EmbeddingModel identifies the model that produced the embeddings.
	// Matching against embeddings from a different model is meaningless, so
	// sessions reject profiles whose dimensions disagree with the extractor.
	EmbeddingModel string `json:"embedding_model,omitempty"`

	// TotalDuration is the combined duration of all enrollment clips.
	TotalDuration time.Duration `json:"total_duration"`

	// Quality grades the enrollment from its total duration.
	Quality Grade `json:"quality,omitempty"`

	// CreatedAt is when the profile was first enrolled.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the profile was last re-enrolled or edited.
	UpdatedAt time.Time `json:"updated_at,omitempty"`

	// Metadata holds arbitrary key-value annotations.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Dimensions returns the embedding dimensionality, or 0 when the profile has
// no embeddings.
func (p Profile) Dimensions() int {
	if len(p.Embeddings) == 0 {
		return 0
	}
	return len(p.Embeddings[0])
}

// Summary is the lightweight, embedding-free view of a profile returned by
// List.
type Summary struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	EmbeddingCount int           `json:"embedding_count"`
	TotalDuration  time.Duration `json:"total_duration"`
	Quality        Grade         `json:"quality,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}

// SummaryOf builds the Summary view of p.
func SummaryOf(p Profile) Summary {
	return Summary{
		ID:             p.ID,
		Name:           p.Name,
		EmbeddingCount: len(p.Embeddings),
		TotalDuration:  p.TotalDuration,
		Quality:        p.Quality,
		CreatedAt:      p.CreatedAt,
	}
}

// Grade rates an enrollment by the amount of reference audio behind it.
type Grade string

const (
	// GradeExcellent means ample reference audio; the profile should hold up
	// across varied recording conditions.
	GradeExcellent Grade = "excellent"

	// GradeGood means the profile should work well in most cases.
	GradeGood Grade = "good"

	// GradeFair means the minimum was met but more audio would help.
	GradeFair Grade = "fair"
)

// IsValid reports whether g is a recognised grade.
func (g Grade) IsValid() bool {
	switch g {
	case GradeExcellent, GradeGood, GradeFair:
		return true
	}
	return false
}

// GradeFor returns the quality grade for the given total enrollment duration.
func GradeFor(total time.Duration) Grade {
	switch {
	case total >= 10*time.Second:
		return GradeExcellent
	case total >= 6*time.Second:
		return GradeGood
	default:
		return GradeFair
	}
}
