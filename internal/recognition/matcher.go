package recognition

import (
	"fmt"

	"github.com/earshot-audio/earshot/internal/profile"
	"github.com/earshot-audio/earshot/pkg/provider/embedder"
)

// Match is the best-scoring profile for one segment embedding.
type Match struct {
	// ProfileID is the matched profile's identity ID.
	ProfileID string

	// Name is the matched profile's display name.
	Name string

	// Score is the cosine similarity of the segment embedding against the
	// profile's best reference embedding, in [-1, 1].
	Score float64
}

// BestMatch scores embedding against every profile and returns the highest
// scorer. A profile with multiple reference embeddings scores by its best
// one: enrollment clips vary in quality, and taking the minimum would
// over-reject a speaker whose worst clip was noisy.
//
// Profiles must be ordered by ID (as [profile.Store.Snapshot] returns them);
// scores compare strictly greater, so ties resolve to the lowest ID and the
// result is deterministic for identical inputs.
//
// ok is false when no profile has reference embeddings to compare against.
// A dimension mismatch between the embedding and any profile returns an
// error wrapping [ErrDimensionMismatch]: the embedding model and the store
// disagree and no score involving either can be trusted.
func BestMatch(embedding []float32, profiles []profile.Profile) (best Match, ok bool, err error) {
	for _, p := range profiles {
		if len(p.Embeddings) == 0 {
			continue
		}
		if p.Dimensions() != len(embedding) {
			return Match{}, false, fmt.Errorf("recognition: profile %q: %w: profile %d vs segment %d",
				p.ID, ErrDimensionMismatch, p.Dimensions(), len(embedding))
		}

		score, serr := bestScore(embedding, p.Embeddings)
		if serr != nil {
			// Cosine only fails on length disagreement, here between
			// reference embeddings within the same profile.
			return Match{}, false, fmt.Errorf("recognition: profile %q: %w: %v", p.ID, ErrDimensionMismatch, serr)
		}
		if !ok || score > best.Score {
			best = Match{ProfileID: p.ID, Name: p.Name, Score: score}
			ok = true
		}
	}
	return best, ok, nil
}

// bestScore returns the maximum cosine similarity of embedding against the
// reference set.
func bestScore(embedding []float32, references [][]float32) (float64, error) {
	best := -1.0
	for _, ref := range references {
		sim, err := embedder.Cosine(embedding, ref)
		if err != nil {
			return 0, err
		}
		if sim > best {
			best = sim
		}
	}
	return best, nil
}
