package recognition

import (
	"fmt"
	"sort"
)

// Trial is one scored verification attempt used for threshold calibration:
// the similarity an embedding scored against a profile, and whether the
// attempt really was that speaker.
type Trial struct {
	// Score is the cosine similarity the matcher produced.
	Score float64

	// Genuine is true when the trial audio belongs to the scored profile.
	Genuine bool
}

// CalibrateThreshold picks the lowest similarity threshold that keeps
// precision at or above target over the trials: the fraction of accepted
// trials that are genuine. Operators collect trials by scoring known
// recordings against the enrolled profiles, then tune the session with the
// returned threshold.
//
// Trials are considered as cuts of the descending score list; the threshold
// returned is the score of the last trial the cut accepts, so a session
// using score >= threshold accepts exactly that prefix. Returns an error
// when no cut reaches the target or no genuine trials exist.
func CalibrateThreshold(trials []Trial, target float64) (float64, error) {
	if len(trials) == 0 {
		return 0, fmt.Errorf("recognition: calibrate: no trials")
	}
	if target <= 0 || target > 1 {
		return 0, fmt.Errorf("recognition: calibrate: target precision %v outside (0, 1]", target)
	}

	sorted := make([]Trial, len(trials))
	copy(sorted, trials)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var (
		best  float64
		found bool
	)
	genuine, accepted := 0, 0
	for i, t := range sorted {
		accepted++
		if t.Genuine {
			genuine++
		}
		// Equal scores must fall on the same side of any threshold, so a cut
		// may only end where the score strictly drops.
		if i+1 < len(sorted) && sorted[i+1].Score == t.Score {
			continue
		}
		if genuine > 0 && float64(genuine)/float64(accepted) >= target {
			best = t.Score
			found = true
		}
	}

	if !found {
		return 0, fmt.Errorf("recognition: calibrate: no threshold reaches precision %v", target)
	}
	if best < 0 {
		best = 0
	} else if best > 1 {
		best = 1
	}
	return best, nil
}
