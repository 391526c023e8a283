package profile

import (
	"context"
	"fmt"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// defaultPhoneticThreshold is the minimum Jaro-Winkler score for a
	// phonetically-overlapping name to be accepted.
	defaultPhoneticThreshold = 0.70

	// defaultFuzzyThreshold is the minimum Jaro-Winkler score when no
	// phonetic overlap exists and pure string similarity decides.
	defaultFuzzyThreshold = 0.85
)

// Resolver matches spoken or misheard speaker names against enrolled
// profiles. It runs in three stages: exact case-insensitive match, Double
// Metaphone phonetic overlap ranked by Jaro-Winkler, and a stricter pure
// Jaro-Winkler fallback. A Resolver is read-only after construction and safe
// for concurrent use.
type Resolver struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// ResolverOption is a functional option for configuring a [Resolver].
type ResolverOption func(*Resolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched name to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) ResolverOption {
	return func(r *Resolver) {
		r.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found. Default: 0.85.
func WithFuzzyThreshold(threshold float64) ResolverOption {
	return func(r *Resolver) {
		r.fuzzyThreshold = threshold
	}
}

// NewResolver returns a [Resolver] configured with the supplied options.
func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve picks the candidate whose name best matches query.
//
// Multi-word names are handled by comparing full strings, space-stripped
// strings, and the best pairwise token score, so "jon smyth" still resolves
// to "John Smith". When matched is false the zero Summary is returned with
// confidence 0.
func (r *Resolver) Resolve(query string, candidates []Summary) (match Summary, confidence float64, matched bool) {
	queryLower := strings.ToLower(strings.TrimSpace(query))
	if queryLower == "" || len(candidates) == 0 {
		return Summary{}, 0, false
	}
	queryTokens := strings.Fields(queryLower)
	queryCodes := metaphoneCodes(queryTokens)

	type candidate struct {
		summary  Summary
		score    float64
		phonetic bool
	}

	var best candidate

	for _, c := range candidates {
		nameLower := strings.ToLower(strings.TrimSpace(c.Name))
		if nameLower == "" {
			continue
		}
		if nameLower == queryLower {
			return c, 1, true
		}
		nameTokens := strings.Fields(nameLower)

		phonetic := codesIntersect(queryCodes, metaphoneCodes(nameTokens))
		score := bestNameScore(queryTokens, nameTokens, queryLower, nameLower)

		if phonetic {
			if score >= r.phoneticThreshold {
				if !best.phonetic || score > best.score {
					best = candidate{summary: c, score: score, phonetic: true}
				}
			}
		} else if !best.phonetic {
			if score >= r.fuzzyThreshold && score > best.score {
				best = candidate{summary: c, score: score, phonetic: false}
			}
		}
	}

	if best.summary.ID != "" {
		return best.summary, best.score, true
	}
	return Summary{}, 0, false
}

// LookupByName finds the enrolled profile whose name best matches name,
// falling back to phonetic matching for misspelt or misheard names.
// Returns [ErrNotFound] when nothing matches.
func LookupByName(ctx context.Context, store Store, name string, opts ...ResolverOption) (Profile, error) {
	summaries, err := store.List(ctx)
	if err != nil {
		return Profile{}, fmt.Errorf("profile: lookup %q: %w", name, err)
	}

	match, _, ok := NewResolver(opts...).Resolve(name, summaries)
	if !ok {
		return Profile{}, ErrNotFound
	}
	return store.Get(ctx, match.ID)
}

// Search returns summaries whose names contain query, case-insensitive.
// An empty query returns everything.
func Search(ctx context.Context, store Store, query string) ([]Summary, error) {
	summaries, err := store.List(ctx)
	if err != nil {
		return nil, err
	}
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return summaries, nil
	}

	result := summaries[:0]
	for _, s := range summaries {
		if strings.Contains(strings.ToLower(s.Name), q) {
			result = append(result, s)
		}
	}
	return result, nil
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
// Empty codes (short or vowel-only words) are excluded.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesIntersect reports whether the two code sets share at least one code.
func codesIntersect(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestNameScore computes the highest Jaro-Winkler similarity between the
// query and a candidate name across three comparisons: the full strings,
// the space-stripped strings, and the best pairwise token score.
func bestNameScore(queryTokens, nameTokens []string, queryFull, nameFull string) float64 {
	score := matchr.JaroWinkler(queryFull, nameFull, false)

	if len(queryTokens) > 1 || len(nameTokens) > 1 {
		concat1 := strings.Join(queryTokens, "")
		concat2 := strings.Join(nameTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	for _, qt := range queryTokens {
		for _, nt := range nameTokens {
			if s := matchr.JaroWinkler(qt, nt, false); s > score {
				score = s
			}
		}
	}

	return score
}
