// Package diarizer defines the Provider interface for speaker diarization
// backends.
//
// A diarization provider wraps a model or service (e.g., pyannote.audio) that
// partitions an audio chunk into speech segments, each carrying an anonymous
// within-chunk speaker tag. Tags are only stable inside a single chunk: the
// same physical speaker may be SPEAKER_00 in one chunk and SPEAKER_01 in the
// next. Cross-chunk identity is established downstream by embedding matching,
// never by tag.
//
// Implementations must be safe for concurrent use.
package diarizer

import (
	"context"
	"sort"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Segment is a contiguous span of speech attributed to one anonymous speaker
// tag. Offsets are relative to the start of the chunk that produced it.
type Segment struct {
	// Start is the offset of the segment's first sample from chunk start.
	Start time.Duration

	// End is the offset just past the segment's last sample. End > Start for
	// any valid segment.
	End time.Duration

	// Tag is the anonymous within-chunk speaker label (e.g., "SPEAKER_00").
	Tag string
}

// Duration returns the length of the segment.
func (s Segment) Duration() time.Duration {
	return s.End - s.Start
}

// Provider is the abstraction over any diarization backend.
//
// Diarize partitions chunk into speech segments. An empty result with a nil
// error is a valid outcome: it means the backend found voiced audio but no
// attributable speech turns (crosstalk, music, applause). Callers must treat
// that case as "no segments", not as a failure and not as silence.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Diarize analyses chunk and returns its speech segments in chronological
	// order. Segment offsets are relative to the chunk. Returns an error if
	// the backend fails or ctx is cancelled.
	Diarize(ctx context.Context, chunk audio.Chunk) ([]Segment, error)

	// ModelID returns the provider-specific model identifier (e.g.,
	// "pyannote/speaker-diarization-3.1"). Useful for logging.
	ModelID() string
}

// Normalize returns a cleaned copy of segs suitable for pipeline consumption:
// sorted by start, clamped to [0, max], overlaps resolved by trimming the
// later segment's start, and empty segments dropped. Backends vary in how
// strictly they honor these properties, so the pipeline normalizes centrally
// rather than trusting each one.
func Normalize(segs []Segment, max time.Duration) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		if s.Start < 0 {
			s.Start = 0
		}
		if s.End > max {
			s.End = max
		}
		if s.End > s.Start {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })

	cleaned := out[:0]
	var prevEnd time.Duration
	for _, s := range out {
		if s.Start < prevEnd {
			s.Start = prevEnd
		}
		if s.End <= s.Start {
			continue
		}
		cleaned = append(cleaned, s)
		prevEnd = s.End
	}
	return cleaned
}
