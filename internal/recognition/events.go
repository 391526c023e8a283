package recognition

import (
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Decision classifies the outcome of one pipeline step.
type Decision string

const (
	// DecisionMatched means a segment scored at or above the session's
	// similarity threshold against an enrolled profile.
	DecisionMatched Decision = "matched"

	// DecisionUnknown means a segment scored below the threshold against
	// every enrolled profile (or no profiles are enrolled).
	DecisionUnknown Decision = "unknown"

	// DecisionSilence means a whole chunk fell below the silence RMS
	// threshold and was never diarized.
	DecisionSilence Decision = "silence"

	// DecisionLowConfidence means a segment was too short to embed reliably,
	// or its embedding could not be extracted. The segment is reported but
	// carries no identity claim.
	DecisionLowConfidence Decision = "low_confidence"
)

// IsValid reports whether d is a recognised decision.
func (d Decision) IsValid() bool {
	switch d {
	case DecisionMatched, DecisionUnknown, DecisionSilence, DecisionLowConfidence:
		return true
	}
	return false
}

// Span is a session-relative time range.
type Span struct {
	Start time.Duration `json:"start"`
	End   time.Duration `json:"end"`
}

// Duration returns the length of the span.
func (s Span) Duration() time.Duration {
	return s.End - s.Start
}

// Event is one recognition outcome: a decision for a diarized segment, or a
// single SILENCE decision for a gated-out chunk. Events are emitted in
// chronological span order and never mutated after emission.
type Event struct {
	// Timestamp is the wall-clock capture time of the chunk that produced
	// this event.
	Timestamp time.Time `json:"timestamp"`

	// Span is the session-relative range the decision covers: the segment
	// for per-segment decisions, the whole chunk for SILENCE.
	Span Span `json:"span"`

	// Tag is the diarizer's anonymous within-chunk speaker label. Empty for
	// SILENCE events. Tags do not carry identity across chunks.
	Tag string `json:"tag,omitempty"`

	// SpeakerID is the matched profile's identity ID. Empty unless the
	// decision is MATCHED.
	SpeakerID string `json:"speaker_id,omitempty"`

	// SpeakerName is the matched profile's display name. Empty unless the
	// decision is MATCHED.
	SpeakerName string `json:"speaker_name,omitempty"`

	// Score is the best cosine similarity over enrolled profiles. UNKNOWN
	// events keep the best score so near-misses are visible to the operator;
	// SILENCE and LOW_CONFIDENCE events score 0.
	Score float64 `json:"score"`

	// Decision classifies the outcome.
	Decision Decision `json:"decision"`

	// Levels holds the chunk's RMS and peak amplitude.
	Levels audio.Levels `json:"levels"`

	// Text is the segment transcript, present only on MATCHED events when
	// the session has a transcriber configured.
	Text string `json:"text,omitempty"`
}
