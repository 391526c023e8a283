package recognition

import (
	"github.com/earshot-audio/earshot/pkg/audio"
)

// DefaultSilenceRMS is the default RMS threshold below which a chunk is
// treated as silence, on the normalized [-1, 1] scale.
const DefaultSilenceRMS = 0.01

// Gate screens chunks by signal energy before any model work. Near-silent
// chunks would only produce noise-floor matches, so they short-circuit the
// pipeline with a SILENCE decision instead of burning diarization and
// embedding cost.
type Gate struct {
	threshold float64
}

// NewGate returns a Gate with the given RMS threshold. A non-positive
// threshold falls back to [DefaultSilenceRMS].
func NewGate(threshold float64) Gate {
	if threshold <= 0 {
		threshold = DefaultSilenceRMS
	}
	return Gate{threshold: threshold}
}

// Threshold returns the configured RMS threshold.
func (g Gate) Threshold() float64 {
	return g.threshold
}

// Check measures the chunk and reports whether it carries enough energy to
// process. The measured levels are returned either way so callers can meter
// the input signal.
func (g Gate) Check(chunk audio.Chunk) (audio.Levels, bool) {
	levels := audio.Measure(chunk.Data)
	return levels, levels.RMS >= g.threshold
}
