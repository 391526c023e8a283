package resilience

import (
	"context"

	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
)

// DiarizerFallback implements [diarizer.Provider] with automatic failover
// across multiple diarization backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
type DiarizerFallback struct {
	group *FallbackGroup[diarizer.Provider]
}

// Compile-time interface assertion.
var _ diarizer.Provider = (*DiarizerFallback)(nil)

// NewDiarizerFallback creates a [DiarizerFallback] with primary as the
// preferred backend.
func NewDiarizerFallback(primary diarizer.Provider, primaryName string, cfg FallbackConfig) *DiarizerFallback {
	return &DiarizerFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional diarization provider as a fallback.
func (f *DiarizerFallback) AddFallback(name string, provider diarizer.Provider) {
	f.group.AddFallback(name, provider)
}

// Diarize analyses the chunk using the first healthy backend. If the primary
// fails, subsequent fallbacks are tried. Different backends may label the
// same voice with different tags; tags are only stable within one provider,
// which holds within a chunk since exactly one backend serves each call.
func (f *DiarizerFallback) Diarize(ctx context.Context, chunk audio.Chunk) ([]diarizer.Segment, error) {
	return ExecuteWithResult(f.group, func(p diarizer.Provider) ([]diarizer.Segment, error) {
		return p.Diarize(ctx, chunk)
	})
}

// ModelID returns the primary backend's model identifier.
func (f *DiarizerFallback) ModelID() string {
	return f.group.entries[0].value.ModelID()
}
