package resilience

import (
	"context"
	"fmt"

	"github.com/earshot-audio/earshot/pkg/provider/embedder"
)

// EmbedderFallback implements [embedder.Provider] with automatic failover
// across multiple embedding backends. Each backend has its own circuit
// breaker; when the primary fails or its breaker is open, the next healthy
// fallback is tried.
//
// Every backend in the group must produce vectors of the same dimensionality.
// Enrolled profiles are compared against whichever backend served a call, so
// a dimension change mid-group would surface as a fatal mismatch deep in the
// matching pipeline; [EmbedderFallback.AddFallback] rejects it up front.
type EmbedderFallback struct {
	group *FallbackGroup[embedder.Provider]
	dims  int
}

// Compile-time interface assertion.
var _ embedder.Provider = (*EmbedderFallback)(nil)

// NewEmbedderFallback creates an [EmbedderFallback] with primary as the
// preferred backend.
func NewEmbedderFallback(primary embedder.Provider, primaryName string, cfg FallbackConfig) *EmbedderFallback {
	return &EmbedderFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
		dims:  primary.Dimensions(),
	}
}

// AddFallback registers an additional embedding provider as a fallback.
// Returns an error if the provider's vector dimensionality differs from the
// primary's.
func (f *EmbedderFallback) AddFallback(name string, provider embedder.Provider) error {
	if d := provider.Dimensions(); d != f.dims {
		return fmt.Errorf("resilience: embedder %q produces %d-dim vectors, group requires %d", name, d, f.dims)
	}
	f.group.AddFallback(name, provider)
	return nil
}

// Embed computes the voiceprint using the first healthy backend. If the
// primary fails, subsequent fallbacks are tried.
func (f *EmbedderFallback) Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	return ExecuteWithResult(f.group, func(p embedder.Provider) ([]float32, error) {
		return p.Embed(ctx, pcm, sampleRate)
	})
}

// Dimensions returns the vector dimensionality shared by every backend in
// the group.
func (f *EmbedderFallback) Dimensions() int { return f.dims }

// ModelID returns the primary backend's model identifier. Calls served by a
// fallback during a failover window still report the primary's ID; the
// per-entry logs name the backend that actually served each call.
func (f *EmbedderFallback) ModelID() string {
	return f.group.entries[0].value.ModelID()
}
