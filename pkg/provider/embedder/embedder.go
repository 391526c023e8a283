// Package embedder defines the Provider interface for speaker embedding
// backends.
//
// An embedding provider wraps a voice model (e.g., a WeSpeaker or ECAPA-TDNN
// server) that maps a span of speech audio to a dense float32 voiceprint.
// Vectors from the same speaker cluster tightly under cosine similarity;
// vectors from different speakers do not. The matcher compares segment
// voiceprints against enrolled profiles, so two properties are load-bearing:
//
//   - Determinism: embedding the same audio twice yields the same vector.
//   - Unit norm: all vectors are L2-normalized, making cosine similarity a
//     plain dot product and keeping scores in [-1, 1].
//
// Implementations must be safe for concurrent use.
package embedder

import "context"

// Provider is the abstraction over any speaker embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different providers
// or models live in different spaces and must never be compared; the profile
// store enforces this with a dimension check at match time.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the voiceprint for a span of 16-bit little-endian mono
	// PCM at the given sample rate. The returned vector has length
	// Dimensions() and unit L2 norm. Identical input yields an identical
	// vector. Returns an error if the backend fails or ctx is cancelled.
	Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider. Constant for the lifetime of the instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier (e.g.,
	// "wespeaker/voxceleb-resnet34"). Useful for logging and for tagging
	// stored profiles with the space they belong to.
	ModelID() string
}
