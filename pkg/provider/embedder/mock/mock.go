// Package mock provides a test double for the embedder.Provider interface.
//
// Use Provider to return pre-canned voiceprint vectors without a live model
// and to verify which audio spans were submitted for embedding.
//
// Example:
//
//	p := &mock.Provider{
//	    EmbedResults:    [][]float32{{1, 0, 0}, {0, 1, 0}},
//	    DimensionsValue: 3,
//	    ModelIDValue:    "test-voice-v1",
//	}
//	vec, _ := p.Embed(ctx, pcm, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/provider/embedder"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Ctx is the context passed to Embed.
	Ctx context.Context
	// PCM is the audio span passed to Embed (not copied).
	PCM []byte
	// SampleRate is the rate passed to Embed.
	SampleRate int
}

// Provider is a mock implementation of embedder.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EmbedResults is a queue of vectors returned by successive Embed calls.
	// Once exhausted, EmbedResult is returned instead.
	EmbedResults [][]float32

	// EmbedResult is returned by Embed when EmbedResults is exhausted (or was
	// never set). If nil, a zero-length slice is returned.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records (read after test) ---

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall

	// DimensionsCallCount is the number of times Dimensions was called.
	DimensionsCallCount int

	// ModelIDCallCount is the number of times ModelID was called.
	ModelIDCallCount int
}

// Embed records the call and returns the next scripted vector.
func (p *Provider) Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, PCM: pcm, SampleRate: sampleRate})
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if len(p.EmbedResults) > 0 {
		next := p.EmbedResults[0]
		p.EmbedResults = p.EmbedResults[1:]
		return next, nil
	}
	return p.EmbedResult, nil
}

// Dimensions records the call and returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DimensionsCallCount++
	return p.DimensionsValue
}

// ModelID records the call and returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ModelIDCallCount++
	return p.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.DimensionsCallCount = 0
	p.ModelIDCallCount = 0
}

// Ensure Provider implements embedder.Provider at compile time.
var _ embedder.Provider = (*Provider)(nil)
