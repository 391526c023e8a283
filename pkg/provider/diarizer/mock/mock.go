// Package mock provides a test double for the diarizer.Provider interface.
//
// Use Provider to return pre-canned segment lists without a live model and to
// verify which chunks were submitted for diarization.
//
// Example:
//
//	p := &mock.Provider{
//	    SegmentResults: [][]diarizer.Segment{
//	        {{Start: 0, End: 2 * time.Second, Tag: "SPEAKER_00"}},
//	    },
//	}
//	segs, _ := p.Diarize(ctx, chunk)
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
)

// DiarizeCall records a single invocation of Diarize.
type DiarizeCall struct {
	// Ctx is the context passed to Diarize.
	Ctx context.Context
	// Chunk is the chunk passed to Diarize.
	Chunk audio.Chunk
}

// Provider is a mock implementation of diarizer.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// SegmentResults is a queue of segment lists returned by successive
	// Diarize calls. Once exhausted, SegmentResult is returned instead.
	SegmentResults [][]diarizer.Segment

	// SegmentResult is returned by Diarize when SegmentResults is exhausted
	// (or was never set). A nil value yields an empty segment list.
	SegmentResult []diarizer.Segment

	// DiarizeErr, if non-nil, is returned as the error from Diarize.
	DiarizeErr error

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records (read after test) ---

	// DiarizeCalls records every invocation of Diarize in order.
	DiarizeCalls []DiarizeCall

	// ModelIDCallCount is the number of times ModelID was called.
	ModelIDCallCount int
}

// Diarize records the call and returns the next scripted result.
func (p *Provider) Diarize(ctx context.Context, chunk audio.Chunk) ([]diarizer.Segment, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.DiarizeCalls = append(p.DiarizeCalls, DiarizeCall{Ctx: ctx, Chunk: chunk})
	if p.DiarizeErr != nil {
		return nil, p.DiarizeErr
	}
	if len(p.SegmentResults) > 0 {
		next := p.SegmentResults[0]
		p.SegmentResults = p.SegmentResults[1:]
		return next, nil
	}
	return p.SegmentResult, nil
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
	p.DiarizeCalls = nil
	p.ModelIDCallCount = 0
}

// Ensure Provider implements diarizer.Provider at compile time.
var _ diarizer.Provider = (*Provider)(nil)
