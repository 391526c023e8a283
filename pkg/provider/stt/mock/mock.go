// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to return pre-canned transcripts without a live backend
// and to verify which clips were submitted for transcription.
//
// Example:
//
//	tr := &mock.Transcriber{
//	    TranscribeResult: stt.Transcript{Text: "hello there"},
//	}
//	got, _ := tr.Transcribe(ctx, pcm, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	// Ctx is the context passed to Transcribe.
	Ctx context.Context
	// PCM is the clip passed to Transcribe (not copied).
	PCM []byte
	// SampleRate is the rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// TranscribeResults is a queue of transcripts returned by successive
	// Transcribe calls. Once exhausted, TranscribeResult is returned instead.
	TranscribeResults []stt.Transcript

	// TranscribeResult is returned by Transcribe when TranscribeResults is
	// exhausted (or was never set).
	TranscribeResult stt.Transcript

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records (read after test) ---

	// TranscribeCalls records every invocation of Transcribe in order.
	TranscribeCalls []TranscribeCall

	// ModelIDCallCount is the number of times ModelID was called.
	ModelIDCallCount int
}

// Transcribe records the call and returns the next scripted transcript.
func (m *Transcriber) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (stt.Transcript, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls = append(m.TranscribeCalls, TranscribeCall{Ctx: ctx, PCM: pcm, SampleRate: sampleRate})
	if m.TranscribeErr != nil {
		return stt.Transcript{}, m.TranscribeErr
	}
	if len(m.TranscribeResults) > 0 {
		next := m.TranscribeResults[0]
		m.TranscribeResults = m.TranscribeResults[1:]
		return next, nil
	}
	return m.TranscribeResult, nil
}

// ModelID records the call and returns ModelIDValue.
func (m *Transcriber) ModelID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ModelIDCallCount++
	return m.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TranscribeCalls = nil
	m.ModelIDCallCount = 0
}

// Ensure Transcriber implements stt.Transcriber at compile time.
var _ stt.Transcriber = (*Transcriber)(nil)
