// Package stt defines the Transcriber interface for speech-to-text backends.
//
// Unlike live captioning systems, speaker identification only ever needs text
// for short, already-bounded spans: once a segment has been matched to an
// enrolled identity, the session can attach what that speaker said. The
// contract is therefore batch per clip rather than streaming — the caller
// hands over a complete PCM span and receives one Transcript back.
//
// Implementations must be safe for concurrent use.
package stt

import "context"

// Transcript is the text recovered from a single audio clip.
type Transcript struct {
	// Text is the transcribed speech content, whitespace-trimmed. May be
	// empty when the clip contains no recoverable words.
	Text string

	// Language is the BCP-47 language the backend detected or was told to
	// use. Empty if the backend does not report it.
	Language string

	// Confidence is the overall confidence score (0.0–1.0). Zero if the
	// backend does not report confidence.
	Confidence float64
}

// Transcriber is the abstraction over any clip transcription backend.
//
// Implementations must be safe for concurrent use; the session controller
// may transcribe segments from multiple sessions simultaneously.
type Transcriber interface {
	// Transcribe converts a clip of 16-bit little-endian mono PCM at the
	// given sample rate to text. Returns an error if the backend fails or
	// ctx is cancelled. An empty Transcript with a nil error means the clip
	// held no recognizable speech.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (Transcript, error)

	// ModelID returns the provider-specific model identifier (e.g.,
	// "whisper-1", "base.en"). Useful for logging.
	ModelID() string
}
