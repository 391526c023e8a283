package recognition

import "errors"

// ErrInsufficientAudio is returned by Push when a chunk is shorter than the
// minimum duration diarization needs. Local to that chunk; the session keeps
// accepting chunks.
var ErrInsufficientAudio = errors.New("chunk too short for diarization")

// ErrSessionClosed is returned by Push when the session has been stopped.
// Pushing after Stop is a caller bug, not a recoverable condition.
var ErrSessionClosed = errors.New("session closed")

// ErrDimensionMismatch is returned when a segment embedding and a stored
// profile embedding have different lengths. The embedding model and the
// enrolled profiles disagree, every score would be meaningless, so the
// session aborts rather than continue.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// ErrNoProfiles is returned by Start when the store holds no enrolled
// profiles and the session was not created with [WithUnknownOnly]. Matching
// against an empty roster would mark everything UNKNOWN, which is almost
// never what the caller intended.
var ErrNoProfiles = errors.New("no enrolled profiles")
