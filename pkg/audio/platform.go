// Package audio defines the chunk and frame types flowing through the
// recognition pipeline, the conversions between capture and analysis formats,
// and the capture-platform interfaces.
//
// The two capture abstractions are:
//
//   - [Platform] — connects to a voice channel and returns a [Capture].
//   - [Capture] — an active listen-only session on that channel, giving
//     callers per-participant input streams and lifecycle events.
//
// Implementations of these interfaces live in platform-specific adapter
// packages (e.g., audio/discord). The interfaces are intentionally narrow:
// the identification service only ever listens, so there is no output side.
//
// This package lives under pkg/ because external code (third-party capture
// adapters) is expected to implement [Platform] and [Capture].
package audio

import (
	"context"
)

// EventType classifies participant lifecycle events emitted by a [Capture].
type EventType int

const (
	// EventJoin is emitted when a participant enters the voice channel.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the voice channel.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change on a voice channel.
// Callbacks registered via [Capture.OnParticipantChange] receive values of
// this type.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// UserID is the platform-specific unique identifier for the participant.
	UserID string

	// Username is the human-readable display name of the participant.
	Username string
}

// Capture represents an active listen-only session on a voice channel.
//
// A Capture is obtained by calling [Platform.Connect] and remains valid
// until [Capture.Disconnect] is called. All channels returned by Capture
// methods are closed automatically when the capture terminates.
//
// Implementations must be safe for concurrent use.
type Capture interface {
	// InputStreams returns a snapshot of the current per-participant audio
	// channels. The map key is the platform-specific participant ID; the
	// value is a read-only channel that delivers [Frame] values as they
	// arrive from that participant. A new entry appears for each joining
	// participant and is removed (channel closed) when that participant
	// leaves.
	//
	// Callers should call InputStreams again after receiving an [EventJoin]
	// event to pick up newly added channels.
	InputStreams() map[string]<-chan Frame

	// OnParticipantChange registers cb as the callback to invoke whenever a
	// participant joins or leaves the channel. Only one callback may be
	// registered at a time; subsequent calls replace the previous
	// registration. The callback is invoked on an internal goroutine —
	// callers must not block.
	OnParticipantChange(cb func(Event))

	// Disconnect cleanly tears down the capture, drains pending frames, and
	// closes all channels. It is safe to call Disconnect more than once;
	// subsequent calls are no-ops and return nil.
	Disconnect() error
}

// Platform is the entry point for a voice-channel capture provider.
// Implementations wrap provider-specific SDKs (Discord, …) and expose a
// uniform [Capture] abstraction.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the voice channel identified by channelID and returns an
	// active [Capture]. The supplied ctx governs the lifetime of the
	// connection attempt only; once connected, the Capture remains alive
	// until [Capture.Disconnect] is called explicitly.
	//
	// Returns an error if the connection cannot be established (auth
	// failure, unknown channel, network error, etc.).
	Connect(ctx context.Context, channelID string) (Capture, error)
}
