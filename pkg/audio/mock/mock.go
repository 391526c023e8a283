// Package mock provides in-memory mock implementations of the
// [audio.Platform] and [audio.Capture] interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	frames := make(chan audio.Frame, 16)
//	cap := &mock.Capture{
//	    InputStreamsResult: map[string]<-chan audio.Frame{"user-1": frames},
//	}
//	platform := &mock.Platform{ConnectResult: cap}
//	got, err := platform.Connect(ctx, "channel-42")
package mock

import (
	"context"
	"sync"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.Capture].
// Set the exported Result fields before use; inspect the Call* fields after.
type Capture struct {
	mu sync.Mutex

	// InputStreamsResult is returned by [Capture.InputStreams].
	// Defaults to an empty (non-nil) map if left nil.
	InputStreamsResult map[string]<-chan audio.Frame

	// DisconnectError is returned by [Capture.Disconnect].
	DisconnectError error

	// CallCountInputStreams records how many times InputStreams was called.
	CallCountInputStreams int

	// CallCountDisconnect records how many times Disconnect was called.
	CallCountDisconnect int

	// CallCountOnParticipantChange records how many times OnParticipantChange
	// was called.
	CallCountOnParticipantChange int

	callback func(audio.Event)
}

// InputStreams implements [audio.Capture]. Returns a copy of
// InputStreamsResult so tests can mutate the mock between calls; if the
// field is nil, an empty non-nil map is returned.
func (c *Capture) InputStreams() map[string]<-chan audio.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	out := make(map[string]<-chan audio.Frame, len(c.InputStreamsResult))
	for id, ch := range c.InputStreamsResult {
		out[id] = ch
	}
	return out
}

// OnParticipantChange implements [audio.Capture]. The callback replaces any
// previously registered one. To simulate events in tests, call
// [Capture.EmitEvent].
func (c *Capture) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountOnParticipantChange++
	c.callback = cb
}

// Disconnect implements [audio.Capture]. Returns DisconnectError.
func (c *Capture) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// AddStream registers a participant channel, as a platform would on a join.
// Pair with [Capture.EmitEvent] to drive the consumer's stream rescan.
func (c *Capture) AddStream(id string, ch <-chan audio.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InputStreamsResult == nil {
		c.InputStreamsResult = make(map[string]<-chan audio.Frame)
	}
	c.InputStreamsResult[id] = ch
}

// EmitEvent calls the registered participant-change callback with the given
// event. Use this in tests to simulate participants joining or leaving.
func (c *Capture) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(ev)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// ConnectCall records the arguments of a single [Platform.Connect] invocation.
type ConnectCall struct {
	// ChannelID is the channelID argument passed to Connect.
	ChannelID string
}

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the [audio.Capture] returned by Connect.
	ConnectResult audio.Capture

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records all Connect invocations.
	ConnectCalls []ConnectCall
}

// Connect implements [audio.Platform]. Records the call and returns
// ConnectResult / ConnectError.
func (p *Platform) Connect(_ context.Context, channelID string) (audio.Capture, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{ChannelID: channelID})
	return p.ConnectResult, p.ConnectError
}
