// Package mixer merges per-participant capture streams into a single mono
// stream. Voice platforms deliver one frame channel per speaking participant;
// recognition wants the room as one signal. The mixer converts every source
// to the pipeline format, sums overlapping speech sample by sample, and emits
// fixed-duration frames on a real-time cadence so downstream chunking sees
// continuous audio whether or not anyone is talking.
package mixer

import (
	"sync"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

const (
	// defaultFrameDuration is the emission cadence. 20 ms matches the opus
	// frame size voice platforms deliver, so a speaking source typically
	// contributes exactly one input frame per output frame.
	defaultFrameDuration = 20 * time.Millisecond

	// defaultBuffer is the output channel capacity in frames.
	defaultBuffer = 64

	// defaultMaxPendingDuration caps how much un-mixed audio a source may
	// buffer. When the consumer stalls past this, the oldest audio is
	// dropped; live capture has no use for stale samples.
	defaultMaxPendingDuration = 2 * time.Second
)

// source tracks one participant's contribution to the mix.
type source struct {
	conv    *audio.FormatConverter
	pending []byte // converted PCM not yet mixed
	done    bool   // input channel closed; remove once pending drains
}

// CaptureMixer is a fan-in for participant audio. Add each participant's
// frame channel with [CaptureMixer.AddSource] and read the merged stream
// from [CaptureMixer.Out].
type CaptureMixer struct {
	target     audio.Format
	frameDur   time.Duration
	maxPending int // bytes per source

	out chan audio.Frame

	mu      sync.Mutex
	sources map[string]*source
	closed  bool
	elapsed time.Duration

	done chan struct{}
	wg   sync.WaitGroup
}

// Option configures a [CaptureMixer] during construction.
type Option func(*CaptureMixer)

// WithFrameDuration sets the emission cadence. Durations that do not divide
// into whole samples are rounded down by the byte math.
func WithFrameDuration(d time.Duration) Option {
	return func(m *CaptureMixer) {
		if d > 0 {
			m.frameDur = d
		}
	}
}

// WithBuffer sets the output channel capacity in frames.
func WithBuffer(n int) Option {
	return func(m *CaptureMixer) {
		if n > 0 {
			m.out = make(chan audio.Frame, n)
		}
	}
}

// New creates a CaptureMixer emitting frames in the target format and starts
// its mix loop. Call [CaptureMixer.Close] to stop it.
func New(target audio.Format, opts ...Option) *CaptureMixer {
	m := &CaptureMixer{
		target:   target,
		frameDur: defaultFrameDuration,
		out:      make(chan audio.Frame, defaultBuffer),
		sources:  make(map[string]*source),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(m)
	}
	m.maxPending = bytesFor(target, defaultMaxPendingDuration)

	m.wg.Add(1)
	go m.run()
	return m
}

// AddSource registers a participant stream under id and starts pumping it
// into the mix. Adding an id that is already live is a no-op, so callers can
// re-scan the platform's stream map on every join event without tracking
// which entries are new. A finished source's id may be reused.
func (m *CaptureMixer) AddSource(id string, ch <-chan audio.Frame) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	if existing, ok := m.sources[id]; ok && !existing.done {
		m.mu.Unlock()
		return
	}
	src := &source{conv: &audio.FormatConverter{Target: m.target}}
	m.sources[id] = src
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pump(src, ch)
}

// pump converts frames from one participant and appends them to the source's
// pending buffer until the channel closes or the mixer shuts down.
func (m *CaptureMixer) pump(src *source, ch <-chan audio.Frame) {
	defer m.wg.Done()
	for {
		select {
		case <-m.done:
			return
		case frame, ok := <-ch:
			if !ok {
				m.mu.Lock()
				src.done = true
				m.mu.Unlock()
				return
			}
			converted := src.conv.Convert(frame)
			if len(converted.Data) == 0 {
				continue
			}
			m.mu.Lock()
			src.pending = append(src.pending, converted.Data...)
			if over := len(src.pending) - m.maxPending; over > 0 {
				src.pending = src.pending[over:]
			}
			m.mu.Unlock()
		}
	}
}

// Out returns the merged stream. The channel is closed by Close.
func (m *CaptureMixer) Out() <-chan audio.Frame { return m.out }

// Sources returns the number of sources that are still delivering audio.
func (m *CaptureMixer) Sources() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, src := range m.sources {
		if !src.done {
			n++
		}
	}
	return n
}

// run emits one mixed frame per tick until Close.
func (m *CaptureMixer) run() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.frameDur)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			frame := m.mix()
			select {
			case m.out <- frame:
			case <-m.done:
				return
			}
		}
	}
}

// mix consumes up to one frame's worth of pending audio from every source
// and sums the overlap. Sources that have finished and drained are removed.
// With nothing pending the result is pure silence; the stream keeps real
// time even in an empty channel.
func (m *CaptureMixer) mix() audio.Frame {
	frameBytes := bytesFor(m.target, m.frameDur)
	data := make([]byte, frameBytes)

	m.mu.Lock()
	for id, src := range m.sources {
		n := min(len(src.pending), frameBytes)
		if n > 0 {
			sumInto(data, src.pending[:n])
			src.pending = src.pending[n:]
		}
		if src.done && len(src.pending) == 0 {
			delete(m.sources, id)
		}
	}
	ts := m.elapsed
	m.elapsed += m.frameDur
	m.mu.Unlock()

	return audio.Frame{
		Data:       data,
		SampleRate: m.target.SampleRate,
		Channels:   m.target.Channels,
		Timestamp:  ts,
	}
}

// Close stops the mix loop, waits for all pumps to exit, and closes the
// output channel. Safe to call more than once.
func (m *CaptureMixer) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.done)
	m.wg.Wait()
	close(m.out)
	return nil
}

// sumInto adds src's int16 samples into dst in place, clamping to the int16
// range. len(src) must not exceed len(dst); both must be even.
func sumInto(dst, src []byte) {
	for i := 0; i+1 < len(src); i += 2 {
		a := int32(int16(dst[i]) | int16(dst[i+1])<<8)
		b := int32(int16(src[i]) | int16(src[i+1])<<8)
		v := a + b
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		dst[i] = byte(v)
		dst[i+1] = byte(v >> 8)
	}
}

// bytesFor returns the PCM16 byte count for d of audio in format f, rounded
// down to a whole sample.
func bytesFor(f audio.Format, d time.Duration) int {
	samples := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return samples * 2 * f.Channels
}
