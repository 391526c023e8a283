package audio

import "time"

// Frame is a single frame of captured audio flowing from a platform input
// stream toward the chunker. Frames are small (tens of milliseconds) and
// frequent; the recognition pipeline never sees them directly.
type Frame struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz (e.g., 48000 for Discord Opus, 16000 for the pipeline).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo capture.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback duration of the frame's PCM data.
func (f Frame) Duration() time.Duration {
	return pcmDuration(len(f.Data), f.SampleRate, f.Channels)
}

// Chunk is a fixed-window slice of session audio, the unit submitted to the
// recognition pipeline. A chunk's position in the session is tracked by Start
// so that downstream events and errors can reference absolute offsets.
type Chunk struct {
	// PCM audio data, 16-bit signed little-endian.
	Data []byte

	// SampleRate in Hz.
	SampleRate int

	// Channels: 1 for mono. The pipeline operates on mono audio; stereo
	// chunks are downmixed before analysis.
	Channels int

	// Start is the offset of the chunk's first sample from session start.
	Start time.Duration

	// Captured is the wall-clock time the chunk was completed. Informational;
	// ordering and spans always use Start.
	Captured time.Time
}

// Duration returns the playback duration of the chunk's PCM data.
func (c Chunk) Duration() time.Duration {
	return pcmDuration(len(c.Data), c.SampleRate, c.Channels)
}

// End returns the session-relative offset just past the chunk's last sample.
func (c Chunk) End() time.Duration {
	return c.Start + c.Duration()
}

// Slice returns a sub-chunk covering [from, to) expressed as session-relative
// offsets. The bounds are clamped to the chunk and aligned to whole PCM
// frames. The returned chunk shares the underlying array.
func (c Chunk) Slice(from, to time.Duration) Chunk {
	if from < c.Start {
		from = c.Start
	}
	if end := c.End(); to > end {
		to = end
	}
	if to <= from {
		return Chunk{SampleRate: c.SampleRate, Channels: c.Channels, Start: from, Captured: c.Captured}
	}

	frameBytes := 2 * c.Channels
	lo := int(int64(from-c.Start)*int64(c.SampleRate)/int64(time.Second)) * frameBytes
	hi := int(int64(to-c.Start)*int64(c.SampleRate)/int64(time.Second)) * frameBytes
	if hi > len(c.Data) {
		hi = len(c.Data)
	}
	return Chunk{
		Data:       c.Data[lo:hi],
		SampleRate: c.SampleRate,
		Channels:   c.Channels,
		Start:      from,
		Captured:   c.Captured,
	}
}

func pcmDuration(bytes, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := bytes / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
