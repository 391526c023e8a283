package audio

import (
	"errors"
	"fmt"
	"time"
)

// Chunker assembles capture frames into fixed-duration pipeline chunks,
// converting to the target format on the way in. A configurable overlap is
// carried from the tail of each emitted chunk into the next so that speech
// spanning a chunk boundary is not cut mid-word.
//
// Not safe for concurrent use; feed it from a single goroutine.
type Chunker struct {
	target      Format
	chunkBytes  int
	strideBytes int
	conv        FormatConverter

	buf   []byte
	start time.Duration
}

// NewChunker creates a chunker that emits chunks of chunkDur in the target
// format, overlapping consecutive chunks by overlap. overlap must be shorter
// than chunkDur; zero disables overlap entirely.
func NewChunker(target Format, chunkDur, overlap time.Duration) (*Chunker, error) {
	if target.SampleRate <= 0 || target.Channels <= 0 {
		return nil, fmt.Errorf("audio: invalid chunker target format %s", target)
	}
	if chunkDur <= 0 {
		return nil, errors.New("audio: chunk duration must be positive")
	}
	if overlap < 0 || overlap >= chunkDur {
		return nil, fmt.Errorf("audio: overlap %v must be in [0, %v)", overlap, chunkDur)
	}
	frameBytes := 2 * target.Channels
	chunkBytes := durationBytes(chunkDur, target) / frameBytes * frameBytes
	overlapBytes := durationBytes(overlap, target) / frameBytes * frameBytes
	return &Chunker{
		target:      target,
		chunkBytes:  chunkBytes,
		strideBytes: chunkBytes - overlapBytes,
		conv:        FormatConverter{Target: target},
	}, nil
}

// Push feeds one capture frame into the chunker and returns any chunks
// completed by it, in order. Most calls return nil; a call that crosses a
// chunk boundary returns one chunk (or, for very large frames, several).
func (c *Chunker) Push(frame Frame) []Chunk {
	converted := c.conv.Convert(frame)
	if len(converted.Data) == 0 {
		return nil
	}
	c.buf = append(c.buf, converted.Data...)

	var out []Chunk
	for len(c.buf) >= c.chunkBytes {
		out = append(out, c.emit(c.buf[:c.chunkBytes]))

		// Retain the overlap tail in a fresh backing array so the emitted
		// chunk's data can never be clobbered by later appends.
		rest := make([]byte, len(c.buf)-c.strideBytes)
		copy(rest, c.buf[c.strideBytes:])
		c.buf = rest
		c.start += pcmDuration(c.strideBytes, c.target.SampleRate, c.target.Channels)
	}
	return out
}

// Flush returns whatever audio remains buffered as a final, possibly short,
// chunk and resets the chunker. The second return is false when the buffer
// held no audio. Short trailing chunks are emitted as-is; the pipeline
// reports them as insufficient rather than silently dropping tail speech.
func (c *Chunker) Flush() (Chunk, bool) {
	if len(c.buf) == 0 {
		return Chunk{}, false
	}
	chunk := c.emit(c.buf)
	c.buf = nil
	c.start = chunk.End()
	return chunk, true
}

// Buffered returns the duration of audio currently held back.
func (c *Chunker) Buffered() time.Duration {
	return pcmDuration(len(c.buf), c.target.SampleRate, c.target.Channels)
}

func (c *Chunker) emit(pcm []byte) Chunk {
	data := make([]byte, len(pcm))
	copy(data, pcm)
	return Chunk{
		Data:       data,
		SampleRate: c.target.SampleRate,
		Channels:   c.target.Channels,
		Start:      c.start,
		Captured:   time.Now(),
	}
}

func durationBytes(d time.Duration, f Format) int {
	return int(int64(d)*int64(f.SampleRate)/int64(time.Second)) * 2 * f.Channels
}
