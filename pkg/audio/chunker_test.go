package audio_test

import (
	"testing"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

var pipelineFormat = audio.Format{SampleRate: 16000, Channels: 1}

// pushSilence feeds durMs of zero PCM into the chunker in 20 ms frames and
// collects all completed chunks.
func pushSilence(t *testing.T, c *audio.Chunker, durMs int) []audio.Chunk {
	t.Helper()
	var out []audio.Chunk
	frame := make([]byte, 16000*20/1000*2) // 20 ms at 16 kHz mono
	for ms := 0; ms < durMs; ms += 20 {
		out = append(out, c.Push(audio.Frame{
			Data:       frame,
			SampleRate: 16000,
			Channels:   1,
		})...)
	}
	return out
}

func TestChunker_EmitsAtBoundary(t *testing.T) {
	c, err := audio.NewChunker(pipelineFormat, 5*time.Second, 0)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	chunks := pushSilence(t, c, 4980)
	if len(chunks) != 0 {
		t.Fatalf("expected no chunks before 5s of audio, got %d", len(chunks))
	}

	chunks = pushSilence(t, c, 20)
	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 chunk at 5s, got %d", len(chunks))
	}
	if d := chunks[0].Duration(); d != 5*time.Second {
		t.Errorf("chunk duration: got %v, want 5s", d)
	}
	if chunks[0].Start != 0 {
		t.Errorf("first chunk start: got %v, want 0", chunks[0].Start)
	}
}

func TestChunker_StartAdvancesByStride(t *testing.T) {
	c, err := audio.NewChunker(pipelineFormat, 2*time.Second, 500*time.Millisecond)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	chunks := pushSilence(t, c, 6000)
	if len(chunks) < 2 {
		t.Fatalf("expected at least 2 chunks from 6s of audio, got %d", len(chunks))
	}
	// With 2s chunks and 0.5s overlap the stride is 1.5s.
	if chunks[0].Start != 0 {
		t.Errorf("chunk 0 start: got %v, want 0", chunks[0].Start)
	}
	if chunks[1].Start != 1500*time.Millisecond {
		t.Errorf("chunk 1 start: got %v, want 1.5s", chunks[1].Start)
	}
	for _, ch := range chunks {
		if d := ch.Duration(); d != 2*time.Second {
			t.Errorf("chunk duration: got %v, want 2s", d)
		}
	}
}

func TestChunker_OverlapCarriesTail(t *testing.T) {
	c, err := audio.NewChunker(pipelineFormat, 1*time.Second, 250*time.Millisecond)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	// Feed a ramp so overlap content is recognizable: sample value = frame index.
	frameSamples := 16000 * 20 / 1000
	var chunks []audio.Chunk
	for i := 0; i < 100; i++ { // 2s of audio
		samples := make([]int16, frameSamples)
		for j := range samples {
			samples[j] = int16(i)
		}
		chunks = append(chunks, c.Push(audio.Frame{
			Data:       samplesToBytes(samples),
			SampleRate: 16000,
			Channels:   1,
		})...)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	// The last 250 ms of chunk 0 must equal the first 250 ms of chunk 1.
	overlapBytes := 16000 * 250 / 1000 * 2
	tail := chunks[0].Data[len(chunks[0].Data)-overlapBytes:]
	head := chunks[1].Data[:overlapBytes]
	for i := range tail {
		if tail[i] != head[i] {
			t.Fatalf("overlap mismatch at byte %d", i)
		}
	}
}

func TestChunker_FlushReturnsShortTail(t *testing.T) {
	c, err := audio.NewChunker(pipelineFormat, 5*time.Second, 0)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	pushSilence(t, c, 1200)
	if got := c.Buffered(); got != 1200*time.Millisecond {
		t.Errorf("Buffered: got %v, want 1.2s", got)
	}

	tail, ok := c.Flush()
	if !ok {
		t.Fatal("expected a tail chunk from Flush")
	}
	if d := tail.Duration(); d != 1200*time.Millisecond {
		t.Errorf("tail duration: got %v, want 1.2s", d)
	}

	if _, ok := c.Flush(); ok {
		t.Error("second Flush should report no audio")
	}
}

func TestChunker_ConvertsCaptureFormat(t *testing.T) {
	c, err := audio.NewChunker(pipelineFormat, 1*time.Second, 0)
	if err != nil {
		t.Fatalf("NewChunker: %v", err)
	}

	// 48 kHz stereo frames: 20 ms each; 50 frames = 1s of audio after conversion.
	frame := make([]byte, 48000*20/1000*4)
	var chunks []audio.Chunk
	for i := 0; i < 50; i++ {
		chunks = append(chunks, c.Push(audio.Frame{
			Data:       frame,
			SampleRate: 48000,
			Channels:   2,
		})...)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].SampleRate != 16000 || chunks[0].Channels != 1 {
		t.Errorf("chunk format: got %dHz %dch, want 16000Hz 1ch",
			chunks[0].SampleRate, chunks[0].Channels)
	}
}

func TestNewChunker_Validation(t *testing.T) {
	if _, err := audio.NewChunker(audio.Format{}, time.Second, 0); err == nil {
		t.Error("expected error for zero format")
	}
	if _, err := audio.NewChunker(pipelineFormat, 0, 0); err == nil {
		t.Error("expected error for zero chunk duration")
	}
	if _, err := audio.NewChunker(pipelineFormat, time.Second, time.Second); err == nil {
		t.Error("expected error for overlap >= chunk duration")
	}
}
