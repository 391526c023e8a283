package audio

import (
	"encoding/binary"
	"math"
)

// Levels holds per-chunk signal measurements on the normalized [-1, 1] scale.
// RMS is the root-mean-square energy; Peak is the largest absolute sample.
type Levels struct {
	RMS  float64
	Peak float64
}

// Measure computes signal levels for a 16-bit signed little-endian PCM buffer.
// Returns zero levels for buffers shorter than one sample. Samples are
// normalized by 32768 so a full-scale sine measures RMS ≈ 0.707, Peak ≈ 1.0.
func Measure(pcm []byte) Levels {
	n := len(pcm) / 2
	if n == 0 {
		return Levels{}
	}
	var sum, peak float64
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		v := float64(s) / 32768.0
		sum += v * v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}
	return Levels{
		RMS:  math.Sqrt(sum / float64(n)),
		Peak: peak,
	}
}
