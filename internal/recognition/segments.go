package recognition

import (
	"time"

	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
)

// MergeShortSegments joins adjacent segments that carry the same speaker tag
// when the pause between them is shorter than maxGap. Diarization backends
// routinely split one utterance around a breath or a filler word; merging
// recovers spans long enough to embed instead of discarding two fragments as
// too short.
//
// segs must be normalized (chronological, non-overlapping). The input is not
// modified.
func MergeShortSegments(segs []diarizer.Segment, maxGap time.Duration) []diarizer.Segment {
	if len(segs) < 2 {
		return segs
	}

	out := make([]diarizer.Segment, 0, len(segs))
	cur := segs[0]
	for _, s := range segs[1:] {
		if s.Tag == cur.Tag && s.Start-cur.End < maxGap {
			cur.End = s.End
			continue
		}
		out = append(out, cur)
		cur = s
	}
	return append(out, cur)
}
