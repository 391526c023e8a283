package recognition

import (
	"sort"
	"sync"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// levelSample is one gate measurement with its chunk's capture time.
type levelSample struct {
	at     time.Time
	levels audio.Levels
}

// LevelRing keeps the most recent gate measurements in a fixed-size ring so
// the stats surface can show live input metering without the session
// retaining unbounded history. Safe for concurrent use.
type LevelRing struct {
	mu   sync.Mutex
	buf  []levelSample
	next int
	full bool
}

// NewLevelRing returns a ring holding the last capacity measurements. A
// non-positive capacity defaults to 120 (ten minutes of 5-second chunks).
func NewLevelRing(capacity int) *LevelRing {
	if capacity <= 0 {
		capacity = 120
	}
	return &LevelRing{buf: make([]levelSample, capacity)}
}

// Record stores one measurement, evicting the oldest when full.
func (r *LevelRing) Record(at time.Time, levels audio.Levels) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buf[r.next] = levelSample{at: at, levels: levels}
	r.next = (r.next + 1) % len(r.buf)
	if r.next == 0 {
		r.full = true
	}
}

// LevelSnapshot summarizes the ring's current contents.
type LevelSnapshot struct {
	// Count is the number of measurements in the window.
	Count int `json:"count"`

	// Last is the most recent measurement.
	Last audio.Levels `json:"last"`

	// LastAt is the capture time of the most recent measurement.
	LastAt time.Time `json:"last_at,omitempty"`

	// RMSMedian and RMSP95 are the 50th and 95th percentile RMS over the
	// window.
	RMSMedian float64 `json:"rms_median"`
	RMSP95    float64 `json:"rms_p95"`

	// PeakMax is the largest peak amplitude in the window.
	PeakMax float64 `json:"peak_max"`
}

// Snapshot computes percentile statistics over the recorded window. An empty
// ring yields a zero snapshot.
func (r *LevelRing) Snapshot() LevelSnapshot {
	r.mu.Lock()
	n := len(r.buf)
	if !r.full {
		n = r.next
	}
	if n == 0 {
		r.mu.Unlock()
		return LevelSnapshot{}
	}
	samples := make([]levelSample, 0, n)
	if r.full {
		samples = append(samples, r.buf[r.next:]...)
	}
	samples = append(samples, r.buf[:r.next]...)
	r.mu.Unlock()

	snap := LevelSnapshot{
		Count:  len(samples),
		Last:   samples[len(samples)-1].levels,
		LastAt: samples[len(samples)-1].at,
	}

	rms := make([]float64, len(samples))
	for i, s := range samples {
		rms[i] = s.levels.RMS
		if s.levels.Peak > snap.PeakMax {
			snap.PeakMax = s.levels.Peak
		}
	}
	sort.Float64s(rms)
	snap.RMSMedian = percentile(rms, 0.50)
	snap.RMSP95 = percentile(rms, 0.95)
	return snap
}

// percentile reads the p-quantile from an ascending slice using
// nearest-rank.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}
