package recognition_test

import (
	"sync"
	"testing"
	"time"

	"github.com/earshot-audio/earshot/internal/recognition"
	"github.com/earshot-audio/earshot/pkg/audio"
)

func TestLevelRingEmpty(t *testing.T) {
	t.Parallel()

	snap := recognition.NewLevelRing(8).Snapshot()
	if snap.Count != 0 {
		t.Errorf("Count = %d, want 0", snap.Count)
	}
	if snap.PeakMax != 0 || snap.RMSMedian != 0 {
		t.Errorf("expected a zero snapshot, got %+v", snap)
	}
	if !snap.LastAt.IsZero() {
		t.Errorf("LastAt = %v, want zero", snap.LastAt)
	}
}

func TestLevelRingPartiallyFilled(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ring := recognition.NewLevelRing(8)
	ring.Record(base, audio.Levels{RMS: 0.1, Peak: 0.2})
	ring.Record(base.Add(5*time.Second), audio.Levels{RMS: 0.3, Peak: 0.6})
	ring.Record(base.Add(10*time.Second), audio.Levels{RMS: 0.2, Peak: 0.4})

	snap := ring.Snapshot()
	if snap.Count != 3 {
		t.Errorf("Count = %d, want 3", snap.Count)
	}
	if snap.Last.RMS != 0.2 {
		t.Errorf("Last.RMS = %v, want 0.2", snap.Last.RMS)
	}
	if !snap.LastAt.Equal(base.Add(10 * time.Second)) {
		t.Errorf("LastAt = %v, want %v", snap.LastAt, base.Add(10*time.Second))
	}
	if snap.RMSMedian != 0.2 {
		t.Errorf("RMSMedian = %v, want 0.2", snap.RMSMedian)
	}
	if snap.PeakMax != 0.6 {
		t.Errorf("PeakMax = %v, want 0.6", snap.PeakMax)
	}
}

func TestLevelRingEvictsOldest(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ring := recognition.NewLevelRing(4)
	for i := 1; i <= 6; i++ {
		ring.Record(base.Add(time.Duration(i)*time.Second), audio.Levels{
			RMS:  float64(i) / 10,
			Peak: float64(i) / 10,
		})
	}

	// The window now holds samples 3..6; 1 and 2 were evicted.
	snap := ring.Snapshot()
	if snap.Count != 4 {
		t.Errorf("Count = %d, want 4", snap.Count)
	}
	if snap.Last.RMS != 0.6 {
		t.Errorf("Last.RMS = %v, want 0.6", snap.Last.RMS)
	}
	if !snap.LastAt.Equal(base.Add(6 * time.Second)) {
		t.Errorf("LastAt = %v, want %v", snap.LastAt, base.Add(6*time.Second))
	}
	if snap.RMSMedian != 0.4 {
		t.Errorf("RMSMedian = %v, want 0.4", snap.RMSMedian)
	}
	if snap.PeakMax != 0.6 {
		t.Errorf("PeakMax = %v, want 0.6", snap.PeakMax)
	}
}

func TestLevelRingPercentiles(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ring := recognition.NewLevelRing(32)
	for i := 1; i <= 20; i++ {
		ring.Record(base.Add(time.Duration(i)*time.Second), audio.Levels{
			RMS:  float64(i) / 100,
			Peak: float64(i) / 100,
		})
	}

	snap := ring.Snapshot()
	if snap.RMSMedian != 0.10 {
		t.Errorf("RMSMedian = %v, want 0.10", snap.RMSMedian)
	}
	if snap.RMSP95 != 0.19 {
		t.Errorf("RMSP95 = %v, want 0.19", snap.RMSP95)
	}
	if snap.PeakMax != 0.20 {
		t.Errorf("PeakMax = %v, want 0.20", snap.PeakMax)
	}
}

func TestLevelRingDefaultCapacity(t *testing.T) {
	t.Parallel()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ring := recognition.NewLevelRing(0)
	for i := 0; i < 150; i++ {
		ring.Record(base.Add(time.Duration(i)*time.Second), audio.Levels{RMS: 0.1, Peak: 0.1})
	}

	if got := ring.Snapshot().Count; got != 120 {
		t.Errorf("Count = %d, want the 120-sample default window", got)
	}
}

func TestLevelRingConcurrentAccess(t *testing.T) {
	t.Parallel()

	ring := recognition.NewLevelRing(16)
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				ring.Record(time.Now(), audio.Levels{RMS: 0.1, Peak: 0.2})
			} else {
				ring.Snapshot()
			}
		}(i)
	}
	wg.Wait()

	snap := ring.Snapshot()
	if snap.Count == 0 {
		t.Error("expected recorded samples after concurrent writes")
	}
}
