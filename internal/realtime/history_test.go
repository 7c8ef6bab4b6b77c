package realtime

import (
	"testing"
	"time"
)

func TestRecentFiltersByAge(t *testing.T) {
	h := NewHistory(10 * time.Minute)
	now := time.Now()

	h.Add(Sample{Time: now.Add(-5 * time.Minute), CPUPercent: 10})
	h.Add(Sample{Time: now.Add(-30 * time.Second), CPUPercent: 20})
	h.Add(Sample{Time: now, CPUPercent: 30})

	recent := h.Recent(time.Minute)
	if len(recent) != 2 {
		t.Fatalf("expected 2 recent samples, got %d", len(recent))
	}
	if recent[0].CPUPercent != 20 || recent[1].CPUPercent != 30 {
		t.Errorf("unexpected samples: %+v", recent)
	}
}

func TestAddDropsExpiredSamples(t *testing.T) {
	h := NewHistory(time.Minute)
	now := time.Now()

	h.Add(Sample{Time: now.Add(-5 * time.Minute), CPUPercent: 10})
	h.Add(Sample{Time: now, CPUPercent: 20})

	h.mu.RLock()
	n := len(h.samples)
	h.mu.RUnlock()
	if n != 1 {
		t.Errorf("expected expired sample dropped, have %d samples", n)
	}
}

func TestLatest(t *testing.T) {
	h := NewHistory(time.Minute)

	if _, ok := h.Latest(); ok {
		t.Error("empty history reported a latest sample")
	}

	h.Add(Sample{Time: time.Now(), CPUPercent: 42})
	latest, ok := h.Latest()
	if !ok || latest.CPUPercent != 42 {
		t.Errorf("unexpected latest sample: %+v ok=%v", latest, ok)
	}
}

func TestAverageCPU(t *testing.T) {
	h := NewHistory(time.Minute)
	now := time.Now()

	h.Add(Sample{Time: now.Add(-2 * time.Second), CPUPercent: 10})
	h.Add(Sample{Time: now.Add(-1 * time.Second), CPUPercent: 30})

	if avg := h.AverageCPU(time.Minute); avg != 20 {
		t.Errorf("expected average 20, got %v", avg)
	}
	if avg := h.AverageCPU(0); avg != 0 {
		t.Errorf("expected 0 for empty window, got %v", avg)
	}
}
