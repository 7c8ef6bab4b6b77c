// Package realtime keeps a short in-memory history of host vitals so the
// console can chart recent resource usage without a metrics backend.
package realtime

import (
	"context"
	"sync"
	"time"

	"opsatlas/internal/inventory"
)

// Sample is one vitals measurement at a point in time
type Sample struct {
	Time       time.Time `json:"time"`
	CPUPercent float64   `json:"cpu_percent"`
	MemPercent float64   `json:"mem_percent"`
}

// History stores vitals samples for a rolling window
type History struct {
	mu      sync.RWMutex
	samples []Sample
	window  time.Duration
}

// NewHistory creates a history keeping samples for the given window
func NewHistory(window time.Duration) *History {
	if window <= 0 {
		window = 10 * time.Minute
	}
	return &History{
		samples: make([]Sample, 0, 128),
		window:  window,
	}
}

// Add records a sample and drops anything older than the window
func (h *History) Add(s Sample) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.samples = append(h.samples, s)

	cutoff := time.Now().Add(-h.window)
	start := 0
	for i, sample := range h.samples {
		if sample.Time.After(cutoff) {
			start = i
			break
		}
	}
	if start > 0 {
		h.samples = h.samples[start:]
	}
}

// Recent returns samples from the last duration, oldest first
func (h *History) Recent(duration time.Duration) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := time.Now().Add(-duration)
	var result []Sample
	for _, sample := range h.samples {
		if sample.Time.After(cutoff) {
			result = append(result, sample)
		}
	}
	return result
}

// Latest returns the most recent sample
func (h *History) Latest() (Sample, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.samples) == 0 {
		return Sample{}, false
	}
	return h.samples[len(h.samples)-1], true
}

// AverageCPU returns the mean CPU usage over the last duration
func (h *History) AverageCPU(duration time.Duration) float64 {
	samples := h.Recent(duration)
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += s.CPUPercent
	}
	return sum / float64(len(samples))
}

// Collect polls host vitals on the given interval until the context is
// cancelled, recording each reading into the history.
func (h *History) Collect(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			vitals, err := inventory.GetVitals()
			if err != nil {
				continue
			}
			h.Add(Sample{
				Time:       time.Now(),
				CPUPercent: vitals.CPUPercent,
				MemPercent: vitals.MemPercent,
			})
		}
	}
}
