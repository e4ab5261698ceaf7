package rule

import (
	"sync"
)

// AnomalyDetector decides whether a value deviates abnormally from what has
// been observed for the same key. Implementations may keep history per key.
type AnomalyDetector interface {
	Anomalous(key string, value, sensitivity float64) bool
}

// ChangeDetector decides whether a value moved by at least minDelta since the
// previous observation for the same key.
type ChangeDetector interface {
	Changed(key string, value, minDelta float64) bool
}

// rollingDetector is the default heuristic for both anomaly and change
// conditions: a rolling mean with a fixed window. It is a documented
// placeholder — the engine takes the detectors as interfaces precisely so a
// statistical implementation can replace this one without touching the
// engine's control flow.
type rollingDetector struct {
	mu      sync.Mutex
	window  int
	samples map[string][]float64
	last    map[string]float64
	seen    map[string]bool
}

// NewRollingDetector returns the default detector with the given window size.
func NewRollingDetector(window int) interface {
	AnomalyDetector
	ChangeDetector
} {
	if window <= 0 {
		window = 20
	}
	return &rollingDetector{
		window:  window,
		samples: make(map[string][]float64),
		last:    make(map[string]float64),
		seen:    make(map[string]bool),
	}
}

// Anomalous fires when the value deviates from the rolling mean by more than
// sensitivity times the mean absolute deviation. The first few observations
// only prime the window.
func (d *rollingDetector) Anomalous(key string, value, sensitivity float64) bool {
	if sensitivity <= 0 {
		sensitivity = 3
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	history := d.samples[key]
	defer func() {
		history = append(history, value)
		if len(history) > d.window {
			history = history[len(history)-d.window:]
		}
		d.samples[key] = history
	}()

	if len(history) < 5 {
		return false
	}

	var mean float64
	for _, v := range history {
		mean += v
	}
	mean /= float64(len(history))

	var mad float64
	for _, v := range history {
		mad += abs(v - mean)
	}
	mad /= float64(len(history))
	if mad == 0 {
		mad = 1
	}

	return abs(value-mean) > sensitivity*mad
}

// Changed fires when the value moved by at least minDelta since the previous
// observation. The first observation never fires.
func (d *rollingDetector) Changed(key string, value, minDelta float64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	prev := d.last[key]
	seen := d.seen[key]
	d.last[key] = value
	d.seen[key] = true

	if !seen {
		return false
	}
	return abs(value-prev) >= minDelta
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
