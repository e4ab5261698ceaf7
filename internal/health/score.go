package health

import "math"

// Thresholds hold the tunable boundaries used by scoring and classification.
type Thresholds struct {
	CriticalScore  int     // below this the unit is critical
	DegradedScore  int     // below this the unit is degraded
	ErrorRate      float64 // error rate above this deducts from the score
	ResponseTimeMS float64 // response time above this deducts from the score
}

// DefaultThresholds mirrors the built-in configuration defaults.
func DefaultThresholds() Thresholds {
	return Thresholds{
		CriticalScore:  30,
		DegradedScore:  60,
		ErrorRate:      0.05,
		ResponseTimeMS: 5000,
	}
}

// metricsScore starts at 100 and applies a fixed deduction per breached
// metric. Deductions are flat, not proportional: a metric slightly over its
// threshold costs the same as one far over it.
func metricsScore(m Metrics, t Thresholds) int {
	score := 100
	if m.ResponseTimeMS > t.ResponseTimeMS {
		score -= 20
	}
	if m.ErrorRate > t.ErrorRate {
		score -= 25
	}
	if m.MemoryUsage > 0.8 {
		score -= 15
	}
	if m.CPUUsage > 0.7 {
		score -= 15
	}
	if m.DependencyHealth < 0.9 {
		score -= 10
	}
	if score < 0 {
		score = 0
	}
	return score
}

// CompositeScore blends the provider's structural diagnosis with the runtime
// metrics deductions, weighted 70/30 toward the structural side.
func CompositeScore(structural int, m Metrics, t Thresholds) int {
	combined := float64(structural)*0.7 + float64(metricsScore(m, t))*0.3
	score := int(math.Round(combined))
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	return score
}

// Classify maps a score to its status level. A total error rate means the
// unit is unreachable regardless of what the structural score claims.
func Classify(score int, m Metrics, t Thresholds) StatusLevel {
	if score == 0 || m.ErrorRate >= 1.0 {
		return StatusOffline
	}
	if score < t.CriticalScore {
		return StatusCritical
	}
	if score < t.DegradedScore {
		return StatusDegraded
	}
	return StatusHealthy
}
