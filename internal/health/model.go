package health

import (
	"encoding/json"
	"time"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

// StatusLevel is the coarse classification derived from score and metrics.
// It is never set independently of the score.
type StatusLevel string

const (
	StatusHealthy  StatusLevel = "healthy"
	StatusDegraded StatusLevel = "degraded"
	StatusCritical StatusLevel = "critical"
	StatusOffline  StatusLevel = "offline"
)

// Metrics is a numeric snapshot of one unit's runtime behaviour. Produced
// fresh each sampling pass; never mutated after creation.
type Metrics struct {
	ResponseTimeMS   float64 `json:"response_time_ms"`
	ErrorRate        float64 `json:"error_rate"`        // 0..1
	Throughput       float64 `json:"throughput"`        // requests per second
	MemoryUsage      float64 `json:"memory_usage"`      // 0..1
	CPUUsage         float64 `json:"cpu_usage"`         // 0..1
	DiskUsage        float64 `json:"disk_usage"`        // 0..1
	NetworkLatencyMS float64 `json:"network_latency_ms"`
	DependencyHealth float64 `json:"dependency_health"` // 0..1
}

// Issue is an identified problem contributing to a degraded score. Issues
// are owned by the Status reporting them and superseded each pass.
type Issue struct {
	ID              string          `json:"id"`
	Severity        domain.Severity `json:"severity"`
	Category        string          `json:"category"`
	Message         string          `json:"message"`
	FirstSeen       time.Time       `json:"first_seen"`
	LastSeen        time.Time       `json:"last_seen"`
	Occurrences     int             `json:"occurrences"`
	Resolved        bool            `json:"resolved"`
	AutoRecoverable bool            `json:"auto_recoverable"`
}

// Trend is one point of a unit's bounded score history.
type Trend struct {
	Timestamp      time.Time `json:"timestamp"`
	HealthScore    int       `json:"health_score"`
	ErrorRate      float64   `json:"error_rate"`
	ResponseTimeMS float64   `json:"response_time_ms"`
	MemoryUsage    float64   `json:"memory_usage"`
}

// maxTrendEntries bounds each unit's retained history.
const maxTrendEntries = 100

// Status is one unit's result for one sampling pass.
type Status struct {
	UnitID      string      `json:"module_id"`
	HealthScore int         `json:"health_score"` // 0..100
	Status      StatusLevel `json:"status"`
	UptimeSec   float64     `json:"uptime_seconds"`
	Issues      []Issue     `json:"issues,omitempty"`
	Metrics     Metrics     `json:"metrics"`
	CheckedAt   time.Time   `json:"checked_at"`
}

// Payload renders the status as a nested map for rule evaluation, matching
// the JSON field names so rule paths read like the persisted documents.
func (s *Status) Payload() map[string]any {
	data, err := json.Marshal(s)
	if err != nil {
		return map[string]any{"module_id": s.UnitID}
	}
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return map[string]any{"module_id": s.UnitID}
	}
	return payload
}

// SystemHealth aggregates every unit's latest status.
type SystemHealth struct {
	OverallHealth      float64        `json:"overall_health"`
	CountsByStatus     map[string]int `json:"counts_by_status"`
	MeanResponseTimeMS float64        `json:"mean_response_time_ms"`
	UnresolvedIssues   int            `json:"unresolved_issues"`
	MeanUptimeSec      float64        `json:"mean_uptime_seconds"`
}

// Report is the persisted outcome of one full sampling pass.
type Report struct {
	Timestamp       time.Time          `json:"timestamp"`
	OverallHealth   float64            `json:"overall_health"`
	Statuses        map[string]*Status `json:"statuses"`
	ActiveAlerts    int                `json:"active_alerts"`
	ResolvedIssues  int                `json:"resolved_issues"`
	System          SystemHealth       `json:"system"`
	Recommendations []string           `json:"recommendations,omitempty"`
}
