package alert

import (
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

// Status is the lifecycle state of an alert. Transitions:
// active -> acknowledged | resolved | suppressed, acknowledged -> resolved.
// Resolved and suppressed are terminal for escalation purposes.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusSuppressed   Status = "suppressed"
)

// Alert is a stateful incident record derived from a rule firing against a
// unit's health payload. At most one active alert exists per (rule, unit)
// pair; a repeat trigger merges details into the existing alert.
type Alert struct {
	ID               uuid.UUID       `json:"id"`
	RuleID           string          `json:"rule_id"`
	Severity         domain.Severity `json:"severity"`
	Category         string          `json:"category"`
	UnitID           string          `json:"unit_id"`
	Title            string          `json:"title"`
	Message          string          `json:"message"`
	Details          map[string]any  `json:"details,omitempty"`
	Status           Status          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	AcknowledgedBy   string          `json:"acknowledged_by,omitempty"`
	AcknowledgedAt   *time.Time      `json:"acknowledged_at,omitempty"`
	ResolvedAt       *time.Time      `json:"resolved_at,omitempty"`
	SuppressedUntil  *time.Time      `json:"suppressed_until,omitempty"`
	EscalationLevel  int             `json:"escalation_level"`
	EscalationPolicy string          `json:"escalation_policy,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
}

func (a *Alert) clone() *Alert {
	c := *a
	if a.Details != nil {
		c.Details = make(map[string]any, len(a.Details))
		for k, v := range a.Details {
			c.Details[k] = v
		}
	}
	c.Tags = append([]string(nil), a.Tags...)
	return &c
}

// Filter narrows List results. Zero values mean "any". Severity matches
// exactly; MinSeverity keeps alerts at or above the given rank.
type Filter struct {
	Status      Status
	Severity    domain.Severity
	MinSeverity domain.Severity
	Category    string
	UnitID      string
	RuleID      string
	Since       time.Time
}

func (f Filter) matches(a *Alert) bool {
	if f.Status != "" && a.Status != f.Status {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.MinSeverity != "" && a.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if f.Category != "" && a.Category != f.Category {
		return false
	}
	if f.UnitID != "" && a.UnitID != f.UnitID {
		return false
	}
	if f.RuleID != "" && a.RuleID != f.RuleID {
		return false
	}
	if !f.Since.IsZero() && a.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

// Stats summarises the alert table for dashboards.
type Stats struct {
	Total                 int            `json:"total"`
	ByStatus              map[string]int `json:"by_status"`
	BySeverity            map[string]int `json:"by_severity"`
	ByCategory            map[string]int `json:"by_category"`
	ByUnit                map[string]int `json:"by_unit"`
	CreatedLast24h        int            `json:"created_last_24h"`
	MeanResolutionMinutes float64        `json:"mean_resolution_minutes"`
}
