package rule

import (
	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

// ConditionType selects the evaluation strategy for a Condition.
type ConditionType string

const (
	ConditionThreshold ConditionType = "threshold"
	ConditionComposite ConditionType = "composite"
	ConditionAnomaly   ConditionType = "anomaly"
	ConditionChange    ConditionType = "change"
)

// Operators accepted by threshold conditions.
const (
	OpGT          = ">"
	OpLT          = "<"
	OpGTE         = ">="
	OpLTE         = "<="
	OpEQ          = "=="
	OpNE          = "!="
	OpContains    = "contains"
	OpNotContains = "not_contains"
)

// Condition is a typed condition tree. Threshold conditions resolve Metric
// (a dotted path) inside the payload and compare it with Value; composite
// conditions combine Children with Logic; anomaly and change conditions
// delegate to pluggable detectors. Conditions are pure functions of the
// payload and have no side effects.
type Condition struct {
	Type     ConditionType `json:"type"`
	Metric   string        `json:"metric,omitempty"`
	Operator string        `json:"operator,omitempty"`
	Value    any           `json:"value,omitempty"`

	// Composite
	Logic    string      `json:"logic,omitempty"` // "AND" or "OR"
	Children []Condition `json:"conditions,omitempty"`

	// Anomaly: multiples of observed deviation tolerated before firing.
	Sensitivity float64 `json:"sensitivity,omitempty"`

	// Change: minimum absolute delta against the previous observation.
	MinDelta float64 `json:"min_delta,omitempty"`
}

// Rule is a declarative alert rule. Immutable at evaluation time; mutated
// only through configuration updates.
type Rule struct {
	ID               string          `json:"id"`
	Name             string          `json:"name"`
	Description      string          `json:"description,omitempty"`
	Condition        Condition       `json:"condition"`
	Severity         domain.Severity `json:"severity"`
	Category         string          `json:"category"`
	Enabled          bool            `json:"enabled"`
	Channels         []string        `json:"channels"`
	CooldownMinutes  int             `json:"cooldown_minutes"`
	EscalationPolicy string          `json:"escalation_policy,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	Filters          map[string]any  `json:"filters,omitempty"`
}
