package rule

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

func testEngine() *Engine {
	return NewEngine(nil, nil, slog.Default())
}

func statusPayload(unitID string, score float64, extra map[string]any) map[string]any {
	payload := map[string]any{
		"module_id":    unitID,
		"health_score": score,
		"status":       "healthy",
		"metrics": map[string]any{
			"error_rate":    0.01,
			"response_time": 120.0,
		},
	}
	for k, v := range extra {
		payload[k] = v
	}
	return payload
}

func TestEngine_Evaluate_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		condition Condition
		payload   map[string]any
		want      bool
	}{
		{
			name:      "score below threshold fires",
			condition: Condition{Type: ConditionThreshold, Metric: "health_score", Operator: OpLT, Value: 30},
			payload:   statusPayload("auth", 25, nil),
			want:      true,
		},
		{
			name:      "score above threshold does not fire",
			condition: Condition{Type: ConditionThreshold, Metric: "health_score", Operator: OpLT, Value: 30},
			payload:   statusPayload("auth", 31, nil),
			want:      false,
		},
		{
			name:      "nested dotted path",
			condition: Condition{Type: ConditionThreshold, Metric: "metrics.error_rate", Operator: OpGTE, Value: 0.01},
			payload:   statusPayload("auth", 90, nil),
			want:      true,
		},
		{
			name:      "string value coerced to number",
			condition: Condition{Type: ConditionThreshold, Metric: "health_score", Operator: OpGT, Value: "50"},
			payload:   statusPayload("auth", 80, nil),
			want:      true,
		},
		{
			name:      "contains operator",
			condition: Condition{Type: ConditionThreshold, Metric: "status", Operator: OpContains, Value: "health"},
			payload:   statusPayload("auth", 90, nil),
			want:      true,
		},
		{
			name:      "not_contains operator",
			condition: Condition{Type: ConditionThreshold, Metric: "status", Operator: OpNotContains, Value: "offline"},
			payload:   statusPayload("auth", 90, nil),
			want:      true,
		},
		{
			name:      "string equality",
			condition: Condition{Type: ConditionThreshold, Metric: "status", Operator: OpEQ, Value: "healthy"},
			payload:   statusPayload("auth", 90, nil),
			want:      true,
		},
		{
			name:      "missing path treated as not fired",
			condition: Condition{Type: ConditionThreshold, Metric: "does.not.exist", Operator: OpGT, Value: 1},
			payload:   statusPayload("auth", 90, nil),
			want:      false,
		},
		{
			name:      "unknown operator treated as not fired",
			condition: Condition{Type: ConditionThreshold, Metric: "health_score", Operator: "~=", Value: 1},
			payload:   statusPayload("auth", 90, nil),
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Rule{
				ID:        "r1",
				Name:      tt.name,
				Condition: tt.condition,
				Severity:  domain.SeverityHigh,
				Enabled:   true,
			}
			got := testEngine().Evaluate(r, tt.payload, time.Now())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_Evaluate_Composite(t *testing.T) {
	highScore := Condition{Type: ConditionThreshold, Metric: "health_score", Operator: OpGT, Value: 50}
	highErrors := Condition{Type: ConditionThreshold, Metric: "metrics.error_rate", Operator: OpGT, Value: 0.5}

	tests := []struct {
		name  string
		logic string
		want  bool
	}{
		{"AND requires all children", "AND", false},
		{"OR requires one child", "OR", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Rule{
				ID:      "r-composite",
				Enabled: true,
				Condition: Condition{
					Type:     ConditionComposite,
					Logic:    tt.logic,
					Children: []Condition{highScore, highErrors},
				},
			}
			got := testEngine().Evaluate(r, statusPayload("auth", 90, nil), time.Now())
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEngine_Evaluate_FiltersRejectFirst(t *testing.T) {
	r := &Rule{
		ID:        "r-filter",
		Enabled:   true,
		Condition: Condition{Type: ConditionThreshold, Metric: "health_score", Operator: OpGT, Value: 0},
		Filters:   map[string]any{"module_id": "upload"},
	}

	e := testEngine()
	assert.False(t, e.Evaluate(r, statusPayload("auth", 90, nil), time.Now()))
	assert.True(t, e.Evaluate(r, statusPayload("upload", 90, nil), time.Now()))
}

func TestEngine_Evaluate_Cooldown(t *testing.T) {
	r := &Rule{
		ID:              "r-cooldown",
		Enabled:         true,
		Condition:       Condition{Type: ConditionThreshold, Metric: "health_score", Operator: OpLT, Value: 30},
		CooldownMinutes: 5,
	}

	e := testEngine()
	start := time.Now()

	require.True(t, e.Evaluate(r, statusPayload("auth", 10, nil), start))

	// Still true every pass, but inside the cooldown window.
	assert.False(t, e.Evaluate(r, statusPayload("auth", 10, nil), start.Add(time.Minute)))
	assert.False(t, e.Evaluate(r, statusPayload("auth", 10, nil), start.Add(4*time.Minute)))

	// A different unit is a different cooldown context.
	assert.True(t, e.Evaluate(r, statusPayload("upload", 10, nil), start.Add(time.Minute)))

	// Window elapsed.
	assert.True(t, e.Evaluate(r, statusPayload("auth", 10, nil), start.Add(5*time.Minute)))
}

func TestEngine_Evaluate_DisabledRule(t *testing.T) {
	r := &Rule{
		ID:        "r-disabled",
		Enabled:   false,
		Condition: Condition{Type: ConditionThreshold, Metric: "health_score", Operator: OpGT, Value: 0},
	}
	assert.False(t, testEngine().Evaluate(r, statusPayload("auth", 90, nil), time.Now()))
}

func TestEngine_Evaluate_ChangeCondition(t *testing.T) {
	r := &Rule{
		ID:        "r-change",
		Enabled:   true,
		Condition: Condition{Type: ConditionChange, Metric: "health_score", MinDelta: 20},
	}

	e := testEngine()
	now := time.Now()

	// First observation primes the detector.
	assert.False(t, e.Evaluate(r, statusPayload("auth", 90, nil), now))
	// Small move does not fire.
	assert.False(t, e.Evaluate(r, statusPayload("auth", 85, nil), now))
	// 85 -> 40 exceeds the delta.
	assert.True(t, e.Evaluate(r, statusPayload("auth", 40, nil), now))
}

func TestLookupPath(t *testing.T) {
	payload := statusPayload("auth", 45, nil)

	v, ok := LookupPath(payload, "metrics.response_time")
	require.True(t, ok)
	assert.Equal(t, 120.0, v)

	_, ok = LookupPath(payload, "metrics.missing")
	assert.False(t, ok)

	_, ok = LookupPath(payload, "health_score.too_deep")
	assert.False(t, ok)
}
