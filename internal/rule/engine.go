package rule

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Engine evaluates alert rules against structured payloads. Evaluation
// order is fixed: field filters first (cheap rejects), then the cooldown
// window, then the condition tree. A rule that errors during evaluation is
// logged and treated as "did not fire".
type Engine struct {
	anomaly AnomalyDetector
	change  ChangeDetector
	logger  *slog.Logger

	mu    sync.Mutex
	fired map[string]time.Time
}

func NewEngine(anomaly AnomalyDetector, change ChangeDetector, logger *slog.Logger) *Engine {
	if anomaly == nil || change == nil {
		def := NewRollingDetector(0)
		if anomaly == nil {
			anomaly = def
		}
		if change == nil {
			change = def
		}
	}
	return &Engine{
		anomaly: anomaly,
		change:  change,
		logger:  logger,
		fired:   make(map[string]time.Time),
	}
}

// Evaluate reports whether the rule fires for the payload. The context key
// (usually the unit id under "module_id") scopes the cooldown window so one
// noisy unit does not silence alerts for the others.
func (e *Engine) Evaluate(r *Rule, payload map[string]any, now time.Time) bool {
	if !r.Enabled {
		return false
	}

	for path, want := range r.Filters {
		got, ok := LookupPath(payload, path)
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}

	key := e.cooldownKey(r, payload)
	if e.inCooldown(key, r, now) {
		return false
	}

	fired, err := e.evalCondition(r.Condition, payload)
	if err != nil {
		e.logger.Warn("rule evaluation failed",
			"rule_id", r.ID,
			"rule_name", r.Name,
			"error", err,
		)
		return false
	}

	if fired {
		e.markFired(key, now)
	}
	return fired
}

func (e *Engine) cooldownKey(r *Rule, payload map[string]any) string {
	unit := ""
	if v, ok := LookupPath(payload, "module_id"); ok {
		unit = fmt.Sprint(v)
	}
	return r.ID + "/" + unit
}

func (e *Engine) inCooldown(key string, r *Rule, now time.Time) bool {
	if r.CooldownMinutes <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.fired[key]
	return ok && now.Sub(last) < time.Duration(r.CooldownMinutes)*time.Minute
}

func (e *Engine) markFired(key string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fired[key] = now
}

func (e *Engine) evalCondition(c Condition, payload map[string]any) (bool, error) {
	switch c.Type {
	case ConditionThreshold:
		return e.evalThreshold(c, payload)
	case ConditionComposite:
		return e.evalComposite(c, payload)
	case ConditionAnomaly:
		value, ok := lookupNumber(payload, c.Metric)
		if !ok {
			return false, fmt.Errorf("metric %q is not numeric", c.Metric)
		}
		return e.anomaly.Anomalous(c.Metric, value, c.Sensitivity), nil
	case ConditionChange:
		value, ok := lookupNumber(payload, c.Metric)
		if !ok {
			return false, fmt.Errorf("metric %q is not numeric", c.Metric)
		}
		return e.change.Changed(c.Metric, value, c.MinDelta), nil
	default:
		return false, fmt.Errorf("unknown condition type %q", c.Type)
	}
}

func (e *Engine) evalComposite(c Condition, payload map[string]any) (bool, error) {
	if len(c.Children) == 0 {
		return false, fmt.Errorf("composite condition has no children")
	}

	or := strings.EqualFold(c.Logic, "OR")
	for _, child := range c.Children {
		met, err := e.evalCondition(child, payload)
		if err != nil {
			return false, err
		}
		if or && met {
			return true, nil
		}
		if !or && !met {
			return false, nil
		}
	}
	return !or, nil
}

func (e *Engine) evalThreshold(c Condition, payload map[string]any) (bool, error) {
	got, ok := LookupPath(payload, c.Metric)
	if !ok {
		return false, fmt.Errorf("path %q not found in payload", c.Metric)
	}

	switch c.Operator {
	case OpContains:
		return strings.Contains(fmt.Sprint(got), fmt.Sprint(c.Value)), nil
	case OpNotContains:
		return !strings.Contains(fmt.Sprint(got), fmt.Sprint(c.Value)), nil
	}

	lhs, lok := toNumber(got)
	rhs, rok := toNumber(c.Value)

	if lok && rok {
		switch c.Operator {
		case OpGT:
			return lhs > rhs, nil
		case OpLT:
			return lhs < rhs, nil
		case OpGTE:
			return lhs >= rhs, nil
		case OpLTE:
			return lhs <= rhs, nil
		case OpEQ:
			return lhs == rhs, nil
		case OpNE:
			return lhs != rhs, nil
		default:
			return false, fmt.Errorf("unknown operator %q", c.Operator)
		}
	}

	// Non-numeric values only support equality comparisons.
	switch c.Operator {
	case OpEQ:
		return fmt.Sprint(got) == fmt.Sprint(c.Value), nil
	case OpNE:
		return fmt.Sprint(got) != fmt.Sprint(c.Value), nil
	default:
		return false, fmt.Errorf("operator %q needs numeric operands, got %T and %T", c.Operator, got, c.Value)
	}
}

// LookupPath resolves a dotted path ("metrics.error_rate") inside a nested
// map payload.
func LookupPath(payload map[string]any, path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var current any = payload
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func lookupNumber(payload map[string]any, path string) (float64, bool) {
	v, ok := LookupPath(payload, path)
	if !ok {
		return 0, false
	}
	return toNumber(v)
}

func toNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
