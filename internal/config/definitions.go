package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/escalate"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/notify"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/rule"
)

// Definitions is the declarative alerting setup: channels, rules, and
// escalation policies, loaded from one JSON document.
type Definitions struct {
	Channels []notify.Channel  `json:"channels"`
	Rules    []rule.Rule       `json:"rules"`
	Policies []escalate.Policy `json:"policies"`
}

// LoadDefinitions reads the definitions file, or returns the built-in
// defaults when no path is configured.
func LoadDefinitions(path string, cfg *Config) (*Definitions, error) {
	if path == "" {
		return DefaultDefinitions(cfg), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions file: %w", err)
	}

	var defs Definitions
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse definitions file: %w", err)
	}
	if err := defs.Validate(); err != nil {
		return nil, err
	}
	return &defs, nil
}

// Validate rejects definitions that reference channels or policies that do
// not exist, so misconfiguration surfaces at startup instead of at the first
// alert.
func (d *Definitions) Validate() error {
	channels := make(map[string]bool, len(d.Channels))
	for _, ch := range d.Channels {
		if ch.ID == "" {
			return fmt.Errorf("channel with empty id")
		}
		channels[ch.ID] = true
	}

	policies := make(map[string]bool, len(d.Policies))
	for _, p := range d.Policies {
		if p.ID == "" {
			return fmt.Errorf("policy with empty id")
		}
		policies[p.ID] = true
		for _, level := range p.Levels {
			for _, ch := range level.Channels {
				if !channels[ch] {
					return fmt.Errorf("policy %q level %d references unknown channel %q", p.ID, level.Level, ch)
				}
			}
		}
	}

	for _, r := range d.Rules {
		if r.ID == "" {
			return fmt.Errorf("rule with empty id")
		}
		if !r.Severity.Valid() {
			return fmt.Errorf("rule %q has invalid severity %q", r.ID, r.Severity)
		}
		for _, ch := range r.Channels {
			if !channels[ch] {
				return fmt.Errorf("rule %q references unknown channel %q", r.ID, ch)
			}
		}
		if r.EscalationPolicy != "" && !policies[r.EscalationPolicy] {
			return fmt.Errorf("rule %q references unknown policy %q", r.ID, r.EscalationPolicy)
		}
	}
	return nil
}

// DefaultDefinitions covers the common failure modes out of the box: a
// console channel, rules for critical score, offline units, error rate, and
// response time, and a single-level escalation policy.
func DefaultDefinitions(cfg *Config) *Definitions {
	return &Definitions{
		Channels: []notify.Channel{
			{
				ID:      "console",
				Type:    notify.ChannelConsole,
				Enabled: true,
				Retry:   notify.DefaultRetryPolicy(),
			},
		},
		Policies: []escalate.Policy{
			{
				ID:   "default",
				Name: "Default escalation",
				Levels: []escalate.Level{
					{Level: 0, DelayMinutes: 15, Channels: []string{"console"}},
					{Level: 1, DelayMinutes: 30, Channels: []string{"console"}, StopOnAcknowledge: true},
				},
			},
		},
		Rules: []rule.Rule{
			{
				ID:          "score-critical",
				Name:        "Health score critical",
				Description: "unit health score dropped below the critical threshold",
				Condition: rule.Condition{
					Type:     rule.ConditionThreshold,
					Metric:   "health_score",
					Operator: rule.OpLT,
					Value:    cfg.CriticalScore,
				},
				Severity:         domain.SeverityCritical,
				Category:         "health",
				Enabled:          true,
				Channels:         []string{"console"},
				CooldownMinutes:  cfg.CooldownMinutes,
				EscalationPolicy: "default",
			},
			{
				ID:          "unit-offline",
				Name:        "Unit offline",
				Description: "unit stopped responding to diagnostics",
				Condition: rule.Condition{
					Type:     rule.ConditionThreshold,
					Metric:   "status",
					Operator: rule.OpEQ,
					Value:    "offline",
				},
				Severity:         domain.SeverityCritical,
				Category:         "availability",
				Enabled:          true,
				Channels:         []string{"console"},
				CooldownMinutes:  cfg.CooldownMinutes,
				EscalationPolicy: "default",
			},
			{
				ID:          "error-rate-high",
				Name:        "Error rate high",
				Description: "unit error rate exceeds the configured threshold",
				Condition: rule.Condition{
					Type:     rule.ConditionThreshold,
					Metric:   "metrics.error_rate",
					Operator: rule.OpGT,
					Value:    cfg.ErrorRate,
				},
				Severity:        domain.SeverityHigh,
				Category:        "reliability",
				Enabled:         true,
				Channels:        []string{"console"},
				CooldownMinutes: cfg.CooldownMinutes,
			},
			{
				ID:          "response-time-high",
				Name:        "Response time high",
				Description: "unit response time exceeds the configured threshold",
				Condition: rule.Condition{
					Type:     rule.ConditionThreshold,
					Metric:   "metrics.response_time_ms",
					Operator: rule.OpGT,
					Value:    cfg.ResponseTimeMS,
				},
				Severity:        domain.SeverityMedium,
				Category:        "performance",
				Enabled:         true,
				Channels:        []string{"console"},
				CooldownMinutes: cfg.CooldownMinutes,
			},
		},
	}
}
