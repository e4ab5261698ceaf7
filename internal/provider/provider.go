package provider

import (
	"context"
	"time"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

// MetricsProvider supplies structural diagnostics for a monitored unit.
// The monitoring core treats any error from Validate as "unit offline".
type MetricsProvider interface {
	Validate(ctx context.Context, unitID string, opts ValidateOptions) (*Diagnostics, error)
}

// RecoveryService attempts automated remediation for a degraded unit.
type RecoveryService interface {
	ExecuteRecovery(ctx context.Context, unitID, strategy string, opts RecoveryOptions) (*RecoveryResult, error)
}

// ValidateOptions controls how deep the structural validation goes.
type ValidateOptions struct {
	Depth                   string `json:"depth"`
	IncludeHealthMetrics    bool   `json:"include_health_metrics"`
	IncludeDependencyChecks bool   `json:"include_dependency_checks"`
	IncludeFileSystemChecks bool   `json:"include_file_system_checks"`
}

// DefaultValidateOptions returns the options used by the periodic sampler.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{
		Depth:                   "full",
		IncludeHealthMetrics:    true,
		IncludeDependencyChecks: true,
		IncludeFileSystemChecks: true,
	}
}

// Diagnostics is one unit's structural validation result.
type Diagnostics struct {
	HealthScore int     `json:"health_score"`
	Issues      []Issue `json:"issues,omitempty"`
}

// Issue is a single problem found during validation.
type Issue struct {
	ID              string          `json:"id"`
	Severity        domain.Severity `json:"severity"`
	Category        string          `json:"category"`
	Message         string          `json:"message"`
	AutoRecoverable bool            `json:"auto_recoverable"`
}

// RecoveryOptions tunes a remediation attempt.
type RecoveryOptions struct {
	TargetHealthScore int           `json:"target_health_score"`
	MaxAttempts       int           `json:"max_attempts"`
	Timeout           time.Duration `json:"-"`
	DryRun            bool          `json:"dry_run"`
	SkipBackup        bool          `json:"skip_backup"`
}

// RecoveryResult reports the outcome of a remediation attempt.
type RecoveryResult struct {
	Success          bool `json:"success"`
	FinalHealthScore int  `json:"final_health_score"`
}
