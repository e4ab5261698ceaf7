package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Server
	Port        int    `envconfig:"PORT" default:"3000"`
	Environment string `envconfig:"ENV" default:"development"`

	// Database is optional: without it alert history stays file-only.
	DatabaseURL          string `envconfig:"DATABASE_URL"`
	HistoryRetentionDays int    `envconfig:"HISTORY_RETENTION_DAYS" default:"90"`

	// Monitored units
	Units []string `envconfig:"UNITS" default:"auth,billing,export,templates"`

	// Sampling
	SampleIntervalMS    int  `envconfig:"SAMPLE_INTERVAL_MS" default:"30000"`
	CheckTimeoutMS      int  `envconfig:"CHECK_TIMEOUT_MS" default:"10000"`
	RetryAttempts       int  `envconfig:"RETRY_ATTEMPTS" default:"2"`
	MaxConcurrentChecks int  `envconfig:"MAX_CONCURRENT_CHECKS" default:"8"`
	AutoRecovery        bool `envconfig:"AUTO_RECOVERY" default:"false"`

	// Thresholds
	CriticalScore   int     `envconfig:"CRITICAL_SCORE" default:"30"`
	DegradedScore   int     `envconfig:"DEGRADED_SCORE" default:"60"`
	ErrorRate       float64 `envconfig:"ERROR_RATE" default:"0.05"`
	ResponseTimeMS  float64 `envconfig:"RESPONSE_TIME_MS" default:"5000"`
	CooldownMinutes int     `envconfig:"COOLDOWN_MINUTES" default:"5"`

	// Collaborators; empty URLs select the built-in stub provider.
	DiagnosticsURL string `envconfig:"DIAGNOSTICS_URL"`
	RecoveryURL    string `envconfig:"RECOVERY_URL"`

	// Storage
	DataDir         string `envconfig:"DATA_DIR" default:"./monitoring-data"`
	DefinitionsFile string `envconfig:"DEFINITIONS_FILE"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) SampleInterval() time.Duration {
	return time.Duration(c.SampleIntervalMS) * time.Millisecond
}

func (c *Config) CheckTimeout() time.Duration {
	return time.Duration(c.CheckTimeoutMS) * time.Millisecond
}

func (c *Config) HistoryRetention() time.Duration {
	return time.Duration(c.HistoryRetentionDays) * 24 * time.Hour
}
