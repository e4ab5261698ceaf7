package notify

import (
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

// ChannelType selects the delivery primitive. Everything else about
// dispatch — rate limiting, retries, events — is channel-agnostic.
type ChannelType string

const (
	ChannelConsole ChannelType = "console"
	ChannelFile    ChannelType = "file"
	ChannelEmail   ChannelType = "email"
	ChannelSlack   ChannelType = "slack"
	ChannelWebhook ChannelType = "webhook"
	ChannelSMS     ChannelType = "sms"
)

// RetryPolicy controls delivery retries for one channel. Delays grow as
// initial * multiplier^attempt, capped at max.
type RetryPolicy struct {
	MaxAttempts       int     `json:"max_attempts"`
	BackoffMultiplier float64 `json:"backoff_multiplier"`
	InitialDelayMS    int     `json:"initial_delay_ms"`
	MaxDelayMS        int     `json:"max_delay_ms"`
}

// DefaultRetryPolicy mirrors the values used when a channel omits its own.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       3,
		BackoffMultiplier: 2,
		InitialDelayMS:    1000,
		MaxDelayMS:        30000,
	}
}

func (p RetryPolicy) initialDelay() time.Duration {
	return time.Duration(p.InitialDelayMS) * time.Millisecond
}

func (p RetryPolicy) maxDelay() time.Duration {
	return time.Duration(p.MaxDelayMS) * time.Millisecond
}

// Channel is one configured notification target.
type Channel struct {
	ID                 string            `json:"id"`
	Type               ChannelType       `json:"type"`
	Config             map[string]string `json:"config,omitempty"`
	Enabled            bool              `json:"enabled"`
	RateLimitPerMinute int               `json:"rate_limit_per_minute,omitempty"`
	Retry              RetryPolicy       `json:"retry"`
}

// Message is the channel-agnostic notification body built from an alert.
type Message struct {
	AlertID   uuid.UUID       `json:"alert_id"`
	UnitID    string          `json:"unit_id"`
	Severity  domain.Severity `json:"severity"`
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Details   map[string]any  `json:"details,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}
