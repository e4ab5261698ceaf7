package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types published by the monitoring core. Subscribers receive every
// event synchronously, in subscription order.
const (
	TypeMonitoringStarted    = "monitoring.started"
	TypeMonitoringStopped    = "monitoring.stopped"
	TypeMonitoringError      = "monitoring.error"
	TypeHealthCheckStarted   = "health_check.started"
	TypeHealthCheckCompleted = "health_check.completed"
	TypeHealthCheckFailed    = "health_check.failed"
	TypeAlertCreated         = "alert.created"
	TypeAlertUpdated         = "alert.updated"
	TypeAlertAcknowledged    = "alert.acknowledged"
	TypeAlertResolved        = "alert.resolved"
	TypeAlertEscalated       = "alert.escalated"
	TypeAlertSuppressed      = "alert.suppressed"
	TypeNotificationSent     = "notification.sent"
	TypeNotificationSkipped  = "notification.skipped"
	TypeNotificationFailed   = "notification.failed"
	TypeRecoverySucceeded    = "recovery.succeeded"
	TypeRecoveryFailed       = "recovery.failed"
)

type Event struct {
	Type string         `json:"type"`
	Time time.Time      `json:"time"`
	Data map[string]any `json:"data,omitempty"`
}

type Handler func(Event)

// Bus is a synchronous observer registry. Publish delivers the event to
// every handler in the order they subscribed, on the publisher's goroutine.
// Handlers must not block for long; slow consumers should hand off to their
// own channel.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

func (b *Bus) Publish(eventType string, data map[string]any) {
	e := Event{Type: eventType, Time: time.Now().UTC(), Data: data}

	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

// LogSubscriber returns a handler that mirrors every event into the log,
// giving dashboards and operators a durable audit trail by default.
func LogSubscriber(logger *slog.Logger) Handler {
	return func(e Event) {
		attrs := make([]any, 0, len(e.Data)*2+2)
		attrs = append(attrs, "event", e.Type)
		for k, v := range e.Data {
			attrs = append(attrs, k, v)
		}
		logger.Info("monitor event", attrs...)
	}
}
