package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/alert"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/events"
)

// Dispatcher fans a notification out to the requested channels. The rate
// limiter is consulted synchronously so window accounting stays ordered;
// delivery itself, including the retry/backoff loop, runs on its own
// goroutine per channel and never blocks the sampling loop. An in-flight
// retry loop is not cancelled; it runs to success or exhaustion.
type Dispatcher struct {
	channels map[string]*Channel
	senders  map[ChannelType]Sender
	limiter  *RateLimiter
	events   *events.Bus
	logger   *slog.Logger

	wg    sync.WaitGroup
	sleep func(ctx context.Context, d time.Duration)
}

func NewDispatcher(channels []Channel, senders map[ChannelType]Sender, bus *events.Bus, logger *slog.Logger) *Dispatcher {
	byID := make(map[string]*Channel, len(channels))
	for i := range channels {
		ch := channels[i]
		if ch.Retry.MaxAttempts <= 0 {
			ch.Retry = DefaultRetryPolicy()
		}
		byID[ch.ID] = &ch
	}

	return &Dispatcher{
		channels: byID,
		senders:  senders,
		limiter:  NewRateLimiter(),
		events:   bus,
		logger:   logger,
		// The retry loop runs to success or exhaustion even when the
		// triggering context has been cancelled, so backoff sleeps on a
		// plain timer; MaxAttempts bounds the loop.
		sleep: func(_ context.Context, d time.Duration) { time.Sleep(d) },
	}
}

// Send implements alert.Notifier.
func (d *Dispatcher) Send(ctx context.Context, a *alert.Alert, channelIDs []string) {
	msg := &Message{
		AlertID:   a.ID,
		UnitID:    a.UnitID,
		Severity:  a.Severity,
		Title:     a.Title,
		Body:      a.Message,
		Details:   a.Details,
		CreatedAt: a.CreatedAt,
	}

	for _, id := range channelIDs {
		ch, ok := d.channels[id]
		if !ok {
			d.logger.Warn("unknown notification channel", "channel_id", id, "alert_id", a.ID)
			continue
		}
		if !ch.Enabled {
			continue
		}

		if !d.limiter.Allow(ch.ID, ch.RateLimitPerMinute) {
			d.logger.Warn("channel rate limit exceeded, notification skipped",
				"channel_id", ch.ID,
				"alert_id", a.ID,
				"limit_per_minute", ch.RateLimitPerMinute,
			)
			d.events.Publish(events.TypeNotificationSkipped, map[string]any{
				"channel_id": ch.ID,
				"alert_id":   a.ID.String(),
			})
			continue
		}

		d.wg.Add(1)
		go func(ch *Channel) {
			defer d.wg.Done()
			d.deliver(ctx, ch, msg)
		}(ch)
	}
}

// Flush waits for all in-flight deliveries. Used on shutdown and in tests.
func (d *Dispatcher) Flush() {
	d.wg.Wait()
}

func (d *Dispatcher) deliver(ctx context.Context, ch *Channel, msg *Message) {
	sender, ok := d.senders[ch.Type]
	if !ok {
		d.logger.Error("no sender for channel type", "channel_id", ch.ID, "type", ch.Type)
		return
	}

	policy := ch.Retry
	delay := policy.initialDelay()
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = sender.Deliver(ctx, ch, msg)
		if lastErr == nil {
			d.events.Publish(events.TypeNotificationSent, map[string]any{
				"channel_id": ch.ID,
				"alert_id":   msg.AlertID.String(),
				"attempt":    attempt,
			})
			return
		}

		d.logger.Warn("notification delivery failed",
			"channel_id", ch.ID,
			"alert_id", msg.AlertID,
			"attempt", attempt,
			"error", lastErr,
		)

		if attempt == policy.MaxAttempts {
			break
		}

		d.sleep(ctx, delay)
		delay = time.Duration(float64(delay) * policy.BackoffMultiplier)
		if ceil := policy.maxDelay(); ceil > 0 && delay > ceil {
			delay = ceil
		}
	}

	d.events.Publish(events.TypeNotificationFailed, map[string]any{
		"channel_id": ch.ID,
		"alert_id":   msg.AlertID.String(),
		"attempts":   policy.MaxAttempts,
		"error":      lastErr.Error(),
	})
}
