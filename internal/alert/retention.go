package alert

import (
	"context"
	"log/slog"
	"time"
)

// Deleter trims persisted history beyond a retention horizon.
type Deleter interface {
	DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error)
}

// RetentionWorker periodically deletes history rows older than the
// configured horizon. One sweep runs immediately on start so a long-stopped
// deployment catches up without waiting a full interval.
type RetentionWorker struct {
	deleter  Deleter
	maxAge   time.Duration
	interval time.Duration
	logger   *slog.Logger
}

func NewRetentionWorker(deleter Deleter, maxAge, interval time.Duration, logger *slog.Logger) *RetentionWorker {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RetentionWorker{
		deleter:  deleter,
		maxAge:   maxAge,
		interval: interval,
		logger:   logger,
	}
}

// Run sweeps until ctx is cancelled. A failed sweep is logged and retried on
// the next tick.
func (w *RetentionWorker) Run(ctx context.Context) {
	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *RetentionWorker) sweep(ctx context.Context) {
	deleted, err := w.deleter.DeleteOlderThan(ctx, w.maxAge)
	if err != nil {
		w.logger.Error("history retention sweep failed", slog.Any("error", err))
		return
	}
	if deleted > 0 {
		w.logger.Info("history retention sweep",
			slog.Int64("deleted", deleted),
			slog.Duration("max_age", w.maxAge),
		)
	}
}
