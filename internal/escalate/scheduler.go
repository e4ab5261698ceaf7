package escalate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/alert"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/events"
)

// AlertState is the view of the alert table the scheduler needs: a fresh
// snapshot before each level fires, and the monotonic level bump after.
type AlertState interface {
	Get(id uuid.UUID) (*alert.Alert, bool)
	BumpEscalation(ctx context.Context, id uuid.UUID) (int, error)
}

// Notifier delivers an escalation notification to the level's channels.
type Notifier interface {
	Send(ctx context.Context, a *alert.Alert, channelIDs []string)
}

// Scheduler owns one cancellable timer per armed escalation level. All
// timers for an alert are cancelled together on resolve/suppress; a timer
// that fires after cancellation finds itself deregistered and does nothing.
type Scheduler struct {
	policies map[string]Policy
	state    AlertState
	notifier Notifier
	events   *events.Bus
	logger   *slog.Logger

	// delay converts a level's configured minutes into a wall delay;
	// tests shrink it.
	delay func(minutes int) time.Duration

	mu     sync.Mutex
	timers map[uuid.UUID]*time.Timer
}

func NewScheduler(policies []Policy, state AlertState, notifier Notifier, bus *events.Bus, logger *slog.Logger) *Scheduler {
	byID := make(map[string]Policy, len(policies))
	for _, p := range policies {
		byID[p.ID] = p
	}
	return &Scheduler{
		policies: byID,
		state:    state,
		notifier: notifier,
		events:   bus,
		logger:   logger,
		delay:    func(minutes int) time.Duration { return time.Duration(minutes) * time.Minute },
		timers:   make(map[uuid.UUID]*time.Timer),
	}
}

// Arm implements alert.Escalator: schedules the policy's first level.
func (s *Scheduler) Arm(a *alert.Alert, policyID string) {
	policy, ok := s.policies[policyID]
	if !ok || len(policy.Levels) == 0 {
		s.logger.Warn("unknown or empty escalation policy", "policy_id", policyID, "alert_id", a.ID)
		return
	}
	s.armLevel(a.ID, policy, 0)
}

// Cancel implements alert.Escalator: stops the alert's outstanding timer.
func (s *Scheduler) Cancel(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.timers[id]; ok {
		t.Stop()
		delete(s.timers, id)
	}
}

// Pending reports whether the alert has an armed timer (for tests and the
// ops API).
func (s *Scheduler) Pending(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

func (s *Scheduler) armLevel(alertID uuid.UUID, policy Policy, idx int) {
	level := policy.Levels[idx]
	d := s.delay(level.DelayMinutes)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Only one timer per alert exists at a time: the next level is armed
	// after the previous one fires.
	s.timers[alertID] = time.AfterFunc(d, func() {
		s.fire(alertID, policy, idx)
	})
}

func (s *Scheduler) fire(alertID uuid.UUID, policy Policy, idx int) {
	s.mu.Lock()
	if _, ok := s.timers[alertID]; !ok {
		// Cancelled between the timer firing and this callback running.
		s.mu.Unlock()
		return
	}
	delete(s.timers, alertID)
	s.mu.Unlock()

	level := policy.Levels[idx]

	a, ok := s.state.Get(alertID)
	if !ok {
		return
	}

	switch a.Status {
	case alert.StatusResolved, alert.StatusSuppressed:
		return
	case alert.StatusAcknowledged:
		if level.StopOnAcknowledge {
			s.logger.Info("escalation stopped on acknowledge",
				"alert_id", alertID,
				"level", level.Level,
			)
			return
		}
	}

	ctx := context.Background()
	s.notifier.Send(ctx, a, level.Channels)

	newLevel, err := s.state.BumpEscalation(ctx, alertID)
	if err != nil {
		s.logger.Error("failed to bump escalation level", "alert_id", alertID, "error", err)
		return
	}

	s.events.Publish(events.TypeAlertEscalated, map[string]any{
		"alert_id": alertID.String(),
		"level":    newLevel,
		"channels": level.Channels,
	})

	if idx+1 < len(policy.Levels) {
		s.armLevel(alertID, policy, idx+1)
	}
}
