package alert

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/events"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/rule"
)

// Notifier delivers an alert to the named channels. Implementations must not
// block the caller beyond a rate-limit check; delivery and retries happen on
// their own goroutines.
type Notifier interface {
	Send(ctx context.Context, a *Alert, channelIDs []string)
}

// Escalator owns the delayed re-notification timers for an alert.
type Escalator interface {
	Arm(a *Alert, policyID string)
	Cancel(id uuid.UUID)
}

// History receives every lifecycle transition for long-term storage. It is
// optional; failures are logged and never roll back the in-memory change.
type History interface {
	Record(ctx context.Context, a *Alert, event string) error
}

// Store owns the alert table and its lifecycle state machine.
type Store struct {
	files     *FileStore
	history   History
	notifier  Notifier
	escalator Escalator
	events    *events.Bus
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	alerts map[uuid.UUID]*Alert
	active map[string]uuid.UUID // ruleID + "/" + unitID -> active alert id
}

func NewStore(files *FileStore, bus *events.Bus, logger *slog.Logger) (*Store, error) {
	s := &Store{
		files:  files,
		events: bus,
		logger: logger,
		now:    time.Now,
		alerts: make(map[uuid.UUID]*Alert),
		active: make(map[string]uuid.UUID),
	}

	persisted, err := files.LoadAll()
	if err != nil {
		return nil, err
	}
	for _, a := range persisted {
		s.alerts[a.ID] = a
		if a.Status == StatusActive || a.Status == StatusAcknowledged {
			s.active[dedupKey(a.RuleID, a.UnitID)] = a.ID
		}
	}

	return s, nil
}

// SetNotifier wires the dispatcher. Set once at startup.
func (s *Store) SetNotifier(n Notifier) { s.notifier = n }

// SetEscalator wires the escalation scheduler. Set once at startup; the
// scheduler needs the store as well, hence the two-step construction.
func (s *Store) SetEscalator(e Escalator) { s.escalator = e }

// SetHistory wires the optional long-term history sink.
func (s *Store) SetHistory(h History) { s.history = h }

func dedupKey(ruleID, unitID string) string {
	return ruleID + "/" + unitID
}

// Trigger creates a new alert for (rule, unit) or merges into the existing
// active one. It returns the alert and whether it was newly created. Only a
// newly created alert is notified and armed for escalation; a merge just
// advances UpdatedAt and the details.
func (s *Store) Trigger(ctx context.Context, r *rule.Rule, unitID string, details map[string]any) (*Alert, bool) {
	now := s.now().UTC()

	s.mu.Lock()
	if id, ok := s.active[dedupKey(r.ID, unitID)]; ok {
		existing := s.alerts[id]
		if existing.Details == nil {
			existing.Details = make(map[string]any, len(details))
		}
		for k, v := range details {
			existing.Details[k] = v
		}
		existing.UpdatedAt = now
		snapshot := existing.clone()
		s.mu.Unlock()

		s.persist(ctx, snapshot, "retriggered")
		s.events.Publish(events.TypeAlertUpdated, map[string]any{
			"alert_id": snapshot.ID.String(),
			"rule_id":  r.ID,
			"unit_id":  unitID,
		})
		return snapshot, false
	}

	a := &Alert{
		ID:               uuid.New(),
		RuleID:           r.ID,
		Severity:         r.Severity,
		Category:         r.Category,
		UnitID:           unitID,
		Title:            r.Name,
		Message:          r.Description,
		Details:          details,
		Status:           StatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
		EscalationPolicy: r.EscalationPolicy,
		Tags:             append([]string(nil), r.Tags...),
	}
	s.alerts[a.ID] = a
	s.active[dedupKey(r.ID, unitID)] = a.ID
	snapshot := a.clone()
	s.mu.Unlock()

	s.persist(ctx, snapshot, "created")
	s.events.Publish(events.TypeAlertCreated, map[string]any{
		"alert_id": snapshot.ID.String(),
		"rule_id":  r.ID,
		"unit_id":  unitID,
		"severity": string(snapshot.Severity),
	})

	if s.notifier != nil {
		s.notifier.Send(ctx, snapshot, r.Channels)
	}
	if s.escalator != nil && r.EscalationPolicy != "" {
		s.escalator.Arm(snapshot, r.EscalationPolicy)
	}

	return snapshot, true
}

// Acknowledge is valid only from active.
func (s *Store) Acknowledge(ctx context.Context, id uuid.UUID, actor string) error {
	now := s.now().UTC()

	s.mu.Lock()
	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrAlertNotFound
	}
	if a.Status != StatusActive {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	a.Status = StatusAcknowledged
	a.AcknowledgedBy = actor
	a.AcknowledgedAt = &now
	a.UpdatedAt = now
	snapshot := a.clone()
	s.mu.Unlock()

	s.persist(ctx, snapshot, "acknowledged")
	s.events.Publish(events.TypeAlertAcknowledged, map[string]any{
		"alert_id": id.String(),
		"actor":    actor,
	})
	return nil
}

// Resolve is valid from any non-resolved status and cancels pending
// escalation. A new trigger after resolution creates a fresh alert.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID) error {
	now := s.now().UTC()

	s.mu.Lock()
	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrAlertNotFound
	}
	if a.Status == StatusResolved {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	a.Status = StatusResolved
	a.ResolvedAt = &now
	a.UpdatedAt = now
	delete(s.active, dedupKey(a.RuleID, a.UnitID))
	snapshot := a.clone()
	s.mu.Unlock()

	if s.escalator != nil {
		s.escalator.Cancel(id)
	}
	s.persist(ctx, snapshot, "resolved")
	s.events.Publish(events.TypeAlertResolved, map[string]any{
		"alert_id": id.String(),
		"unit_id":  snapshot.UnitID,
	})
	return nil
}

// Suppress mutes an alert until the given time and cancels pending
// escalation.
func (s *Store) Suppress(ctx context.Context, id uuid.UUID, until time.Time) error {
	now := s.now().UTC()

	s.mu.Lock()
	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return domain.ErrAlertNotFound
	}
	if a.Status == StatusResolved || a.Status == StatusSuppressed {
		s.mu.Unlock()
		return domain.ErrInvalidTransition
	}
	a.Status = StatusSuppressed
	a.SuppressedUntil = &until
	a.UpdatedAt = now
	delete(s.active, dedupKey(a.RuleID, a.UnitID))
	snapshot := a.clone()
	s.mu.Unlock()

	if s.escalator != nil {
		s.escalator.Cancel(id)
	}
	s.persist(ctx, snapshot, "suppressed")
	s.events.Publish(events.TypeAlertSuppressed, map[string]any{
		"alert_id": id.String(),
		"until":    until,
	})
	return nil
}

// BumpEscalation raises the alert's escalation level by one. Levels never
// decrease. Used by the escalation scheduler when a level fires.
func (s *Store) BumpEscalation(ctx context.Context, id uuid.UUID) (int, error) {
	s.mu.Lock()
	a, ok := s.alerts[id]
	if !ok {
		s.mu.Unlock()
		return 0, domain.ErrAlertNotFound
	}
	a.EscalationLevel++
	a.UpdatedAt = s.now().UTC()
	level := a.EscalationLevel
	snapshot := a.clone()
	s.mu.Unlock()

	s.persist(ctx, snapshot, "escalated")
	return level, nil
}

// Get returns a copy of the alert.
func (s *Store) Get(id uuid.UUID) (*Alert, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, false
	}
	return a.clone(), true
}

// List returns matching alerts, newest first.
func (s *Store) List(f Filter) []*Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*Alert
	for _, a := range s.alerts {
		if f.matches(a) {
			out = append(out, a.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// ActiveCount reports alerts currently active or acknowledged.
func (s *Store) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Stats aggregates the alert table.
func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		ByStatus:   make(map[string]int),
		BySeverity: make(map[string]int),
		ByCategory: make(map[string]int),
		ByUnit:     make(map[string]int),
	}

	now := s.now().UTC()
	var resolved int
	var resolutionTotal time.Duration

	for _, a := range s.alerts {
		stats.Total++
		stats.ByStatus[string(a.Status)]++
		stats.BySeverity[string(a.Severity)]++
		stats.ByCategory[a.Category]++
		stats.ByUnit[a.UnitID]++
		if now.Sub(a.CreatedAt) <= 24*time.Hour {
			stats.CreatedLast24h++
		}
		if a.Status == StatusResolved && a.ResolvedAt != nil {
			resolved++
			resolutionTotal += a.ResolvedAt.Sub(a.CreatedAt)
		}
	}

	if resolved > 0 {
		stats.MeanResolutionMinutes = resolutionTotal.Minutes() / float64(resolved)
	}
	return stats
}

// persist writes the file record and the optional history row. Persistence
// failures never roll back the in-memory transition.
func (s *Store) persist(ctx context.Context, a *Alert, event string) {
	if err := s.files.Save(a); err != nil {
		s.logger.Error("failed to persist alert file",
			"alert_id", a.ID,
			"event", event,
			"error", err,
		)
	}
	if s.history != nil {
		if err := s.history.Record(ctx, a, event); err != nil {
			s.logger.Error("failed to record alert history",
				"alert_id", a.ID,
				"event", event,
				"error", err,
			)
		}
	}
}
