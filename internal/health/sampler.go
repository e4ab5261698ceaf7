package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/alert"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/events"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/provider"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/rule"
)

// Config tunes the sampling loop.
type Config struct {
	Units               []string
	Interval            time.Duration
	CheckTimeout        time.Duration
	RetryAttempts       int
	AutoRecovery        bool
	MaxConcurrentChecks int
	Thresholds          Thresholds
}

// outcomeWindow bounds the per-unit check history used to derive the
// rolling error rate.
const outcomeWindow = 20

type unitState struct {
	outcomes []bool // true = check succeeded
	upSince  time.Time
}

func (u *unitState) record(ok bool) {
	u.outcomes = append(u.outcomes, ok)
	if len(u.outcomes) > outcomeWindow {
		u.outcomes = u.outcomes[len(u.outcomes)-outcomeWindow:]
	}
}

func (u *unitState) errorRate() float64 {
	if len(u.outcomes) == 0 {
		return 0
	}
	var failures int
	for _, ok := range u.outcomes {
		if !ok {
			failures++
		}
	}
	return float64(failures) / float64(len(u.outcomes))
}

// Sampler drives the periodic health checks: it fans out over the configured
// units, classifies each result, keeps bounded per-unit history, and feeds
// the rule engine and alert store.
type Sampler struct {
	cfg      Config
	provider provider.MetricsProvider
	recovery provider.RecoveryService // optional
	runtime  RuntimeCollector
	engine   *rule.Engine
	rules    []rule.Rule
	alerts   *alert.Store
	reports  *ReportStore
	events   *events.Bus
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	statuses map[string]*Status
	trends   map[string][]Trend
	units    map[string]*unitState
	resolved int

	runMu   sync.Mutex
	running bool
	stop    context.CancelFunc
	done    chan struct{}
}

func NewSampler(
	cfg Config,
	metrics provider.MetricsProvider,
	recovery provider.RecoveryService,
	runtime RuntimeCollector,
	engine *rule.Engine,
	rules []rule.Rule,
	alerts *alert.Store,
	reports *ReportStore,
	bus *events.Bus,
	logger *slog.Logger,
) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 10 * time.Second
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.MaxConcurrentChecks <= 0 {
		cfg.MaxConcurrentChecks = 8
	}
	return &Sampler{
		cfg:      cfg,
		provider: metrics,
		recovery: recovery,
		runtime:  runtime,
		engine:   engine,
		rules:    rules,
		alerts:   alerts,
		reports:  reports,
		events:   bus,
		logger:   logger,
		now:      time.Now,
		statuses: make(map[string]*Status),
		trends:   make(map[string][]Trend),
		units:    make(map[string]*unitState),
	}
}

// StartMonitoring begins the periodic sampling loop. Idempotent.
func (s *Sampler) StartMonitoring(ctx context.Context) {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if s.running {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.stop = cancel
	s.done = make(chan struct{})

	s.events.Publish(events.TypeMonitoringStarted, map[string]any{
		"interval": s.cfg.Interval.String(),
		"units":    len(s.cfg.Units),
	})
	s.logger.Info("monitoring started",
		"interval", s.cfg.Interval,
		"units", len(s.cfg.Units),
	)

	// The cancellable context only stops the ticker. Passes run on a
	// detached context so stopping the loop never aborts an in-flight
	// check into a spurious offline result; each provider call is still
	// bounded by the per-check timeout.
	go s.loop(loopCtx, context.WithoutCancel(ctx))
}

// StopMonitoring cancels the sampling timer. In-flight checks are not
// aborted. Idempotent.
func (s *Sampler) StopMonitoring() {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	if !s.running {
		return
	}
	s.stop()
	<-s.done
	s.running = false

	s.events.Publish(events.TypeMonitoringStopped, nil)
	s.logger.Info("monitoring stopped")
}

func (s *Sampler) loop(ctx, passCtx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	// First pass runs immediately rather than one interval in.
	s.runPass(passCtx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runPass(passCtx)
		}
	}
}

// runPass shields the loop from a failing pass: the timer keeps ticking no
// matter what a single pass does.
func (s *Sampler) runPass(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("health check pass panicked", "panic", r)
			s.events.Publish(events.TypeMonitoringError, map[string]any{
				"panic": fmt.Sprint(r),
			})
		}
	}()

	if _, err := s.PerformHealthCheck(ctx); err != nil {
		s.logger.Error("health check pass failed", "error", err)
		s.events.Publish(events.TypeMonitoringError, map[string]any{
			"error": err.Error(),
		})
	}
}

// PerformHealthCheck runs one full pass: every configured unit is checked
// concurrently, results are classified and retained, rules are evaluated,
// auto-recovery is attempted where applicable, and the aggregated report is
// persisted and returned. One unit's failure never aborts the others.
func (s *Sampler) PerformHealthCheck(ctx context.Context) (*Report, error) {
	s.events.Publish(events.TypeHealthCheckStarted, map[string]any{
		"units": len(s.cfg.Units),
	})

	sample, err := s.runtime.Sample(ctx)
	if err != nil {
		// Host metrics are an enrichment, not a prerequisite.
		s.logger.Warn("runtime sample unavailable", "error", err)
		sample = RuntimeSample{}
	}

	statuses := make([]*Status, len(s.cfg.Units))
	sem := make(chan struct{}, s.cfg.MaxConcurrentChecks)
	var wg sync.WaitGroup
	for i, unitID := range s.cfg.Units {
		wg.Add(1)
		go func(i int, unitID string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			statuses[i] = s.checkUnit(ctx, unitID, sample)
		}(i, unitID)
	}
	wg.Wait()

	for _, st := range statuses {
		s.retain(st)
	}
	for _, st := range statuses {
		s.evaluateRules(ctx, st)
	}
	if s.cfg.AutoRecovery && s.recovery != nil {
		for _, st := range statuses {
			s.maybeRecover(ctx, st)
		}
	}

	report := s.buildReport(statuses)
	if s.reports != nil {
		if err := s.reports.Save(report); err != nil {
			// Persistence failures never roll back the pass.
			s.logger.Error("failed to persist report", "error", err)
		}
	}

	s.events.Publish(events.TypeHealthCheckCompleted, map[string]any{
		"overall_health": report.OverallHealth,
		"active_alerts":  report.ActiveAlerts,
	})
	return report, nil
}

// ForceHealthCheck bypasses the timer. With a unit id it checks that unit
// alone; with an empty id it runs a full pass.
func (s *Sampler) ForceHealthCheck(ctx context.Context, unitID string) (*Report, error) {
	if unitID == "" {
		return s.PerformHealthCheck(ctx)
	}
	if !s.configured(unitID) {
		return nil, domain.ErrUnitNotFound
	}

	sample, err := s.runtime.Sample(ctx)
	if err != nil {
		s.logger.Warn("runtime sample unavailable", "error", err)
		sample = RuntimeSample{}
	}

	st := s.checkUnit(ctx, unitID, sample)
	s.retain(st)
	s.evaluateRules(ctx, st)
	if s.cfg.AutoRecovery && s.recovery != nil {
		s.maybeRecover(ctx, st)
	}

	return s.buildReport([]*Status{st}), nil
}

func (s *Sampler) configured(unitID string) bool {
	for _, u := range s.cfg.Units {
		if u == unitID {
			return true
		}
	}
	return false
}

// checkUnit produces one unit's status. Provider errors degrade to an
// offline status with a critical, auto-recoverable issue.
func (s *Sampler) checkUnit(ctx context.Context, unitID string, sample RuntimeSample) *Status {
	now := s.now().UTC()

	diag, latency, err := s.validateWithRetry(ctx, unitID)

	s.mu.Lock()
	state, ok := s.units[unitID]
	if !ok {
		state = &unitState{upSince: now}
		s.units[unitID] = state
	}
	state.record(err == nil)
	errorRate := state.errorRate()
	if err != nil {
		errorRate = 1.0
		state.upSince = now
	}
	uptime := now.Sub(state.upSince).Seconds()
	s.mu.Unlock()

	metrics := Metrics{
		ResponseTimeMS:   latency.Seconds() * 1000,
		ErrorRate:        errorRate,
		MemoryUsage:      sample.MemoryUsage,
		CPUUsage:         sample.CPUUsage,
		DiskUsage:        sample.DiskUsage,
		DependencyHealth: 1.0,
	}

	if err != nil {
		s.events.Publish(events.TypeHealthCheckFailed, map[string]any{
			"unit_id": unitID,
			"error":   err.Error(),
		})
		return &Status{
			UnitID:      unitID,
			HealthScore: 0,
			Status:      StatusOffline,
			UptimeSec:   0,
			Metrics:     metrics,
			CheckedAt:   now,
			Issues: []Issue{{
				ID:              "diagnostics-unreachable",
				Severity:        domain.SeverityCritical,
				Category:        "availability",
				Message:         fmt.Sprintf("diagnostics failed: %v", err),
				FirstSeen:       now,
				LastSeen:        now,
				Occurrences:     1,
				AutoRecoverable: true,
			}},
		}
	}

	issues := make([]Issue, 0, len(diag.Issues))
	depIssues := 0
	for _, di := range diag.Issues {
		if di.Category == "dependency" {
			depIssues++
		}
		issues = append(issues, Issue{
			ID:              di.ID,
			Severity:        di.Severity,
			Category:        di.Category,
			Message:         di.Message,
			FirstSeen:       now,
			LastSeen:        now,
			Occurrences:     1,
			AutoRecoverable: di.AutoRecoverable,
		})
	}
	if depIssues > 0 {
		metrics.DependencyHealth = 1.0 - 0.2*float64(depIssues)
		if metrics.DependencyHealth < 0 {
			metrics.DependencyHealth = 0
		}
	}

	score := CompositeScore(diag.HealthScore, metrics, s.cfg.Thresholds)
	return &Status{
		UnitID:      unitID,
		HealthScore: score,
		Status:      Classify(score, metrics, s.cfg.Thresholds),
		UptimeSec:   uptime,
		Issues:      issues,
		Metrics:     metrics,
		CheckedAt:   now,
	}
}

func (s *Sampler) validateWithRetry(ctx context.Context, unitID string) (*provider.Diagnostics, time.Duration, error) {
	opts := provider.DefaultValidateOptions()

	var lastErr error
	var latency time.Duration
	for attempt := 0; attempt < s.cfg.RetryAttempts; attempt++ {
		checkCtx, cancel := context.WithTimeout(ctx, s.cfg.CheckTimeout)
		started := s.now()
		diag, err := s.provider.Validate(checkCtx, unitID, opts)
		latency = s.now().Sub(started)
		cancel()

		if err == nil {
			return diag, latency, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return nil, latency, lastErr
}

// retain stores the latest status and appends to the unit's bounded trend
// history, carrying issue occurrence counts forward across passes.
func (s *Sampler) retain(st *Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.statuses[st.UnitID]; ok {
		s.carryIssues(prev, st)
	}
	s.statuses[st.UnitID] = st

	history := append(s.trends[st.UnitID], Trend{
		Timestamp:      st.CheckedAt,
		HealthScore:    st.HealthScore,
		ErrorRate:      st.Metrics.ErrorRate,
		ResponseTimeMS: st.Metrics.ResponseTimeMS,
		MemoryUsage:    st.Metrics.MemoryUsage,
	})
	if len(history) > maxTrendEntries {
		history = history[len(history)-maxTrendEntries:]
	}
	s.trends[st.UnitID] = history
}

// carryIssues preserves first-seen timestamps and occurrence counts for
// issues that persist across passes, and counts the ones that cleared.
func (s *Sampler) carryIssues(prev, next *Status) {
	seen := make(map[string]Issue, len(prev.Issues))
	for _, i := range prev.Issues {
		seen[i.ID] = i
	}
	for idx := range next.Issues {
		if old, ok := seen[next.Issues[idx].ID]; ok {
			next.Issues[idx].FirstSeen = old.FirstSeen
			next.Issues[idx].Occurrences = old.Occurrences + 1
			delete(seen, next.Issues[idx].ID)
		}
	}
	for _, old := range seen {
		if !old.Resolved {
			s.resolved++
		}
	}
}

func (s *Sampler) evaluateRules(ctx context.Context, st *Status) {
	payload := st.Payload()
	now := s.now().UTC()
	for i := range s.rules {
		r := &s.rules[i]
		if !s.engine.Evaluate(r, payload, now) {
			continue
		}
		s.alerts.Trigger(ctx, r, st.UnitID, map[string]any{
			"health_score": st.HealthScore,
			"status":       string(st.Status),
			"error_rate":   st.Metrics.ErrorRate,
			"checked_at":   st.CheckedAt,
		})
	}
}

// maybeRecover invokes the recovery service for critical/offline units
// carrying at least one auto-recoverable issue. Failures are events, never
// errors: the unit stays degraded until the next pass or manual action.
func (s *Sampler) maybeRecover(ctx context.Context, st *Status) {
	if st.Status != StatusCritical && st.Status != StatusOffline {
		return
	}
	recoverable := false
	for _, i := range st.Issues {
		if i.AutoRecoverable && !i.Resolved {
			recoverable = true
			break
		}
	}
	if !recoverable {
		return
	}

	result, err := s.recovery.ExecuteRecovery(ctx, st.UnitID, "repair", provider.RecoveryOptions{
		TargetHealthScore: s.cfg.Thresholds.DegradedScore,
		MaxAttempts:       s.cfg.RetryAttempts,
		Timeout:           s.cfg.CheckTimeout,
	})
	if err != nil || !result.Success {
		data := map[string]any{"unit_id": st.UnitID}
		if err != nil {
			data["error"] = err.Error()
		} else {
			data["final_score"] = result.FinalHealthScore
		}
		s.logger.Warn("auto-recovery failed", "unit_id", st.UnitID, "error", err)
		s.events.Publish(events.TypeRecoveryFailed, data)
		return
	}

	s.logger.Info("auto-recovery succeeded",
		"unit_id", st.UnitID,
		"final_score", result.FinalHealthScore,
	)
	s.events.Publish(events.TypeRecoverySucceeded, map[string]any{
		"unit_id":     st.UnitID,
		"final_score": result.FinalHealthScore,
	})
}

// GetUnitStatus returns the latest retained status for one unit.
func (s *Sampler) GetUnitStatus(unitID string) (*Status, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.statuses[unitID]
	if !ok {
		return nil, false
	}
	c := *st
	return &c, true
}

// GetAllStatuses returns the latest status of every checked unit.
func (s *Sampler) GetAllStatuses() map[string]*Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Status, len(s.statuses))
	for id, st := range s.statuses {
		c := *st
		out[id] = &c
	}
	return out
}

// GetTrends returns the unit's retained score history, oldest first.
func (s *Sampler) GetTrends(unitID string) []Trend {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Trend(nil), s.trends[unitID]...)
}

// GetSystemHealth aggregates the latest statuses.
func (s *Sampler) GetSystemHealth() SystemHealth {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aggregate(s.statuses)
}

func (s *Sampler) aggregate(statuses map[string]*Status) SystemHealth {
	sys := SystemHealth{CountsByStatus: make(map[string]int)}
	if len(statuses) == 0 {
		return sys
	}

	var scoreSum, responseSum, uptimeSum float64
	for _, st := range statuses {
		scoreSum += float64(st.HealthScore)
		responseSum += st.Metrics.ResponseTimeMS
		uptimeSum += st.UptimeSec
		sys.CountsByStatus[string(st.Status)]++
		for _, i := range st.Issues {
			if !i.Resolved {
				sys.UnresolvedIssues++
			}
		}
	}

	n := float64(len(statuses))
	sys.OverallHealth = scoreSum / n
	sys.MeanResponseTimeMS = responseSum / n
	sys.MeanUptimeSec = uptimeSum / n
	return sys
}

func (s *Sampler) buildReport(statuses []*Status) *Report {
	byUnit := make(map[string]*Status, len(statuses))
	for _, st := range statuses {
		byUnit[st.UnitID] = st
	}

	s.mu.Lock()
	resolved := s.resolved
	s.mu.Unlock()

	sys := s.aggregate(byUnit)
	return &Report{
		Timestamp:       s.now().UTC(),
		OverallHealth:   sys.OverallHealth,
		Statuses:        byUnit,
		ActiveAlerts:    s.alerts.ActiveCount(),
		ResolvedIssues:  resolved,
		System:          sys,
		Recommendations: s.recommend(statuses),
	}
}

// recommend lists the units an operator should look at first.
func (s *Sampler) recommend(statuses []*Status) []string {
	var recs []string
	for _, st := range statuses {
		switch st.Status {
		case StatusOffline, StatusCritical:
			recs = append(recs, fmt.Sprintf("unit %s is %s (score %d): investigate immediately", st.UnitID, st.Status, st.HealthScore))
		case StatusDegraded:
			recs = append(recs, fmt.Sprintf("unit %s is degraded (score %d)", st.UnitID, st.HealthScore))
		}
		if st.Status != StatusOffline && st.Metrics.ErrorRate > s.cfg.Thresholds.ErrorRate {
			recs = append(recs, fmt.Sprintf("unit %s error rate %.2f exceeds %.2f", st.UnitID, st.Metrics.ErrorRate, s.cfg.Thresholds.ErrorRate))
		}
		if st.Metrics.ResponseTimeMS > s.cfg.Thresholds.ResponseTimeMS {
			recs = append(recs, fmt.Sprintf("unit %s response time %.0fms exceeds %.0fms", st.UnitID, st.Metrics.ResponseTimeMS, s.cfg.Thresholds.ResponseTimeMS))
		}
	}
	return recs
}
