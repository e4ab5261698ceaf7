package health

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/alert"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/events"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/provider"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/rule"
)

type fakeProvider struct {
	mu     sync.Mutex
	scores map[string]int
	issues map[string][]provider.Issue
	errs   map[string]error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		scores: make(map[string]int),
		issues: make(map[string][]provider.Issue),
		errs:   make(map[string]error),
	}
}

func (p *fakeProvider) Validate(ctx context.Context, unitID string, opts provider.ValidateOptions) (*provider.Diagnostics, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[unitID]; ok {
		return nil, err
	}
	score, ok := p.scores[unitID]
	if !ok {
		score = 95
	}
	return &provider.Diagnostics{HealthScore: score, Issues: p.issues[unitID]}, nil
}

func (p *fakeProvider) setScore(unitID string, score int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scores[unitID] = score
}

func (p *fakeProvider) failWith(unitID string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[unitID] = err
}

type fakeRecovery struct {
	mu      sync.Mutex
	calls   []string
	success bool
}

func (r *fakeRecovery) ExecuteRecovery(ctx context.Context, unitID, strategy string, opts provider.RecoveryOptions) (*provider.RecoveryResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, unitID+"/"+strategy)
	return &provider.RecoveryResult{Success: r.success, FinalHealthScore: opts.TargetHealthScore}, nil
}

func (r *fakeRecovery) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type samplerFixture struct {
	sampler  *Sampler
	provider *fakeProvider
	recovery *fakeRecovery
	alerts   *alert.Store
	bus      *events.Bus
}

func scoreRule() rule.Rule {
	return rule.Rule{
		ID:   "score-critical",
		Name: "Health score critical",
		Condition: rule.Condition{
			Type:     rule.ConditionThreshold,
			Metric:   "health_score",
			Operator: rule.OpLT,
			Value:    30,
		},
		Severity:        domain.SeverityCritical,
		Category:        "health",
		Enabled:         true,
		Channels:        []string{"console"},
		CooldownMinutes: 5,
	}
}

func newFixture(t *testing.T, cfg Config, rules []rule.Rule) *samplerFixture {
	t.Helper()

	bus := events.NewBus()
	logger := slog.Default()

	files, err := alert.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store, err := alert.NewStore(files, bus, logger)
	require.NoError(t, err)

	reports, err := NewReportStore(t.TempDir())
	require.NoError(t, err)

	p := newFakeProvider()
	r := &fakeRecovery{success: true}
	collector := &StaticCollector{Value: RuntimeSample{MemoryUsage: 0.3, CPUUsage: 0.2, DiskUsage: 0.4, UptimeSec: 3600}}

	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.Interval == 0 {
		cfg.Interval = time.Hour // tests drive passes explicitly
	}

	s := NewSampler(cfg, p, r, collector, rule.NewEngine(nil, nil, logger), rules, store, reports, bus, logger)
	return &samplerFixture{sampler: s, provider: p, recovery: r, alerts: store, bus: bus}
}

func TestPerformHealthCheck_HealthyPass(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth", "billing"}}, nil)
	f.provider.setScore("auth", 90)
	f.provider.setScore("billing", 80)

	report, err := f.sampler.PerformHealthCheck(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Statuses, 2)
	auth := report.Statuses["auth"]
	require.NotNil(t, auth)
	assert.Equal(t, 93, auth.HealthScore) // 90*0.7 + 100*0.3
	assert.Equal(t, StatusHealthy, auth.Status)
	assert.Equal(t, 0.3, auth.Metrics.MemoryUsage)

	assert.InDelta(t, (93.0+86.0)/2, report.OverallHealth, 0.01)
	assert.Equal(t, 2, report.System.CountsByStatus[string(StatusHealthy)])

	// Accessors see the retained state.
	st, ok := f.sampler.GetUnitStatus("auth")
	require.True(t, ok)
	assert.Equal(t, 93, st.HealthScore)
	assert.Len(t, f.sampler.GetAllStatuses(), 2)
	assert.Len(t, f.sampler.GetTrends("auth"), 1)
}

func TestPerformHealthCheck_ProviderErrorMeansOffline(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth", "billing"}}, nil)
	f.provider.failWith("auth", errors.New("connection refused"))
	f.provider.setScore("billing", 85)

	report, err := f.sampler.PerformHealthCheck(context.Background())
	require.NoError(t, err)

	auth := report.Statuses["auth"]
	require.NotNil(t, auth)
	assert.Equal(t, StatusOffline, auth.Status)
	assert.Equal(t, 0, auth.HealthScore)
	assert.Equal(t, 1.0, auth.Metrics.ErrorRate)
	require.Len(t, auth.Issues, 1)
	assert.Equal(t, domain.SeverityCritical, auth.Issues[0].Severity)
	assert.True(t, auth.Issues[0].AutoRecoverable)

	// The failing unit does not abort the others.
	billing := report.Statuses["billing"]
	require.NotNil(t, billing)
	assert.Equal(t, StatusHealthy, billing.Status)
}

func TestPerformHealthCheck_RuleTriggersAlertOnce(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth"}}, []rule.Rule{scoreRule()})
	f.provider.failWith("auth", errors.New("down")) // offline, score 0

	ctx := context.Background()
	_, err := f.sampler.PerformHealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.alerts.ActiveCount())

	// Second pass within the cooldown window does not create a duplicate.
	_, err = f.sampler.PerformHealthCheck(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.alerts.ActiveCount())
}

func TestPerformHealthCheck_AutoRecovery(t *testing.T) {
	var recoveries []events.Event
	var mu sync.Mutex

	f := newFixture(t, Config{Units: []string{"auth"}, AutoRecovery: true}, nil)
	f.bus.Subscribe(func(e events.Event) {
		if e.Type == events.TypeRecoverySucceeded || e.Type == events.TypeRecoveryFailed {
			mu.Lock()
			recoveries = append(recoveries, e)
			mu.Unlock()
		}
	})
	f.provider.failWith("auth", errors.New("down"))

	_, err := f.sampler.PerformHealthCheck(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, f.recovery.callCount())
	mu.Lock()
	defer mu.Unlock()
	require.Len(t, recoveries, 1)
	assert.Equal(t, events.TypeRecoverySucceeded, recoveries[0].Type)
}

func TestPerformHealthCheck_NoRecoveryWhenHealthy(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth"}, AutoRecovery: true}, nil)
	f.provider.setScore("auth", 95)

	_, err := f.sampler.PerformHealthCheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, f.recovery.callCount())
}

func TestForceHealthCheck_SingleUnit(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth", "billing"}}, nil)
	f.provider.setScore("auth", 70)

	report, err := f.sampler.ForceHealthCheck(context.Background(), "auth")
	require.NoError(t, err)
	require.Len(t, report.Statuses, 1)
	require.NotNil(t, report.Statuses["auth"])

	_, err = f.sampler.ForceHealthCheck(context.Background(), "unknown")
	assert.ErrorIs(t, err, domain.ErrUnitNotFound)
}

func TestTrendHistoryIsBounded(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth"}}, nil)
	ctx := context.Background()

	for i := 0; i < maxTrendEntries+5; i++ {
		_, err := f.sampler.ForceHealthCheck(ctx, "auth")
		require.NoError(t, err)
	}

	trends := f.sampler.GetTrends("auth")
	assert.Len(t, trends, maxTrendEntries)
	// Oldest first, strictly append-ordered.
	for i := 1; i < len(trends); i++ {
		assert.False(t, trends[i].Timestamp.Before(trends[i-1].Timestamp))
	}
}

func TestIssueOccurrencesCarryForward(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth"}}, nil)
	f.provider.failWith("auth", errors.New("down"))
	ctx := context.Background()

	_, err := f.sampler.PerformHealthCheck(ctx)
	require.NoError(t, err)
	_, err = f.sampler.PerformHealthCheck(ctx)
	require.NoError(t, err)

	st, ok := f.sampler.GetUnitStatus("auth")
	require.True(t, ok)
	require.Len(t, st.Issues, 1)
	assert.Equal(t, 2, st.Issues[0].Occurrences)
}

func TestRecommendations(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth", "billing"}}, nil)
	f.provider.failWith("auth", errors.New("down"))
	f.provider.setScore("billing", 50) // composite 65, healthy

	report, err := f.sampler.PerformHealthCheck(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, report.Recommendations)
	assert.Contains(t, report.Recommendations[0], "auth")
}

func TestStartStopMonitoring_Idempotent(t *testing.T) {
	f := newFixture(t, Config{Units: []string{"auth"}, Interval: 10 * time.Millisecond}, nil)
	ctx := context.Background()

	f.sampler.StartMonitoring(ctx)
	f.sampler.StartMonitoring(ctx) // no-op

	require.Eventually(t, func() bool {
		_, ok := f.sampler.GetUnitStatus("auth")
		return ok
	}, time.Second, 5*time.Millisecond)

	f.sampler.StopMonitoring()
	f.sampler.StopMonitoring() // no-op
}

// blockingProvider parks Validate until released, failing early only if its
// context is cancelled first.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *blockingProvider) Validate(ctx context.Context, unitID string, opts provider.ValidateOptions) (*provider.Diagnostics, error) {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
		return &provider.Diagnostics{HealthScore: 90}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestStopMonitoring_DoesNotAbortInFlightChecks(t *testing.T) {
	logger := slog.Default()
	bus := events.NewBus()

	files, err := alert.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store, err := alert.NewStore(files, bus, logger)
	require.NoError(t, err)

	p := &blockingProvider{started: make(chan struct{}), release: make(chan struct{})}
	s := NewSampler(
		Config{Units: []string{"auth"}, Interval: time.Hour, Thresholds: DefaultThresholds()},
		p, nil,
		&StaticCollector{},
		rule.NewEngine(nil, nil, logger),
		nil,
		store,
		nil,
		bus,
		logger,
	)

	s.StartMonitoring(context.Background())
	<-p.started

	// Stop while the first pass is still waiting on the provider; the
	// check must complete normally, not be cancelled into offline.
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		s.StopMonitoring()
	}()

	close(p.release)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("StopMonitoring did not return")
	}

	st, ok := s.GetUnitStatus("auth")
	require.True(t, ok)
	assert.Equal(t, StatusHealthy, st.Status)
	assert.Equal(t, 0.0, st.Metrics.ErrorRate)
	assert.Empty(t, st.Issues)
}

func TestGetSystemHealth_Empty(t *testing.T) {
	f := newFixture(t, Config{Units: nil}, nil)
	sys := f.sampler.GetSystemHealth()
	assert.Equal(t, 0.0, sys.OverallHealth)
	assert.Empty(t, sys.CountsByStatus)
}
