package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/alert"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/events"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/health"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/provider/mock"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/rule"
)

func newTestRouter(t *testing.T, p *mock.Provider, rules []rule.Rule) (*Router, *alert.Store) {
	t.Helper()

	logger := slog.Default()
	bus := events.NewBus()

	files, err := alert.NewFileStore(t.TempDir())
	require.NoError(t, err)
	store, err := alert.NewStore(files, bus, logger)
	require.NoError(t, err)

	reports, err := health.NewReportStore(t.TempDir())
	require.NoError(t, err)

	sampler := health.NewSampler(
		health.Config{
			Units:      []string{"auth", "billing"},
			Interval:   time.Hour,
			Thresholds: health.DefaultThresholds(),
		},
		p, p,
		&health.StaticCollector{Value: health.RuntimeSample{MemoryUsage: 0.3, CPUUsage: 0.2}},
		rule.NewEngine(nil, nil, logger),
		rules,
		store,
		reports,
		bus,
		logger,
	)

	r := NewRouter(logger, &Dependencies{Sampler: sampler, Alerts: store, Reports: reports})
	r.Setup()
	return r, store
}

func doJSON(t *testing.T, r *Router, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func TestRouter_Probes(t *testing.T) {
	r, _ := newTestRouter(t, mock.New(), nil)

	resp, body := doJSON(t, r, "GET", "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"ok"`)

	resp, _ = doJSON(t, r, "GET", "/ready", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_ForceCheckAndStatuses(t *testing.T) {
	p := mock.New()
	p.SetScore("auth", 90)
	r, _ := newTestRouter(t, p, nil)

	resp, _ := doJSON(t, r, "POST", "/v1/checks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, r, "GET", "/v1/units/auth", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var st health.Status
	require.NoError(t, json.Unmarshal(body, &st))
	assert.Equal(t, "auth", st.UnitID)
	assert.Equal(t, 93, st.HealthScore)

	resp, _ = doJSON(t, r, "GET", "/v1/units/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, r, "GET", "/v1/units/auth/trends", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var trends []health.Trend
	require.NoError(t, json.Unmarshal(body, &trends))
	assert.Len(t, trends, 1)
}

func TestRouter_ForceCheckUnknownUnit(t *testing.T) {
	r, _ := newTestRouter(t, mock.New(), nil)

	resp, _ := doJSON(t, r, "POST", "/v1/checks?unit_id=unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRouter_AlertLifecycle(t *testing.T) {
	p := mock.New()
	p.FailWith("auth", errors.New("unreachable"))

	offlineRule := rule.Rule{
		ID:   "unit-offline",
		Name: "Unit offline",
		Condition: rule.Condition{
			Type:     rule.ConditionThreshold,
			Metric:   "status",
			Operator: rule.OpEQ,
			Value:    "offline",
		},
		Severity: "critical",
		Category: "availability",
		Enabled:  true,
	}
	r, store := newTestRouter(t, p, []rule.Rule{offlineRule})

	resp, _ := doJSON(t, r, "POST", "/v1/checks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, store.ActiveCount())

	resp, body := doJSON(t, r, "GET", "/v1/alerts?status=active", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var list struct {
		Alerts []alert.Alert `json:"alerts"`
		Total  int           `json:"total"`
	}
	require.NoError(t, json.Unmarshal(body, &list))
	require.Equal(t, 1, list.Total)
	id := list.Alerts[0].ID

	// Acknowledge requires an actor.
	resp, _ = doJSON(t, r, "POST", fmt.Sprintf("/v1/alerts/%s/acknowledge", id), map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body = doJSON(t, r, "POST", fmt.Sprintf("/v1/alerts/%s/acknowledge", id), map[string]string{"actor": "oncall"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var acked alert.Alert
	require.NoError(t, json.Unmarshal(body, &acked))
	assert.Equal(t, alert.StatusAcknowledged, acked.Status)
	assert.Equal(t, "oncall", acked.AcknowledgedBy)

	resp, body = doJSON(t, r, "POST", fmt.Sprintf("/v1/alerts/%s/resolve", id), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var resolved alert.Alert
	require.NoError(t, json.Unmarshal(body, &resolved))
	assert.Equal(t, alert.StatusResolved, resolved.Status)

	// Resolving twice conflicts.
	resp, _ = doJSON(t, r, "POST", fmt.Sprintf("/v1/alerts/%s/resolve", id), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, r, "GET", "/v1/alerts/stats", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_SuppressValidation(t *testing.T) {
	p := mock.New()
	p.FailWith("auth", errors.New("unreachable"))
	offlineRule := rule.Rule{
		ID:        "unit-offline",
		Name:      "Unit offline",
		Condition: rule.Condition{Type: rule.ConditionThreshold, Metric: "status", Operator: rule.OpEQ, Value: "offline"},
		Severity:  "critical",
		Enabled:   true,
	}
	r, store := newTestRouter(t, p, []rule.Rule{offlineRule})

	doJSON(t, r, "POST", "/v1/checks", nil)
	alerts := store.List(alert.Filter{})
	require.Len(t, alerts, 1)
	id := alerts[0].ID

	// Suppression expiry must be in the future.
	resp, _ := doJSON(t, r, "POST", fmt.Sprintf("/v1/alerts/%s/suppress", id), map[string]any{
		"until": time.Now().Add(-time.Hour),
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)

	resp, body := doJSON(t, r, "POST", fmt.Sprintf("/v1/alerts/%s/suppress", id), map[string]any{
		"until": time.Now().Add(time.Hour),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var suppressed alert.Alert
	require.NoError(t, json.Unmarshal(body, &suppressed))
	assert.Equal(t, alert.StatusSuppressed, suppressed.Status)
}

func TestRouter_LatestReport(t *testing.T) {
	p := mock.New()
	p.SetScore("auth", 90)
	r, _ := newTestRouter(t, p, nil)

	// No pass has run yet, so there is nothing to serve.
	resp, _ := doJSON(t, r, "GET", "/v1/reports/latest", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, r, "POST", "/v1/checks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, r, "GET", "/v1/reports/latest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report health.Report
	require.NoError(t, json.Unmarshal(body, &report))
	assert.Len(t, report.Statuses, 2)
}

func TestRouter_ListAlertsMinSeverity(t *testing.T) {
	p := mock.New()
	p.FailWith("auth", errors.New("unreachable"))
	offlineRule := rule.Rule{
		ID:        "unit-offline",
		Name:      "Unit offline",
		Condition: rule.Condition{Type: rule.ConditionThreshold, Metric: "status", Operator: rule.OpEQ, Value: "offline"},
		Severity:  "critical",
		Enabled:   true,
	}
	r, _ := newTestRouter(t, p, []rule.Rule{offlineRule})
	doJSON(t, r, "POST", "/v1/checks", nil)

	var list struct {
		Total int `json:"total"`
	}

	resp, body := doJSON(t, r, "GET", "/v1/alerts?min_severity=high", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Total)

	// Nothing outranks critical, so critical alerts still match.
	resp, body = doJSON(t, r, "GET", "/v1/alerts?min_severity=critical", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &list))
	assert.Equal(t, 1, list.Total)

	resp, _ = doJSON(t, r, "GET", "/v1/alerts?min_severity=urgent", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestRouter_AlertHistoryWithoutDatabase(t *testing.T) {
	r, _ := newTestRouter(t, mock.New(), nil)

	resp, _ := doJSON(t, r, "GET", fmt.Sprintf("/v1/alerts/%s/history", "4b33fa62-93b8-4b0a-9b1c-000000000000"), nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, r, "GET", "/v1/alerts/not-a-uuid/history", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRouter_BadAlertID(t *testing.T) {
	r, _ := newTestRouter(t, mock.New(), nil)

	resp, _ := doJSON(t, r, "GET", "/v1/alerts/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
