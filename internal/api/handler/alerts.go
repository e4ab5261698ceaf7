package handler

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/alert"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
)

// AlertsHandler exposes the alert table and its lifecycle transitions.
// history is nil when the deployment runs without a database; the history
// endpoint then reports not found.
type AlertsHandler struct {
	store   *alert.Store
	history *alert.Repository
	logger  *slog.Logger
}

func NewAlertsHandler(store *alert.Store, history *alert.Repository, logger *slog.Logger) *AlertsHandler {
	return &AlertsHandler{store: store, history: history, logger: logger}
}

func (h *AlertsHandler) List(c *fiber.Ctx) error {
	f := alert.Filter{
		Status:      alert.Status(c.Query("status")),
		Severity:    domain.Severity(c.Query("severity")),
		MinSeverity: domain.Severity(c.Query("min_severity")),
		Category:    c.Query("category"),
		UnitID:      c.Query("unit_id"),
		RuleID:      c.Query("rule_id"),
	}
	if f.MinSeverity != "" && !f.MinSeverity.Valid() {
		return domain.ErrValidationFailed
	}

	alerts := h.store.List(f)
	return c.JSON(fiber.Map{
		"alerts": alerts,
		"total":  len(alerts),
	})
}

// History returns the persisted lifecycle transitions for one alert,
// newest first.
func (h *AlertsHandler) History(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}
	if h.history == nil {
		return domain.ErrNotFound
	}

	limit := c.QueryInt("limit", 50)
	if limit <= 0 || limit > 500 {
		return domain.ErrValidationFailed
	}

	entries, err := h.history.ListByAlert(c.Context(), id, limit)
	if err != nil {
		return domain.ErrInternal.WithError(err)
	}
	if entries == nil {
		entries = []*alert.HistoryEntry{}
	}
	return c.JSON(fiber.Map{
		"entries": entries,
		"total":   len(entries),
	})
}

func (h *AlertsHandler) Stats(c *fiber.Ctx) error {
	return c.JSON(h.store.Stats())
}

func (h *AlertsHandler) Get(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	a, ok := h.store.Get(id)
	if !ok {
		return domain.ErrAlertNotFound
	}
	return c.JSON(a)
}

type acknowledgeRequest struct {
	Actor string `json:"actor"`
}

func (h *AlertsHandler) Acknowledge(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	var req acknowledgeRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}
	if req.Actor == "" {
		return domain.ErrValidationFailed
	}

	if err := h.store.Acknowledge(c.Context(), id, req.Actor); err != nil {
		return err
	}

	a, _ := h.store.Get(id)
	return c.JSON(a)
}

func (h *AlertsHandler) Resolve(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	if err := h.store.Resolve(c.Context(), id); err != nil {
		return err
	}

	a, _ := h.store.Get(id)
	return c.JSON(a)
}

type suppressRequest struct {
	Until time.Time `json:"until"`
}

func (h *AlertsHandler) Suppress(c *fiber.Ctx) error {
	id, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return domain.ErrBadRequest.WithError(err)
	}

	var req suppressRequest
	if err := c.BodyParser(&req); err != nil {
		return domain.ErrBadRequest.WithError(err)
	}
	if req.Until.IsZero() || !req.Until.After(time.Now()) {
		return domain.ErrValidationFailed
	}

	if err := h.store.Suppress(c.Context(), id, req.Until.UTC()); err != nil {
		return err
	}

	a, _ := h.store.Get(id)
	return c.JSON(a)
}
