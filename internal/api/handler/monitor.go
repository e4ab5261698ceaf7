package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/saturnino-fabrica-de-software/sentinela/internal/domain"
	"github.com/saturnino-fabrica-de-software/sentinela/internal/health"
)

// MonitorHandler exposes the sampler's read model and the on-demand check.
type MonitorHandler struct {
	sampler *health.Sampler
	reports *health.ReportStore
	logger  *slog.Logger
}

func NewMonitorHandler(sampler *health.Sampler, reports *health.ReportStore, logger *slog.Logger) *MonitorHandler {
	return &MonitorHandler{sampler: sampler, reports: reports, logger: logger}
}

func (h *MonitorHandler) GetSystemHealth(c *fiber.Ctx) error {
	return c.JSON(h.sampler.GetSystemHealth())
}

func (h *MonitorHandler) GetAllStatuses(c *fiber.Ctx) error {
	return c.JSON(h.sampler.GetAllStatuses())
}

func (h *MonitorHandler) GetUnitStatus(c *fiber.Ctx) error {
	unitID := c.Params("unit_id")
	st, ok := h.sampler.GetUnitStatus(unitID)
	if !ok {
		return domain.ErrUnitNotFound
	}
	return c.JSON(st)
}

func (h *MonitorHandler) GetUnitTrends(c *fiber.Ctx) error {
	unitID := c.Params("unit_id")
	if _, ok := h.sampler.GetUnitStatus(unitID); !ok {
		return domain.ErrUnitNotFound
	}
	return c.JSON(h.sampler.GetTrends(unitID))
}

// GetLatestReport serves the most recent persisted pass report.
func (h *MonitorHandler) GetLatestReport(c *fiber.Ctx) error {
	if h.reports == nil {
		return domain.ErrNotFound
	}

	report, err := h.reports.Latest()
	if err != nil {
		return domain.ErrInternal.WithError(err)
	}
	if report == nil {
		return domain.ErrNotFound
	}
	return c.JSON(report)
}

// ForceCheck runs an immediate check for one unit (?unit_id=) or a full
// pass, bypassing the sampling timer.
func (h *MonitorHandler) ForceCheck(c *fiber.Ctx) error {
	unitID := c.Query("unit_id")

	report, err := h.sampler.ForceHealthCheck(c.Context(), unitID)
	if err != nil {
		return err
	}
	return c.JSON(report)
}
