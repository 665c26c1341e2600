package handlers

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/metrics"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/config"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

type MetricsHandler struct {
	store      *sqlite.Client
	aggregator *metrics.Aggregator
	cfg        *config.Config
}

func NewMetricsHandler(store *sqlite.Client, cfg *config.Config) *MetricsHandler {
	return &MetricsHandler{
		store:      store,
		aggregator: metrics.NewAggregator(store),
		cfg:        cfg,
	}
}

// window parses the requested aggregation window. Defaults to the last
// 24 hours.
func (h *MetricsHandler) window(c *fiber.Ctx) (metrics.Window, error) {
	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)

	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return metrics.Window{}, fiber.NewError(fiber.StatusBadRequest, "from must be RFC3339")
		}
		from = t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return metrics.Window{}, fiber.NewError(fiber.StatusBadRequest, "to must be RFC3339")
		}
		to = t
	}
	if !from.Before(to) {
		return metrics.Window{}, fiber.NewError(fiber.StatusBadRequest, "from must precede to")
	}
	return metrics.Window{From: from, To: to}, nil
}

func (h *MetricsHandler) GetReport(c *fiber.Ctx) error {
	window, err := h.window(c)
	if err != nil {
		return err
	}

	report, err := h.aggregator.Compute(c.Context(), window)
	if err != nil {
		logger.Error("Failed to compute metrics report", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to compute metrics",
		})
	}
	return c.JSON(report)
}

// Snapshot persists the report for the window and evaluates alert
// thresholds against it.
func (h *MetricsHandler) Snapshot(c *fiber.Ctx) error {
	window, err := h.window(c)
	if err != nil {
		return err
	}

	snap, report, err := h.aggregator.Snapshot(c.Context(), window)
	if err != nil {
		logger.Error("Failed to snapshot metrics", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to snapshot metrics",
		})
	}

	events := metrics.EvaluateAlerts(report, &h.cfg.Alerts)
	if err := metrics.RecordAlerts(c.Context(), h.store, events); err != nil {
		logger.Error("Failed to record alerts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to record alerts",
		})
	}

	alertNames := make([]string, 0, len(events))
	for _, event := range events {
		alertNames = append(alertNames, event.Name)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"snapshot_id": snap.ID,
		"report":      report,
		"alerts":      alertNames,
	})
}

func (h *MetricsHandler) ListSnapshots(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	snapshots, err := h.store.ListMetricsSnapshots(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list metrics snapshots", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list snapshots",
		})
	}

	out := make([]fiber.Map, 0, len(snapshots))
	for _, snap := range snapshots {
		out = append(out, fiber.Map{
			"id":           snap.ID,
			"window_start": snap.WindowStart,
			"window_end":   snap.WindowEnd,
			"scope":        snap.Scope,
			"metrics":      snap.MetricsJSON,
			"created_at":   snap.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"snapshots": out})
}

func (h *MetricsHandler) ListAlerts(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	events, err := h.store.ListAlertEvents(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list alert events", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list alerts",
		})
	}

	out := make([]fiber.Map, 0, len(events))
	for _, event := range events {
		out = append(out, fiber.Map{
			"id":         event.ID,
			"name":       event.Name,
			"status":     event.Status,
			"value":      event.Value,
			"threshold":  event.Threshold,
			"context":    event.ContextJSON,
			"created_at": event.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"alerts": out})
}

func (h *MetricsHandler) ListDeadLetters(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	deadLetters, err := h.store.ListDeadLetters(c.Context(), limit)
	if err != nil {
		logger.Error("Failed to list dead letters", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list dead letters",
		})
	}

	out := make([]fiber.Map, 0, len(deadLetters))
	for _, dl := range deadLetters {
		out = append(out, fiber.Map{
			"id":          dl.ID,
			"job_id":      dl.JobID,
			"task_name":   dl.TaskName,
			"payload":     dl.PayloadJSON,
			"error":       dl.Error,
			"retry_count": dl.RetryCount,
			"created_at":  dl.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"dead_letters": out})
}
