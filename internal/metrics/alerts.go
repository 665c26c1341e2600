package metrics

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/pkg/config"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

const (
	AlertSentenceSupportLow   = "sentence_support_rate_low"
	AlertParagraphVerifiedLow = "paragraph_verified_rate_low"
	AlertJobFailureHigh       = "job_failure_rate_high"

	alertStatusFiring = "FIRING"
)

// EvaluateAlerts compares a report against the configured thresholds and
// returns one event per breach. A nil rate never fires: no data is not a
// bad rate.
func EvaluateAlerts(report *Report, cfg *config.AlertsConfig) []*models.AlertEvent {
	var events []*models.AlertEvent

	check := func(name string, value *float64, threshold float64, breached bool) {
		if value == nil || !breached {
			return
		}
		contextJSON, _ := json.Marshal(map[string]any{
			"window_start": report.WindowStart,
			"window_end":   report.WindowEnd,
		})
		v := *value
		th := threshold
		events = append(events, &models.AlertEvent{
			ID:          uuid.New(),
			Name:        name,
			Status:      alertStatusFiring,
			Value:       &v,
			Threshold:   &th,
			ContextJSON: contextJSON,
		})
		AlertsFired.WithLabelValues(name).Inc()
		logger.Warn("Alert threshold breached",
			zap.String("alert", name),
			zap.Float64("value", v),
			zap.Float64("threshold", th),
		)
	}

	check(AlertSentenceSupportLow, report.SentenceSupportRate, cfg.SentenceSupportRateMin,
		report.SentenceSupportRate != nil && *report.SentenceSupportRate < cfg.SentenceSupportRateMin)
	check(AlertParagraphVerifiedLow, report.ParagraphVerifiedRate, cfg.ParagraphVerifiedRateMin,
		report.ParagraphVerifiedRate != nil && *report.ParagraphVerifiedRate < cfg.ParagraphVerifiedRateMin)
	check(AlertJobFailureHigh, report.JobFailureRate, cfg.JobFailureRateMax,
		report.JobFailureRate != nil && *report.JobFailureRate > cfg.JobFailureRateMax)

	return events
}

// RecordAlerts persists the events from an evaluation.
func RecordAlerts(ctx context.Context, store alertStore, events []*models.AlertEvent) error {
	for _, event := range events {
		if err := store.InsertAlertEvent(ctx, event); err != nil {
			return fmt.Errorf("failed to record alert %s: %w", event.Name, err)
		}
	}
	return nil
}

type alertStore interface {
	InsertAlertEvent(ctx context.Context, event *models.AlertEvent) error
}
