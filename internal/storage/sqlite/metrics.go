package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
)

// CountSentencesInWindow returns how many sentences were verified in the
// window and how many of those came back supported.
func (c *Client) CountSentencesInWindow(ctx context.Context, from, to int64) (total, supported int, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(supported), 0)
		 FROM sentences WHERE created_at >= ? AND created_at < ?`,
		from, to).Scan(&total, &supported)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count sentences in window: %w", err)
	}
	return total, supported, nil
}

func (c *Client) CountParagraphsInWindow(ctx context.Context, from, to int64) (total, verified int, err error) {
	err = c.db.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
		 FROM paragraphs WHERE created_at >= ? AND created_at < ?`,
		string(models.ParagraphVerified), from, to).Scan(&total, &verified)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count paragraphs in window: %w", err)
	}
	return total, verified, nil
}

func (c *Client) InsertMetricsSnapshot(ctx context.Context, snap *models.MetricsSnapshot) error {
	snap.CreatedAt = now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO metrics_snapshots (id, window_start, window_end, scope, metrics_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID.String(), snap.WindowStart.Unix(), snap.WindowEnd.Unix(),
		snap.Scope, rawOrEmpty(snap.MetricsJSON), snap.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert metrics snapshot: %w", err)
	}
	return nil
}

func (c *Client) ListMetricsSnapshots(ctx context.Context, limit int) ([]*models.MetricsSnapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, window_start, window_end, scope, metrics_json, created_at
		 FROM metrics_snapshots ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list metrics snapshots: %w", err)
	}
	defer rows.Close()

	var out []*models.MetricsSnapshot
	for rows.Next() {
		var snap models.MetricsSnapshot
		var idStr, metricsJSON string
		var windowStart, windowEnd, createdAt int64
		if err := rows.Scan(&idStr, &windowStart, &windowEnd, &snap.Scope,
			&metricsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan metrics snapshot row: %w", err)
		}
		snap.ID = uuid.MustParse(idStr)
		snap.WindowStart = timeFromUnix(windowStart)
		snap.WindowEnd = timeFromUnix(windowEnd)
		snap.MetricsJSON = json.RawMessage(metricsJSON)
		snap.CreatedAt = timeFromUnix(createdAt)
		out = append(out, &snap)
	}
	return out, rows.Err()
}

func (c *Client) InsertAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	event.CreatedAt = now()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO alert_events (id, name, status, value, threshold, context_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.ID.String(), event.Name, event.Status, nullFloat(event.Value),
		nullFloat(event.Threshold), rawOrEmpty(event.ContextJSON), event.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert alert event: %w", err)
	}
	return nil
}

func (c *Client) ListAlertEvents(ctx context.Context, limit int) ([]*models.AlertEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := c.db.QueryContext(ctx,
		`SELECT id, name, status, value, threshold, context_json, created_at
		 FROM alert_events ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var out []*models.AlertEvent
	for rows.Next() {
		var event models.AlertEvent
		var idStr, contextJSON string
		var value, threshold sql.NullFloat64
		var createdAt int64
		if err := rows.Scan(&idStr, &event.Name, &event.Status, &value,
			&threshold, &contextJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert event row: %w", err)
		}
		event.ID = uuid.MustParse(idStr)
		event.Value = floatPtr(value)
		event.Threshold = floatPtr(threshold)
		event.ContextJSON = json.RawMessage(contextJSON)
		event.CreatedAt = timeFromUnix(createdAt)
		out = append(out, &event)
	}
	return out, rows.Err()
}
