package handlers

import (
	"context"
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

// WebSocketHandler streams job progress to a connected client. The
// client sends {"type":"watch","job_id":...} and receives a progress
// frame on every job update until the job reaches a terminal status.
type WebSocketHandler struct {
	store *sqlite.Client
}

func NewWebSocketHandler(store *sqlite.Client) *WebSocketHandler {
	return &WebSocketHandler{store: store}
}

func (h *WebSocketHandler) HandleConnection(c *websocket.Conn) {
	logger.Info("WebSocket connection established")

	defer func() {
		c.Close()
		logger.Info("WebSocket connection closed")
	}()

	for {
		var msg struct {
			Type  string `json:"type"`
			JobID string `json:"job_id"`
		}

		if err := c.ReadJSON(&msg); err != nil {
			logger.Debug("WebSocket read ended", zap.Error(err))
			break
		}
		if msg.Type != "watch" {
			continue
		}

		jobID, err := uuid.Parse(msg.JobID)
		if err != nil {
			h.sendError(c, "job_id must be a UUID")
			continue
		}

		if err := h.streamJob(c, jobID); err != nil {
			logger.Error("Failed to stream job progress",
				zap.String("job_id", jobID.String()),
				zap.Error(err),
			)
			h.sendError(c, "Failed to stream job progress")
		}
	}
}

func (h *WebSocketHandler) streamJob(c *websocket.Conn, jobID uuid.UUID) error {
	ctx := context.Background()

	var lastStatus models.JobStatus
	for {
		job, err := h.store.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			h.sendError(c, "Job not found")
			return nil
		}

		if job.Status != lastStatus {
			lastStatus = job.Status
			if err := h.sendProgress(c, job); err != nil {
				return err
			}
		}

		if job.Status == models.JobSucceeded ||
			job.Status == models.JobFailed ||
			job.Status == models.JobCancelled {
			return h.sendComplete(c, job)
		}

		time.Sleep(500 * time.Millisecond)
	}
}

func (h *WebSocketHandler) sendProgress(c *websocket.Conn, job *models.Job) error {
	msg := map[string]interface{}{
		"type":     "progress",
		"job_id":   job.ID,
		"job_type": job.JobType,
		"status":   job.Status,
		"progress": job.Progress,
	}
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendComplete(c *websocket.Conn, job *models.Job) error {
	msg := map[string]interface{}{
		"type":     "complete",
		"job_id":   job.ID,
		"job_type": job.JobType,
		"status":   job.Status,
		"error":    job.Error,
	}
	return c.WriteJSON(msg)
}

func (h *WebSocketHandler) sendError(c *websocket.Conn, errorMsg string) {
	msg := map[string]interface{}{
		"type":  "error",
		"error": errorMsg,
	}

	c.WriteJSON(msg)
}
