package handlers

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

type JobHandler struct {
	store *sqlite.Client
}

func NewJobHandler(store *sqlite.Client) *JobHandler {
	return &JobHandler{store: store}
}

func (h *JobHandler) GetJob(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	job, err := h.store.GetJob(c.Context(), id)
	if err != nil {
		logger.Error("Failed to load job", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load job",
		})
	}
	if job == nil || job.OwnerID != owner {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Job not found",
		})
	}

	resp := jobResponse(job)
	deadLetters, err := h.store.CountDeadLettersForJob(c.Context(), job.ID)
	if err == nil {
		resp["dead_letters"] = deadLetters
	}
	return c.JSON(resp)
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	jobs, err := h.store.ListJobsForOwner(c.Context(), owner, limit)
	if err != nil {
		logger.Error("Failed to list jobs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list jobs",
		})
	}

	out := make([]fiber.Map, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, jobResponse(job))
	}
	return c.JSON(fiber.Map{"jobs": out})
}

type RunHandler struct {
	store *sqlite.Client
}

func NewRunHandler(store *sqlite.Client) *RunHandler {
	return &RunHandler{store: store}
}

// ListRuns returns the audit trail, filterable by paragraph, document
// and run type.
func (h *RunHandler) ListRuns(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	filter := sqlite.RunFilter{}
	if raw := c.Query("paragraph_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "paragraph_id must be a UUID",
			})
		}
		filter.ParagraphID = &id
	}
	if raw := c.Query("document_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "document_id must be a UUID",
			})
		}
		filter.DocumentID = &id
	}
	if raw := c.Query("run_type"); raw != "" {
		runType := models.RunType(raw)
		filter.RunType = &runType
	}
	filter.Limit, _ = strconv.Atoi(c.Query("limit", "50"))
	if filter.Limit <= 0 || filter.Limit > 500 {
		filter.Limit = 50
	}

	runs, err := h.store.ListRuns(c.Context(), filter)
	if err != nil {
		logger.Error("Failed to list runs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list runs",
		})
	}

	out := make([]fiber.Map, 0, len(runs))
	for _, run := range runs {
		if run.OwnerID != owner {
			continue
		}
		out = append(out, runResponse(run))
	}
	return c.JSON(fiber.Map{"runs": out})
}

func (h *RunHandler) GetRun(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	run, err := h.store.GetRun(c.Context(), id)
	if err != nil {
		logger.Error("Failed to load run", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load run",
		})
	}
	if run == nil || run.OwnerID != owner {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Run not found",
		})
	}
	return c.JSON(runResponse(run))
}
