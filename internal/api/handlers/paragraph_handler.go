package handlers

import (
	"encoding/json"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/paragraphspec"
	"github.com/kwal0203/opus-blocks/internal/pipeline"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/config"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

type ParagraphHandler struct {
	store  *sqlite.Client
	submit *submitter
	cfg    *config.Config
}

func NewParagraphHandler(store *sqlite.Client, dispatcher *pipeline.Dispatcher,
	runner *pipeline.Runner, cfg *config.Config) *ParagraphHandler {
	return &ParagraphHandler{
		store:  store,
		submit: &submitter{store: store, dispatcher: dispatcher, runner: runner},
		cfg:    cfg,
	}
}

// loadOwnedParagraph resolves a paragraph and checks the caller owns the
// manuscript it belongs to. Returns nil without error when either lookup
// misses; callers respond 404.
func (h *ParagraphHandler) loadOwnedParagraph(c *fiber.Ctx, owner, id uuid.UUID) (*models.Paragraph, error) {
	p, err := h.store.GetParagraph(c.Context(), id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	m, err := h.store.GetManuscript(c.Context(), p.ManuscriptID)
	if err != nil {
		return nil, err
	}
	if m == nil || m.OwnerID != owner {
		return nil, nil
	}
	return p, nil
}

func (h *ParagraphHandler) CreateParagraph(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var req struct {
		ManuscriptID uuid.UUID          `json:"manuscript_id"`
		Spec         paragraphspec.Spec `json:"spec"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	if err := req.Spec.Validate(); err != nil {
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	m, err := h.store.GetManuscript(c.Context(), req.ManuscriptID)
	if err != nil {
		logger.Error("Failed to load manuscript", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create paragraph",
		})
	}
	if m == nil || m.OwnerID != owner {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Manuscript not found",
		})
	}

	// Allowed facts must exist and belong to the caller.
	if len(req.Spec.AllowedFactIDs) > 0 {
		facts, err := h.store.ListFactsByIDs(c.Context(), owner, req.Spec.AllowedFactIDs)
		if err != nil {
			logger.Error("Failed to resolve allowed facts", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to create paragraph",
			})
		}
		if len(facts) != len(req.Spec.AllowedFactIDs) {
			return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
				"error": "allowed_fact_ids references facts that do not exist for this user",
			})
		}
	}

	specJSON, err := json.Marshal(&req.Spec)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create paragraph",
		})
	}

	p := &models.Paragraph{
		ID:             uuid.New(),
		ManuscriptID:   m.ID,
		Section:        req.Spec.Section,
		Intent:         req.Spec.Intent,
		SpecJSON:       specJSON,
		AllowedFactIDs: req.Spec.AllowedFactIDs,
		Status:         models.ParagraphCreated,
	}
	if err := h.store.CreateParagraph(c.Context(), p); err != nil {
		logger.Error("Failed to create paragraph", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create paragraph",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(paragraphResponse(p))
}

func (h *ParagraphHandler) GetParagraph(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	p, err := h.loadOwnedParagraph(c, owner, id)
	if err != nil {
		logger.Error("Failed to load paragraph", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load paragraph",
		})
	}
	if p == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Paragraph not found",
		})
	}

	sentences, err := h.store.ListSentences(c.Context(), p.ID)
	if err != nil {
		logger.Error("Failed to list sentences", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load paragraph",
		})
	}

	sentOut := make([]fiber.Map, 0, len(sentences))
	for _, s := range sentences {
		resp := sentenceResponse(s)
		links, err := h.store.ListSentenceFactLinks(c.Context(), s.ID)
		if err != nil {
			logger.Error("Failed to list sentence fact links", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to load paragraph",
			})
		}
		linkOut := make([]fiber.Map, 0, len(links))
		for _, l := range links {
			linkOut = append(linkOut, fiber.Map{
				"fact_id": l.FactID,
				"score":   l.Score,
			})
		}
		resp["fact_links"] = linkOut
		sentOut = append(sentOut, resp)
	}

	resp := paragraphResponse(p)
	resp["sentences"] = sentOut
	return c.JSON(resp)
}

// GenerateParagraph queues a drafting job. Generation is idempotent for
// already-drafted paragraphs; the worker skips the provider call when
// sentences exist.
func (h *ParagraphHandler) GenerateParagraph(c *fiber.Ctx) error {
	return h.submitParagraphJob(c, models.JobGenerateParagraph)
}

// VerifyParagraph queues per-sentence verification of the current draft.
func (h *ParagraphHandler) VerifyParagraph(c *fiber.Ctx) error {
	return h.submitParagraphJob(c, models.JobVerifyParagraph)
}

// RegenerateSentences re-verifies a paragraph after manual sentence
// edits.
func (h *ParagraphHandler) RegenerateSentences(c *fiber.Ctx) error {
	return h.submitParagraphJob(c, models.JobRegenerateSentences)
}

func (h *ParagraphHandler) submitParagraphJob(c *fiber.Ctx, jobType models.JobType) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	p, err := h.loadOwnedParagraph(c, owner, id)
	if err != nil {
		logger.Error("Failed to load paragraph", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to queue job",
		})
	}
	if p == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Paragraph not found",
		})
	}

	if jobType != models.JobGenerateParagraph {
		hasSentences, err := h.store.HasSentences(c.Context(), p.ID)
		if err != nil {
			logger.Error("Failed to check sentences", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Failed to queue job",
			})
		}
		if !hasSentences {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Paragraph has no sentences to verify",
			})
		}
	}

	job := &models.Job{
		ID:       uuid.New(),
		OwnerID:  owner,
		JobType:  jobType,
		TargetID: p.ID,
		Status:   models.JobQueued,
		TraceID:  uuid.NewString(),
	}
	if err := h.submit.submit(c.Context(), job, h.cfg.LLM.Provider, h.cfg.LLM.Model, h.cfg.LLM.PromptVersion); err != nil {
		logger.Error("Failed to queue paragraph job",
			zap.String("job_type", string(jobType)),
			zap.Error(err),
		)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to queue job",
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"status":   job.Status,
	})
}
