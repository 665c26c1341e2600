package handlers

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

type SentenceHandler struct {
	store *sqlite.Client
}

func NewSentenceHandler(store *sqlite.Client) *SentenceHandler {
	return &SentenceHandler{store: store}
}

func (h *SentenceHandler) loadOwnedSentence(c *fiber.Ctx, owner, id uuid.UUID) (*models.Sentence, error) {
	s, err := h.store.GetSentence(c.Context(), id)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, nil
	}
	p, err := h.store.GetParagraph(c.Context(), s.ParagraphID)
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
	return s, nil
}

// EditSentence replaces the sentence text. Editing resets verification
// state and flips the paragraph back to PENDING_VERIFY, since the draft
// no longer matches its verdicts.
func (h *SentenceHandler) EditSentence(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		Text string `json:"text"`
	}
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Text is required",
		})
	}

	s, err := h.loadOwnedSentence(c, owner, id)
	if err != nil {
		logger.Error("Failed to load sentence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to edit sentence",
		})
	}
	if s == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sentence not found",
		})
	}

	if err := h.store.UpdateSentenceText(c.Context(), s.ID, strings.TrimSpace(req.Text)); err != nil {
		logger.Error("Failed to update sentence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to edit sentence",
		})
	}
	if err := h.store.UpdateParagraphStatus(c.Context(), s.ParagraphID, models.ParagraphPendingVerify); err != nil {
		logger.Error("Failed to update paragraph status", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to edit sentence",
		})
	}

	updated, err := h.store.GetSentence(c.Context(), s.ID)
	if err != nil || updated == nil {
		logger.Error("Failed to reload sentence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to edit sentence",
		})
	}
	return c.JSON(sentenceResponse(updated))
}

// MarkSupported lets a user manually flag a sentence as supported. The
// claim needs evidence behind it, so at least one fact link must exist.
func (h *SentenceHandler) MarkSupported(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	s, err := h.loadOwnedSentence(c, owner, id)
	if err != nil {
		logger.Error("Failed to load sentence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sentence",
		})
	}
	if s == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sentence not found",
		})
	}

	links, err := h.store.ListSentenceFactLinks(c.Context(), s.ID)
	if err != nil {
		logger.Error("Failed to list sentence fact links", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sentence",
		})
	}
	if len(links) == 0 {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "Sentence has no fact links; attach evidence before marking it supported",
		})
	}

	if err := h.store.UpdateSentenceVerification(c.Context(), s.ID, true, nil, nil); err != nil {
		logger.Error("Failed to update sentence verification", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sentence",
		})
	}

	// Manual overrides go on the audit trail like any verifier decision.
	inputs, _ := json.Marshal(fiber.Map{"sentence_id": s.ID, "source": "user"})
	outputs, _ := json.Marshal(fiber.Map{"supported": true})
	auditRun := &models.Run{
		ID:            uuid.New(),
		OwnerID:       owner,
		ParagraphID:   &s.ParagraphID,
		RunType:       models.RunVerifier,
		Provider:      "manual",
		Model:         "manual",
		PromptVersion: "manual",
		InputsJSON:    inputs,
		OutputsJSON:   outputs,
		TraceID:       uuid.NewString(),
	}
	if err := h.store.CreateRun(c.Context(), auditRun); err != nil {
		logger.Warn("Failed to record manual verification run", zap.Error(err))
	}

	updated, err := h.store.GetSentence(c.Context(), s.ID)
	if err != nil || updated == nil {
		logger.Error("Failed to reload sentence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update sentence",
		})
	}
	return c.JSON(sentenceResponse(updated))
}

// LinkFact attaches an owned fact to a sentence as supporting evidence.
func (h *SentenceHandler) LinkFact(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		FactID uuid.UUID `json:"fact_id"`
		Score  *float64  `json:"score"`
	}
	if err := c.BodyParser(&req); err != nil || req.FactID == uuid.Nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "fact_id is required",
		})
	}
	if req.Score != nil && (*req.Score < 0 || *req.Score > 1) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "score must be between 0 and 1",
		})
	}

	s, err := h.loadOwnedSentence(c, owner, id)
	if err != nil {
		logger.Error("Failed to load sentence", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to link fact",
		})
	}
	if s == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Sentence not found",
		})
	}

	facts, err := h.store.ListFactsByIDs(c.Context(), owner, []uuid.UUID{req.FactID})
	if err != nil {
		logger.Error("Failed to resolve fact", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to link fact",
		})
	}
	if len(facts) == 0 {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Fact not found",
		})
	}

	link := &models.SentenceFactLink{
		ID:         uuid.New(),
		SentenceID: s.ID,
		FactID:     req.FactID,
		Score:      req.Score,
	}
	if err := h.store.CreateSentenceFactLink(c.Context(), link); err != nil {
		logger.Error("Failed to create sentence fact link", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to link fact",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":          link.ID,
		"sentence_id": link.SentenceID,
		"fact_id":     link.FactID,
		"score":       link.Score,
	})
}
