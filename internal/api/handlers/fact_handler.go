package handlers

import (
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/internal/vector"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

type FactHandler struct {
	store    *sqlite.Client
	vectors  vector.Store
	embedder vector.Embedder
}

func NewFactHandler(store *sqlite.Client, vectors vector.Store, embedder vector.Embedder) *FactHandler {
	return &FactHandler{
		store:    store,
		vectors:  vectors,
		embedder: embedder,
	}
}

func (h *FactHandler) ListFacts(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	facts, err := h.store.ListFactsForOwner(c.Context(), owner)
	if err != nil {
		logger.Error("Failed to list facts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list facts",
		})
	}

	out := make([]fiber.Map, 0, len(facts))
	for _, fact := range facts {
		out = append(out, factResponse(fact))
	}
	return c.JSON(fiber.Map{"facts": out})
}

// CreateFact records a manually entered fact. Manual facts have no
// source document and are indexed for retrieval like extracted ones.
func (h *FactHandler) CreateFact(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var req struct {
		Content     string          `json:"content"`
		Qualifiers  json.RawMessage `json:"qualifiers"`
		Confidence  *float64        `json:"confidence"`
		IsUncertain bool            `json:"is_uncertain"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Content) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Content is required",
		})
	}

	confidence := 1.0
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "confidence must be between 0 and 1",
		})
	}

	fact := &models.Fact{
		ID:          uuid.New(),
		OwnerID:     owner,
		SourceType:  models.SourceManual,
		Content:     strings.TrimSpace(req.Content),
		Qualifiers:  req.Qualifiers,
		Confidence:  confidence,
		IsUncertain: req.IsUncertain,
		CreatedBy:   models.CreatedByUser,
	}
	if err := h.store.CreateFact(c.Context(), fact); err != nil {
		logger.Error("Failed to create fact", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create fact",
		})
	}

	if h.vectors != nil && h.embedder != nil {
		embedding, err := h.embedder.Embed(c.Context(), fact.Content)
		if err == nil {
			err = h.vectors.UpsertFact(c.Context(), vector.FactVector{
				FactID:    fact.ID,
				Namespace: vector.Namespace(owner),
				Content:   fact.Content,
				Embedding: embedding,
			})
		}
		if err != nil {
			logger.Warn("Failed to index manual fact",
				zap.String("fact_id", fact.ID.String()),
				zap.Error(err),
			)
		}
	}

	return c.Status(fiber.StatusCreated).JSON(factResponse(fact))
}

// DeleteFact removes an owned fact and its vector entry.
func (h *FactHandler) DeleteFact(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	deleted, err := h.store.DeleteFact(c.Context(), owner, id)
	if err != nil {
		logger.Error("Failed to delete fact", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to delete fact",
		})
	}
	if !deleted {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Fact not found",
		})
	}

	if err := h.store.DeleteFactEmbedding(c.Context(), id); err != nil {
		logger.Warn("Failed to delete fact embedding", zap.Error(err))
	}
	if h.vectors != nil {
		if err := h.vectors.DeleteFact(c.Context(), vector.Namespace(owner), id); err != nil {
			logger.Warn("Failed to delete fact vector",
				zap.String("fact_id", id.String()),
				zap.Error(err),
			)
		}
	}

	return c.SendStatus(fiber.StatusNoContent)
}
