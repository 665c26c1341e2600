package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

type ManuscriptHandler struct {
	store *sqlite.Client
}

func NewManuscriptHandler(store *sqlite.Client) *ManuscriptHandler {
	return &ManuscriptHandler{store: store}
}

func (h *ManuscriptHandler) CreateManuscript(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	var req struct {
		Title string `json:"title"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if strings.TrimSpace(req.Title) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Title is required",
		})
	}

	m := &models.Manuscript{
		ID:      uuid.New(),
		OwnerID: owner,
		Title:   strings.TrimSpace(req.Title),
	}
	if err := h.store.CreateManuscript(c.Context(), m); err != nil {
		logger.Error("Failed to create manuscript", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create manuscript",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":         m.ID,
		"owner_id":   m.OwnerID,
		"title":      m.Title,
		"created_at": m.CreatedAt,
	})
}

func (h *ManuscriptHandler) GetManuscript(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	m, err := h.store.GetManuscript(c.Context(), id)
	if err != nil {
		logger.Error("Failed to load manuscript", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load manuscript",
		})
	}
	if m == nil || m.OwnerID != owner {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Manuscript not found",
		})
	}

	paragraphs, err := h.store.ListParagraphsForManuscript(c.Context(), m.ID)
	if err != nil {
		logger.Error("Failed to list paragraphs", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load manuscript",
		})
	}
	docIDs, err := h.store.ListManuscriptDocumentIDs(c.Context(), m.ID)
	if err != nil {
		logger.Error("Failed to list manuscript documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load manuscript",
		})
	}

	paraOut := make([]fiber.Map, 0, len(paragraphs))
	for _, p := range paragraphs {
		paraOut = append(paraOut, paragraphResponse(p))
	}

	return c.JSON(fiber.Map{
		"id":           m.ID,
		"owner_id":     m.OwnerID,
		"title":        m.Title,
		"created_at":   m.CreatedAt,
		"paragraphs":   paraOut,
		"document_ids": docIDs,
	})
}

func (h *ManuscriptHandler) ListManuscripts(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	manuscripts, err := h.store.ListManuscriptsForOwner(c.Context(), owner)
	if err != nil {
		logger.Error("Failed to list manuscripts", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list manuscripts",
		})
	}

	out := make([]fiber.Map, 0, len(manuscripts))
	for _, m := range manuscripts {
		out = append(out, fiber.Map{
			"id":         m.ID,
			"owner_id":   m.OwnerID,
			"title":      m.Title,
			"created_at": m.CreatedAt,
		})
	}
	return c.JSON(fiber.Map{"manuscripts": out})
}

// AttachDocument links an owned document to an owned manuscript. The
// link is idempotent.
func (h *ManuscriptHandler) AttachDocument(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	var req struct {
		DocumentID uuid.UUID `json:"document_id"`
	}
	if err := c.BodyParser(&req); err != nil || req.DocumentID == uuid.Nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "document_id is required",
		})
	}

	m, err := h.store.GetManuscript(c.Context(), id)
	if err != nil {
		logger.Error("Failed to load manuscript", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to attach document",
		})
	}
	if m == nil || m.OwnerID != owner {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Manuscript not found",
		})
	}

	doc, err := h.store.GetDocumentForOwner(c.Context(), owner, req.DocumentID)
	if err != nil {
		logger.Error("Failed to load document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to attach document",
		})
	}
	if doc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	if err := h.store.AttachDocumentToManuscript(c.Context(), m.ID, doc.ID); err != nil {
		logger.Error("Failed to attach document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to attach document",
		})
	}

	return c.JSON(fiber.Map{
		"manuscript_id": m.ID,
		"document_id":   doc.ID,
	})
}
