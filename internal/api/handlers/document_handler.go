package handlers

import (
	"io"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/ingestion"
	"github.com/kwal0203/opus-blocks/internal/pipeline"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/config"
	"github.com/kwal0203/opus-blocks/pkg/logger"
	"github.com/kwal0203/opus-blocks/pkg/utils"
)

type DocumentHandler struct {
	store     *sqlite.Client
	processor *ingestion.Processor
	submit    *submitter
	cfg       *config.Config
}

func NewDocumentHandler(store *sqlite.Client, processor *ingestion.Processor,
	dispatcher *pipeline.Dispatcher, runner *pipeline.Runner, cfg *config.Config) *DocumentHandler {
	return &DocumentHandler{
		store:     store,
		processor: processor,
		submit:    &submitter{store: store, dispatcher: dispatcher, runner: runner},
		cfg:       cfg,
	}
}

// UploadDocument accepts a multipart file, deduplicates by content hash
// and queues fact extraction for new documents.
func (h *DocumentHandler) UploadDocument(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "A file upload is required",
		})
	}

	file, err := fileHeader.Open()
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Failed to open uploaded file",
		})
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil || len(data) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Uploaded file is empty or unreadable",
		})
	}

	contentHash := utils.HashBytes(data)
	existing, err := h.store.GetDocumentByHash(c.Context(), owner, contentHash)
	if err != nil {
		logger.Error("Failed to check document hash", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store document",
		})
	}
	if existing != nil {
		return c.JSON(fiber.Map{
			"document":  documentResponse(existing),
			"duplicate": true,
		})
	}

	doc := &models.Document{
		ID:          uuid.New(),
		OwnerID:     owner,
		SourceType:  models.SourcePDF,
		Filename:    fileHeader.Filename,
		ContentHash: contentHash,
		Status:      models.DocumentUploaded,
	}

	contentType := fileHeader.Header.Get("Content-Type")
	_, storedPath, err := h.processor.Process(doc.ID, doc.Filename, contentType, data)
	if err != nil {
		logger.Error("Failed to extract document text",
			zap.String("filename", doc.Filename),
			zap.Error(err),
		)
		doc.Status = models.DocumentFailedParse
		if createErr := h.store.CreateDocument(c.Context(), doc); createErr != nil {
			logger.Error("Failed to persist unparseable document", zap.Error(createErr))
		}
		return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":    "Document could not be parsed",
			"document": documentResponse(doc),
		})
	}
	doc.StorageURI = storedPath

	if err := h.store.CreateDocument(c.Context(), doc); err != nil {
		logger.Error("Failed to create document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to store document",
		})
	}

	job := &models.Job{
		ID:       uuid.New(),
		OwnerID:  owner,
		JobType:  models.JobExtractFacts,
		TargetID: doc.ID,
		Status:   models.JobQueued,
		TraceID:  uuid.NewString(),
	}
	if err := h.submit.submit(c.Context(), job, h.cfg.LLM.Provider, h.cfg.LLM.Model, h.cfg.LLM.PromptVersion); err != nil {
		logger.Error("Failed to queue fact extraction", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to queue fact extraction",
		})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"document": documentResponse(doc),
		"job_id":   job.ID,
	})
}

func (h *DocumentHandler) GetDocument(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	doc, err := h.store.GetDocumentForOwner(c.Context(), owner, id)
	if err != nil {
		logger.Error("Failed to load document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load document",
		})
	}
	if doc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}
	return c.JSON(documentResponse(doc))
}

func (h *DocumentHandler) ListDocuments(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}

	docs, err := h.store.ListDocumentsForOwner(c.Context(), owner)
	if err != nil {
		logger.Error("Failed to list documents", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to list documents",
		})
	}

	out := make([]fiber.Map, 0, len(docs))
	for _, doc := range docs {
		out = append(out, documentResponse(doc))
	}
	return c.JSON(fiber.Map{"documents": out})
}

func (h *DocumentHandler) ListDocumentFacts(c *fiber.Ctx) error {
	owner, err := ownerID(c)
	if err != nil {
		return err
	}
	id, err := paramUUID(c, "id")
	if err != nil {
		return err
	}

	doc, err := h.store.GetDocumentForOwner(c.Context(), owner, id)
	if err != nil {
		logger.Error("Failed to load document", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to load document",
		})
	}
	if doc == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "Document not found",
		})
	}

	facts, err := h.store.ListFactsForDocument(c.Context(), doc.ID)
	if err != nil {
		logger.Error("Failed to list document facts", zap.Error(err))
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
