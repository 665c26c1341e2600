package handlers

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/pipeline"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

// ownerID resolves the calling user from the X-User-ID header. There is
// no auth layer in front of this service; the header is trusted.
func ownerID(c *fiber.Ctx) (uuid.UUID, error) {
	raw := c.Get("X-User-ID")
	if raw == "" {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "X-User-ID header is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "X-User-ID must be a UUID")
	}
	return id, nil
}

func paramUUID(c *fiber.Ctx, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Params(name))
	if err != nil {
		return uuid.Nil, fiber.NewError(fiber.StatusBadRequest, name+" must be a UUID")
	}
	return id, nil
}

// submitter creates the job row and its placeholder run, then hands the
// task to the dispatcher. With dispatch disabled the job runs inline so
// the API stays usable without Redis.
type submitter struct {
	store      *sqlite.Client
	dispatcher *pipeline.Dispatcher
	runner     *pipeline.Runner
}

func runTypeForJob(jobType models.JobType) models.RunType {
	switch jobType {
	case models.JobExtractFacts:
		return models.RunLibrarian
	case models.JobGenerateParagraph:
		return models.RunWriter
	default:
		return models.RunVerifier
	}
}

func (s *submitter) submit(ctx context.Context, job *models.Job, provider, model, promptVersion string) error {
	if err := s.store.CreateJob(ctx, job); err != nil {
		return err
	}

	run := &models.Run{
		ID:            uuid.New(),
		OwnerID:       job.OwnerID,
		RunType:       runTypeForJob(job.JobType),
		Provider:      provider,
		Model:         model,
		PromptVersion: promptVersion,
		TraceID:       job.TraceID,
	}
	switch job.JobType {
	case models.JobExtractFacts:
		run.DocumentID = &job.TargetID
	default:
		run.ParagraphID = &job.TargetID
	}
	if err := s.store.CreateRun(ctx, run); err != nil {
		return err
	}

	task := pipeline.Task{
		JobID:    job.ID,
		JobType:  job.JobType,
		TargetID: job.TargetID,
		OwnerID:  job.OwnerID,
	}
	if s.dispatcher.Enabled() {
		return s.dispatcher.Enqueue(ctx, task)
	}

	if err := s.runner.Execute(ctx, job.ID); err != nil {
		logger.Error("Inline job execution failed",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func documentResponse(doc *models.Document) fiber.Map {
	return fiber.Map{
		"id":           doc.ID,
		"owner_id":     doc.OwnerID,
		"source_type":  doc.SourceType,
		"filename":     doc.Filename,
		"content_hash": doc.ContentHash,
		"status":       doc.Status,
		"created_at":   doc.CreatedAt,
		"updated_at":   doc.UpdatedAt,
	}
}

func paragraphResponse(p *models.Paragraph) fiber.Map {
	return fiber.Map{
		"id":               p.ID,
		"manuscript_id":    p.ManuscriptID,
		"section":          p.Section,
		"intent":           p.Intent,
		"spec_json":        p.SpecJSON,
		"allowed_fact_ids": p.AllowedFactIDs,
		"status":           p.Status,
		"latest_run_id":    p.LatestRunID,
		"created_at":       p.CreatedAt,
		"updated_at":       p.UpdatedAt,
	}
}

func sentenceResponse(s *models.Sentence) fiber.Map {
	return fiber.Map{
		"id":                     s.ID,
		"paragraph_id":           s.ParagraphID,
		"order":                  s.Order,
		"sentence_type":          s.SentenceType,
		"text":                   s.Text,
		"supported":              s.Supported,
		"verifier_failure_modes": s.VerifierFailureModes,
		"verifier_explanation":   s.VerifierExplanation,
		"is_user_edited":         s.IsUserEdited,
		"created_at":             s.CreatedAt,
		"updated_at":             s.UpdatedAt,
	}
}

func factResponse(f *models.Fact) fiber.Map {
	return fiber.Map{
		"id":           f.ID,
		"owner_id":     f.OwnerID,
		"document_id":  f.DocumentID,
		"span_id":      f.SpanID,
		"source_type":  f.SourceType,
		"content":      f.Content,
		"qualifiers":   f.Qualifiers,
		"confidence":   f.Confidence,
		"is_uncertain": f.IsUncertain,
		"created_by":   f.CreatedBy,
		"created_at":   f.CreatedAt,
	}
}

func jobResponse(j *models.Job) fiber.Map {
	return fiber.Map{
		"id":         j.ID,
		"owner_id":   j.OwnerID,
		"job_type":   j.JobType,
		"target_id":  j.TargetID,
		"status":     j.Status,
		"progress":   j.Progress,
		"error":      j.Error,
		"trace_id":   j.TraceID,
		"created_at": j.CreatedAt,
		"updated_at": j.UpdatedAt,
	}
}

func runResponse(r *models.Run) fiber.Map {
	return fiber.Map{
		"id":               r.ID,
		"owner_id":         r.OwnerID,
		"paragraph_id":     r.ParagraphID,
		"document_id":      r.DocumentID,
		"run_type":         r.RunType,
		"provider":         r.Provider,
		"model":            r.Model,
		"prompt_version":   r.PromptVersion,
		"input_hash":       r.InputHash,
		"inputs_json":      r.InputsJSON,
		"outputs_json":     r.OutputsJSON,
		"token_prompt":     r.TokenPrompt,
		"token_completion": r.TokenCompletion,
		"cost_usd":         r.CostUSD,
		"latency_ms":       r.LatencyMS,
		"trace_id":         r.TraceID,
		"created_at":       r.CreatedAt,
	}
}
