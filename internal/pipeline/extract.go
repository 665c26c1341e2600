package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/contracts"
	"github.com/kwal0203/opus-blocks/internal/llm"
	"github.com/kwal0203/opus-blocks/internal/metrics"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/vector"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

const taskExtractFacts = "extract_facts"

func (r *Runner) runExtract(ctx context.Context, job *models.Job) error {
	doc, err := r.store.GetDocument(ctx, job.TargetID)
	if err != nil {
		return err
	}
	if doc == nil {
		logger.Warn("Document not found, skipping extraction",
			zap.String("job_id", job.ID.String()),
			zap.String("document_id", job.TargetID.String()),
		)
		return nil
	}

	if err := r.store.UpdateJobStatus(ctx, job.ID, models.JobRunning, nil); err != nil {
		return err
	}
	if err := r.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentExtractingFacts); err != nil {
		return err
	}

	text, err := os.ReadFile(doc.StorageURI)
	if err != nil {
		msg := fmt.Sprintf("failed to read document text: %v", err)
		if serr := r.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentFailedParse); serr != nil {
			return serr
		}
		return r.store.UpdateJobStatus(ctx, job.ID, models.JobFailed, &msg)
	}

	input := llm.ExtractInput{DocumentID: doc.ID, Text: string(text)}
	attempt := r.callStage(ctx, job, llm.StageLibrarian,
		func(ctx context.Context) (*llm.Result, error) {
			return r.provider.ExtractFacts(ctx, input)
		},
		func(payload json.RawMessage) error {
			_, verr := contracts.ValidateLibrarian(payload)
			return verr
		},
	)

	if attempt.outcome != OutcomeSuccess {
		if err := r.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentFailedExtraction); err != nil {
			return err
		}
		return r.failJob(ctx, job, taskExtractFacts, attempt)
	}

	out, err := contracts.ValidateLibrarian(attempt.result.Outputs)
	if err != nil {
		return err
	}

	for _, extracted := range out.Facts {
		fact := &models.Fact{
			ID:         uuid.New(),
			OwnerID:    doc.OwnerID,
			DocumentID: &doc.ID,
			SourceType: models.SourceType(extracted.SourceType),
			Content:    extracted.Content,
			Qualifiers: extracted.Qualifiers,
			Confidence: extracted.Confidence,
			CreatedBy:  models.CreatedByLibrarian,
		}
		if err := r.storeExtractedFact(ctx, doc.ID, fact, extracted.Span); err != nil {
			return err
		}
	}

	for _, uncertain := range out.UncertainFacts {
		qualifiers, err := json.Marshal(map[string]string{"reason": uncertain.Reason})
		if err != nil {
			return err
		}
		fact := &models.Fact{
			ID:          uuid.New(),
			OwnerID:     doc.OwnerID,
			DocumentID:  &doc.ID,
			SourceType:  doc.SourceType,
			Content:     uncertain.Content,
			Qualifiers:  qualifiers,
			Confidence:  0,
			IsUncertain: true,
			CreatedBy:   models.CreatedByLibrarian,
		}
		if err := r.storeExtractedFact(ctx, doc.ID, fact, uncertain.Span); err != nil {
			return err
		}
	}

	inputs, err := json.Marshal(map[string]string{"document_id": doc.ID.String()})
	if err != nil {
		return err
	}
	if err := r.recordRun(ctx, job, models.RunLibrarian, nil, &doc.ID, inputs, attempt.result); err != nil {
		return err
	}

	if err := r.store.UpdateDocumentStatus(ctx, doc.ID, models.DocumentFactsReady); err != nil {
		return err
	}
	metrics.DocumentsProcessed.Inc()

	logger.Info("Fact extraction completed",
		zap.String("document_id", doc.ID.String()),
		zap.Int("facts", len(out.Facts)),
		zap.Int("uncertain_facts", len(out.UncertainFacts)),
	)
	return r.succeedJob(ctx, job)
}

func (r *Runner) storeExtractedFact(ctx context.Context, docID uuid.UUID, fact *models.Fact, span *contracts.SourceSpan) error {
	if span != nil {
		row := &models.Span{
			ID:         uuid.New(),
			DocumentID: docID,
			Page:       span.Page,
			StartChar:  span.StartChar,
			EndChar:    span.EndChar,
			Quote:      span.Quote,
		}
		if err := r.store.CreateSpan(ctx, row); err != nil {
			return err
		}
		fact.SpanID = &row.ID
	}
	if err := r.store.CreateFact(ctx, fact); err != nil {
		return err
	}
	if err := r.indexFact(ctx, fact); err != nil {
		// Retrieval quality degrades but the fact itself is stored.
		logger.Error("Failed to index fact embedding",
			zap.String("fact_id", fact.ID.String()),
			zap.Error(err),
		)
	}
	return nil
}

func (r *Runner) indexFact(ctx context.Context, fact *models.Fact) error {
	if r.vectors == nil || r.embedder == nil {
		return nil
	}
	embedding, err := r.embedder.Embed(ctx, fact.Content)
	if err != nil {
		return err
	}
	return r.vectors.UpsertFact(ctx, vector.FactVector{
		FactID:    fact.ID,
		Namespace: vector.Namespace(fact.OwnerID),
		Content:   fact.Content,
		Embedding: embedding,
	})
}
