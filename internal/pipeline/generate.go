package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/contracts"
	"github.com/kwal0203/opus-blocks/internal/llm"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

const taskGenerateParagraph = "generate_paragraph"

func (r *Runner) runGenerate(ctx context.Context, job *models.Job) error {
	paragraph, err := r.store.GetParagraph(ctx, job.TargetID)
	if err != nil {
		return err
	}
	if paragraph == nil {
		logger.Warn("Paragraph not found, skipping generation",
			zap.String("job_id", job.ID.String()),
			zap.String("paragraph_id", job.TargetID.String()),
		)
		return nil
	}

	if err := r.store.UpdateJobStatus(ctx, job.ID, models.JobRunning, nil); err != nil {
		return err
	}

	// Re-delivered generation tasks must not draft twice. Existing
	// sentences mean the writer already ran; move straight to verify.
	hasSentences, err := r.store.HasSentences(ctx, paragraph.ID)
	if err != nil {
		return err
	}
	if hasSentences {
		logger.Info("Paragraph already has sentences, skipping writer call",
			zap.String("paragraph_id", paragraph.ID.String()),
		)
		if err := r.store.UpdateParagraphStatus(ctx, paragraph.ID, models.ParagraphPendingVerify); err != nil {
			return err
		}
		return r.succeedJob(ctx, job)
	}

	if err := r.store.UpdateParagraphStatus(ctx, paragraph.ID, models.ParagraphGenerating); err != nil {
		return err
	}

	facts, err := r.store.ListFactsByIDs(ctx, job.OwnerID, paragraph.AllowedFactIDs)
	if err != nil {
		return err
	}

	input := llm.GenerateInput{
		ParagraphID: paragraph.ID,
		Section:     paragraph.Section,
		Intent:      paragraph.Intent,
		SpecJSON:    paragraph.SpecJSON,
	}
	for _, fact := range facts {
		input.AllowedFacts = append(input.AllowedFacts, llm.FactContext{
			FactID:  fact.ID,
			Content: fact.Content,
		})
	}

	attempt := r.callStage(ctx, job, llm.StageWriter,
		func(ctx context.Context) (*llm.Result, error) {
			return r.provider.GenerateParagraph(ctx, input)
		},
		func(payload json.RawMessage) error {
			_, verr := contracts.ValidateWriter(payload, paragraph.AllowedFactIDs)
			return verr
		},
	)

	if attempt.outcome != OutcomeSuccess {
		if err := r.store.UpdateParagraphStatus(ctx, paragraph.ID, models.ParagraphFailedGeneration); err != nil {
			return err
		}
		return r.failJob(ctx, job, taskGenerateParagraph, attempt)
	}

	out, err := contracts.ValidateWriter(attempt.result.Outputs, paragraph.AllowedFactIDs)
	if err != nil {
		return err
	}

	for _, draft := range out.Paragraph.Sentences {
		sentence := &models.Sentence{
			ID:           uuid.New(),
			ParagraphID:  paragraph.ID,
			Order:        draft.Order,
			SentenceType: models.SentenceType(draft.SentenceType),
			Text:         draft.Text,
		}
		if err := r.store.CreateSentence(ctx, sentence); err != nil {
			return err
		}

		scores := r.linkScores(ctx, job.OwnerID, draft.Text, draft.Citations)
		for _, factID := range draft.Citations {
			link := &models.SentenceFactLink{
				ID:         uuid.New(),
				SentenceID: sentence.ID,
				FactID:     factID,
			}
			if score, ok := scores[factID]; ok {
				link.Score = &score
			}
			if err := r.store.CreateSentenceFactLink(ctx, link); err != nil {
				return err
			}
		}
	}

	inputs, err := json.Marshal(map[string]any{
		"paragraph_id": paragraph.ID.String(),
		"section":      paragraph.Section,
		"intent":       paragraph.Intent,
	})
	if err != nil {
		return err
	}
	if err := r.recordRun(ctx, job, models.RunWriter, &paragraph.ID, nil, inputs, attempt.result); err != nil {
		return err
	}

	if err := r.store.UpdateParagraphStatus(ctx, paragraph.ID, models.ParagraphPendingVerify); err != nil {
		return err
	}

	logger.Info("Paragraph generation completed",
		zap.String("paragraph_id", paragraph.ID.String()),
		zap.Int("sentences", len(out.Paragraph.Sentences)),
		zap.Int("missing_evidence", len(out.Paragraph.MissingEvidence)),
	)
	return r.succeedJob(ctx, job)
}

// linkScores asks the retriever how well each cited fact matches the
// sentence. Scores are advisory; a retriever failure leaves the links
// unscored rather than failing the stage.
func (r *Runner) linkScores(ctx context.Context, ownerID uuid.UUID, text string, citations []uuid.UUID) map[uuid.UUID]float64 {
	scores := map[uuid.UUID]float64{}
	if r.retriever == nil || len(citations) == 0 {
		return scores
	}
	retrieved, err := r.retriever.Retrieve(ctx, ownerID, text, citations, len(citations))
	if err != nil {
		logger.Warn("Retriever failed while scoring links", zap.Error(err))
		return scores
	}
	for _, rf := range retrieved {
		scores[rf.FactID] = rf.Score
	}
	return scores
}
