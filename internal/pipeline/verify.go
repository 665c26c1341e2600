package pipeline

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/contracts"
	"github.com/kwal0203/opus-blocks/internal/llm"
	"github.com/kwal0203/opus-blocks/internal/metrics"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

const taskVerifyParagraph = "verify_paragraph"

func (r *Runner) runVerify(ctx context.Context, job *models.Job) error {
	paragraph, err := r.store.GetParagraph(ctx, job.TargetID)
	if err != nil {
		return err
	}
	if paragraph == nil {
		logger.Warn("Paragraph not found, skipping verification",
			zap.String("job_id", job.ID.String()),
			zap.String("paragraph_id", job.TargetID.String()),
		)
		return nil
	}

	if err := r.store.UpdateJobStatus(ctx, job.ID, models.JobRunning, nil); err != nil {
		return err
	}

	sentences, err := r.store.ListSentences(ctx, paragraph.ID)
	if err != nil {
		return err
	}
	if len(sentences) == 0 {
		if err := r.store.UpdateParagraphStatus(ctx, paragraph.ID, models.ParagraphNeedsRevision); err != nil {
			return err
		}
		msg := "paragraph has no sentences to verify"
		return r.store.UpdateJobStatus(ctx, job.ID, models.JobFailed, &msg)
	}

	input := llm.VerifyInput{ParagraphID: paragraph.ID}
	expectedOrders := make([]int, 0, len(sentences))
	sentenceByOrder := make(map[int]*models.Sentence, len(sentences))
	for _, s := range sentences {
		expectedOrders = append(expectedOrders, s.Order)
		sentenceByOrder[s.Order] = s

		sc := llm.SentenceContext{Order: s.Order, Text: s.Text}
		links, err := r.store.ListSentenceFactLinks(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, link := range links {
			fact, err := r.store.GetFact(ctx, link.FactID)
			if err != nil {
				return err
			}
			sc.FactIDs = append(sc.FactIDs, link.FactID)
			if fact != nil {
				sc.FactTexts = append(sc.FactTexts, fact.Content)
			} else {
				sc.FactTexts = append(sc.FactTexts, "")
			}
		}
		input.Sentences = append(input.Sentences, sc)
	}

	attempt := r.callStage(ctx, job, llm.StageVerifier,
		func(ctx context.Context) (*llm.Result, error) {
			return r.provider.VerifyParagraph(ctx, input)
		},
		func(payload json.RawMessage) error {
			_, verr := contracts.ValidateVerifier(payload, expectedOrders)
			return verr
		},
	)

	if attempt.outcome != OutcomeSuccess {
		if err := r.store.UpdateParagraphStatus(ctx, paragraph.ID, models.ParagraphNeedsRevision); err != nil {
			return err
		}
		return r.failJob(ctx, job, taskVerifyParagraph, attempt)
	}

	out, err := contracts.ValidateVerifier(attempt.result.Outputs, expectedOrders)
	if err != nil {
		return err
	}

	for _, verdict := range out.SentenceResults {
		sentence := sentenceByOrder[verdict.Order]
		supported := verdict.Verdict == contracts.VerdictPass
		explanation := verdict.Explanation
		if err := r.store.UpdateSentenceVerification(ctx, sentence.ID,
			supported, verdict.FailureModes, &explanation); err != nil {
			return err
		}
		metrics.SentencesVerified.WithLabelValues(verdict.Verdict).Inc()
	}

	inputs, err := json.Marshal(map[string]any{
		"paragraph_id": paragraph.ID.String(),
		"sentences":    len(sentences),
	})
	if err != nil {
		return err
	}
	if err := r.recordRun(ctx, job, models.RunVerifier, &paragraph.ID, nil, inputs, attempt.result); err != nil {
		return err
	}

	// The verifier owns the paragraph verdict: VERIFIED follows its
	// overall_pass flag, not a recount of the per-sentence verdicts.
	status := models.ParagraphVerified
	if !out.OverallPass {
		status = models.ParagraphNeedsRevision
	}
	if err := r.store.UpdateParagraphStatus(ctx, paragraph.ID, status); err != nil {
		return err
	}

	logger.Info("Paragraph verification completed",
		zap.String("paragraph_id", paragraph.ID.String()),
		zap.Bool("overall_pass", out.OverallPass),
	)
	return r.succeedJob(ctx, job)
}
