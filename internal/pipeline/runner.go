package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/llm"
	"github.com/kwal0203/opus-blocks/internal/metrics"
	"github.com/kwal0203/opus-blocks/internal/retrieval"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/internal/vector"
	"github.com/kwal0203/opus-blocks/pkg/circuitbreaker"
	"github.com/kwal0203/opus-blocks/pkg/config"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

// Outcome tags how a stage attempt ended. Terminal job state, target
// status, and dead-letter behavior all branch on it.
type Outcome string

const (
	OutcomeSuccess          Outcome = "success"
	OutcomeTransportFailure Outcome = "transport_failure"
	OutcomeContractFailure  Outcome = "contract_failure"
	OutcomeCircuitOpen      Outcome = "circuit_open"
)

// maxProviderCalls bounds each failure class: one initial call plus one
// retry for transport errors, one re-ask for contract violations.
const maxProviderCalls = 2

// Runner executes pipeline jobs. Every collaborator is injected; in
// particular the breaker is the single shared instance owned by the
// process, never a package global.
type Runner struct {
	store     *sqlite.Client
	provider  llm.Provider
	breaker   *circuitbreaker.Breaker
	retriever retrieval.Retriever
	vectors   vector.Store
	embedder  vector.Embedder
	cfg       *config.Config
}

func NewRunner(store *sqlite.Client, provider llm.Provider, breaker *circuitbreaker.Breaker,
	retriever retrieval.Retriever, vectors vector.Store, embedder vector.Embedder, cfg *config.Config) *Runner {
	return &Runner{
		store:     store,
		provider:  provider,
		breaker:   breaker,
		retriever: retriever,
		vectors:   vectors,
		embedder:  embedder,
		cfg:       cfg,
	}
}

// Execute dispatches a job to its stage handler. A missing job is a
// silent no-op: the submission may have been rolled back after the task
// was queued.
func (r *Runner) Execute(ctx context.Context, jobID uuid.UUID) error {
	job, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		logger.Warn("Job not found, skipping task", zap.String("job_id", jobID.String()))
		return nil
	}

	start := time.Now()
	switch job.JobType {
	case models.JobExtractFacts:
		err = r.runExtract(ctx, job)
	case models.JobGenerateParagraph:
		err = r.runGenerate(ctx, job)
	case models.JobVerifyParagraph, models.JobRegenerateSentences:
		err = r.runVerify(ctx, job)
	default:
		err = fmt.Errorf("unknown job type %q", job.JobType)
	}
	metrics.StageDuration.WithLabelValues(string(job.JobType)).Observe(time.Since(start).Seconds())
	return err
}

type stageAttempt struct {
	outcome    Outcome
	result     *llm.Result
	failureErr error
	calls      int
}

// callStage drives the bounded retry loop around one provider call.
//
// Transport errors consult the breaker before each call, record a
// breaker failure, bump the job's retry progress, and retry once.
// Contract violations re-ask the provider once without touching the
// breaker: the transport worked, the payload did not.
func (r *Runner) callStage(ctx context.Context, job *models.Job, stage llm.Stage,
	call func(context.Context) (*llm.Result, error),
	validate func(json.RawMessage) error) stageAttempt {

	var attempt stageAttempt

	for transportCalls := 0; transportCalls < maxProviderCalls; transportCalls++ {
		if err := r.breaker.Allow(); err != nil {
			metrics.CircuitOpen.Set(1)
			metrics.ProviderCalls.WithLabelValues(string(stage), string(OutcomeCircuitOpen)).Inc()
			attempt.outcome = OutcomeCircuitOpen
			attempt.failureErr = err
			return attempt
		}
		metrics.CircuitOpen.Set(0)

		result, err := call(ctx)
		attempt.calls++
		if err != nil {
			var budgetErr *llm.BudgetExceededError
			if errors.As(err, &budgetErr) {
				// A too-large prompt fails identically on retry and says
				// nothing about provider health.
				metrics.ProviderCalls.WithLabelValues(string(stage), string(OutcomeTransportFailure)).Inc()
				attempt.outcome = OutcomeTransportFailure
				attempt.failureErr = err
				return attempt
			}

			r.breaker.RecordFailure()
			metrics.ProviderCalls.WithLabelValues(string(stage), string(OutcomeTransportFailure)).Inc()
			r.bumpRetryProgress(ctx, job, err.Error())
			attempt.outcome = OutcomeTransportFailure
			attempt.failureErr = err
			continue
		}

		attempt.result = result
		break
	}
	if attempt.result == nil {
		return attempt
	}

	for contractCalls := 0; ; contractCalls++ {
		verr := validate(attempt.result.Outputs)
		if verr == nil {
			r.breaker.RecordSuccess()
			metrics.ProviderCalls.WithLabelValues(string(stage), string(OutcomeSuccess)).Inc()
			attempt.outcome = OutcomeSuccess
			attempt.failureErr = nil
			return attempt
		}
		if contractCalls+1 >= maxProviderCalls {
			metrics.ProviderCalls.WithLabelValues(string(stage), string(OutcomeContractFailure)).Inc()
			r.stashInvalidOutputs(ctx, job, attempt.result.Outputs, verr.Error())
			attempt.outcome = OutcomeContractFailure
			attempt.failureErr = verr
			return attempt
		}

		logger.Warn("Stage output violated contract, re-asking provider",
			zap.String("stage", string(stage)),
			zap.String("job_id", job.ID.String()),
			zap.Error(verr),
		)
		result, err := call(ctx)
		attempt.calls++
		if err != nil {
			// The re-ask hit a transport error; treat it like any other
			// provider failure with no further retries.
			r.breaker.RecordFailure()
			metrics.ProviderCalls.WithLabelValues(string(stage), string(OutcomeTransportFailure)).Inc()
			attempt.outcome = OutcomeTransportFailure
			attempt.failureErr = err
			attempt.result = nil
			return attempt
		}
		attempt.result = result
	}
}

func (r *Runner) bumpRetryProgress(ctx context.Context, job *models.Job, reason string) {
	var progress map[string]any
	if len(job.Progress) > 0 {
		_ = json.Unmarshal(job.Progress, &progress)
	}
	if progress == nil {
		progress = map[string]any{}
	}
	retries, _ := progress["retries"].(float64)
	progress["retries"] = int(retries) + 1
	progress["last_retry_reason"] = reason

	data, err := json.Marshal(progress)
	if err != nil {
		return
	}
	job.Progress = data
	if err := r.store.UpdateJobProgress(ctx, job.ID, data); err != nil {
		logger.Error("Failed to update job progress", zap.Error(err))
	}
}

func (r *Runner) stashInvalidOutputs(ctx context.Context, job *models.Job, outputs json.RawMessage, reason string) {
	var progress map[string]any
	if len(job.Progress) > 0 {
		_ = json.Unmarshal(job.Progress, &progress)
	}
	if progress == nil {
		progress = map[string]any{}
	}
	progress["invalid_outputs"] = json.RawMessage(outputs)
	progress["contract_violation"] = reason

	data, err := json.Marshal(progress)
	if err != nil {
		return
	}
	job.Progress = data
	if err := r.store.UpdateJobProgress(ctx, job.ID, data); err != nil {
		logger.Error("Failed to update job progress", zap.Error(err))
	}
}

// failJob marks the job failed and, unless the circuit was open, writes a
// dead letter. An open circuit is back-pressure, not a poison task.
func (r *Runner) failJob(ctx context.Context, job *models.Job, taskName string, attempt stageAttempt) error {
	msg := attempt.failureErr.Error()
	if err := r.store.UpdateJobStatus(ctx, job.ID, models.JobFailed, &msg); err != nil {
		return err
	}
	metrics.JobsTotal.WithLabelValues(string(job.JobType), string(models.JobFailed)).Inc()

	if attempt.outcome == OutcomeCircuitOpen {
		logger.Warn("Job rejected by open circuit",
			zap.String("job_id", job.ID.String()),
			zap.String("task", taskName),
		)
		return nil
	}

	payload, _ := json.Marshal(map[string]string{
		"job_id":    job.ID.String(),
		"target_id": job.TargetID.String(),
		"outcome":   string(attempt.outcome),
	})
	dl := &models.DeadLetter{
		ID:          uuid.New(),
		JobID:       &job.ID,
		TaskName:    taskName,
		PayloadJSON: payload,
		Error:       &msg,
		RetryCount:  attempt.calls,
	}
	if err := r.store.CreateDeadLetter(ctx, dl); err != nil {
		return err
	}
	metrics.DeadLettersTotal.Inc()
	return nil
}

func (r *Runner) succeedJob(ctx context.Context, job *models.Job) error {
	if err := r.store.UpdateJobStatus(ctx, job.ID, models.JobSucceeded, nil); err != nil {
		return err
	}
	metrics.JobsTotal.WithLabelValues(string(job.JobType), string(models.JobSucceeded)).Inc()
	return nil
}

// recordRun fills the placeholder run created at submission with the call
// inputs and provider results. When no placeholder exists the run is
// created outright, so direct Execute calls still leave an audit trail.
func (r *Runner) recordRun(ctx context.Context, job *models.Job, runType models.RunType,
	targetParagraph, targetDocument *uuid.UUID, inputs json.RawMessage, result *llm.Result) error {

	usage := result.Usage
	tokenPrompt := usage.PromptTokens
	tokenCompletion := usage.CompletionTokens
	cost := usage.CostUSD
	latency := usage.LatencyMS

	metrics.LLMTokensUsed.WithLabelValues(r.provider.Model(), "prompt").Add(float64(tokenPrompt))
	metrics.LLMTokensUsed.WithLabelValues(r.provider.Model(), "completion").Add(float64(tokenCompletion))
	metrics.LLMCost.WithLabelValues(r.provider.Model()).Add(cost)

	var targetID uuid.UUID
	if targetParagraph != nil {
		targetID = *targetParagraph
	} else if targetDocument != nil {
		targetID = *targetDocument
	}

	run, err := r.store.GetLatestRunForTarget(ctx, targetID, runType)
	if err != nil {
		return err
	}
	if run == nil {
		run = &models.Run{
			ID:            uuid.New(),
			OwnerID:       job.OwnerID,
			ParagraphID:   targetParagraph,
			DocumentID:    targetDocument,
			RunType:       runType,
			Provider:      r.provider.Name(),
			Model:         r.provider.Model(),
			PromptVersion: r.cfg.LLM.PromptVersion,
			InputsJSON:    inputs,
			OutputsJSON:   result.Outputs,
			TraceID:       job.TraceID,
		}
		run.TokenPrompt = &tokenPrompt
		run.TokenCompletion = &tokenCompletion
		run.CostUSD = &cost
		run.LatencyMS = &latency
		return r.store.CreateRun(ctx, run)
	}

	if err := r.store.UpdateRunInputs(ctx, run.ID, inputs); err != nil {
		return err
	}
	return r.store.UpdateRunResult(ctx, run.ID, result.Outputs,
		&tokenPrompt, &tokenCompletion, &cost, &latency)
}
