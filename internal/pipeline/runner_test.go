package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwal0203/opus-blocks/internal/llm"
	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/pkg/circuitbreaker"
	"github.com/kwal0203/opus-blocks/pkg/config"
)

// countingProvider wraps another provider and counts calls; when failWith
// is set every call errors instead.
type countingProvider struct {
	inner    llm.Provider
	calls    int
	failWith error
	// payload overrides the inner provider's output when set.
	payload json.RawMessage
}

func (p *countingProvider) Name() string  { return "stub" }
func (p *countingProvider) Model() string { return "stub-model" }

func (p *countingProvider) call(ctx context.Context, fn func() (*llm.Result, error)) (*llm.Result, error) {
	p.calls++
	if p.failWith != nil {
		return nil, p.failWith
	}
	if p.payload != nil {
		return &llm.Result{Outputs: p.payload}, nil
	}
	return fn()
}

func (p *countingProvider) ExtractFacts(ctx context.Context, input llm.ExtractInput) (*llm.Result, error) {
	return p.call(ctx, func() (*llm.Result, error) { return p.inner.ExtractFacts(ctx, input) })
}

func (p *countingProvider) GenerateParagraph(ctx context.Context, input llm.GenerateInput) (*llm.Result, error) {
	return p.call(ctx, func() (*llm.Result, error) { return p.inner.GenerateParagraph(ctx, input) })
}

func (p *countingProvider) VerifyParagraph(ctx context.Context, input llm.VerifyInput) (*llm.Result, error) {
	return p.call(ctx, func() (*llm.Result, error) { return p.inner.VerifyParagraph(ctx, input) })
}

type fixture struct {
	store    *sqlite.Client
	provider *countingProvider
	breaker  *circuitbreaker.Breaker
	runner   *Runner
	cfg      *config.Config
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.InitSchema())
	t.Cleanup(func() { store.Close() })

	provider := &countingProvider{inner: llm.NewStubProvider(llm.TokenBudget{})}
	breaker := circuitbreaker.New("llm", circuitbreaker.Config{
		Enabled:          true,
		FailureThreshold: 5,
		Window:           time.Minute,
		Cooldown:         2 * time.Minute,
	})

	cfg := &config.Config{}
	cfg.LLM.Provider = "stub"
	cfg.LLM.PromptVersion = "v1"

	runner := NewRunner(store, provider, breaker, nil, nil, nil, cfg)
	return &fixture{store: store, provider: provider, breaker: breaker, runner: runner, cfg: cfg}
}

func (f *fixture) createDocument(t *testing.T, owner uuid.UUID, text string) *models.Document {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o644))

	doc := &models.Document{
		ID: uuid.New(), OwnerID: owner, SourceType: models.SourcePDF,
		Filename: "doc.pdf", ContentHash: uuid.NewString(), StorageURI: path,
		Status: models.DocumentUploaded,
	}
	require.NoError(t, f.store.CreateDocument(context.Background(), doc))
	return doc
}

func (f *fixture) createJob(t *testing.T, owner uuid.UUID, jobType models.JobType, target uuid.UUID) *models.Job {
	t.Helper()
	job := &models.Job{
		ID: uuid.New(), OwnerID: owner, JobType: jobType, TargetID: target,
		Status: models.JobQueued, TraceID: uuid.NewString(),
	}
	require.NoError(t, f.store.CreateJob(context.Background(), job))
	return job
}

func (f *fixture) createParagraph(t *testing.T, owner uuid.UUID, allowed []uuid.UUID) *models.Paragraph {
	t.Helper()
	ctx := context.Background()
	m := &models.Manuscript{ID: uuid.New(), OwnerID: owner, Title: "Draft"}
	require.NoError(t, f.store.CreateManuscript(ctx, m))
	p := &models.Paragraph{
		ID: uuid.New(), ManuscriptID: m.ID, Section: "Results",
		Intent: "Primary Results", SpecJSON: json.RawMessage(`{}`),
		AllowedFactIDs: allowed, Status: models.ParagraphCreated,
	}
	require.NoError(t, f.store.CreateParagraph(ctx, p))
	return p
}

func (f *fixture) createFact(t *testing.T, owner uuid.UUID, content string) *models.Fact {
	t.Helper()
	fact := &models.Fact{
		ID: uuid.New(), OwnerID: owner, SourceType: models.SourceManual,
		Content: content, Confidence: 1.0, CreatedBy: models.CreatedByUser,
	}
	require.NoError(t, f.store.CreateFact(context.Background(), fact))
	return fact
}

func TestExtractSuccess(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	doc := f.createDocument(t, owner, "The intervention reduced symptoms by 30% over 12 weeks.")
	job := f.createJob(t, owner, models.JobExtractFacts, doc.ID)

	require.NoError(t, f.runner.Execute(ctx, job.ID))

	gotDoc, err := f.store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentFactsReady, gotDoc.Status)

	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, gotJob.Status)

	facts, err := f.store.ListFactsForDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, facts, 3)
	for _, fact := range facts {
		assert.Equal(t, models.CreatedByLibrarian, fact.CreatedBy)
	}
	// The stub's first fact carries a full span.
	assert.NotNil(t, facts[0].SpanID)

	// The librarian's uncertain fact lands as a zero-confidence row with
	// the hedge reason in its qualifiers.
	var uncertain *models.Fact
	for _, fact := range facts {
		if fact.IsUncertain {
			uncertain = fact
		}
	}
	require.NotNil(t, uncertain)
	assert.Equal(t, 0.0, uncertain.Confidence)
	var qualifiers map[string]string
	require.NoError(t, json.Unmarshal(uncertain.Qualifiers, &qualifiers))
	assert.NotEmpty(t, qualifiers["reason"])

	run, err := f.store.GetLatestRunForTarget(ctx, doc.ID, models.RunLibrarian)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.NotEqual(t, "{}", string(run.OutputsJSON))
	assert.Equal(t, 1, f.provider.calls)
}

func TestExtractMissingDocumentIsSilentNoop(t *testing.T) {
	f := newFixture(t)
	job := f.createJob(t, uuid.New(), models.JobExtractFacts, uuid.New())

	require.NoError(t, f.runner.Execute(context.Background(), job.ID))

	got, err := f.store.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobQueued, got.Status)
	assert.Zero(t, f.provider.calls)
}

func TestGenerateTransportFailureExhaustsRetries(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	fact := f.createFact(t, owner, "Scores improved by 4.2 points.")
	p := f.createParagraph(t, owner, []uuid.UUID{fact.ID})
	job := f.createJob(t, owner, models.JobGenerateParagraph, p.ID)

	f.provider.failWith = errors.New("provider unavailable")
	require.NoError(t, f.runner.Execute(ctx, job.ID))

	assert.Equal(t, 2, f.provider.calls, "one call plus exactly one retry")
	assert.Equal(t, 2, f.breaker.FailureCount())

	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, gotJob.Status)
	require.NotNil(t, gotJob.Error)
	assert.Contains(t, *gotJob.Error, "provider unavailable")

	var progress map[string]any
	require.NoError(t, json.Unmarshal(gotJob.Progress, &progress))
	assert.Equal(t, float64(2), progress["retries"])
	assert.Equal(t, "provider unavailable", progress["last_retry_reason"])

	gotP, err := f.store.GetParagraph(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParagraphFailedGeneration, gotP.Status)

	letters, err := f.store.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, taskGenerateParagraph, letters[0].TaskName)
}

func TestGenerateContractFailureStashesOutputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	fact := f.createFact(t, owner, "Scores improved.")
	p := f.createParagraph(t, owner, []uuid.UUID{fact.ID})
	job := f.createJob(t, owner, models.JobGenerateParagraph, p.ID)

	// A sentence with no citations violates the writer contract.
	f.provider.payload = json.RawMessage(`{"paragraph": {"section": "Results", "intent": "Primary Results",
		"sentences": [{"order": 1, "sentence_type": "topic", "text": "Uncited claim.", "citations": []}]}}`)
	require.NoError(t, f.runner.Execute(ctx, job.ID))

	assert.Equal(t, 2, f.provider.calls, "initial call plus one contract re-ask")
	// Contract failures say nothing about transport health.
	assert.Zero(t, f.breaker.FailureCount())

	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, gotJob.Status)

	var progress map[string]any
	require.NoError(t, json.Unmarshal(gotJob.Progress, &progress))
	assert.Contains(t, progress, "invalid_outputs")
	assert.Contains(t, progress["contract_violation"], "cite at least one fact")

	letters, err := f.store.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, letters, 1)
}

func TestGenerateSuccessCreatesSentencesAndLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	fact := f.createFact(t, owner, "Scores improved by 4.2 points.")
	p := f.createParagraph(t, owner, []uuid.UUID{fact.ID})
	job := f.createJob(t, owner, models.JobGenerateParagraph, p.ID)

	require.NoError(t, f.runner.Execute(ctx, job.ID))

	gotP, err := f.store.GetParagraph(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParagraphPendingVerify, gotP.Status)

	sentences, err := f.store.ListSentences(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sentences, 2)
	assert.Equal(t, 1, sentences[0].Order)

	links, err := f.store.ListSentenceFactLinks(ctx, sentences[0].ID)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, fact.ID, links[0].FactID)
}

func TestGenerateIdempotentWhenSentencesExist(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	p := f.createParagraph(t, owner, nil)
	require.NoError(t, f.store.CreateSentence(ctx, &models.Sentence{
		ID: uuid.New(), ParagraphID: p.ID, Order: 1,
		SentenceType: models.SentenceTopic, Text: "Already drafted.",
	}))
	job := f.createJob(t, owner, models.JobGenerateParagraph, p.ID)

	require.NoError(t, f.runner.Execute(ctx, job.ID))

	assert.Zero(t, f.provider.calls, "re-delivery must not draft twice")

	gotP, err := f.store.GetParagraph(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParagraphPendingVerify, gotP.Status)

	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, gotJob.Status)
}

func TestCircuitOpenFailsWithoutDeadLetter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	fact := f.createFact(t, owner, "A fact.")
	p := f.createParagraph(t, owner, []uuid.UUID{fact.ID})
	job := f.createJob(t, owner, models.JobGenerateParagraph, p.ID)

	for i := 0; i < 5; i++ {
		f.breaker.RecordFailure()
	}
	require.True(t, f.breaker.IsOpen())

	require.NoError(t, f.runner.Execute(ctx, job.ID))

	assert.Zero(t, f.provider.calls)

	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, gotJob.Status)
	require.NotNil(t, gotJob.Error)
	assert.Contains(t, *gotJob.Error, "circuit breaker is open")

	gotP, err := f.store.GetParagraph(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParagraphFailedGeneration, gotP.Status)

	letters, err := f.store.ListDeadLetters(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, letters, "an open circuit is back-pressure, not a poison task")
}

func setupDraftedParagraph(t *testing.T, f *fixture, owner uuid.UUID, withLinks bool) *models.Paragraph {
	t.Helper()
	ctx := context.Background()

	fact := f.createFact(t, owner, "Scores improved by 4.2 points.")
	p := f.createParagraph(t, owner, []uuid.UUID{fact.ID})

	s := &models.Sentence{
		ID: uuid.New(), ParagraphID: p.ID, Order: 1,
		SentenceType: models.SentenceEvidence, Text: "Scores improved by 4.2 points.",
	}
	require.NoError(t, f.store.CreateSentence(ctx, s))
	if withLinks {
		require.NoError(t, f.store.CreateSentenceFactLink(ctx, &models.SentenceFactLink{
			ID: uuid.New(), SentenceID: s.ID, FactID: fact.ID,
		}))
	}
	require.NoError(t, f.store.UpdateParagraphStatus(ctx, p.ID, models.ParagraphPendingVerify))
	return p
}

func TestVerifyAllPassMarksVerified(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	p := setupDraftedParagraph(t, f, owner, true)
	job := f.createJob(t, owner, models.JobVerifyParagraph, p.ID)

	require.NoError(t, f.runner.Execute(ctx, job.ID))

	gotP, err := f.store.GetParagraph(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParagraphVerified, gotP.Status)

	sentences, err := f.store.ListSentences(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sentences, 1)
	assert.True(t, sentences[0].Supported)
	assert.NotNil(t, sentences[0].VerifierExplanation)

	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, gotJob.Status)

	run, err := f.store.GetLatestRunForTarget(ctx, p.ID, models.RunVerifier)
	require.NoError(t, err)
	require.NotNil(t, run)
}

func TestVerifyFailVerdictMarksNeedsRevision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	// No links: the stub verifier fails uncited sentences.
	p := setupDraftedParagraph(t, f, owner, false)
	job := f.createJob(t, owner, models.JobVerifyParagraph, p.ID)

	require.NoError(t, f.runner.Execute(ctx, job.ID))

	gotP, err := f.store.GetParagraph(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParagraphNeedsRevision, gotP.Status)

	sentences, err := f.store.ListSentences(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sentences, 1)
	assert.False(t, sentences[0].Supported)
	assert.Contains(t, sentences[0].VerifierFailureModes, "unsupported_claim")

	// A FAIL verdict is still a successful verification run.
	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, gotJob.Status)
}

func TestVerifyNoSentencesFailsJob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	p := f.createParagraph(t, owner, nil)
	job := f.createJob(t, owner, models.JobVerifyParagraph, p.ID)

	require.NoError(t, f.runner.Execute(ctx, job.ID))

	assert.Zero(t, f.provider.calls)
	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobFailed, gotJob.Status)
	require.NotNil(t, gotJob.Error)
	assert.Contains(t, *gotJob.Error, "no sentences")

	// An unverifiable paragraph needs revision; leaving it pending would
	// strand it in the review queue.
	gotP, err := f.store.GetParagraph(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParagraphNeedsRevision, gotP.Status)
}

func TestVerifyParagraphVerdictFollowsOverallPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	p := setupDraftedParagraph(t, f, owner, true)
	job := f.createJob(t, owner, models.JobVerifyParagraph, p.ID)

	// Every sentence passes but the verifier withholds the paragraph
	// verdict; the paragraph must follow overall_pass.
	f.provider.payload = json.RawMessage(`{"overall_pass": false, "sentence_results": [
		{"order": 1, "verdict": "PASS", "explanation": "Quote matches.", "required_fix": "No change required."}]}`)
	require.NoError(t, f.runner.Execute(ctx, job.ID))

	gotP, err := f.store.GetParagraph(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ParagraphNeedsRevision, gotP.Status)

	sentences, err := f.store.ListSentences(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sentences, 1)
	assert.True(t, sentences[0].Supported)

	gotJob, err := f.store.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobSucceeded, gotJob.Status)
}

func TestRunnerUpdatesPlaceholderRunInPlace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	owner := uuid.New()

	doc := f.createDocument(t, owner, "Some source text.")
	job := f.createJob(t, owner, models.JobExtractFacts, doc.ID)

	// Placeholder run created at submission time, the way handlers do it.
	placeholder := &models.Run{
		ID: uuid.New(), OwnerID: owner, DocumentID: &doc.ID,
		RunType: models.RunLibrarian, Provider: "stub", Model: "stub-model",
		PromptVersion: "v1", TraceID: job.TraceID,
		InputsJSON: json.RawMessage(`{}`),
	}
	require.NoError(t, f.store.CreateRun(ctx, placeholder))

	require.NoError(t, f.runner.Execute(ctx, job.ID))

	runType := models.RunLibrarian
	runs, err := f.store.ListRuns(ctx, sqlite.RunFilter{DocumentID: &doc.ID, RunType: &runType})
	require.NoError(t, err)
	require.Len(t, runs, 1, "the placeholder is filled, not duplicated")
	assert.Equal(t, placeholder.ID, runs[0].ID)
	assert.NotEqual(t, "{}", string(runs[0].OutputsJSON))
	require.NotNil(t, runs[0].TokenPrompt)
}

func TestDispatcherDisabledEnqueueIsNoop(t *testing.T) {
	d := &Dispatcher{enabled: false}
	err := d.Enqueue(context.Background(), Task{JobID: uuid.New()})
	assert.NoError(t, err)
	assert.False(t, d.Enabled())
	assert.NoError(t, d.Close())
}

func TestUnknownJobTypeErrors(t *testing.T) {
	f := newFixture(t)
	job := &models.Job{
		ID: uuid.New(), OwnerID: uuid.New(), JobType: models.JobType("BOGUS"),
		TargetID: uuid.New(), Status: models.JobQueued, TraceID: uuid.NewString(),
	}
	require.NoError(t, f.store.CreateJob(context.Background(), job))

	err := f.runner.Execute(context.Background(), job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("unknown job type %q", "BOGUS"))
}
