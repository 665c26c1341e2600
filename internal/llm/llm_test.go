package llm

import (
	"context"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwal0203/opus-blocks/internal/contracts"
	"github.com/kwal0203/opus-blocks/pkg/config"
)

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abc"))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 2, EstimateTokens("abcde"))
	assert.Equal(t, 25, EstimateTokens(string(make([]byte, 100))))
}

func TestTokenBudgetCheck(t *testing.T) {
	budget := TokenBudget{Librarian: 10, Writer: 0, Verifier: 5}

	// 41 chars estimate to 11 tokens, over the librarian budget.
	long := string(make([]byte, 41))
	err := budget.Check(StageLibrarian, long)
	require.Error(t, err)
	var exceeded *BudgetExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, 11, exceeded.Estimated)
	assert.Equal(t, 10, exceeded.Budget)

	assert.NoError(t, budget.Check(StageLibrarian, "short prompt"))

	// A zero budget disables the check entirely.
	assert.NoError(t, budget.Check(StageWriter, long))
}

func TestNewSelectsFromClosedSet(t *testing.T) {
	cfg := &config.Config{}
	cfg.LLM.Provider = "stub"
	p, err := New(cfg)
	require.NoError(t, err)
	assert.Equal(t, "stub", p.Name())

	cfg.LLM.Provider = "anthropic"
	_, err = New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestStubExtractFactsPassesContract(t *testing.T) {
	stub := NewStubProvider(TokenBudget{})
	docID := uuid.New()
	result, err := stub.ExtractFacts(context.Background(), ExtractInput{
		DocumentID: docID,
		Text:       "The intervention reduced symptoms by 30% over 12 weeks in 240 adults.",
	})
	require.NoError(t, err)

	out, err := contracts.ValidateLibrarian(result.Outputs)
	require.NoError(t, err)
	require.Len(t, out.Facts, 2)
	for _, fact := range out.Facts {
		require.NotNil(t, fact.Span)
		assert.Equal(t, docID, fact.Span.DocumentID)
		assert.Equal(t, contracts.SourceTypePDF, fact.SourceType)
	}
	require.Len(t, out.UncertainFacts, 1)
	assert.NotEmpty(t, out.UncertainFacts[0].Reason)
}

func TestStubGenerateParagraphPassesContract(t *testing.T) {
	stub := NewStubProvider(TokenBudget{})
	factID := uuid.New()
	result, err := stub.GenerateParagraph(context.Background(), GenerateInput{
		ParagraphID: uuid.New(),
		Section:     "Results",
		Intent:      "Primary Results",
		AllowedFacts: []FactContext{
			{FactID: factID, Content: "Scores improved by 4.2 points."},
		},
	})
	require.NoError(t, err)

	out, err := contracts.ValidateWriter(result.Outputs, []uuid.UUID{factID})
	require.NoError(t, err)
	assert.Equal(t, "Results", out.Paragraph.Section)
	require.Len(t, out.Paragraph.Sentences, 2)
	assert.Equal(t, []uuid.UUID{factID}, out.Paragraph.Sentences[0].Citations)
}

func TestStubGenerateWithoutFactsReportsMissingEvidence(t *testing.T) {
	stub := NewStubProvider(TokenBudget{})
	result, err := stub.GenerateParagraph(context.Background(), GenerateInput{
		ParagraphID: uuid.New(),
		Section:     "Discussion",
		Intent:      "Limitations",
	})
	require.NoError(t, err)

	out, err := contracts.ValidateWriter(result.Outputs, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Paragraph.Sentences)
	require.Len(t, out.Paragraph.MissingEvidence, 1)
	assert.NotEmpty(t, out.Paragraph.MissingEvidence[0].NeededFor)
	assert.NotEmpty(t, out.Paragraph.MissingEvidence[0].WhyMissing)
	assert.NotEmpty(t, out.Paragraph.MissingEvidence[0].SuggestedFactType)
}

func TestStubVerifyParagraphVerdicts(t *testing.T) {
	stub := NewStubProvider(TokenBudget{})
	result, err := stub.VerifyParagraph(context.Background(), VerifyInput{
		ParagraphID: uuid.New(),
		Sentences: []SentenceContext{
			{Order: 1, Text: "Cited sentence.", FactIDs: []uuid.UUID{uuid.New()}},
			{Order: 2, Text: "Uncited sentence."},
		},
	})
	require.NoError(t, err)

	out, err := contracts.ValidateVerifier(result.Outputs, []int{1, 2})
	require.NoError(t, err)
	assert.False(t, out.OverallPass)
	require.Len(t, out.SentenceResults, 2)
	assert.Equal(t, contracts.VerdictPass, out.SentenceResults[0].Verdict)
	assert.Equal(t, contracts.VerdictFail, out.SentenceResults[1].Verdict)
	assert.NotEmpty(t, out.SentenceResults[1].FailureModes)
	assert.NotEmpty(t, out.SentenceResults[1].RequiredFix)
	assert.NotNil(t, out.SentenceResults[1].SuggestedRewrite)
	for _, r := range out.SentenceResults {
		assert.NotEmpty(t, r.RequiredFix)
	}
}

func TestStubVerifyAllCitedPasses(t *testing.T) {
	stub := NewStubProvider(TokenBudget{})
	result, err := stub.VerifyParagraph(context.Background(), VerifyInput{
		ParagraphID: uuid.New(),
		Sentences: []SentenceContext{
			{Order: 1, Text: "Cited sentence.", FactIDs: []uuid.UUID{uuid.New()}},
		},
	})
	require.NoError(t, err)

	out, err := contracts.ValidateVerifier(result.Outputs, []int{1})
	require.NoError(t, err)
	assert.True(t, out.OverallPass)
}

func TestStubEnforcesTokenBudget(t *testing.T) {
	stub := NewStubProvider(TokenBudget{Librarian: 10, Writer: 10, Verifier: 10})
	long := strings.Repeat("x", 100)

	var exceeded *BudgetExceededError

	_, err := stub.ExtractFacts(context.Background(), ExtractInput{DocumentID: uuid.New(), Text: long})
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, StageLibrarian, exceeded.Stage)

	_, err = stub.GenerateParagraph(context.Background(), GenerateInput{
		ParagraphID:  uuid.New(),
		Section:      "Results",
		Intent:       "Primary Results",
		AllowedFacts: []FactContext{{FactID: uuid.New(), Content: long}},
	})
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, StageWriter, exceeded.Stage)

	_, err = stub.VerifyParagraph(context.Background(), VerifyInput{
		ParagraphID: uuid.New(),
		Sentences:   []SentenceContext{{Order: 1, Text: long, FactIDs: []uuid.UUID{uuid.New()}}},
	})
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, StageVerifier, exceeded.Stage)
}
