package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/contracts"
)

// StubProvider returns deterministic, contract-passing payloads. It backs
// local development, where provider variance would make regression
// comparisons meaningless. Token budgets apply exactly as they do for the
// real provider so oversized prompts fail the same way everywhere.
type StubProvider struct {
	budget TokenBudget
}

func NewStubProvider(budget TokenBudget) *StubProvider {
	return &StubProvider{budget: budget}
}

func (p *StubProvider) Name() string  { return "stub" }
func (p *StubProvider) Model() string { return "stub-model" }

func (p *StubProvider) ExtractFacts(ctx context.Context, input ExtractInput) (*Result, error) {
	if err := p.budget.Check(StageLibrarian, input.Text); err != nil {
		return nil, err
	}

	excerpt := input.Text
	if len(excerpt) > 80 {
		excerpt = excerpt[:80]
	}
	excerpt = strings.TrimSpace(excerpt)
	if excerpt == "" {
		excerpt = "empty document"
	}

	out := contracts.LibrarianOutput{
		Facts: []contracts.ExtractedFact{
			{
				Content:    fmt.Sprintf("Primary claim derived from: %s", excerpt),
				SourceType: contracts.SourceTypePDF,
				Confidence: 0.9,
				Span: &contracts.SourceSpan{
					DocumentID: input.DocumentID,
					StartChar:  intp(0),
					EndChar:    intp(len(excerpt)),
					Quote:      &excerpt,
				},
			},
			{
				Content:    fmt.Sprintf("Secondary claim derived from document %s", input.DocumentID),
				SourceType: contracts.SourceTypePDF,
				Confidence: 0.75,
				Span:       &contracts.SourceSpan{DocumentID: input.DocumentID},
			},
		},
		UncertainFacts: []contracts.UncertainFact{
			{
				Content: fmt.Sprintf("Tentative claim derived from document %s", input.DocumentID),
				Reason:  "The source text hedges this claim.",
				Span:    &contracts.SourceSpan{DocumentID: input.DocumentID},
			},
		},
	}
	return p.result(StageLibrarian, out, len(input.Text))
}

func (p *StubProvider) GenerateParagraph(ctx context.Context, input GenerateInput) (*Result, error) {
	var prompt strings.Builder
	prompt.Write(input.SpecJSON)
	for _, fact := range input.AllowedFacts {
		prompt.WriteString(fact.Content)
	}
	if err := p.budget.Check(StageWriter, prompt.String()); err != nil {
		return nil, err
	}

	paragraph := contracts.WriterParagraph{
		Section: input.Section,
		Intent:  input.Intent,
	}
	if len(input.AllowedFacts) == 0 {
		paragraph.MissingEvidence = []contracts.MissingEvidence{{
			NeededFor:         fmt.Sprintf("Any sentence serving %s.", input.Intent),
			WhyMissing:        "The paragraph allows no facts to cite.",
			SuggestedFactType: "supporting evidence for the stated intent",
		}}
	} else {
		first := input.AllowedFacts[0]
		paragraph.Sentences = []contracts.DraftSentence{
			{
				Order:        1,
				SentenceType: "topic",
				Text:         fmt.Sprintf("This paragraph addresses %s for the %s section.", input.Intent, input.Section),
				Citations:    []uuid.UUID{first.FactID},
			},
			{
				Order:        2,
				SentenceType: "evidence",
				Text:         first.Content,
				Citations:    []uuid.UUID{first.FactID},
			},
		}
	}
	out := contracts.WriterOutput{Paragraph: paragraph}
	return p.result(StageWriter, out, prompt.Len())
}

func (p *StubProvider) VerifyParagraph(ctx context.Context, input VerifyInput) (*Result, error) {
	var prompt strings.Builder
	for _, s := range input.Sentences {
		prompt.WriteString(s.Text)
		for _, t := range s.FactTexts {
			prompt.WriteString(t)
		}
	}
	if err := p.budget.Check(StageVerifier, prompt.String()); err != nil {
		return nil, err
	}

	overallPass := true
	results := make([]contracts.SentenceVerdict, 0, len(input.Sentences))
	for _, s := range input.Sentences {
		if len(s.FactIDs) == 0 {
			overallPass = false
			rewrite := "Restate the claim using only content from a linked fact."
			results = append(results, contracts.SentenceVerdict{
				Order:            s.Order,
				Verdict:          contracts.VerdictFail,
				FailureModes:     []string{"unsupported_claim"},
				Explanation:      "The sentence cites no facts.",
				RequiredFix:      "Link the sentence to at least one supporting fact.",
				SuggestedRewrite: &rewrite,
			})
			continue
		}
		results = append(results, contracts.SentenceVerdict{
			Order:       s.Order,
			Verdict:     contracts.VerdictPass,
			Explanation: "The sentence is covered by its cited facts.",
			RequiredFix: "No change required.",
		})
	}
	out := contracts.VerifierOutput{
		OverallPass:     overallPass,
		SentenceResults: results,
	}
	return p.result(StageVerifier, out, prompt.Len())
}

func (p *StubProvider) result(stage Stage, payload any, inputChars int) (*Result, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal stub payload: %w", err)
	}
	promptTokens := EstimateTokens(strings.Repeat("x", inputChars))
	return &Result{
		Outputs: data,
		Usage: Usage{
			PromptTokens:     promptTokens,
			CompletionTokens: EstimateTokens(string(data)),
			CostUSD:          0,
			LatencyMS:        1,
		},
	}, nil
}

func intp(v int) *int { return &v }
