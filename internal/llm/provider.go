package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/pkg/config"
)

// Stage identifies which pipeline agent a provider call serves. Budgets,
// prompts, and metrics are all keyed by stage.
type Stage string

const (
	StageLibrarian Stage = "librarian"
	StageWriter    Stage = "writer"
	StageVerifier  Stage = "verifier"
)

type ExtractInput struct {
	DocumentID uuid.UUID
	Text       string
}

type FactContext struct {
	FactID  uuid.UUID
	Content string
}

type GenerateInput struct {
	ParagraphID  uuid.UUID
	Section      string
	Intent       string
	SpecJSON     json.RawMessage
	AllowedFacts []FactContext
}

type SentenceContext struct {
	Order     int
	Text      string
	FactIDs   []uuid.UUID
	FactTexts []string
}

type VerifyInput struct {
	ParagraphID uuid.UUID
	Sentences   []SentenceContext
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
	LatencyMS        int
}

// Result carries the raw agent payload plus call accounting. Outputs stay
// unparsed here; contract validation owns the decode.
type Result struct {
	Outputs json.RawMessage
	Usage   Usage
}

type Provider interface {
	Name() string
	Model() string
	ExtractFacts(ctx context.Context, input ExtractInput) (*Result, error)
	GenerateParagraph(ctx context.Context, input GenerateInput) (*Result, error)
	VerifyParagraph(ctx context.Context, input VerifyInput) (*Result, error)
}

// New selects a provider from the closed set configured at startup.
// Unknown names are a configuration error, not a fallback.
func New(cfg *config.Config) (Provider, error) {
	switch cfg.LLM.Provider {
	case "stub":
		return NewStubProvider(BudgetFromConfig(&cfg.LLM)), nil
	case "openai":
		return NewOpenAIProvider(cfg)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}
