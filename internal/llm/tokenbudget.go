package llm

import (
	"fmt"

	"github.com/kwal0203/opus-blocks/pkg/config"
)

// BudgetExceededError is returned before the provider is called, so a
// too-large prompt fails fast without spending tokens.
type BudgetExceededError struct {
	Stage     Stage
	Estimated int
	Budget    int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("%s prompt estimated at %d tokens exceeds budget of %d", e.Stage, e.Estimated, e.Budget)
}

// EstimateTokens approximates token count at four characters per token,
// rounded up. It is deliberately crude; budgets are guardrails, not billing.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

type TokenBudget struct {
	Librarian int
	Writer    int
	Verifier  int
}

func BudgetFromConfig(cfg *config.LLMConfig) TokenBudget {
	return TokenBudget{
		Librarian: cfg.TokenBudgetLibrarian,
		Writer:    cfg.TokenBudgetWriter,
		Verifier:  cfg.TokenBudgetVerifier,
	}
}

func (b TokenBudget) forStage(stage Stage) int {
	switch stage {
	case StageLibrarian:
		return b.Librarian
	case StageWriter:
		return b.Writer
	case StageVerifier:
		return b.Verifier
	}
	return 0
}

// Check returns a BudgetExceededError when the estimated prompt size is
// over the stage budget. A budget of zero or less disables the check.
func (b TokenBudget) Check(stage Stage, prompt string) error {
	budget := b.forStage(stage)
	if budget <= 0 {
		return nil
	}
	estimated := EstimateTokens(prompt)
	if estimated > budget {
		return &BudgetExceededError{Stage: stage, Estimated: estimated, Budget: budget}
	}
	return nil
}
