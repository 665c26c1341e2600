package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/pkg/config"
	"github.com/kwal0203/opus-blocks/pkg/logger"
)

// Pricing per 1K tokens. Close enough for the cost_usd accounting column;
// exact billing lives with the provider.
const (
	promptCostPer1K     = 0.01
	completionCostPer1K = 0.03
)

type OpenAIProvider struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	budget      TokenBudget
}

func NewOpenAIProvider(cfg *config.Config) (*OpenAIProvider, error) {
	if cfg.LLM.APIKey == "" {
		return nil, fmt.Errorf("openai provider requires an api key")
	}

	logger.Info("OpenAI provider initialized",
		zap.String("model", cfg.LLM.Model),
	)

	return &OpenAIProvider{
		client:      openai.NewClient(cfg.LLM.APIKey),
		model:       cfg.LLM.Model,
		temperature: cfg.LLM.Temperature,
		maxTokens:   cfg.LLM.MaxTokens,
		timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
		budget:      BudgetFromConfig(&cfg.LLM),
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

const librarianSystemPrompt = `You extract factual claims from scientific source text.
Return JSON: {"facts": [{"content", "source_type", "confidence", "qualifiers",
"source_span": {"document_id", "page", "start_char", "end_char", "quote"}}],
"uncertain_facts": [{"content", "reason", "source_span": {...}}]}.
Only state claims present in the text. source_type is PDF or MANUAL. Every fact
needs a source_span naming the document id; omit page and char bounds when you
cannot locate them. Confidence is a number in [0, 1]. Put hedged or ambiguous
claims in uncertain_facts with the reason instead of a confidence score.
Do not repeat the same claim twice.`

const writerSystemPrompt = `You draft one scientific paragraph as ordered sentences.
Return JSON: {"paragraph": {"section", "intent",
"sentences": [{"order", "sentence_type", "text", "citations"}],
"missing_evidence": [{"needed_for", "why_missing", "suggested_fact_type"}]}}.
Orders start at 1. sentence_type is one of topic, evidence, conclusion, transition.
Every sentence must cite at least one fact id from the provided list; never cite
a fact id outside it. When no fact supports a needed claim, leave the sentence
out and add a missing_evidence entry describing what is needed and why.`

const verifierSystemPrompt = `You verify each drafted sentence against its cited facts.
Return JSON: {"overall_pass", "sentence_results": [{"order", "verdict",
"failure_modes", "explanation", "required_fix", "suggested_rewrite"}],
"missing_evidence_summary": []}.
Verdict is PASS or FAIL. Return exactly one result per input sentence order.
Every result needs an explanation and a required_fix; a FAIL must also name at
least one failure mode and may suggest a rewrite. Set overall_pass true only
when the paragraph as a whole is fully supported.`

func (p *OpenAIProvider) ExtractFacts(ctx context.Context, input ExtractInput) (*Result, error) {
	prompt := fmt.Sprintf("Document %s:\n\n%s", input.DocumentID, input.Text)
	return p.complete(ctx, StageLibrarian, librarianSystemPrompt, prompt)
}

func (p *OpenAIProvider) GenerateParagraph(ctx context.Context, input GenerateInput) (*Result, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Section: %s\nIntent: %s\n", input.Section, input.Intent)
	if len(input.SpecJSON) > 0 {
		fmt.Fprintf(&sb, "Paragraph spec: %s\n", string(input.SpecJSON))
	}
	sb.WriteString("\nAvailable facts:\n")
	for _, fact := range input.AllowedFacts {
		fmt.Fprintf(&sb, "- [%s] %s\n", fact.FactID, fact.Content)
	}
	return p.complete(ctx, StageWriter, writerSystemPrompt, sb.String())
}

func (p *OpenAIProvider) VerifyParagraph(ctx context.Context, input VerifyInput) (*Result, error) {
	var sb strings.Builder
	for _, s := range input.Sentences {
		fmt.Fprintf(&sb, "Sentence %d: %s\n", s.Order, s.Text)
		for i, text := range s.FactTexts {
			id := ""
			if i < len(s.FactIDs) {
				id = s.FactIDs[i].String()
			}
			fmt.Fprintf(&sb, "  cited fact [%s]: %s\n", id, text)
		}
	}
	return p.complete(ctx, StageVerifier, verifierSystemPrompt, sb.String())
}

func (p *OpenAIProvider) complete(ctx context.Context, stage Stage, systemPrompt, userPrompt string) (*Result, error) {
	if err := p.budget.Check(stage, systemPrompt+userPrompt); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: p.temperature,
		MaxTokens:   p.maxTokens,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userPrompt},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("completion returned no choices")
	}

	latency := int(time.Since(start).Milliseconds())
	content := resp.Choices[0].Message.Content

	logger.Debug("LLM completion generated",
		zap.String("stage", string(stage)),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Int("latency_ms", latency),
	)

	return &Result{
		Outputs: json.RawMessage(content),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			CostUSD: float64(resp.Usage.PromptTokens)/1000*promptCostPer1K +
				float64(resp.Usage.CompletionTokens)/1000*completionCostPer1K,
			LatencyMS: latency,
		},
	}, nil
}

// GenerateEmbedding backs the vector store when the openai provider is
// selected.
func (p *OpenAIProvider) GenerateEmbedding(ctx context.Context, model, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(model),
		Input: []string{text},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	return resp.Data[0].Embedding, nil
}
