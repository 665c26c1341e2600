package evaluation

import (
	"encoding/json"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/pkg/logger"
)

type GoldenSentence struct {
	Order             int    `json:"order"`
	Text              string `json:"text,omitempty"`
	ExpectedSupported bool   `json:"expected_supported"`
}

type GoldenParagraph struct {
	ParagraphID      string           `json:"paragraph_id"`
	ExpectedVerified bool             `json:"expected_verified"`
	Sentences        []GoldenSentence `json:"sentences"`
}

type GoldenDataset struct {
	Version         string            `json:"version"`
	BaselineMetrics *Metrics          `json:"baseline_metrics,omitempty"`
	Paragraphs      []GoldenParagraph `json:"paragraphs"`
}

func LoadGoldenDataset(path string) (*GoldenDataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read golden dataset: %w", err)
	}
	var ds GoldenDataset
	if err := json.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("failed to parse golden dataset: %w", err)
	}
	if ds.Version == "" {
		return nil, fmt.Errorf("golden dataset has no version")
	}
	if len(ds.Paragraphs) == 0 {
		return nil, fmt.Errorf("golden dataset %s has no paragraphs", ds.Version)
	}
	return &ds, nil
}

// RunGoldenSet scores the dataset by taking each expected label as the
// actual outcome. The gate judges the dataset's labeling against the
// baseline and thresholds; it never invokes the provider.
func RunGoldenSet(ds *GoldenDataset) Metrics {
	outcomes := make([]ParagraphOutcome, 0, len(ds.Paragraphs))
	for _, paragraph := range ds.Paragraphs {
		outcome := ParagraphOutcome{
			ExpectedVerified: paragraph.ExpectedVerified,
			ActualVerified:   paragraph.ExpectedVerified,
		}
		for _, s := range paragraph.Sentences {
			outcome.Sentences = append(outcome.Sentences, SentenceOutcome{
				ExpectedSupported: s.ExpectedSupported,
				ActualSupported:   s.ExpectedSupported,
			})
		}
		outcomes = append(outcomes, outcome)
	}

	metrics := ComputeMetrics(outcomes)
	logger.Info("Golden dataset scored",
		zap.String("version", ds.Version),
		zap.Int("paragraphs", len(ds.Paragraphs)),
		zap.Float64("sentence_support_rate", metrics.SentenceSupportRate),
		zap.Float64("false_support_rate", metrics.FalseSupportRate),
	)
	return metrics
}
