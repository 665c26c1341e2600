package evaluation

import (
	"fmt"

	"github.com/kwal0203/opus-blocks/pkg/config"
)

// GateResult is the release decision. Diff carries signed deltas against
// the baseline (current minus baseline) and is empty when the dataset
// ships no baseline.
type GateResult struct {
	Passed  bool
	Reasons []string
	Diff    map[string]float64
}

// EvaluateGate enforces the regression gate: the current run must clear
// the absolute thresholds, and when a baseline exists, support must not
// drop and false support must not rise. A dataset without a baseline
// gates on thresholds alone.
func EvaluateGate(current Metrics, baseline *Metrics, cfg *config.EvaluationConfig) GateResult {
	result := GateResult{Passed: true, Diff: map[string]float64{}}

	if current.SentenceSupportRate < cfg.MinSupportRate {
		result.Passed = false
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("sentence_support_rate %.4f below minimum %.4f", current.SentenceSupportRate, cfg.MinSupportRate))
	}
	if current.FalseSupportRate > cfg.MaxFalseSupportRate {
		result.Passed = false
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("false_support_rate %.4f above maximum %.4f", current.FalseSupportRate, cfg.MaxFalseSupportRate))
	}

	if baseline == nil {
		return result
	}

	result.Diff["sentence_support_rate"] = current.SentenceSupportRate - baseline.SentenceSupportRate
	result.Diff["false_support_rate"] = current.FalseSupportRate - baseline.FalseSupportRate
	result.Diff["verified_paragraph_rate"] = current.VerifiedParagraphRate - baseline.VerifiedParagraphRate
	result.Diff["correct_refusal_rate"] = current.CorrectRefusalRate - baseline.CorrectRefusalRate
	result.Diff["over_refusal_rate"] = current.OverRefusalRate - baseline.OverRefusalRate

	if current.SentenceSupportRate < baseline.SentenceSupportRate {
		result.Passed = false
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("sentence_support_rate regressed from %.4f to %.4f", baseline.SentenceSupportRate, current.SentenceSupportRate))
	}
	if current.FalseSupportRate > baseline.FalseSupportRate {
		result.Passed = false
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("false_support_rate regressed from %.4f to %.4f", baseline.FalseSupportRate, current.FalseSupportRate))
	}

	return result
}
