package evaluation

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwal0203/opus-blocks/pkg/config"
)

func TestComputeRateEmptyDenominatorIsZero(t *testing.T) {
	assert.Equal(t, 0.0, computeRate(0, 0))
	assert.Equal(t, 0.5, computeRate(1, 2))
}

func TestComputeMetrics(t *testing.T) {
	outcomes := []ParagraphOutcome{
		{
			ExpectedVerified: true,
			ActualVerified:   true,
			Sentences: []SentenceOutcome{
				{ExpectedSupported: true, ActualSupported: true},
				{ExpectedSupported: false, ActualSupported: true},
			},
		},
		{
			ExpectedVerified: false,
			ActualVerified:   false,
			Sentences: []SentenceOutcome{
				{ExpectedSupported: true, ActualSupported: false},
				{ExpectedSupported: false, ActualSupported: false},
			},
		},
	}
	m := ComputeMetrics(outcomes)
	// 2 of 4 sentences marked supported; 1 of those against an
	// unsupported label.
	assert.Equal(t, 0.5, m.SentenceSupportRate)
	assert.Equal(t, 0.25, m.FalseSupportRate)
	assert.Equal(t, 0.5, m.VerifiedParagraphRate)
	assert.Equal(t, 0.5, m.CorrectRefusalRate)
	assert.Equal(t, 0.0, m.OverRefusalRate)
}

func TestComputeMetricsOverRefusal(t *testing.T) {
	m := ComputeMetrics([]ParagraphOutcome{
		{ExpectedVerified: true, ActualVerified: false,
			Sentences: []SentenceOutcome{{ExpectedSupported: true, ActualSupported: false}}},
	})
	assert.Equal(t, 1.0, m.OverRefusalRate)
	assert.Equal(t, 0.0, m.CorrectRefusalRate)
	assert.Equal(t, 0.0, m.VerifiedParagraphRate)
}

func TestComputeMetricsEmpty(t *testing.T) {
	m := ComputeMetrics(nil)
	assert.Equal(t, 0.0, m.SentenceSupportRate)
	assert.Equal(t, 0.0, m.VerifiedParagraphRate)
}

func writeDataset(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "golden.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadGoldenDataset(t *testing.T) {
	path := writeDataset(t, `{
		"version": "v0",
		"baseline_metrics": {"sentence_support_rate": 0.8, "false_support_rate": 0.1},
		"paragraphs": [
			{"paragraph_id": "p1", "expected_verified": true,
			 "sentences": [{"order": 1, "text": "x", "expected_supported": true}]}
		]
	}`)
	ds, err := LoadGoldenDataset(path)
	require.NoError(t, err)
	assert.Equal(t, "v0", ds.Version)
	require.NotNil(t, ds.BaselineMetrics)
	assert.Equal(t, 0.8, ds.BaselineMetrics.SentenceSupportRate)
	require.Len(t, ds.Paragraphs, 1)
	assert.True(t, ds.Paragraphs[0].ExpectedVerified)
}

func TestLoadGoldenDatasetRejects(t *testing.T) {
	_, err := LoadGoldenDataset(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)

	_, err = LoadGoldenDataset(writeDataset(t, `{"paragraphs": [{"paragraph_id": "p"}]}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no version")

	_, err = LoadGoldenDataset(writeDataset(t, `{"version": "v0", "paragraphs": []}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no paragraphs")
}

// Golden scoring takes the expected labels as the actual outcomes; the
// gate never calls the provider.
func TestRunGoldenSetUsesExpectedAsActual(t *testing.T) {
	ds := &GoldenDataset{
		Version: "v0",
		Paragraphs: []GoldenParagraph{
			{
				ParagraphID:      "p1",
				ExpectedVerified: true,
				Sentences: []GoldenSentence{
					{Order: 1, Text: "Supported claim.", ExpectedSupported: true},
					{Order: 2, Text: "Ungrounded claim.", ExpectedSupported: false},
				},
			},
		},
	}

	m := RunGoldenSet(ds)
	assert.Equal(t, 0.5, m.SentenceSupportRate)
	assert.Equal(t, 0.0, m.FalseSupportRate)
	assert.Equal(t, 1.0, m.VerifiedParagraphRate)
	assert.Equal(t, 0.0, m.CorrectRefusalRate)
	assert.Equal(t, 0.0, m.OverRefusalRate)
}

func TestRunGoldenSetCountsRefusals(t *testing.T) {
	ds := &GoldenDataset{
		Version: "v0",
		Paragraphs: []GoldenParagraph{
			{ParagraphID: "p1", ExpectedVerified: true,
				Sentences: []GoldenSentence{{Order: 1, ExpectedSupported: true}}},
			{ParagraphID: "p2", ExpectedVerified: false,
				Sentences: []GoldenSentence{{Order: 1, ExpectedSupported: false}}},
		},
	}

	m := RunGoldenSet(ds)
	assert.Equal(t, 0.5, m.SentenceSupportRate)
	assert.Equal(t, 0.5, m.VerifiedParagraphRate)
	assert.Equal(t, 0.5, m.CorrectRefusalRate)
	assert.Equal(t, 0.0, m.OverRefusalRate)
}

func TestEvaluateGateThresholds(t *testing.T) {
	cfg := &config.EvaluationConfig{MinSupportRate: 0.85, MaxFalseSupportRate: 0.05}

	pass := EvaluateGate(Metrics{SentenceSupportRate: 0.9, FalseSupportRate: 0.02}, nil, cfg)
	assert.True(t, pass.Passed)
	assert.Empty(t, pass.Diff, "no baseline means no diff")

	fail := EvaluateGate(Metrics{SentenceSupportRate: 0.8, FalseSupportRate: 0.02}, nil, cfg)
	assert.False(t, fail.Passed)
	require.Len(t, fail.Reasons, 1)
	assert.Contains(t, fail.Reasons[0], "below minimum")
}

func TestEvaluateGateRegressionAgainstBaseline(t *testing.T) {
	cfg := &config.EvaluationConfig{MinSupportRate: 0.85, MaxFalseSupportRate: 0.05}
	baseline := &Metrics{SentenceSupportRate: 0.8, FalseSupportRate: 0.03}

	// Improvement over a baseline that is itself under the threshold
	// still passes: the gate binds the current run, the baseline only
	// guards direction.
	improved := EvaluateGate(Metrics{SentenceSupportRate: 0.9, FalseSupportRate: 0.02}, baseline, cfg)
	assert.True(t, improved.Passed)
	assert.InDelta(t, 0.1, improved.Diff["sentence_support_rate"], 1e-9)
	assert.InDelta(t, -0.01, improved.Diff["false_support_rate"], 1e-9)

	// Clearing the thresholds is not enough if false support rose.
	regressed := EvaluateGate(Metrics{SentenceSupportRate: 0.9, FalseSupportRate: 0.04}, baseline, cfg)
	assert.False(t, regressed.Passed)
	require.Len(t, regressed.Reasons, 1)
	assert.Contains(t, regressed.Reasons[0], "false_support_rate regressed")

	dropped := EvaluateGate(Metrics{SentenceSupportRate: 0.86, FalseSupportRate: 0.03},
		&Metrics{SentenceSupportRate: 0.9, FalseSupportRate: 0.03}, cfg)
	assert.False(t, dropped.Passed)
	assert.Contains(t, dropped.Reasons[0], "sentence_support_rate regressed")
}
