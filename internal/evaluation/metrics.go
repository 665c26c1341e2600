package evaluation

// SentenceOutcome pairs the golden label with what a run produced for one
// sentence.
type SentenceOutcome struct {
	ExpectedSupported bool
	ActualSupported   bool
}

// ParagraphOutcome carries the paragraph-level verdict pair plus the
// per-sentence pairs. Refusal is a paragraph decision: a paragraph the
// verifier does not verify counts as refused.
type ParagraphOutcome struct {
	ExpectedVerified bool
	ActualVerified   bool
	Sentences        []SentenceOutcome
}

// Metrics are the replay rates. Unlike the operational aggregator these
// are plain floats: an empty denominator scores 0.0, since an evaluation
// over nothing should read as total failure, not absence of data.
type Metrics struct {
	SentenceSupportRate   float64 `json:"sentence_support_rate"`
	FalseSupportRate      float64 `json:"false_support_rate"`
	VerifiedParagraphRate float64 `json:"verified_paragraph_rate"`
	CorrectRefusalRate    float64 `json:"correct_refusal_rate"`
	OverRefusalRate       float64 `json:"over_refusal_rate"`
}

func computeRate(numerator, denominator int) float64 {
	if denominator == 0 {
		return 0.0
	}
	return float64(numerator) / float64(denominator)
}

// ComputeMetrics scores paragraph outcomes. Sentence rates are over all
// sentences: support is any sentence marked supported, false support is a
// sentence marked supported against an unsupported label. Refusal rates
// are over paragraphs: refusing an unverifiable paragraph is correct,
// refusing a verifiable one is over-refusal.
func ComputeMetrics(paragraphs []ParagraphOutcome) Metrics {
	var totalSentences, supported, falseSupports int
	var verified, correctRefusals, overRefusals int

	for _, p := range paragraphs {
		for _, s := range p.Sentences {
			totalSentences++
			if s.ActualSupported {
				supported++
				if !s.ExpectedSupported {
					falseSupports++
				}
			}
		}
		if p.ActualVerified {
			verified++
		} else if p.ExpectedVerified {
			overRefusals++
		} else {
			correctRefusals++
		}
	}

	return Metrics{
		SentenceSupportRate:   computeRate(supported, totalSentences),
		FalseSupportRate:      computeRate(falseSupports, totalSentences),
		VerifiedParagraphRate: computeRate(verified, len(paragraphs)),
		CorrectRefusalRate:    computeRate(correctRefusals, len(paragraphs)),
		OverRefusalRate:       computeRate(overRefusals, len(paragraphs)),
	}
}
