package contracts

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// ViolationError collects every rule the payload broke so the caller can
// surface the full list instead of the first failure.
type ViolationError struct {
	Agent      string
	Violations []string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s output violated contract: %s", e.Agent, strings.Join(e.Violations, "; "))
}

const (
	SourceTypePDF    = "PDF"
	SourceTypeManual = "MANUAL"
)

type SourceSpan struct {
	DocumentID uuid.UUID `json:"document_id"`
	Page       *int      `json:"page,omitempty"`
	StartChar  *int      `json:"start_char,omitempty"`
	EndChar    *int      `json:"end_char,omitempty"`
	Quote      *string   `json:"quote,omitempty"`
}

type ExtractedFact struct {
	Content    string          `json:"content"`
	SourceType string          `json:"source_type"`
	Span       *SourceSpan     `json:"source_span"`
	Qualifiers json.RawMessage `json:"qualifiers,omitempty"`
	Confidence float64         `json:"confidence"`
}

// UncertainFact is content the librarian found but could not state with
// confidence; it carries the reason instead of a confidence score.
type UncertainFact struct {
	Content string      `json:"content"`
	Reason  string      `json:"reason"`
	Span    *SourceSpan `json:"source_span"`
}

type LibrarianOutput struct {
	Facts          []ExtractedFact `json:"facts"`
	UncertainFacts []UncertainFact `json:"uncertain_facts,omitempty"`
}

type DraftSentence struct {
	Order        int         `json:"order"`
	SentenceType string      `json:"sentence_type"`
	Text         string      `json:"text"`
	Citations    []uuid.UUID `json:"citations"`
}

// MissingEvidence names a claim the writer wanted to make but had no fact
// for. It lives on the paragraph, not on any sentence: the writer either
// grounds a sentence or leaves it out entirely.
type MissingEvidence struct {
	NeededFor         string `json:"needed_for"`
	WhyMissing        string `json:"why_missing"`
	SuggestedFactType string `json:"suggested_fact_type"`
}

type WriterParagraph struct {
	Section         string            `json:"section"`
	Intent          string            `json:"intent"`
	Sentences       []DraftSentence   `json:"sentences"`
	MissingEvidence []MissingEvidence `json:"missing_evidence,omitempty"`
}

type WriterOutput struct {
	Paragraph WriterParagraph `json:"paragraph"`
}

type SentenceVerdict struct {
	Order            int      `json:"order"`
	Verdict          string   `json:"verdict"`
	FailureModes     []string `json:"failure_modes,omitempty"`
	Explanation      string   `json:"explanation"`
	RequiredFix      string   `json:"required_fix"`
	SuggestedRewrite *string  `json:"suggested_rewrite,omitempty"`
}

type VerifierOutput struct {
	OverallPass            bool              `json:"overall_pass"`
	SentenceResults        []SentenceVerdict `json:"sentence_results"`
	MissingEvidenceSummary []json.RawMessage `json:"missing_evidence_summary,omitempty"`
}

const (
	VerdictPass = "PASS"
	VerdictFail = "FAIL"
)

var sentenceTypes = map[string]struct{}{
	"topic":      {},
	"evidence":   {},
	"conclusion": {},
	"transition": {},
}

func validateSpan(field string, span *SourceSpan, violations []string) []string {
	if span == nil {
		return append(violations, field+" is required")
	}
	if span.DocumentID == uuid.Nil {
		violations = append(violations, field+".document_id is required")
	}
	if span.StartChar != nil && *span.StartChar < 0 {
		violations = append(violations, fmt.Sprintf("%s.start_char %d must be >= 0", field, *span.StartChar))
	}
	if span.EndChar != nil && *span.EndChar < 0 {
		violations = append(violations, fmt.Sprintf("%s.end_char %d must be >= 0", field, *span.EndChar))
	}
	hasStart := span.StartChar != nil
	hasEnd := span.EndChar != nil
	if hasStart != hasEnd {
		violations = append(violations, field+" must set start_char and end_char together")
	} else if hasStart && *span.StartChar > *span.EndChar {
		violations = append(violations, fmt.Sprintf("%s start_char %d exceeds end_char %d", field, *span.StartChar, *span.EndChar))
	}
	return violations
}

// ValidateLibrarian parses and checks a librarian payload. Rules: at least
// one fact, non-empty content, a known source_type, confidence in [0,1], a
// source span naming its document with char bounds set together and
// start <= end, no duplicate facts after normalizing content (trimmed,
// lowercased), and uncertain facts carrying both content and a reason.
func ValidateLibrarian(payload json.RawMessage) (*LibrarianOutput, error) {
	var out LibrarianOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ViolationError{Agent: "librarian", Violations: []string{"payload is not valid JSON: " + err.Error()}}
	}

	var violations []string
	if len(out.Facts) == 0 {
		violations = append(violations, "facts must not be empty")
	}

	seen := make(map[string]int)
	for i, fact := range out.Facts {
		if strings.TrimSpace(fact.Content) == "" {
			violations = append(violations, fmt.Sprintf("facts[%d].content must not be empty", i))
			continue
		}
		if fact.SourceType != SourceTypePDF && fact.SourceType != SourceTypeManual {
			violations = append(violations, fmt.Sprintf("facts[%d].source_type %q is not PDF or MANUAL", i, fact.SourceType))
		}
		if fact.Confidence < 0 || fact.Confidence > 1 {
			violations = append(violations, fmt.Sprintf("facts[%d].confidence %v outside [0, 1]", i, fact.Confidence))
		}
		violations = validateSpan(fmt.Sprintf("facts[%d].source_span", i), fact.Span, violations)
		normalized := strings.ToLower(strings.TrimSpace(fact.Content))
		if prev, ok := seen[normalized]; ok {
			violations = append(violations, fmt.Sprintf("facts[%d] duplicates facts[%d] after normalization", i, prev))
		} else {
			seen[normalized] = i
		}
	}

	for i, u := range out.UncertainFacts {
		if strings.TrimSpace(u.Content) == "" {
			violations = append(violations, fmt.Sprintf("uncertain_facts[%d].content must not be empty", i))
		}
		if strings.TrimSpace(u.Reason) == "" {
			violations = append(violations, fmt.Sprintf("uncertain_facts[%d].reason must not be empty", i))
		}
		violations = validateSpan(fmt.Sprintf("uncertain_facts[%d].source_span", i), u.Span, violations)
	}

	if len(violations) > 0 {
		return nil, &ViolationError{Agent: "librarian", Violations: violations}
	}
	return &out, nil
}

// ValidateWriter checks a writer payload against the paragraph's fact
// allow-list. Every sentence must cite at least one fact and every cited
// fact must appear in allowedFactIDs; a claim the writer could not ground
// belongs in the paragraph's missing_evidence list, never in a sentence.
// An empty sentence list is legal when missing_evidence explains why.
func ValidateWriter(payload json.RawMessage, allowedFactIDs []uuid.UUID) (*WriterOutput, error) {
	var out WriterOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ViolationError{Agent: "writer", Violations: []string{"payload is not valid JSON: " + err.Error()}}
	}

	allowed := make(map[uuid.UUID]struct{}, len(allowedFactIDs))
	for _, id := range allowedFactIDs {
		allowed[id] = struct{}{}
	}

	var violations []string
	para := out.Paragraph
	if len(para.Sentences) == 0 && len(para.MissingEvidence) == 0 {
		violations = append(violations, "paragraph must carry sentences or missing_evidence")
	}

	seenOrders := make(map[int]struct{})
	for i, s := range para.Sentences {
		if s.Order < 1 {
			violations = append(violations, fmt.Sprintf("sentences[%d].order %d must be >= 1", i, s.Order))
		}
		if _, dup := seenOrders[s.Order]; dup {
			violations = append(violations, fmt.Sprintf("sentences[%d].order %d is duplicated", i, s.Order))
		}
		seenOrders[s.Order] = struct{}{}
		if _, ok := sentenceTypes[s.SentenceType]; !ok {
			violations = append(violations, fmt.Sprintf("sentences[%d].sentence_type %q is not topic, evidence, conclusion or transition", i, s.SentenceType))
		}
		if strings.TrimSpace(s.Text) == "" {
			violations = append(violations, fmt.Sprintf("sentences[%d].text must not be empty", i))
		}
		if len(s.Citations) == 0 {
			violations = append(violations, fmt.Sprintf("sentences[%d] must cite at least one fact", i))
		}
		for _, cit := range s.Citations {
			if _, ok := allowed[cit]; !ok {
				violations = append(violations, fmt.Sprintf("sentences[%d] cites fact %s outside the allowed set", i, cit))
			}
		}
	}

	for i, m := range para.MissingEvidence {
		if strings.TrimSpace(m.NeededFor) == "" {
			violations = append(violations, fmt.Sprintf("missing_evidence[%d].needed_for must not be empty", i))
		}
		if strings.TrimSpace(m.WhyMissing) == "" {
			violations = append(violations, fmt.Sprintf("missing_evidence[%d].why_missing must not be empty", i))
		}
		if strings.TrimSpace(m.SuggestedFactType) == "" {
			violations = append(violations, fmt.Sprintf("missing_evidence[%d].suggested_fact_type must not be empty", i))
		}
	}

	if len(violations) > 0 {
		return nil, &ViolationError{Agent: "writer", Violations: violations}
	}
	return &out, nil
}

// ValidateVerifier checks a verifier payload: the sentence_results orders
// must be set-equal to the expected sentence orders, every result needs an
// explanation and a required_fix, and FAIL verdicts must name at least one
// failure mode.
func ValidateVerifier(payload json.RawMessage, expectedOrders []int) (*VerifierOutput, error) {
	var out VerifierOutput
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, &ViolationError{Agent: "verifier", Violations: []string{"payload is not valid JSON: " + err.Error()}}
	}

	expected := make(map[int]struct{}, len(expectedOrders))
	for _, o := range expectedOrders {
		expected[o] = struct{}{}
	}

	var violations []string
	got := make(map[int]struct{}, len(out.SentenceResults))
	for i, r := range out.SentenceResults {
		if r.Order < 1 {
			violations = append(violations, fmt.Sprintf("sentence_results[%d].order %d must be >= 1", i, r.Order))
		}
		if _, dup := got[r.Order]; dup {
			violations = append(violations, fmt.Sprintf("sentence_results[%d].order %d is duplicated", i, r.Order))
		}
		got[r.Order] = struct{}{}
		if _, ok := expected[r.Order]; !ok {
			violations = append(violations, fmt.Sprintf("sentence_results[%d].order %d does not match any sentence", i, r.Order))
		}
		switch r.Verdict {
		case VerdictPass:
		case VerdictFail:
			if len(r.FailureModes) == 0 {
				violations = append(violations, fmt.Sprintf("sentence_results[%d] FAIL verdict requires failure_modes", i))
			}
		default:
			violations = append(violations, fmt.Sprintf("sentence_results[%d].verdict %q is not PASS or FAIL", i, r.Verdict))
		}
		if strings.TrimSpace(r.Explanation) == "" {
			violations = append(violations, fmt.Sprintf("sentence_results[%d].explanation must not be empty", i))
		}
		if strings.TrimSpace(r.RequiredFix) == "" {
			violations = append(violations, fmt.Sprintf("sentence_results[%d].required_fix must not be empty", i))
		}
	}
	for _, o := range expectedOrders {
		if _, ok := got[o]; !ok {
			violations = append(violations, fmt.Sprintf("no verdict for sentence order %d", o))
		}
	}

	if len(violations) > 0 {
		return nil, &ViolationError{Agent: "verifier", Violations: violations}
	}
	return &out, nil
}
