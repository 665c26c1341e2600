package contracts

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDocID = uuid.New()

func librarianFact(content string, confidence float64) string {
	return fmt.Sprintf(`{"content": %q, "source_type": "PDF", "confidence": %v,
		"source_span": {"document_id": "%s"}}`, content, confidence, testDocID)
}

func TestValidateLibrarianAccepts(t *testing.T) {
	payload := json.RawMessage(fmt.Sprintf(`{
		"facts": [
			{"content": "The trial enrolled 240 adults.", "source_type": "PDF", "confidence": 0.95,
			 "source_span": {"document_id": "%s", "page": 2, "start_char": 10, "end_char": 45, "quote": "240 adults were enrolled"}},
			%s
		]
	}`, testDocID, librarianFact("Follow-up lasted 12 weeks.", 0.8)))
	out, err := ValidateLibrarian(payload)
	require.NoError(t, err)
	require.Len(t, out.Facts, 2)
	require.NotNil(t, out.Facts[0].Span)
	assert.Equal(t, testDocID, out.Facts[0].Span.DocumentID)
	assert.Equal(t, SourceTypePDF, out.Facts[0].SourceType)
	assert.Empty(t, out.UncertainFacts)
}

func TestValidateLibrarianAcceptsUncertainFacts(t *testing.T) {
	payload := json.RawMessage(fmt.Sprintf(`{
		"facts": [%s],
		"uncertain_facts": [
			{"content": "The effect may persist beyond 12 weeks.",
			 "reason": "The source hedges with 'may'.",
			 "source_span": {"document_id": "%s", "page": 5}}
		]
	}`, librarianFact("Follow-up lasted 12 weeks.", 0.8), testDocID))
	out, err := ValidateLibrarian(payload)
	require.NoError(t, err)
	require.Len(t, out.UncertainFacts, 1)
	assert.Equal(t, "The source hedges with 'may'.", out.UncertainFacts[0].Reason)
	require.NotNil(t, out.UncertainFacts[0].Span)
	assert.Equal(t, testDocID, out.UncertainFacts[0].Span.DocumentID)
}

func TestValidateLibrarianRejects(t *testing.T) {
	okFact := librarianFact("x", 0.5)
	cases := []struct {
		name    string
		payload string
	}{
		{"empty facts", `{"facts": []}`},
		{"blank content", `{"facts": [` + librarianFact("  ", 0.5) + `]}`},
		{"confidence above one", `{"facts": [` + librarianFact("x", 1.2) + `]}`},
		{"negative confidence", `{"facts": [` + librarianFact("x", -0.1) + `]}`},
		{"unknown source type", fmt.Sprintf(`{"facts": [{"content": "x", "source_type": "WEB", "confidence": 0.5,
			"source_span": {"document_id": "%s"}}]}`, testDocID)},
		{"missing span", `{"facts": [{"content": "x", "source_type": "PDF", "confidence": 0.5}]}`},
		{"span without document", `{"facts": [{"content": "x", "source_type": "PDF", "confidence": 0.5,
			"source_span": {"page": 1}}]}`},
		{"start without end", fmt.Sprintf(`{"facts": [{"content": "x", "source_type": "PDF", "confidence": 0.5,
			"source_span": {"document_id": "%s", "start_char": 5}}]}`, testDocID)},
		{"start after end", fmt.Sprintf(`{"facts": [{"content": "x", "source_type": "PDF", "confidence": 0.5,
			"source_span": {"document_id": "%s", "start_char": 50, "end_char": 10}}]}`, testDocID)},
		{"negative start", fmt.Sprintf(`{"facts": [{"content": "x", "source_type": "PDF", "confidence": 0.5,
			"source_span": {"document_id": "%s", "start_char": -1, "end_char": 10}}]}`, testDocID)},
		{"uncertain without reason", fmt.Sprintf(`{"facts": [%s], "uncertain_facts": [
			{"content": "maybe", "reason": " ", "source_span": {"document_id": "%s"}}]}`, okFact, testDocID)},
		{"uncertain blank content", fmt.Sprintf(`{"facts": [%s], "uncertain_facts": [
			{"content": " ", "reason": "hedged", "source_span": {"document_id": "%s"}}]}`, okFact, testDocID)},
		{"uncertain missing span", fmt.Sprintf(`{"facts": [%s], "uncertain_facts": [
			{"content": "maybe", "reason": "hedged"}]}`, okFact)},
		{"not json", `not json`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateLibrarian(json.RawMessage(tc.payload))
			require.Error(t, err)
			var v *ViolationError
			require.ErrorAs(t, err, &v)
			assert.Equal(t, "librarian", v.Agent)
		})
	}
}

func TestValidateLibrarianNormalizedDedup(t *testing.T) {
	payload := json.RawMessage(fmt.Sprintf(`{
		"facts": [%s, %s]
	}`, librarianFact("Follow-up lasted 12 weeks.", 0.9),
		librarianFact("  follow-up lasted 12 weeks.  ", 0.7)))
	_, err := ValidateLibrarian(payload)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicates")
}

func TestValidateWriterCitationSubset(t *testing.T) {
	allowed := []uuid.UUID{uuid.New(), uuid.New()}
	payload := json.RawMessage(fmt.Sprintf(`{"paragraph": {
		"section": "Results", "intent": "Primary Results",
		"sentences": [
			{"order": 1, "sentence_type": "topic", "text": "We report primary outcomes.", "citations": ["%s"]},
			{"order": 2, "sentence_type": "evidence", "text": "Scores improved.", "citations": ["%s", "%s"]}
		]
	}}`, allowed[0], allowed[0], allowed[1]))

	out, err := ValidateWriter(payload, allowed)
	require.NoError(t, err)
	require.Len(t, out.Paragraph.Sentences, 2)

	// Every citation parsed back is in the allow-list.
	allowedSet := map[uuid.UUID]bool{allowed[0]: true, allowed[1]: true}
	for _, s := range out.Paragraph.Sentences {
		for _, c := range s.Citations {
			assert.True(t, allowedSet[c])
		}
	}
}

func TestValidateWriterRejectsForeignCitation(t *testing.T) {
	allowed := []uuid.UUID{uuid.New()}
	foreign := uuid.New()
	payload := json.RawMessage(fmt.Sprintf(`{"paragraph": {
		"section": "Results", "intent": "Primary Results",
		"sentences": [{"order": 1, "sentence_type": "evidence", "text": "x", "citations": ["%s"]}]
	}}`, foreign))
	_, err := ValidateWriter(payload, allowed)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outside the allowed set")
}

func TestValidateWriterRejects(t *testing.T) {
	allowed := []uuid.UUID{uuid.New()}
	cases := []struct {
		name    string
		payload string
	}{
		{"empty paragraph", `{"paragraph": {"section": "Results", "intent": "Primary Results", "sentences": []}}`},
		{"order zero", fmt.Sprintf(`{"paragraph": {"sentences": [{"order": 0, "sentence_type": "topic", "text": "x", "citations": ["%s"]}]}}`, allowed[0])},
		{"duplicate order", fmt.Sprintf(`{"paragraph": {"sentences": [
			{"order": 1, "sentence_type": "topic", "text": "a", "citations": ["%s"]},
			{"order": 1, "sentence_type": "evidence", "text": "b", "citations": ["%s"]}]}}`, allowed[0], allowed[0])},
		{"blank text", fmt.Sprintf(`{"paragraph": {"sentences": [{"order": 1, "sentence_type": "topic", "text": " ", "citations": ["%s"]}]}}`, allowed[0])},
		{"unknown sentence type", fmt.Sprintf(`{"paragraph": {"sentences": [{"order": 1, "sentence_type": "summary", "text": "x", "citations": ["%s"]}]}}`, allowed[0])},
		{"no citations", `{"paragraph": {"sentences": [{"order": 1, "sentence_type": "topic", "text": "x", "citations": []}]}}`},
		{"missing evidence without reason", `{"paragraph": {"missing_evidence": [
			{"needed_for": "a claim", "why_missing": " ", "suggested_fact_type": "outcome"}]}}`},
		{"missing evidence without target", `{"paragraph": {"missing_evidence": [
			{"needed_for": " ", "why_missing": "no source", "suggested_fact_type": "outcome"}]}}`},
		{"missing evidence without fact type", `{"paragraph": {"missing_evidence": [
			{"needed_for": "a claim", "why_missing": "no source", "suggested_fact_type": " "}]}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateWriter(json.RawMessage(tc.payload), allowed)
			require.Error(t, err)
		})
	}
}

// A sentence must always cite; ungrounded claims surface only through the
// paragraph's missing_evidence list.
func TestValidateWriterEveryCitationRequired(t *testing.T) {
	payload := json.RawMessage(`{"paragraph": {
		"section": "Discussion", "intent": "Limitations",
		"sentences": [{"order": 1, "sentence_type": "evidence",
			"text": "No supporting source was found for this claim.", "citations": []}]
	}}`)
	_, err := ValidateWriter(payload, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must cite at least one fact")
}

func TestValidateWriterMissingEvidenceOnly(t *testing.T) {
	payload := json.RawMessage(`{"paragraph": {
		"section": "Discussion", "intent": "Limitations",
		"sentences": [],
		"missing_evidence": [
			{"needed_for": "The claim that effects persist.",
			 "why_missing": "No fact covers durability.",
			 "suggested_fact_type": "long-term outcome measurement"}
		]
	}}`)
	out, err := ValidateWriter(payload, nil)
	require.NoError(t, err)
	assert.Empty(t, out.Paragraph.Sentences)
	require.Len(t, out.Paragraph.MissingEvidence, 1)
	assert.Equal(t, "No fact covers durability.", out.Paragraph.MissingEvidence[0].WhyMissing)
}

func TestValidateVerifierOrderSetEquality(t *testing.T) {
	payload := json.RawMessage(`{
		"overall_pass": false,
		"sentence_results": [
			{"order": 2, "verdict": "PASS", "explanation": "Quote matches.", "required_fix": "No change required."},
			{"order": 1, "verdict": "FAIL", "failure_modes": ["unsupported_claim"],
			 "explanation": "No source backs the effect size.", "required_fix": "Cite the primary outcome fact.",
			 "suggested_rewrite": "Scores improved by 4.2 points."}
		]
	}`)
	out, err := ValidateVerifier(payload, []int{1, 2})
	require.NoError(t, err)
	require.Len(t, out.SentenceResults, 2)
	assert.False(t, out.OverallPass)
	require.NotNil(t, out.SentenceResults[1].SuggestedRewrite)

	// Order mismatch in either direction fails.
	_, err = ValidateVerifier(payload, []int{1, 2, 3})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no verdict for sentence order 3")

	_, err = ValidateVerifier(payload, []int{1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match any sentence")
}

func TestValidateVerifierRejects(t *testing.T) {
	cases := []struct {
		name    string
		payload string
		orders  []int
	}{
		{"fail without failure modes",
			`{"overall_pass": false, "sentence_results": [{"order": 1, "verdict": "FAIL", "explanation": "x", "required_fix": "y"}]}`,
			[]int{1}},
		{"pass without required fix",
			`{"overall_pass": true, "sentence_results": [{"order": 1, "verdict": "PASS", "explanation": "x"}]}`,
			[]int{1}},
		{"fail without required fix",
			`{"overall_pass": false, "sentence_results": [{"order": 1, "verdict": "FAIL", "failure_modes": ["m"], "explanation": "x"}]}`,
			[]int{1}},
		{"blank explanation",
			`{"overall_pass": true, "sentence_results": [{"order": 1, "verdict": "PASS", "explanation": " ", "required_fix": "y"}]}`,
			[]int{1}},
		{"unknown verdict",
			`{"overall_pass": true, "sentence_results": [{"order": 1, "verdict": "MAYBE", "explanation": "x", "required_fix": "y"}]}`,
			[]int{1}},
		{"duplicate order",
			`{"overall_pass": true, "sentence_results": [
				{"order": 1, "verdict": "PASS", "explanation": "x", "required_fix": "y"},
				{"order": 1, "verdict": "PASS", "explanation": "y", "required_fix": "z"}]}`,
			[]int{1}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ValidateVerifier(json.RawMessage(tc.payload), tc.orders)
			require.Error(t, err)
		})
	}
}
