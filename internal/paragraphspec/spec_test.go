package paragraphspec

import (
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSpec() *Spec {
	return &Spec{
		Section: "Results",
		Intent:  "Primary Results",
		RequiredStructure: Structure{
			TopicSentence:      true,
			EvidenceSentences:  2,
			ConclusionSentence: true,
		},
		AllowedFactIDs: []uuid.UUID{uuid.New()},
		Style: Style{
			Tense:             "past",
			Voice:             "active",
			TargetLengthWords: [2]int{80, 150},
		},
		Constraints: Constraints{
			ForbiddenClaims: []string{"causal language"},
			AllowedScope:    "primary outcome only",
		},
	}
}

func TestValidateAccepts(t *testing.T) {
	require.NoError(t, validSpec().Validate())
}

func TestValidateRejectsUnknownSection(t *testing.T) {
	spec := validSpec()
	spec.Section = "Appendix"
	assert.Error(t, spec.Validate())
}

func TestValidateRejectsIntentFromOtherSection(t *testing.T) {
	spec := validSpec()
	spec.Intent = "Knowledge Gap"
	err := spec.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid for section")
}

func TestValidateRejectsZeroEvidenceSentences(t *testing.T) {
	spec := validSpec()
	spec.RequiredStructure.EvidenceSentences = 0
	assert.Error(t, spec.Validate())
}

func TestValidateRejectsDescendingWordRange(t *testing.T) {
	spec := validSpec()
	spec.Style.TargetLengthWords = [2]int{150, 80}
	assert.Error(t, spec.Validate())

	spec.Style.TargetLengthWords = [2]int{0, 80}
	assert.Error(t, spec.Validate())
}

func TestValidateRejectsDuplicateAllowedFacts(t *testing.T) {
	spec := validSpec()
	id := uuid.New()
	spec.AllowedFactIDs = []uuid.UUID{id, id}
	assert.Error(t, spec.Validate())
}

func TestParseRoundTrip(t *testing.T) {
	raw, err := json.Marshal(validSpec())
	require.NoError(t, err)

	parsed, err := Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, "Results", parsed.Section)
	assert.Equal(t, [2]int{80, 150}, parsed.Style.TargetLengthWords)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse(json.RawMessage(`{"section":`))
	assert.Error(t, err)
}

func TestIntentsFor(t *testing.T) {
	assert.Len(t, IntentsFor("Introduction"), 4)
	assert.Nil(t, IntentsFor("Epilogue"))
	assert.Equal(t, []string{"Discussion", "Introduction", "Methods", "Results"}, Sections())
}
