package paragraphspec

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// sectionIntents is the fixed vocabulary of scientific paper sections
// and the paragraph intents each section admits.
var sectionIntents = map[string][]string{
	"Introduction": {
		"Background Context",
		"Prior Work Summary",
		"Knowledge Gap",
		"Study Objective",
	},
	"Methods": {
		"Study Design",
		"Participants / Data Sources",
		"Procedures / Protocol",
		"Analysis Methods",
	},
	"Results": {
		"Primary Results",
		"Secondary Results",
		"Null / Negative Results",
	},
	"Discussion": {
		"Result Interpretation",
		"Comparison to Prior Work",
		"Limitations",
		"Implications / Future Work",
	},
}

// Structure declares the sentence shape a drafted paragraph must follow.
type Structure struct {
	TopicSentence      bool `json:"topic_sentence"`
	EvidenceSentences  int  `json:"evidence_sentences"`
	ConclusionSentence bool `json:"conclusion_sentence"`
}

// Style carries writing-style directives passed through to the drafting
// prompt. TargetLengthWords is an inclusive [min, max] word range.
type Style struct {
	Tense             string `json:"tense"`
	Voice             string `json:"voice"`
	TargetLengthWords [2]int `json:"target_length_words"`
}

type Constraints struct {
	ForbiddenClaims []string `json:"forbidden_claims"`
	AllowedScope    string   `json:"allowed_scope"`
}

// Spec is the structured writing brief attached to a paragraph. It is
// persisted as the paragraph's spec_json and replayed verbatim into
// drafting inputs.
type Spec struct {
	Section           string      `json:"section"`
	Intent            string      `json:"intent"`
	RequiredStructure Structure   `json:"required_structure"`
	AllowedFactIDs    []uuid.UUID `json:"allowed_fact_ids"`
	Style             Style       `json:"style"`
	Constraints       Constraints `json:"constraints"`
}

// Sections returns the known section names in stable order.
func Sections() []string {
	out := make([]string, 0, len(sectionIntents))
	for section := range sectionIntents {
		out = append(out, section)
	}
	sort.Strings(out)
	return out
}

// IntentsFor returns the valid intents for a section, or nil when the
// section is unknown.
func IntentsFor(section string) []string {
	intents, ok := sectionIntents[section]
	if !ok {
		return nil
	}
	out := make([]string, len(intents))
	copy(out, intents)
	return out
}

// Validate checks the spec against the section→intent vocabulary and
// the structural rules.
func (s *Spec) Validate() error {
	intents, ok := sectionIntents[s.Section]
	if !ok {
		return fmt.Errorf("section must be one of %v", Sections())
	}
	found := false
	for _, intent := range intents {
		if intent == s.Intent {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("intent %q is not valid for section %q", s.Intent, s.Section)
	}

	if s.RequiredStructure.EvidenceSentences < 1 {
		return fmt.Errorf("required_structure.evidence_sentences must be at least 1")
	}

	minWords, maxWords := s.Style.TargetLengthWords[0], s.Style.TargetLengthWords[1]
	if minWords < 1 || maxWords < 1 || minWords > maxWords {
		return fmt.Errorf("style.target_length_words must be a positive ascending range")
	}

	seen := make(map[uuid.UUID]struct{}, len(s.AllowedFactIDs))
	for _, id := range s.AllowedFactIDs {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("allowed_fact_ids contains duplicate id %s", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Parse decodes and validates a persisted spec document.
func Parse(raw json.RawMessage) (*Spec, error) {
	var spec Spec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return nil, fmt.Errorf("failed to decode paragraph spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}
