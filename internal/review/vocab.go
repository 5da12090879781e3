package review

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Vocabulary describes a therapeutic area for topic matching.
//
// Example (YAML or JSON):
//
//	therapeutic_area: immunology
//	includes: [autoimmune, inflammation, lupus]
//	excludes: [oncology, tumor]
//	synonyms:
//	  autoimmune: [autoimmunity, auto-immune]
type Vocabulary struct {
	TherapeuticArea string              `yaml:"therapeutic_area" json:"therapeutic_area"`
	Includes        []string            `yaml:"includes" json:"includes"`
	Excludes        []string            `yaml:"excludes" json:"excludes"`
	Synonyms        map[string][]string `yaml:"synonyms" json:"synonyms"`
}

// LoadVocabulary reads a vocabulary file. Unlike alias data, a vocabulary is
// required: without one every record would be ambiguous.
func LoadVocabulary(path string) (Vocabulary, error) {
	var v Vocabulary
	data, err := os.ReadFile(path)
	if err != nil {
		return v, fmt.Errorf("failed to read vocabulary %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("failed to parse vocabulary %s: %w", path, err)
	}
	if err := v.Validate(); err != nil {
		return v, fmt.Errorf("invalid vocabulary %s: %w", path, err)
	}
	return v, nil
}

// Validate checks the vocabulary is usable.
func (v Vocabulary) Validate() error {
	if strings.TrimSpace(v.TherapeuticArea) == "" {
		return fmt.Errorf("therapeutic_area is required")
	}
	return nil
}

// expandedIncludes returns includes plus the synonyms of each include term.
func (v Vocabulary) expandedIncludes() []string {
	out := append([]string(nil), v.Includes...)
	for _, term := range v.Includes {
		for canonical, syns := range v.Synonyms {
			if strings.EqualFold(canonical, term) {
				out = append(out, syns...)
			}
		}
	}
	return out
}
