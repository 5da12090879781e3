package canonical

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// Aliases is the external normalization data: canonical company names with
// their known variants, plus the legal suffixes to strip.
//
// The file may be YAML or JSON:
//
//	company_aliases:
//	  Bristol Myers Squibb: [BMS, Bristol-Myers Squibb Company]
//	legal_suffixes_to_strip: [inc, corp, ltd]
type Aliases struct {
	CompanyAliases map[string][]string `yaml:"company_aliases" json:"company_aliases"`
	LegalSuffixes  []string            `yaml:"legal_suffixes_to_strip" json:"legal_suffixes_to_strip"`
}

// LoadAliases reads alias data from path. A missing file yields empty aliases
// and the default suffix list.
func LoadAliases(path string) (Aliases, error) {
	var a Aliases
	if path == "" {
		return a, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return a, nil
		}
		return a, fmt.Errorf("failed to read aliases file %s: %w", path, err)
	}

	// JSON documents are valid YAML, so one decoder covers both formats
	if err := yaml.Unmarshal(data, &a); err != nil {
		return a, fmt.Errorf("failed to parse aliases file %s: %w", path, err)
	}
	return a, nil
}

// Merge returns a copy of a with other's entries added. Variants for the same
// canonical name are concatenated; other's suffix list wins when non-empty.
func (a Aliases) Merge(other Aliases) Aliases {
	out := Aliases{
		CompanyAliases: make(map[string][]string, len(a.CompanyAliases)+len(other.CompanyAliases)),
		LegalSuffixes:  a.LegalSuffixes,
	}
	for k, v := range a.CompanyAliases {
		out.CompanyAliases[k] = append([]string(nil), v...)
	}
	for k, v := range other.CompanyAliases {
		out.CompanyAliases[k] = append(out.CompanyAliases[k], v...)
	}
	if len(other.LegalSuffixes) > 0 {
		out.LegalSuffixes = other.LegalSuffixes
	}
	return out
}
