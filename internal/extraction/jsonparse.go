package extraction

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	// Matches ```json\n{...}\n``` and variants with missing newlines
	codeFenceRe = regexp.MustCompile("(?s)```(?:json|javascript|js)?\\s*\\n?(.*?)\\n?```")

	trailingCommaRe = regexp.MustCompile(`,(\s*[}\]])`)
	lineCommentRe   = regexp.MustCompile(`(?m)^\s*//.*$`)

	// Greedy, to capture nested objects
	objectRe = regexp.MustCompile(`(?s)\{.*\}`)
)

var errNoJSON = errors.New("no JSON object in model response")

// parseModelJSON decodes a model response that should be a single JSON
// object. Models wrap JSON in code fences, add prose around it or leave
// trailing commas; each is tried in turn.
func parseModelJSON[T any](text string) (T, error) {
	var out T
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return out, errNoJSON
	}

	if err := json.Unmarshal([]byte(trimmed), &out); err == nil {
		return out, nil
	}

	candidate := trimmed
	if m := codeFenceRe.FindStringSubmatch(trimmed); m != nil {
		candidate = strings.TrimSpace(m[1])
		if err := json.Unmarshal([]byte(candidate), &out); err == nil {
			return out, nil
		}
	}

	cleaned := trailingCommaRe.ReplaceAllString(candidate, "$1")
	cleaned = lineCommentRe.ReplaceAllString(cleaned, "")
	if err := json.Unmarshal([]byte(cleaned), &out); err == nil {
		return out, nil
	}

	obj := objectRe.FindString(cleaned)
	if obj == "" {
		return out, errNoJSON
	}
	if err := json.Unmarshal([]byte(obj), &out); err != nil {
		return out, err
	}
	return out, nil
}
