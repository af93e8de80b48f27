package reasoning

import (
	"encoding/json"
	"regexp"
	"strings"
)

var fencedJSONRe = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
var bareObjectRe = regexp.MustCompile(`(?s)\{.*\}`)

// extractJSON leniently pulls a JSON object out of a model response.
// Models wrap output in markdown fences or prose more often than not,
// so plain parsing is tried first and fenced or embedded objects after.
func extractJSON(text string, v any) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	if json.Unmarshal([]byte(text), v) == nil {
		return true
	}

	if m := fencedJSONRe.FindStringSubmatch(text); m != nil {
		if json.Unmarshal([]byte(m[1]), v) == nil {
			return true
		}
	}

	if m := bareObjectRe.FindString(text); m != "" {
		if json.Unmarshal([]byte(m), v) == nil {
			return true
		}
	}

	return false
}
