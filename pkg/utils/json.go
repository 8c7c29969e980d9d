package utils

import (
	"encoding/json"
	"strings"
)

// MustMarshalJSON marshals v and panics on failure. Intended for values that are known to be serializable.
func MustMarshalJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic("failed to marshal JSON: " + err.Error())
	}
	return data
}

// ExtractJSONObject returns the outermost {...} block of s, dropping markdown code fences
// and any prose around it. It returns "" when s holds no object.
func ExtractJSONObject(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}
