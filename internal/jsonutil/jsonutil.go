package jsonutil

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeWithFallback unmarshals model output that is supposed to be a single
// JSON object but may arrive wrapped in code fences or surrounded by prose.
func DecodeWithFallback(raw string, out any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty json payload")
	}
	if err := json.Unmarshal([]byte(raw), out); err == nil {
		return nil
	}
	stripped := stripCodeFences(raw)
	if err := json.Unmarshal([]byte(stripped), out); err == nil {
		return nil
	}
	extracted, ok := extractObject(stripped)
	if !ok {
		return fmt.Errorf("no json object found in payload")
	}
	return json.Unmarshal([]byte(extracted), out)
}

func stripCodeFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx >= 0 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func extractObject(raw string) (string, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return raw[start : end+1], true
}
