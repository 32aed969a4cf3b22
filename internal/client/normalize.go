package client

import (
	"encoding/json"
	"strings"
	"unicode"
)

// opaqueKeys hold maps keyed by ids. Their keys are left untouched.
var opaqueKeys = map[string]bool{"answers": true}

// Normalize rewrites camelCase object keys to snake_case so that responses in either
// shape (completedAt or completed_at) decode into the same struct. When both shapes
// are present the snake_case value wins.
func Normalize(data []byte) ([]byte, error) {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return json.Marshal(normalizeValue(v))
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			snake := SnakeCase(k)
			if snake != k {
				if _, exists := t[snake]; exists {
					continue
				}
			}
			if opaqueKeys[snake] {
				out[snake] = val
				continue
			}
			out[snake] = normalizeValue(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}

// SnakeCase converts passingScore to passing_score. Runs of capitals stay together: attemptID becomes attempt_id.
func SnakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i > 0 && i+1 < len(runes) && unicode.IsLower(runes[i+1]) && unicode.IsUpper(runes[i-1])
			if prevLower || nextLower {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
