// Package extract recovers a JSON object from free-form model output.
//
// Models asked for JSON often wrap it in prose or a markdown code fence.
// Object tries, in order: the whole text, the first fenced block, and the
// span from the first '{' to the last '}'. The first strategy that yields
// a JSON object wins.
package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// ErrNoObject is returned when no JSON object can be recovered from the text.
var ErrNoObject = errors.New("no JSON object found")

var fenceRegex = regexp.MustCompile("(?is)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Object returns the first JSON object recoverable from text.
func Object(text string) (map[string]any, bool) {
	raw, ok := locate(text)
	if !ok {
		return nil, false
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, false
	}
	return obj, true
}

// Decode recovers a JSON object from text and unmarshals it into v.
func Decode(text string, v any) error {
	raw, ok := locate(text)
	if !ok {
		return ErrNoObject
	}
	return json.Unmarshal([]byte(raw), v)
}

// locate returns the raw bytes of the first candidate that parses as an object.
func locate(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", false
	}

	if isObject(trimmed) {
		return trimmed, true
	}

	if m := fenceRegex.FindStringSubmatch(text); m != nil && isObject(m[1]) {
		return m[1], true
	}

	start, end := strings.Index(text, "{"), strings.LastIndex(text, "}")
	if start != -1 && end > start {
		if snippet := text[start : end+1]; isObject(snippet) {
			return snippet, true
		}
	}

	return "", false
}

func isObject(s string) bool {
	var obj map[string]any
	return json.Unmarshal([]byte(s), &obj) == nil && obj != nil
}

// String returns obj[key] as a string. Numbers are formatted without a
// trailing ".0" so that {"correct_answer": 2} reads as "2".
func String(obj map[string]any, key string) string {
	switch v := obj[key].(type) {
	case string:
		return v
	case float64:
		b, _ := json.Marshal(v)
		return string(b)
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}

// Number returns obj[key] as a float64. Numeric strings such as "2" or
// " 2.5 " are accepted.
func Number(obj map[string]any, key string) (float64, bool) {
	switch v := obj[key].(type) {
	case float64:
		return v, true
	case string:
		var f float64
		if err := json.Unmarshal([]byte(strings.TrimSpace(v)), &f); err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Strings returns obj[key] as a string slice, skipping non-string elements.
func Strings(obj map[string]any, key string) []string {
	list, ok := obj[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
