package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Args carries one tool invocation's arguments: the raw JSON string the
// model produced plus the parsed tree. The untyped map never leaves the
// tool boundary; tools read values through the accessors.
type Args struct {
	raw    string
	parsed map[string]any
}

// ParseArgs defensively parses a model-produced argument string. Leading
// and trailing whitespace is tolerated; an empty string means no arguments.
// Malformed JSON or a non-object top level is an error.
func ParseArgs(raw string) (Args, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Args{raw: raw, parsed: map[string]any{}}, nil
	}
	var tree any
	if err := json.Unmarshal([]byte(trimmed), &tree); err != nil {
		return Args{}, fmt.Errorf("invalid tool arguments: %w", err)
	}
	obj, ok := tree.(map[string]any)
	if !ok {
		return Args{}, fmt.Errorf("invalid tool arguments: top level must be an object, got %T", tree)
	}
	return Args{raw: raw, parsed: obj}, nil
}

// Raw returns the original argument string as produced by the model.
func (a Args) Raw() string { return a.raw }

// Has reports whether key is present.
func (a Args) Has(key string) bool {
	_, ok := a.parsed[key]
	return ok
}

// String returns the string value at key, or "".
func (a Args) String(key string) string {
	v, _ := a.parsed[key].(string)
	return v
}

// Int returns the integer value at key, or 0. JSON numbers arrive as
// float64 and are truncated.
func (a Args) Int(key string) int {
	switch v := a.parsed[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Float returns the numeric value at key, or 0.
func (a Args) Float(key string) float64 {
	v, _ := a.parsed[key].(float64)
	return v
}

// Bool returns the boolean value at key, or false.
func (a Args) Bool(key string) bool {
	v, _ := a.parsed[key].(bool)
	return v
}

// Strings returns the string-array value at key. Non-string elements are
// skipped.
func (a Args) Strings(key string) []string {
	items, ok := a.parsed[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
