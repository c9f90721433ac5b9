package tool

import (
	"fmt"
	"time"
)

// Input records arrive as decoded JSON, so numbers are float64 and nested
// values are map[string]any / []any. These helpers coerce and report missing
// or mistyped arguments uniformly.

// ArgError reports a missing or mistyped tool argument.
type ArgError struct {
	Key    string
	Reason string
}

func (e *ArgError) Error() string {
	return fmt.Sprintf("argument %q: %s", e.Key, e.Reason)
}

func strArg(input map[string]any, key string) (string, error) {
	v, ok := input[key]
	if !ok || v == nil {
		return "", &ArgError{Key: key, Reason: "required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &ArgError{Key: key, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	return s, nil
}

func strArgDefault(input map[string]any, key, def string) string {
	if s, err := strArg(input, key); err == nil && s != "" {
		return s
	}
	return def
}

func intArgDefault(input map[string]any, key string, def int) int {
	switch v := input[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func mapArg(input map[string]any, key string) map[string]any {
	if m, ok := input[key].(map[string]any); ok {
		return m
	}
	return nil
}

func sliceArg(input map[string]any, key string) []any {
	if s, ok := input[key].([]any); ok {
		return s
	}
	return nil
}

func durationArgDefault(input map[string]any, key string, def time.Duration) time.Duration {
	switch v := input[key].(type) {
	case float64:
		return time.Duration(v) * time.Second
	case string:
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
