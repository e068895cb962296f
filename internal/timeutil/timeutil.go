package timeutil

import (
	"strings"
	"time"
)

// ParseDurationOrDefault parses duration and returns def on empty or invalid value.
func ParseDurationOrDefault(value string, def time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return def
	}
	return parsed
}

// ClampTimeout resolves an effective deadline from a ceiling and an optional
// per-call override. The override may only tighten the ceiling, never extend it.
func ClampTimeout(ceiling, override time.Duration) time.Duration {
	if override <= 0 {
		return ceiling
	}
	if ceiling > 0 && override > ceiling {
		return ceiling
	}
	return override
}
