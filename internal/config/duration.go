package config

import (
	"strings"
	"time"
)

// DurationOr parses a Go duration string, returning def when the field is
// empty or malformed. Config durations are advisory tunables; a typo should
// fall back to a sane default rather than abort startup.
func DurationOr(s string, def time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return def
	}
	return d
}
