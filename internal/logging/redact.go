package logging

import (
	"regexp"
	"strings"
)

// Patterns for secrets that should never reach log output.
var secretPatterns = []*regexp.Regexp{
	// Chat-service bot tokens (base64ish triplet)
	regexp.MustCompile(`[A-Za-z0-9_-]{23,28}\.[A-Za-z0-9_-]{6,7}\.[A-Za-z0-9_-]{27,}`),

	// Bearer tokens
	regexp.MustCompile(`(?i)bearer\s+([a-zA-Z0-9._-]{20,})`),

	// Generic key=value secrets
	regexp.MustCompile(`(?i)(token|secret|password|auth)[=:]["']?([a-zA-Z0-9+/=_-]{32,})["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces sensitive information in a string.
func Redact(s string) string {
	result := s
	for _, pattern := range secretPatterns {
		result = pattern.ReplaceAllString(result, RedactedValue)
	}
	return result
}

// RedactErr redacts an error's message, preserving nil.
func RedactErr(err error) string {
	if err == nil {
		return ""
	}
	return Redact(strings.TrimSpace(err.Error()))
}
