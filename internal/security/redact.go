// Package security masks credentials before they reach logs or output and
// validates user-supplied identifiers.
package security

import (
	"regexp"
	"strings"
)

// sensitivePatterns match credentials that can leak through transport errors.
// Each pattern's last capture group is the secret.
var sensitivePatterns = []*regexp.Regexp{
	// Bot API URLs embed the token: https://api.telegram.org/bot123456:AA.../sendMessage
	regexp.MustCompile(`(/bot)(\d{5,}:[A-Za-z0-9_-]{20,})`),
	// Bare bot tokens.
	regexp.MustCompile(`()\b(\d{5,}:[A-Za-z0-9_-]{30,})`),
	regexp.MustCompile(`(?i)((?:password|token|secret)[=:]\s*["']?)([^\s"'&]+)`),
}

// MaskCredential keeps the first and last four characters of long values.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// Redact masks every credential found in s.
func Redact(s string) string {
	for _, p := range sensitivePatterns {
		s = p.ReplaceAllStringFunc(s, func(match string) string {
			sub := p.FindStringSubmatch(match)
			return sub[1] + MaskCredential(sub[2])
		})
	}
	return s
}

// ContainsCredential reports whether s holds anything Redact would mask.
func ContainsCredential(s string) bool {
	for _, p := range sensitivePatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// RedactError returns err with credentials masked in its message. The result
// still unwraps to err so errors.Is and errors.As keep working.
func RedactError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if !ContainsCredential(msg) {
		return err
	}
	return &redactedError{msg: Redact(msg), err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }
