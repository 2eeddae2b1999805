// Package guard implements the security boundary for agent actions: the
// workspace path jail, SSRF-safe URL validation, the shell command filter,
// prompt-injection framing, keyed rate limiting, the audit log, and the
// gateway bearer token.
package guard

import "fmt"

// SecurityError marks a rejection by the guard. Tool handlers surface it to
// the LLM as an error result; it never unwinds past a session-loop turn.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string {
	return e.Reason
}

// Securityf builds a SecurityError with a formatted reason.
func Securityf(format string, args ...any) *SecurityError {
	return &SecurityError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError marks malformed arguments (bad URL syntax, invalid cron
// expression, invalid email address). Returned to the caller as a tool error.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// Validationf builds a ValidationError with a formatted reason.
func Validationf(format string, args ...any) *ValidationError {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
