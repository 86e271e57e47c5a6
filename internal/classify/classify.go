// Package classify maps raw AI call errors onto a closed taxonomy so turn
// failure events carry a stable error_type regardless of which provider or
// transport produced the error.
package classify

import "strings"

// ErrorType is the closed set of failure categories attached to turn_failed
// events.
type ErrorType string

const (
	ErrorTimeout            ErrorType = "timeout"
	ErrorRateLimit          ErrorType = "rate_limit"
	ErrorServiceUnavailable ErrorType = "service_unavailable"
	ErrorContextLimit       ErrorType = "context_limit"
	ErrorAuth               ErrorType = "auth_error"
	ErrorNetwork            ErrorType = "network_error"
	ErrorUnknown            ErrorType = "unknown_error"
)

// Canonical messages reported per error type. unknown_error passes the raw
// message through verbatim instead.
const (
	// TimeoutMessage is fixed at 30 seconds regardless of the configured
	// timeout; tests and downstream dashboards match on this literal.
	TimeoutMessage            = "AI request timed out after 30 seconds"
	rateLimitMessage          = "Rate limit exceeded"
	serviceUnavailableMessage = "AI service temporarily unavailable"
	contextLimitMessage       = "Context length limit exceeded"
	authMessage               = "Authentication failed"
	networkMessage            = "Network connection failed"
)

// Classify maps an error message to (error_type, canonical message).
// Matching is case-insensitive substring matching, evaluated top to bottom
// with first match winning.
func Classify(err error) (ErrorType, string) {
	if err == nil {
		return ErrorUnknown, ""
	}
	raw := err.Error()
	msg := strings.ToLower(raw)

	switch {
	case contains(msg, "ai_timeout", "request timeout"):
		return ErrorTimeout, TimeoutMessage
	case contains(msg, "429", "rate limit", "quota"):
		return ErrorRateLimit, rateLimitMessage
	case contains(msg, "503", "service unavailable", "temporarily unavailable"):
		return ErrorServiceUnavailable, serviceUnavailableMessage
	case strings.Contains(msg, "context") && strings.Contains(msg, "limit"):
		return ErrorContextLimit, contextLimitMessage
	case contains(msg, "401", "403", "unauthorized", "api key"):
		return ErrorAuth, authMessage
	case contains(msg, "network", "connection", "fetch"):
		return ErrorNetwork, networkMessage
	default:
		return ErrorUnknown, raw
	}
}

// Retryable reports whether a failure category is worth retrying. Auth and
// context-limit failures require caller intervention and never succeed on a
// bare retry.
func Retryable(t ErrorType) bool {
	switch t {
	case ErrorAuth, ErrorContextLimit:
		return false
	}
	return true
}

func contains(msg string, signals ...string) bool {
	for _, s := range signals {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
