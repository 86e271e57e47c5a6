package classify

import (
	"errors"
	"fmt"
	"testing"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		message string
		want    ErrorType
	}{
		{"AI_TIMEOUT while waiting", ErrorTimeout},
		{"request timeout exceeded", ErrorTimeout},
		{"AI request timeout", ErrorTimeout},
		{"HTTP 429 Too Many Requests", ErrorRateLimit},
		{"rate limit hit, slow down", ErrorRateLimit},
		{"monthly quota exhausted", ErrorRateLimit},
		{"503 Service Unavailable", ErrorServiceUnavailable},
		{"service unavailable right now", ErrorServiceUnavailable},
		{"model temporarily unavailable", ErrorServiceUnavailable},
		{"context length exceeds limit", ErrorContextLimit},
		{"maximum context window limit reached", ErrorContextLimit},
		{"401 Unauthorized", ErrorAuth},
		{"403 Forbidden", ErrorAuth},
		{"invalid api key provided", ErrorAuth},
		{"network unreachable", ErrorNetwork},
		{"connection refused", ErrorNetwork},
		{"fetch failed", ErrorNetwork},
		{"something novel happened", ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			got, _ := Classify(errors.New(tt.message))
			if got != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.message, got, tt.want)
			}
		})
	}
}

func TestClassifyFirstMatchWins(t *testing.T) {
	// Contains both a timeout signal and a rate-limit signal; the table is
	// evaluated top to bottom.
	got, _ := Classify(errors.New("request timeout after 429"))
	if got != ErrorTimeout {
		t.Errorf("expected timeout, got %s", got)
	}
}

func TestClassifyCanonicalMessages(t *testing.T) {
	_, msg := Classify(errors.New("AI request timeout"))
	if msg != TimeoutMessage {
		t.Errorf("timeout canonical message = %q", msg)
	}
	if msg != "AI request timed out after 30 seconds" {
		t.Errorf("timeout message literal changed: %q", msg)
	}

	// unknown_error passes the raw message through verbatim.
	raw := "wholly unexpected failure #42"
	typ, passthrough := Classify(errors.New(raw))
	if typ != ErrorUnknown || passthrough != raw {
		t.Errorf("unknown should pass through, got (%s, %q)", typ, passthrough)
	}

	// Every other category gets a canonical message distinct from the raw.
	for _, raw := range []string{"429", "503", "context limit", "401", "connection reset"} {
		typ, msg := Classify(fmt.Errorf("provider error: %s", raw))
		if typ == ErrorUnknown {
			t.Errorf("%q should classify to a known type", raw)
			continue
		}
		if msg == "" || msg == "provider error: "+raw {
			t.Errorf("%q: expected canonical message, got %q", raw, msg)
		}
	}
}

func TestClassifyTotal(t *testing.T) {
	// Every error yields exactly one of the seven kinds.
	valid := map[ErrorType]bool{
		ErrorTimeout: true, ErrorRateLimit: true, ErrorServiceUnavailable: true,
		ErrorContextLimit: true, ErrorAuth: true, ErrorNetwork: true, ErrorUnknown: true,
	}
	for _, msg := range []string{"", "x", "429 and 503", "context", "limit"} {
		typ, _ := Classify(errors.New(msg))
		if !valid[typ] {
			t.Errorf("Classify(%q) produced unexpected type %s", msg, typ)
		}
	}
}

func TestRetryable(t *testing.T) {
	if Retryable(ErrorAuth) || Retryable(ErrorContextLimit) {
		t.Error("auth and context-limit failures must not be retryable")
	}
	for _, typ := range []ErrorType{ErrorTimeout, ErrorRateLimit, ErrorServiceUnavailable, ErrorNetwork, ErrorUnknown} {
		if !Retryable(typ) {
			t.Errorf("%s should be retryable", typ)
		}
	}
}
