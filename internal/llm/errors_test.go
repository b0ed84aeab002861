package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"deadline", context.DeadlineExceeded, ErrorTypeEndpoint, true},
		{"canceled", context.Canceled, ErrorTypeEndpoint, false},
		{"refused", errors.New("dial tcp 127.0.0.1:11434: connect: connection refused"), ErrorTypeEndpoint, true},
		{"dns", errors.New("dial tcp: lookup api.example: no such host"), ErrorTypeEndpoint, true},
		{"unauthorized", errors.New("401 Unauthorized"), ErrorTypeAuth, false},
		{"rate limit", errors.New("Rate limit reached for requests"), ErrorTypeRateLimit, true},
		{"other", errors.New("something odd"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ClassifyError("openai", tt.err)
			if e.Type != tt.wantType || e.Retryable != tt.retryable {
				t.Errorf("ClassifyError = %s/%v, want %s/%v", e.Type, e.Retryable, tt.wantType, tt.retryable)
			}
			if !errors.Is(e, tt.err) {
				t.Error("classified error should wrap the cause")
			}
		})
	}
}

func TestClassifyError_PassesThroughClassified(t *testing.T) {
	orig := statusError("", "gpt-4", 429, "slow down")
	wrapped := fmt.Errorf("generate: %w", orig)

	e := ClassifyError("openai", wrapped)
	if e != orig {
		t.Error("already classified error should pass through")
	}
	if e.Provider != "openai" {
		t.Errorf("Provider = %q, want filled in", e.Provider)
	}
	if ClassifyError("openai", nil) != nil {
		t.Error("nil should classify to nil")
	}
}

func TestError_Message(t *testing.T) {
	e := statusError("anthropic", "claude-3-sonnet-20240229", 401, "invalid x-api-key")
	msg := e.Error()
	for _, part := range []string{"auth", "provider=anthropic", "HTTP 401", "model=claude-3-sonnet-20240229", "invalid x-api-key"} {
		if !strings.Contains(msg, part) {
			t.Errorf("Error() = %q, missing %q", msg, part)
		}
	}
}

func TestConfigurationError(t *testing.T) {
	err := fmt.Errorf("setup: %w", &ConfigurationError{Provider: "cohere", Reason: "unknown provider"})
	if !IsConfigurationError(err) {
		t.Error("IsConfigurationError should see through wrapping")
	}
	if GetErrorType(err) != ErrorTypeUnknown {
		t.Error("configuration errors are not classified provider errors")
	}
	if got := (&ConfigurationError{Reason: "no provider configured"}).Error(); got != "llm not configured: no provider configured" {
		t.Errorf("Error() = %q", got)
	}
}
