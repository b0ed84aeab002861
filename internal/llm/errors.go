package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ConfigurationError reports a provider that is unknown or not bound to
// credentials.
type ConfigurationError struct {
	Provider string
	Reason   string
}

func (e *ConfigurationError) Error() string {
	if e.Provider == "" {
		return "llm not configured: " + e.Reason
	}
	return fmt.Sprintf("llm provider %q: %s", e.Provider, e.Reason)
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}

// ErrorType classifies provider failures.
type ErrorType string

const (
	ErrorTypeAuth      ErrorType = "auth"
	ErrorTypeModel     ErrorType = "model"
	ErrorTypeEndpoint  ErrorType = "endpoint"
	ErrorTypeRateLimit ErrorType = "rate_limit"
	ErrorTypeServer    ErrorType = "server"
	ErrorTypeMalformed ErrorType = "malformed_response"
	ErrorTypeUnknown   ErrorType = "unknown"
)

// Error is a classified provider failure. Retryable is informational;
// no layer retries.
type Error struct {
	Type       ErrorType
	Message    string
	Retryable  bool
	Cause      error
	StatusCode int
	Provider   string
	Model      string
}

func (e *Error) Error() string {
	parts := []string{string(e.Type)}
	if e.Provider != "" {
		parts = append(parts, "provider="+e.Provider)
	}
	if e.StatusCode > 0 {
		parts = append(parts, fmt.Sprintf("HTTP %d", e.StatusCode))
	}
	if e.Model != "" {
		parts = append(parts, "model="+e.Model)
	}
	parts = append(parts, e.Message)

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", strings.Join(parts, " "), e.Cause)
	}
	return strings.Join(parts, " ")
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a classified error.
func NewError(errType ErrorType, message string, retryable bool, cause error) *Error {
	return &Error{
		Type:      errType,
		Message:   message,
		Retryable: retryable,
		Cause:     cause,
	}
}

// statusError classifies an HTTP error response by status code.
func statusError(provider, model string, status int, body string) *Error {
	e := &Error{
		Provider:   provider,
		Model:      model,
		StatusCode: status,
		Cause:      fmt.Errorf("%s", strings.TrimSpace(body)),
	}
	switch {
	case status == 401 || status == 403:
		e.Type, e.Message = ErrorTypeAuth, "authentication failed"
	case status == 404:
		e.Type, e.Message = ErrorTypeModel, "model or endpoint not found"
	case status == 429:
		e.Type, e.Message, e.Retryable = ErrorTypeRateLimit, "rate limited", true
	case status >= 500:
		e.Type, e.Message, e.Retryable = ErrorTypeServer, "server error", true
	default:
		e.Type, e.Message = ErrorTypeUnknown, "request rejected"
	}
	return e
}

// ClassifyError turns an arbitrary provider-side error into an *Error.
// Errors that are already classified pass through unchanged.
func ClassifyError(provider string, err error) *Error {
	if err == nil {
		return nil
	}

	var llmErr *Error
	if errors.As(err, &llmErr) {
		if llmErr.Provider == "" {
			llmErr.Provider = provider
		}
		return llmErr
	}

	e := &Error{Provider: provider, Cause: err}
	lower := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, context.DeadlineExceeded) || strings.Contains(lower, "timeout"):
		e.Type, e.Message, e.Retryable = ErrorTypeEndpoint, "request timeout", true
	case errors.Is(err, context.Canceled):
		e.Type, e.Message = ErrorTypeEndpoint, "request canceled"
	case strings.Contains(lower, "connection refused") || strings.Contains(lower, "no such host"):
		e.Type, e.Message, e.Retryable = ErrorTypeEndpoint, "connection failed", true
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "invalid api key"):
		e.Type, e.Message = ErrorTypeAuth, "authentication failed"
	case strings.Contains(lower, "rate limit"):
		e.Type, e.Message, e.Retryable = ErrorTypeRateLimit, "rate limited", true
	default:
		e.Type, e.Message = ErrorTypeUnknown, "provider error"
	}
	return e
}

// GetErrorType extracts the ErrorType from an error.
func GetErrorType(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	return ErrorTypeUnknown
}
