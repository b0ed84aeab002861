package llm

import (
	"context"
	"log/slog"
	"time"
)

// Provider is one completion backend. Implementations translate a
// [Request] to their wire format and back; they never retry.
type Provider interface {
	// Name returns the provider identifier, e.g. "anthropic".
	Name() string

	// Complete sends the request and returns the first completion.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Pinger is implemented by providers with a cheap reachability check that
// does not spend tokens.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ProviderConfig is what every backend constructor needs.
type ProviderConfig struct {
	Name    string
	APIKey  string
	BaseURL string // optional endpoint override
	Timeout time.Duration
	Logger  *slog.Logger
}

// defaultProviderTimeout bounds a completion when the configuration does
// not.
const defaultProviderTimeout = 120 * time.Second

// NewProvider constructs the backend for cfg.Name. Unknown names return a
// *ConfigurationError.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultProviderTimeout
	}

	switch cfg.Name {
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg), nil
	case ProviderOllama:
		return NewOllamaProvider(cfg), nil
	case ProviderOpenAI, ProviderGroq, ProviderMistral, ProviderGoogle:
		return NewOpenAIProvider(cfg), nil
	default:
		return nil, &ConfigurationError{Provider: cfg.Name, Reason: "unknown provider"}
	}
}
