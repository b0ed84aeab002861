package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nugget/ha-config-assistant/internal/prompts"
)

// Operation names recorded with each completion.
const (
	OpGenerate = "generate"
	OpValidate = "validate"
	OpImprove  = "improve"
	OpExplain  = "explain"
	OpTest     = "test"
)

const (
	explainTemperature = 0.3
	explainMaxTokens   = 200

	credentialTestTimeout   = 10 * time.Second
	credentialTestMaxTokens = 5
)

// Usage describes one completed provider call.
type Usage struct {
	Operation  string
	Provider   string
	Model      string
	TokensUsed int
	Duration   time.Duration
}

// UsageRecorder persists completion usage. Recording failures are logged
// and never fail the call.
type UsageRecorder interface {
	RecordUsage(ctx context.Context, u Usage) error
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	BaseURL     string        // endpoint override passed to every backend
	Timeout     time.Duration // per-call ceiling for the backend HTTP client
	Temperature float64       // default sampling temperature
	MaxTokens   int           // default max-token ceiling
	Usage       UsageRecorder
}

// Manager holds the configured provider and exposes the configuration
// operations built on top of Complete. It is safe for concurrent use;
// Configure may be called again to swap providers at runtime.
type Manager struct {
	opts   ManagerOptions
	logger *slog.Logger

	mu           sync.RWMutex
	provider     Provider
	defaultModel string
}

// NewManager returns an unconfigured manager.
func NewManager(opts ManagerOptions, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Temperature == 0 {
		opts.Temperature = DefaultTemperature
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Manager{
		opts:   opts,
		logger: logger.With("component", "llm"),
	}
}

// Configure binds the named provider. An unknown provider or a missing
// key is logged and returned as a *ConfigurationError; the manager is
// left unconfigured rather than failing the process.
func (m *Manager) Configure(provider, apiKey, defaultModel string) error {
	if !KnownProvider(provider) {
		m.logger.Warn("unknown llm provider", "provider", provider)
		m.unbind()
		return &ConfigurationError{Provider: provider, Reason: "unknown provider"}
	}
	if requiresAPIKey(provider) && apiKey == "" {
		m.logger.Warn("llm provider has no api key", "provider", provider)
		m.unbind()
		return &ConfigurationError{Provider: provider, Reason: "api key required"}
	}

	p, err := NewProvider(ProviderConfig{
		Name:    provider,
		APIKey:  apiKey,
		BaseURL: m.opts.BaseURL,
		Timeout: m.opts.Timeout,
		Logger:  m.logger,
	})
	if err != nil {
		m.unbind()
		return err
	}

	if defaultModel == "" {
		defaultModel = DefaultModels[provider]
	}
	m.Bind(p, defaultModel)
	m.logger.Info("llm provider configured", "provider", provider, "model", defaultModel)
	return nil
}

// Bind installs an already-constructed provider.
func (m *Manager) Bind(p Provider, defaultModel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.provider = p
	m.defaultModel = defaultModel
}

func (m *Manager) unbind() {
	m.Bind(nil, "")
}

// Configured reports whether a provider is bound.
func (m *Manager) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.provider != nil
}

// Current returns the bound provider name and default model.
func (m *Manager) Current() (provider, model string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.provider == nil {
		return "", "", false
	}
	return m.provider.Name(), m.defaultModel, true
}

type callOptions struct {
	model       string
	temperature *float64
	maxTokens   int
	options     map[string]any
	operation   string
}

// CallOption overrides a per-call default.
type CallOption func(*callOptions)

// WithModel overrides the provider's default model.
func WithModel(model string) CallOption {
	return func(o *callOptions) { o.model = model }
}

// WithTemperature overrides the default temperature.
func WithTemperature(t float64) CallOption {
	return func(o *callOptions) { o.temperature = &t }
}

// WithMaxTokens overrides the default max-token ceiling.
func WithMaxTokens(n int) CallOption {
	return func(o *callOptions) { o.maxTokens = n }
}

// WithOptions passes provider-specific extras through unchanged.
func WithOptions(opts map[string]any) CallOption {
	return func(o *callOptions) { o.options = opts }
}

func withOperation(op string) CallOption {
	return func(o *callOptions) { o.operation = op }
}

// Complete sends msgs to the bound provider. Model, temperature and max
// tokens resolve from the call options, then the manager defaults.
func (m *Manager) Complete(ctx context.Context, msgs []Message, opts ...CallOption) (*Response, error) {
	m.mu.RLock()
	p, defaultModel := m.provider, m.defaultModel
	m.mu.RUnlock()

	if p == nil {
		return nil, &ConfigurationError{Reason: "no provider configured"}
	}

	co := callOptions{operation: OpGenerate}
	for _, o := range opts {
		o(&co)
	}

	req := Request{
		Messages:    msgs,
		Model:       co.model,
		Temperature: m.opts.Temperature,
		MaxTokens:   m.opts.MaxTokens,
		Options:     co.options,
	}
	if req.Model == "" {
		req.Model = defaultModel
	}
	if co.temperature != nil {
		req.Temperature = *co.temperature
	}
	if co.maxTokens > 0 {
		req.MaxTokens = co.maxTokens
	}

	start := time.Now()
	resp, err := p.Complete(ctx, req)
	if err != nil {
		m.logger.Warn("completion failed",
			"provider", p.Name(),
			"model", req.Model,
			"operation", co.operation,
			"error", err,
		)
		return nil, ClassifyError(p.Name(), err)
	}

	m.record(ctx, Usage{
		Operation:  co.operation,
		Provider:   resp.Provider,
		Model:      resp.Model,
		TokensUsed: resp.TokensUsed,
		Duration:   time.Since(start),
	})
	return resp, nil
}

func (m *Manager) record(ctx context.Context, u Usage) {
	if m.opts.Usage == nil {
		return
	}
	if err := m.opts.Usage.RecordUsage(context.WithoutCancel(ctx), u); err != nil {
		m.logger.Warn("failed to record usage", "operation", u.Operation, "error", err)
	}
}

// GenerateConfig sends an optional system prompt and the user prompt.
// Any [prompts.Placeholder] left in the system prompt is replaced with
// the user prompt here, after all other interpolation.
func (m *Manager) GenerateConfig(ctx context.Context, prompt, systemPrompt string, opts ...CallOption) (*Response, error) {
	var msgs []Message
	if systemPrompt != "" {
		msgs = append(msgs, Message{
			Role:    RoleSystem,
			Content: strings.ReplaceAll(systemPrompt, prompts.Placeholder, prompt),
		})
	}
	msgs = append(msgs, Message{Role: RoleUser, Content: prompt})
	return m.Complete(ctx, msgs, opts...)
}

// Verdict is the structured response to a validation request.
type Verdict struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// ValidateConfig asks the model for a JSON verdict on configYAML. A
// response without a parsable verdict is an ErrorTypeMalformed error.
func (m *Manager) ValidateConfig(ctx context.Context, configYAML, configType string, opts ...CallOption) (*Verdict, error) {
	opts = append(opts, withOperation(OpValidate))
	resp, err := m.GenerateConfig(ctx,
		prompts.ValidationUserPrompt(configType, configYAML),
		prompts.ValidationSystemPrompt(configType),
		opts...,
	)
	if err != nil {
		return nil, err
	}

	v, err := ParseJSONResponse[Verdict](resp.Content)
	if err != nil {
		return nil, &Error{
			Type:     ErrorTypeMalformed,
			Message:  "validation verdict",
			Provider: resp.Provider,
			Model:    resp.Model,
			Cause:    err,
		}
	}
	return &v, nil
}

// ImproveConfig asks for a full replacement of configYAML incorporating
// request.
func (m *Manager) ImproveConfig(ctx context.Context, configYAML, request, configType string, opts ...CallOption) (*Response, error) {
	opts = append(opts, withOperation(OpImprove))
	return m.GenerateConfig(ctx,
		prompts.ImproveUserPrompt(configYAML, request),
		prompts.ImproveSystemPrompt(configType),
		opts...,
	)
}

// ExplainConfig returns a short plain-language description of
// configYAML.
func (m *Manager) ExplainConfig(ctx context.Context, configYAML, configType string, opts ...CallOption) (string, error) {
	opts = append([]CallOption{
		WithTemperature(explainTemperature),
		WithMaxTokens(explainMaxTokens),
	}, opts...)
	opts = append(opts, withOperation(OpExplain))

	resp, err := m.GenerateConfig(ctx,
		prompts.ExplainUserPrompt(configType, configYAML),
		prompts.ExplainSystemPrompt(configType),
		opts...,
	)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// Ping checks the bound provider without spending tokens when it
// supports that, and with a minimal completion otherwise.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.RLock()
	p := m.provider
	m.mu.RUnlock()

	if p == nil {
		return &ConfigurationError{Reason: "no provider configured"}
	}
	if pinger, ok := p.(Pinger); ok {
		return pinger.Ping(ctx)
	}
	_, err := m.Complete(ctx, []Message{{Role: RoleUser, Content: "Hello"}},
		WithMaxTokens(credentialTestMaxTokens), withOperation(OpTest))
	return err
}

// TestCredentials checks a candidate credential with a minimal completion
// under a short timeout. It does not change the bound provider.
func (m *Manager) TestCredentials(ctx context.Context, provider, apiKey, model string) error {
	if !KnownProvider(provider) {
		return &ConfigurationError{Provider: provider, Reason: "unknown provider"}
	}
	if model == "" {
		model = DefaultModels[provider]
	}

	p, err := NewProvider(ProviderConfig{
		Name:    provider,
		APIKey:  apiKey,
		BaseURL: m.opts.BaseURL,
		Timeout: credentialTestTimeout,
		Logger:  m.logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, credentialTestTimeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Complete(ctx, Request{
		Messages:    []Message{{Role: RoleUser, Content: "Hello"}},
		Model:       model,
		Temperature: m.opts.Temperature,
		MaxTokens:   credentialTestMaxTokens,
	})
	if err != nil {
		return fmt.Errorf("test %s credentials: %w", provider, ClassifyError(provider, err))
	}

	m.record(ctx, Usage{
		Operation:  OpTest,
		Provider:   provider,
		Model:      resp.Model,
		TokensUsed: resp.TokensUsed,
		Duration:   time.Since(start),
	})
	return nil
}
