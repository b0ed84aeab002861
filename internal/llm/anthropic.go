package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"

	"github.com/nugget/ha-config-assistant/internal/httpkit"
)

const (
	anthropicBaseURL    = "https://api.anthropic.com"
	anthropicAPIVersion = "2023-06-01"
)

// AnthropicProvider talks to the Anthropic Messages API.
type AnthropicProvider struct {
	baseURL    string
	client     *anthropic.Client
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAnthropicProvider creates an Anthropic backend.
func NewAnthropicProvider(cfg ProviderConfig) *AnthropicProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = anthropicBaseURL
	}

	// Long prompts can take a while before headers arrive.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = cfg.Timeout

	baseURL = strings.TrimSuffix(baseURL, "/")
	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(cfg.Timeout),
		httpkit.WithTransport(t),
		httpkit.WithHeader("x-api-key", cfg.APIKey),
		httpkit.WithHeader("anthropic-version", anthropicAPIVersion),
	)

	return &AnthropicProvider{
		baseURL: baseURL,
		client: anthropic.NewClient(cfg.APIKey,
			anthropic.WithBaseURL(baseURL+"/v1"),
			anthropic.WithHTTPClient(httpClient),
		),
		httpClient: httpClient,
		logger:     cfg.Logger.With("provider", ProviderAnthropic),
	}
}

// Name implements Provider.
func (p *AnthropicProvider) Name() string { return ProviderAnthropic }

// Complete implements Provider.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	msgs, system := convertToAnthropic(req.Messages)

	temp := float32(req.Temperature)
	areq := anthropic.MessagesRequest{
		Model:       anthropic.Model(req.Model),
		Messages:    msgs,
		System:      system,
		MaxTokens:   req.MaxTokens,
		Temperature: &temp,
	}
	if topP, ok := floatOption(req.Options, "top_p"); ok {
		tp := float32(topP)
		areq.TopP = &tp
	}

	p.logger.Debug("sending request",
		"model", req.Model,
		"messages", len(msgs),
		"system_len", len(system),
		"max_tokens", req.MaxTokens,
	)
	p.logger.Log(ctx, LevelTrace, "request payload", "system", system, "messages", msgs)

	aresp, err := p.client.CreateMessages(ctx, areq)
	if err != nil {
		return nil, p.classify(req.Model, err)
	}

	var content strings.Builder
	for _, block := range aresp.Content {
		if block.Type == "text" && block.Text != nil {
			content.WriteString(*block.Text)
		}
	}

	out := &Response{
		Content:      content.String(),
		Model:        string(aresp.Model),
		Provider:     ProviderAnthropic,
		TokensUsed:   aresp.Usage.InputTokens + aresp.Usage.OutputTokens,
		FinishReason: string(aresp.StopReason),
	}
	if out.Model == "" {
		out.Model = req.Model
	}

	p.logger.Debug("response received",
		"model", out.Model,
		"input_tokens", aresp.Usage.InputTokens,
		"output_tokens", aresp.Usage.OutputTokens,
		"stop_reason", out.FinishReason,
	)
	p.logger.Log(ctx, LevelTrace, "response content", "content", out.Content)

	return out, nil
}

// classify maps SDK errors onto the package taxonomy. Responses whose
// body is not an Anthropic error envelope surface as RequestError and are
// classified by status code alone.
func (p *AnthropicProvider) classify(model string, err error) error {
	var reqErr *anthropic.RequestError
	if errors.As(err, &reqErr) {
		p.logger.Warn("API error", "status", reqErr.StatusCode, "error", reqErr.Err)
		return statusError(ProviderAnthropic, model, reqErr.StatusCode, err.Error())
	}

	var apiErr *anthropic.APIError
	if errors.As(err, &apiErr) {
		p.logger.Warn("API error", "type", apiErr.Type, "message", apiErr.Message)
		e := &Error{Provider: ProviderAnthropic, Model: model, Cause: err}
		switch {
		case apiErr.IsAuthenticationErr() || apiErr.IsPermissionErr():
			e.Type, e.Message = ErrorTypeAuth, "authentication failed"
		case apiErr.IsNotFoundErr():
			e.Type, e.Message = ErrorTypeModel, "model or endpoint not found"
		case apiErr.IsRateLimitErr():
			e.Type, e.Message, e.Retryable = ErrorTypeRateLimit, "rate limited", true
		case apiErr.IsApiErr() || apiErr.IsOverloadedErr():
			e.Type, e.Message, e.Retryable = ErrorTypeServer, "server error", true
		default:
			e.Type, e.Message = ErrorTypeUnknown, "request rejected"
		}
		return e
	}

	return ClassifyError(ProviderAnthropic, err)
}

// Ping lists models, which checks the key without spending tokens.
func (p *AnthropicProvider) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ClassifyError(ProviderAnthropic, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return statusError(ProviderAnthropic, "", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}
	return nil
}

// convertToAnthropic pulls system messages out into the separate system
// field and merges consecutive same-role messages, which the Messages API
// rejects.
func convertToAnthropic(msgs []Message) ([]anthropic.Message, string) {
	var system []string
	var roles []string
	var texts []string

	for _, m := range msgs {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		if n := len(roles); n > 0 && roles[n-1] == m.Role {
			texts[n-1] += "\n\n" + m.Content
			continue
		}
		roles = append(roles, m.Role)
		texts = append(texts, m.Content)
	}

	out := make([]anthropic.Message, len(roles))
	for i := range roles {
		role := anthropic.RoleUser
		if roles[i] == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		out[i] = anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{{Type: "text", Text: &texts[i]}},
		}
	}

	return out, strings.Join(system, "\n\n")
}
