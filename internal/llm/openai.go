package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/nugget/ha-config-assistant/internal/httpkit"
)

// Base URLs for the OpenAI-compatible chat endpoints.
var openAICompatibleURLs = map[string]string{
	ProviderOpenAI:  "https://api.openai.com/v1",
	ProviderGroq:    "https://api.groq.com/openai/v1",
	ProviderMistral: "https://api.mistral.ai/v1",
	ProviderGoogle:  "https://generativelanguage.googleapis.com/v1beta/openai",
}

// OpenAIProvider serves every backend that speaks the OpenAI chat
// completions protocol: OpenAI itself, Groq, Mistral and Google's
// compatibility endpoint.
type OpenAIProvider struct {
	name   string
	client *openai.Client
	logger *slog.Logger
}

// NewOpenAIProvider creates a backend for cfg.Name.
func NewOpenAIProvider(cfg ProviderConfig) *OpenAIProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = openAICompatibleURLs[cfg.Name]
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = strings.TrimSuffix(baseURL, "/")
	clientConfig.HTTPClient = httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout))

	return &OpenAIProvider{
		name:   cfg.Name,
		client: openai.NewClientWithConfig(clientConfig),
		logger: cfg.Logger.With("provider", cfg.Name),
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return p.name }

// Complete implements Provider.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}

	creq := openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	}
	if topP, ok := floatOption(req.Options, "top_p"); ok {
		creq.TopP = float32(topP)
	}

	p.logger.Debug("sending request", "model", req.Model, "messages", len(messages), "max_tokens", req.MaxTokens)

	resp, err := p.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return nil, p.classify(req.Model, err)
	}
	if len(resp.Choices) == 0 {
		return nil, &Error{Type: ErrorTypeMalformed, Message: "no choices in response", Provider: p.name, Model: req.Model}
	}

	out := &Response{
		Content:      resp.Choices[0].Message.Content,
		Model:        resp.Model,
		Provider:     p.name,
		TokensUsed:   resp.Usage.TotalTokens,
		FinishReason: string(resp.Choices[0].FinishReason),
	}
	if out.Model == "" {
		out.Model = req.Model
	}

	p.logger.Debug("response received",
		"model", out.Model,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", out.FinishReason,
	)
	p.logger.Log(ctx, LevelTrace, "response content", "content", out.Content)

	return out, nil
}

// Ping lists models, which validates the key without spending tokens.
func (p *OpenAIProvider) Ping(ctx context.Context) error {
	if _, err := p.client.ListModels(ctx); err != nil {
		return p.classify("", err)
	}
	return nil
}

// classify maps go-openai's error types onto *Error by status code.
func (p *OpenAIProvider) classify(model string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		e := statusError(p.name, model, apiErr.HTTPStatusCode, apiErr.Message)
		e.Cause = err
		return e
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		e := statusError(p.name, model, reqErr.HTTPStatusCode, fmt.Sprint(reqErr.Err))
		e.Cause = err
		return e
	}

	e := ClassifyError(p.name, err)
	e.Model = model
	return e
}
