package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/nugget/ha-config-assistant/internal/httpkit"
)

const ollamaBaseURL = "http://localhost:11434"

// OllamaProvider talks to a local Ollama server. It needs no API key.
type OllamaProvider struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaProvider creates an Ollama backend.
func NewOllamaProvider(cfg ProviderConfig) *OllamaProvider {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = ollamaBaseURL
	}
	return &OllamaProvider{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		logger:  cfg.Logger.With("provider", ProviderOllama),
		// Large local models can take minutes to load on first use.
		httpClient: httpkit.NewClient(httpkit.WithTimeout(cfg.Timeout)),
	}
}

// Name implements Provider.
func (p *OllamaProvider) Name() string { return ProviderOllama }

type ollamaChatRequest struct {
	Model    string         `json:"model"`
	Messages []Message      `json:"messages"`
	Stream   bool           `json:"stream"`
	Options  map[string]any `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Model           string  `json:"model"`
	Message         Message `json:"message"`
	Done            bool    `json:"done"`
	DoneReason      string  `json:"done_reason,omitempty"`
	PromptEvalCount int     `json:"prompt_eval_count,omitempty"`
	EvalCount       int     `json:"eval_count,omitempty"`
}

// Complete implements Provider.
func (p *OllamaProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	opts := make(map[string]any, len(req.Options)+2)
	for k, v := range req.Options {
		opts[k] = v
	}
	opts["temperature"] = req.Temperature
	if req.MaxTokens > 0 {
		opts["num_predict"] = req.MaxTokens
	}

	body, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Options:  opts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	p.logger.Debug("sending request", "model", req.Model, "messages", len(req.Messages))
	p.logger.Log(ctx, LevelTrace, "request payload", "json", string(body))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyError(ProviderOllama, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		p.logger.Warn("API error", "status", resp.StatusCode, "body", errBody)
		return nil, statusError(ProviderOllama, req.Model, resp.StatusCode, errBody)
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, &Error{Type: ErrorTypeMalformed, Message: "decode response", Provider: ProviderOllama, Model: req.Model, Cause: err}
	}

	out := &Response{
		Content:      chat.Message.Content,
		Model:        chat.Model,
		Provider:     ProviderOllama,
		TokensUsed:   chat.PromptEvalCount + chat.EvalCount,
		FinishReason: chat.DoneReason,
	}
	if out.Model == "" {
		out.Model = req.Model
	}
	p.logger.Debug("response received", "model", out.Model, "tokens", out.TokensUsed, "done_reason", chat.DoneReason)

	return out, nil
}

// Ping checks that the server answers /api/tags.
func (p *OllamaProvider) Ping(ctx context.Context) error {
	_, err := p.tags(ctx)
	return err
}

func (p *OllamaProvider) tags(ctx context.Context) ([]string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/api/tags", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, ClassifyError(ProviderOllama, err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	if resp.StatusCode != http.StatusOK {
		return nil, statusError(ProviderOllama, "", resp.StatusCode, httpkit.ReadErrorBody(resp.Body, 512))
	}

	var result struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	names := make([]string, len(result.Models))
	for i, m := range result.Models {
		names[i] = m.Name
	}
	return names, nil
}
