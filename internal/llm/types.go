// Package llm is the completion provider abstraction: one [Provider]
// implementation per backend, and a [Manager] that binds the configured
// backend and layers the configuration-specific operations on top.
package llm

import "log/slog"

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry in the ordered sequence sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a fully resolved completion call. The Manager fills in the
// model and sampling defaults before a Provider sees it.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int

	// Options carries provider-specific extras. Every provider honors
	// "top_p"; Ollama passes all keys through to its options block.
	Options map[string]any
}

// Response is the result of one completion call.
type Response struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	TokensUsed   int    `json:"tokens_used,omitempty"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// floatOption reads a numeric option regardless of how it was decoded.
func floatOption(opts map[string]any, key string) (float64, bool) {
	switch v := opts[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}
