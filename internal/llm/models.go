package llm

// Provider identifiers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderGoogle    = "google"
	ProviderMistral   = "mistral"
	ProviderGroq      = "groq"
	ProviderOllama    = "ollama"
)

// Sampling defaults applied when a call does not override them.
const (
	DefaultTemperature = 0.1
	DefaultMaxTokens   = 2000
)

// DefaultModels is the model used when neither the call nor the
// configuration names one.
var DefaultModels = map[string]string{
	ProviderOpenAI:    "gpt-3.5-turbo",
	ProviderAnthropic: "claude-3-sonnet-20240229",
	ProviderGoogle:    "gemini-pro",
	ProviderMistral:   "mistral-large-latest",
	ProviderGroq:      "llama3-70b-8192",
	ProviderOllama:    "llama2",
}

// knownModels is the static catalog returned by ListModels. There is no
// live discovery.
var knownModels = map[string][]string{
	ProviderOpenAI:    {"gpt-4", "gpt-4-turbo", "gpt-3.5-turbo", "gpt-4o", "gpt-4o-mini"},
	ProviderAnthropic: {"claude-3-opus-20240229", "claude-3-sonnet-20240229", "claude-3-haiku-20240307", "claude-3-5-sonnet-20241022"},
	ProviderGoogle:    {"gemini-pro", "gemini-pro-vision", "gemini-1.5-pro", "gemini-2.0-flash-exp"},
	ProviderMistral:   {"mistral-large-latest", "mistral-medium-latest", "mistral-small-latest"},
	ProviderGroq:      {"llama3-70b-8192", "llama3-8b-8192", "mixtral-8x7b-32768"},
	ProviderOllama:    {"llama2", "llama3", "mistral", "codellama"},
}

// Providers lists every supported provider identifier.
func Providers() []string {
	return []string{ProviderOpenAI, ProviderAnthropic, ProviderGoogle, ProviderMistral, ProviderGroq, ProviderOllama}
}

// ListModels returns the known models for provider, or nil for an
// unknown provider.
func ListModels(provider string) []string {
	models := knownModels[provider]
	if models == nil {
		return nil
	}
	return append([]string(nil), models...)
}

// KnownProvider reports whether provider has a backend implementation.
func KnownProvider(provider string) bool {
	_, ok := DefaultModels[provider]
	return ok
}

// requiresAPIKey reports whether the provider authenticates with a key.
func requiresAPIKey(provider string) bool {
	return provider != ProviderOllama
}
