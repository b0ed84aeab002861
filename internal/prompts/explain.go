package prompts

import "fmt"

const explainSystemTemplate = `You are a Home Assistant expert.
Explain what the following %s configuration does in simple terms.
Break down each section and explain how it works.
`

// ExplainSystemPrompt asks for a plain-language walkthrough.
func ExplainSystemPrompt(configType string) string {
	return fmt.Sprintf(explainSystemTemplate, configType)
}

// ExplainUserPrompt wraps the document to explain.
func ExplainUserPrompt(configType, configYAML string) string {
	return fmt.Sprintf("Explain this %s configuration:\n\n```yaml\n%s\n```", configType, configYAML)
}
