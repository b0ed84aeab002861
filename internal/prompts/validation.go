package prompts

import "fmt"

const validationSystemTemplate = `You are a Home Assistant configuration validator.
Analyze the following %s YAML configuration and identify any errors, warnings, or suggestions.

Return your response in this JSON format:
{
    "valid": true/false,
    "errors": ["list of errors"],
    "warnings": ["list of warnings"],
    "suggestions": ["list of improvements"]
}
`

// ValidationSystemPrompt instructs the model to return a JSON verdict
// for a configType document.
func ValidationSystemPrompt(configType string) string {
	return fmt.Sprintf(validationSystemTemplate, configType)
}

// ValidationUserPrompt wraps the document under review.
func ValidationUserPrompt(configType, configYAML string) string {
	return fmt.Sprintf("Validate this %s configuration:\n\n```yaml\n%s\n```", configType, configYAML)
}
