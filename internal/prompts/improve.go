package prompts

import "fmt"

const improveSystemTemplate = `You are a Home Assistant configuration expert.
The user wants to modify an existing %s configuration.

Provide the complete improved YAML configuration.
Only return valid YAML, no explanations or markdown formatting.
`

const improveUserTemplate = "Current configuration:\n```yaml\n%s\n```\n\nRequested change: %s\n\nProvide the updated configuration:"

// ImproveSystemPrompt asks for a full replacement document.
func ImproveSystemPrompt(configType string) string {
	return fmt.Sprintf(improveSystemTemplate, configType)
}

// ImproveUserPrompt carries the current document and the requested change.
func ImproveUserPrompt(configYAML, request string) string {
	return fmt.Sprintf(improveUserTemplate, configYAML, request)
}
