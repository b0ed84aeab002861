package prompts

import "fmt"

// Placeholder marks where the user's request goes in a generation prompt.
// Generation templates keep it verbatim; the provider call substitutes it
// last so request text is never interpolated twice.
const Placeholder = "{prompt}"

// Verbs: %[1]s entities, %[2]s current time, %[3]s current states,
// %[4]s services, %[5]s artifact type. Not every template uses all of
// them.

const automationTemplate = `
Create a Home Assistant automation based on this request: {prompt}

Available entities:
%[1]s

Current time: %[2]s
Current states: %[3]s

Generate a complete YAML automation configuration. Include:
1. A descriptive alias
2. Appropriate trigger(s)
3. Relevant condition(s) if needed
4. Clear action(s)

Respond with valid YAML only.
`

const dashboardTemplate = `
Create a Home Assistant dashboard configuration based on this request: {prompt}

Available entities:
%[1]s

Current states: %[3]s

Generate a complete dashboard YAML configuration following Lovelace format. Include:
1. Appropriate views and sections
2. Relevant cards for the entities
3. Proper layout and organization

Respond with valid YAML only.
`

const scriptTemplate = `
Create a Home Assistant script based on this request: {prompt}

Available entities:
%[1]s

Available services: %[4]s

Generate a complete script YAML configuration. Include:
1. A descriptive alias
2. Clear sequence of actions
3. Proper service calls with data

Respond with valid YAML only.
`

const genericTemplate = `
Create a Home Assistant %[5]s configuration based on this request: {prompt}

Available entities:
%[1]s

Current time: %[2]s
Current states: %[3]s

Generate a complete YAML %[5]s configuration.
Respond with valid YAML only.
`

// GenerationVars are the preformatted context sections for a generation
// prompt.
type GenerationVars struct {
	Entities      string
	CurrentTime   string
	CurrentStates string
	Services      string
}

// GenerationPrompt returns the system prompt for generating an artifact
// of configType. The result still contains [Placeholder].
func GenerationPrompt(configType string, v GenerationVars) string {
	var tmpl string
	switch configType {
	case "automation":
		tmpl = automationTemplate
	case "dashboard":
		tmpl = dashboardTemplate
	case "script":
		tmpl = scriptTemplate
	default:
		tmpl = genericTemplate
	}
	return fmt.Sprintf(tmpl, v.Entities, v.CurrentTime, v.CurrentStates, v.Services, configType)
}
