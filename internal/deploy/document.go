// Package deploy turns generated YAML into documents Home Assistant's
// config store accepts and writes them asynchronously.
package deploy

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Default field values for deployed documents.
const (
	DefaultAutomationAlias = "AI Generated Automation"
	DefaultDescription     = "Generated by AI Config Assistant"
	DefaultMode            = "single"
	DefaultScriptAlias     = "AI Generated Script"
	DefaultSceneName       = "AI Generated Scene"
)

// UnsupportedError reports an artifact type the config store cannot
// take.
type UnsupportedError struct {
	Type string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("Deployment for %s not yet implemented", e.Type)
}

// Document is one config store entry ready to be written.
type Document struct {
	Type  string         `json:"type"`
	ID    string         `json:"id"`
	Alias string         `json:"alias"`
	Body  map[string]any `json:"config"`
}

// Build parses text and shapes it for configType. Automations, scripts
// and scenes are supported; ids are derived from now.
func Build(configType, text string, now time.Time) (*Document, error) {
	switch configType {
	case "automation", "script", "scene":
	default:
		return nil, &UnsupportedError{Type: configType}
	}

	var src map[string]any
	if err := yaml.Unmarshal([]byte(text), &src); err != nil {
		return nil, fmt.Errorf("parse %s: %w", configType, err)
	}
	if src == nil {
		src = map[string]any{}
	}

	unix := now.Unix()
	switch configType {
	case "automation":
		doc := &Document{
			Type:  configType,
			ID:    fmt.Sprintf("ai_generated_%d", unix),
			Alias: stringOr(src, "alias", DefaultAutomationAlias),
		}
		doc.Body = map[string]any{
			"id":          doc.ID,
			"alias":       doc.Alias,
			"description": stringOr(src, "description", DefaultDescription),
			"trigger":     first(src, []any{}, "trigger", "triggers"),
			"condition":   first(src, []any{}, "condition", "conditions"),
			"action":      first(src, []any{}, "action", "actions"),
			"mode":        stringOr(src, "mode", DefaultMode),
		}
		return doc, nil

	case "script":
		doc := &Document{
			Type:  configType,
			ID:    fmt.Sprintf("ai_generated_script_%d", unix),
			Alias: stringOr(src, "alias", DefaultScriptAlias),
		}
		doc.Body = map[string]any{
			"alias":    doc.Alias,
			"sequence": first(src, []any{}, "sequence"),
		}
		return doc, nil

	default: // scene
		doc := &Document{
			Type:  configType,
			ID:    fmt.Sprintf("ai_generated_scene_%d", unix),
			Alias: stringOr(src, "name", DefaultSceneName),
		}
		doc.Body = map[string]any{
			"id":       doc.ID,
			"name":     doc.Alias,
			"entities": first(src, map[string]any{}, "entities"),
		}
		return doc, nil
	}
}

func stringOr(m map[string]any, key, fallback string) string {
	if s, ok := m[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// first returns the value of the first key present in m.
func first(m map[string]any, fallback any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return fallback
}
