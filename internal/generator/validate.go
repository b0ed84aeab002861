package generator

import (
	"context"
	"errors"

	"github.com/nugget/ha-config-assistant/internal/llm"
)

// Validation is the verdict on a configuration document. Valid is true
// exactly when Errors is empty.
type Validation struct {
	Valid       bool     `json:"valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	Suggestions []string `json:"suggestions"`
}

// Validate checks configYAML for syntax, dangling entity references and
// the structure its artifact type requires. When a provider is
// configured its verdict is merged in; a failing or malformed provider
// verdict is ignored.
func (g *Generator) Validate(ctx context.Context, configYAML, configType string, opts ...llm.CallOption) *Validation {
	v := &Validation{
		Errors:      []string{},
		Warnings:    []string{},
		Suggestions: []string{},
	}

	doc, err := ParseYAML(configYAML)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			err = pe.Err
		}
		v.Errors = append(v.Errors, "Invalid YAML syntax: "+err.Error())
		return v
	}

	if g.catalog != nil {
		_, v.Warnings = g.checkReferences(configYAML, "Entity '%s' not found")
	}

	switch configType {
	case TypeAutomation:
		v.Errors = append(v.Errors, checkAutomation(doc)...)
	case TypeScript:
		v.Errors = append(v.Errors, checkScript(doc)...)
	}

	if g.llm != nil && g.llm.Configured() {
		verdict, err := g.llm.ValidateConfig(ctx, configYAML, configType, opts...)
		if err != nil {
			g.logger.Debug("LLM validation failed", "error", err)
		} else {
			v.Errors = append(v.Errors, verdict.Errors...)
			v.Warnings = append(v.Warnings, verdict.Warnings...)
			v.Suggestions = append(v.Suggestions, verdict.Suggestions...)
		}
	}

	v.Valid = len(v.Errors) == 0
	return v
}

// hasKey reports whether any of keys is present. Presence is enough; an
// empty list still counts.
func hasKey(doc map[string]any, keys ...string) bool {
	for _, k := range keys {
		if _, ok := doc[k]; ok {
			return true
		}
	}
	return false
}

// checkAutomation accepts both the classic singular keys and the plural
// keys newer Home Assistant releases write.
func checkAutomation(doc any) []string {
	m, ok := doc.(map[string]any)
	if !ok {
		return []string{"Automation must be a dictionary"}
	}
	var errs []string
	if !hasKey(m, "trigger", "triggers") {
		errs = append(errs, "Automation must have at least one trigger")
	}
	if !hasKey(m, "action", "actions") {
		errs = append(errs, "Automation must have at least one action")
	}
	return errs
}

func checkScript(doc any) []string {
	m, ok := doc.(map[string]any)
	if !ok {
		return []string{"Script must be a dictionary"}
	}
	if !hasKey(m, "sequence") {
		return []string{"Script must have a sequence of actions"}
	}
	return nil
}
