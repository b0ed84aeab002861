package generator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// ParseError reports a document that is not valid YAML.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid YAML syntax: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseYAML decodes text into generic values. Mappings decode to
// map[string]any.
func ParseYAML(text string) (any, error) {
	var doc any
	if err := yaml.Unmarshal([]byte(text), &doc); err != nil {
		return nil, &ParseError{Err: err}
	}
	return doc, nil
}

// entityPattern matches domain.object_id tokens. Both segments are
// non-empty.
var entityPattern = regexp.MustCompile(`\b[a-zA-Z_]+\.[a-zA-Z0-9_]+\b`)

// ReferencedIDs returns every distinct domain.object_id token in text,
// in order of first appearance.
func ReferencedIDs(text string) []string {
	return dedupe(entityPattern.FindAllString(text, -1))
}

// extractYAML strips a surrounding markdown fence. The first fence line
// opens the block and the next one closes it; everything outside is
// dropped. Text without fences is returned trimmed.
func extractYAML(response string) string {
	lines := strings.Split(response, "\n")
	start, end := 0, len(lines)
	opened := false

	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		if !opened {
			start = i + 1
			opened = true
			continue
		}
		end = i
		break
	}

	return strings.TrimSpace(strings.Join(lines[start:end], "\n"))
}

// repairYAML quotes unquoted entity_id scalars, the most common reason a
// model's YAML fails to parse (templates and colons in the value). Block
// scalars are left alone.
func repairYAML(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasSuffix(trimmed, "|") || strings.HasSuffix(trimmed, ">") {
			continue
		}
		prefix, value, ok := strings.Cut(line, "entity_id:")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		if value == "" || strings.HasPrefix(value, `"`) || strings.HasPrefix(value, "'") {
			continue
		}
		lines[i] = prefix + "entity_id: '" + strings.ReplaceAll(value, "'", "''") + "'"
	}
	return strings.Join(lines, "\n")
}

// postProcess turns a raw model reply into a Result. A reply that still
// fails to parse after repair is returned verbatim with a warning.
func (g *Generator) postProcess(ctx context.Context, raw, configType string) *Result {
	text := extractYAML(raw)

	if _, err := ParseYAML(text); err != nil {
		repaired := repairYAML(text)
		if _, err2 := ParseYAML(repaired); err2 != nil {
			g.logger.Warn("generated configuration does not parse", "type", configType, "error", err2)
			return &Result{
				Config:       raw,
				Explanation:  "Configuration generated but may need manual review",
				EntitiesUsed: []string{},
				Warnings:     []string{"Post-processing error: " + err2.Error()},
				Success:      true,
			}
		}
		g.logger.Debug("repaired generated configuration", "type", configType)
		text = repaired
	}

	used, warnings := g.checkReferences(text, "Entity '%s' not found in Home Assistant")

	return &Result{
		Config:       text,
		Explanation:  g.explain(ctx, text, configType, used),
		EntitiesUsed: used,
		Warnings:     warnings,
		Success:      true,
	}
}

// checkReferences returns the entity IDs referenced in text and one
// warning per ID missing from the catalog. Registered service names
// (light.turn_on) are not entity references; they are skipped and logged
// at debug level.
func (g *Generator) checkReferences(text, warnFormat string) (ids, warnings []string) {
	ids = []string{}
	warnings = []string{}
	for _, id := range ReferencedIDs(text) {
		if g.catalog.IsService(id) {
			g.logger.Debug("skipping service reference", "service", id)
			continue
		}
		ids = append(ids, id)
		if !g.catalog.Has(id) {
			warnings = append(warnings, fmt.Sprintf(warnFormat, id))
		}
	}
	return ids, warnings
}

// explain asks the model for a summary and falls back to a sentence built
// from the catalog names of the referenced entities.
func (g *Generator) explain(ctx context.Context, configYAML, configType string, ids []string) string {
	if g.llm != nil && g.llm.Configured() {
		text, err := g.llm.ExplainConfig(ctx, configYAML, configType)
		if err == nil && text != "" {
			return text
		}
		if err != nil {
			g.logger.Debug("could not generate explanation", "error", err)
		}
	}

	var names []string
	for _, id := range ids {
		if rec, ok := g.catalog.Get(id); ok {
			names = append(names, rec.Name)
		}
	}
	if len(names) > 0 {
		return fmt.Sprintf("This %s works with: %s", configType, strings.Join(names, ", "))
	}
	return fmt.Sprintf("This %s configuration has been generated based on your request.", configType)
}
