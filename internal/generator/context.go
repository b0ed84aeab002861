package generator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nugget/ha-config-assistant/internal/catalog"
	"github.com/nugget/ha-config-assistant/internal/prompts"
)

// serviceDomains are the only service domains offered to the model.
var serviceDomains = map[string]bool{
	"light":         true,
	"switch":        true,
	"climate":       true,
	"cover":         true,
	"fan":           true,
	"media_player":  true,
	"notify":        true,
	"automation":    true,
	"script":        true,
	"scene":         true,
	"input_boolean": true,
}

const maxServices = 20

// Context is everything a generation prompt is rendered from.
type Context struct {
	CurrentTime   string                           `json:"current_time"`
	Entities      map[string]catalog.EntitySummary `json:"entities"`
	Areas         []string                         `json:"areas"`
	Domains       []string                         `json:"domains"`
	CurrentStates map[string]catalog.StateSnapshot `json:"current_states"`
	Services      []string                         `json:"services,omitempty"`

	// Extra holds caller-supplied keys with no field of their own.
	Extra map[string]any `json:"extra,omitempty"`
}

// BuildContext assembles the prompt context for ids. Caller overrides
// win over computed values; services are listed only for automations
// and scripts.
func (g *Generator) BuildContext(configType string, ids []string, overrides map[string]any) *Context {
	ec := catalog.EntityContext{
		Entities:      map[string]catalog.EntitySummary{},
		Areas:         []string{},
		Domains:       []string{},
		CurrentStates: map[string]catalog.StateSnapshot{},
	}
	if g.catalog != nil && len(ids) > 0 {
		ec = g.catalog.ContextFor(ids)
	}

	c := &Context{
		CurrentTime:   g.now().Format(time.RFC3339),
		Entities:      ec.Entities,
		Areas:         ec.Areas,
		Domains:       ec.Domains,
		CurrentStates: ec.CurrentStates,
	}
	if configType == TypeAutomation || configType == TypeScript {
		c.Services = g.availableServices()
	}
	c.apply(overrides)
	return c
}

// apply copies overrides onto c.
func (c *Context) apply(overrides map[string]any) {
	for k, v := range overrides {
		switch k {
		case "current_time":
			if s, ok := v.(string); ok {
				c.CurrentTime = s
				continue
			}
		case "services":
			if list, ok := stringList(v); ok {
				c.Services = list
				continue
			}
		case "areas":
			if list, ok := stringList(v); ok {
				c.Areas = list
				continue
			}
		case "domains":
			if list, ok := stringList(v); ok {
				c.Domains = list
				continue
			}
		case "entities":
			var m map[string]catalog.EntitySummary
			if decodeOverride(v, &m) {
				c.Entities = m
				continue
			}
		case "current_states":
			var m map[string]catalog.StateSnapshot
			if decodeOverride(v, &m) {
				c.CurrentStates = m
				continue
			}
		}
		if c.Extra == nil {
			c.Extra = make(map[string]any)
		}
		c.Extra[k] = v
	}
}

// decodeOverride converts a caller value, typically a decoded JSON
// object, into out. It reports false when v has a different shape.
func decodeOverride(v, out any) bool {
	raw, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// stringList accepts a string, []string or a decoded JSON array of
// strings. A multi-line string is split into lines with any "- " bullet
// removed.
func stringList(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case string:
		var out []string
		for _, line := range strings.Split(t, "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "- "))
			if line != "" {
				out = append(out, line)
			}
		}
		return out, true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}

// availableServices lists up to maxServices "domain.service" names from
// the allowed domains, in sorted order.
func (g *Generator) availableServices() []string {
	if g.catalog == nil {
		return nil
	}
	byDomain := g.catalog.Services()

	domains := make([]string, 0, len(byDomain))
	for d := range byDomain {
		if serviceDomains[d] {
			domains = append(domains, d)
		}
	}
	sort.Strings(domains)

	var out []string
	for _, d := range domains {
		for _, s := range byDomain[d] {
			if len(out) == maxServices {
				return out
			}
			out = append(out, d+"."+s)
		}
	}
	return out
}

// PromptVars renders the context into the template sections.
func (c *Context) PromptVars() prompts.GenerationVars {
	ids := make([]string, 0, len(c.Entities))
	for id := range c.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var entities []string
	for _, id := range ids {
		info := c.Entities[id]
		area := info.Area
		if area == "" {
			area = "No Area"
		}
		state := "unknown"
		if s, ok := c.CurrentStates[id]; ok {
			state = s.State
		}
		entities = append(entities, fmt.Sprintf("- %s (%s) - %s in %s - Current state: %s", id, info.Name, info.Domain, area, state))
	}
	entitiesText := "No specific entities identified"
	if len(entities) > 0 {
		entitiesText = strings.Join(entities, "\n")
	}
	if extra := c.extraLines(); extra != "" {
		entitiesText += "\n\nAdditional context:\n" + extra
	}

	stateIDs := make([]string, 0, len(c.CurrentStates))
	for id := range c.CurrentStates {
		stateIDs = append(stateIDs, id)
	}
	sort.Strings(stateIDs)

	var states []string
	for _, id := range stateIDs {
		states = append(states, fmt.Sprintf("- %s: %s", id, c.CurrentStates[id].State))
	}
	statesText := "No current states available"
	if len(states) > 0 {
		statesText = strings.Join(states, "\n")
	}

	var services []string
	for _, s := range c.Services {
		services = append(services, "- "+s)
	}

	return prompts.GenerationVars{
		Entities:      entitiesText,
		CurrentTime:   c.CurrentTime,
		CurrentStates: statesText,
		Services:      strings.Join(services, "\n"),
	}
}

func (c *Context) extraLines() string {
	keys := make([]string, 0, len(c.Extra))
	for k := range c.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		lines = append(lines, fmt.Sprintf("- %s: %v", k, c.Extra[k]))
	}
	return strings.Join(lines, "\n")
}
