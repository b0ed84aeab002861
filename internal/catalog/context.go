package catalog

import "sort"

// EntitySummary is the identity part of an entity's context entry.
type EntitySummary struct {
	Name   string `json:"name"`
	Domain string `json:"domain"`
	Area   string `json:"area,omitempty"`
	Device string `json:"device,omitempty"`
}

// StateSnapshot is the current value part of an entity's context entry.
type StateSnapshot struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes"`
}

// EntityContext groups what a prompt needs to know about a set of entities.
type EntityContext struct {
	Entities      map[string]EntitySummary `json:"entities"`
	Areas         []string                 `json:"areas"`
	Domains       []string                 `json:"domains"`
	CurrentStates map[string]StateSnapshot `json:"current_states"`
}

// ContextFor describes the cached entities among ids. Unknown IDs are
// skipped without comment; reporting them is the caller's job. Areas and
// Domains are sorted and distinct.
func (c *Catalog) ContextFor(ids []string) EntityContext {
	ec := EntityContext{
		Entities:      make(map[string]EntitySummary),
		Areas:         []string{},
		Domains:       []string{},
		CurrentStates: make(map[string]StateSnapshot),
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	areas := make(map[string]bool)
	domains := make(map[string]bool)
	for _, id := range ids {
		rec, ok := c.snap.entities[id]
		if !ok {
			continue
		}
		ec.Entities[id] = EntitySummary{
			Name:   rec.Name,
			Domain: rec.Domain,
			Area:   rec.AreaName,
			Device: rec.DeviceName,
		}
		ec.CurrentStates[id] = StateSnapshot{
			State:      rec.State,
			Attributes: rec.Attributes,
		}
		if rec.AreaName != "" {
			areas[rec.AreaName] = true
		}
		domains[rec.Domain] = true
	}

	for a := range areas {
		ec.Areas = append(ec.Areas, a)
	}
	for d := range domains {
		ec.Domains = append(ec.Domains, d)
	}
	sort.Strings(ec.Areas)
	sort.Strings(ec.Domains)
	return ec
}
