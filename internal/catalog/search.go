package catalog

import (
	"fmt"
	"sort"
	"strings"
)

// Suggestion is a ranked search hit.
type Suggestion struct {
	EntityID string  `json:"entity_id"`
	Name     string  `json:"name"`
	Domain   string  `json:"domain"`
	Score    float64 `json:"relevance_score"`
	Context  string  `json:"context"`
}

// indexRecord adds rec's tokens to idx: the words of the entity ID, the
// words of the display name, the domain and the words of the area name.
func indexRecord(idx map[string][]string, rec *Record) {
	seen := make(map[string]bool)
	add := func(token string) {
		if token == "" || seen[token] {
			return
		}
		seen[token] = true
		idx[token] = append(idx[token], rec.EntityID)
	}

	for _, w := range words(rec.EntityID) {
		add(w)
	}
	for _, w := range words(rec.Name) {
		add(w)
	}
	add(rec.Domain)
	for _, w := range words(rec.AreaName) {
		add(w)
	}
}

// words lowercases s and splits it on whitespace, dots and underscores.
func words(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return r == ' ' || r == '.' || r == '_' || r == '\t'
	})
}

// matchScore ranks how well query matches an index token.
func matchScore(query, token string) float64 {
	switch {
	case query == token:
		return 1.0
	case strings.Contains(token, query):
		return 0.8 - float64(len(token)-len(query))*0.1
	case strings.HasPrefix(token, query):
		// Unreachable behind the substring check; kept for ranking parity.
		return 0.7
	default:
		return 0.5
	}
}

// Suggest returns up to limit entities matching query, best first.
//
// An empty query returns up to two entities from each preferred domain,
// in preferred-domain order, all scored 1.0. Otherwise every index token
// containing the lowercased query contributes its entities; each entity
// keeps its best score. domains, when non-empty, restricts results to
// those domains. Ties are broken by entity ID so results are stable.
func (c *Catalog) Suggest(query string, domains []string, limit int) []Suggestion {
	if limit <= 0 {
		return nil
	}

	allowed := make(map[string]bool, len(domains))
	for _, d := range domains {
		allowed[d] = true
	}
	domainOK := func(d string) bool {
		return len(allowed) == 0 || allowed[d]
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		var out []Suggestion
		for _, domain := range PreferredDomains {
			if !domainOK(domain) {
				continue
			}
			ids := c.snap.byDomain[domain]
			if len(ids) > preferredPerDomain {
				ids = ids[:preferredPerDomain]
			}
			for _, id := range ids {
				rec := c.snap.entities[id]
				area := rec.AreaName
				if area == "" {
					area = "No Area"
				}
				out = append(out, Suggestion{
					EntityID: id,
					Name:     rec.Name,
					Domain:   domain,
					Score:    1.0,
					Context:  fmt.Sprintf("%s in %s", domain, area),
				})
				if len(out) == limit {
					return out
				}
			}
		}
		return out
	}

	best := make(map[string]float64)
	for token, ids := range c.snap.index {
		if !strings.Contains(token, q) {
			continue
		}
		score := matchScore(q, token)
		for _, id := range ids {
			if prev, ok := best[id]; !ok || score > prev {
				best[id] = score
			}
		}
	}

	ranked := make([]string, 0, len(best))
	for id := range best {
		if domainOK(c.snap.entities[id].Domain) {
			ranked = append(ranked, id)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		si, sj := best[ranked[i]], best[ranked[j]]
		if si != sj {
			return si > sj
		}
		return ranked[i] < ranked[j]
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	out := make([]Suggestion, 0, len(ranked))
	for _, id := range ranked {
		rec := c.snap.entities[id]
		out = append(out, Suggestion{
			EntityID: id,
			Name:     rec.Name,
			Domain:   rec.Domain,
			Score:    best[id],
			Context:  describe(rec),
		})
	}
	return out
}

// describe renders "domain[ in area][ (device)]".
func describe(rec *Record) string {
	var b strings.Builder
	b.WriteString(rec.Domain)
	if rec.AreaName != "" {
		b.WriteString(" in ")
		b.WriteString(rec.AreaName)
	}
	if rec.DeviceName != "" {
		fmt.Fprintf(&b, " (%s)", rec.DeviceName)
	}
	return b.String()
}
