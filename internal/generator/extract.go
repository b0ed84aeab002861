package generator

import "strings"

// entityTerms are device and category nouns that trigger a catalog
// search when they appear in a prompt.
var entityTerms = []string{
	"light", "lights", "lamp", "lamps",
	"switch", "switches",
	"sensor", "sensors", "temperature", "humidity",
	"door", "doors", "window", "windows",
	"motion", "occupancy",
	"camera", "cameras",
	"fan", "fans",
	"thermostat", "climate",
	"lock", "locks",
	"garage", "gate",
	"vacuum", "robot",
	"media", "tv", "television", "speaker",
}

// areaTerms are room names whose entities are pulled in directly.
var areaTerms = []string{
	"living room", "bedroom", "kitchen", "bathroom", "garage",
	"office", "dining room", "basement", "attic", "hallway",
	"patio", "deck", "yard", "garden",
}

const (
	termSuggestLimit = 3
	areaEntityLimit  = 5
)

// ExtractEntities returns catalog entity IDs the prompt plausibly refers
// to. Matching is by substring of the lowercased prompt, so "lights"
// also matches "light". The result is deduplicated and only ever holds
// IDs that exist in the catalog.
func (g *Generator) ExtractEntities(prompt string) []string {
	if g.catalog == nil {
		return nil
	}
	lower := strings.ToLower(prompt)

	var ids []string
	for _, term := range entityTerms {
		if !strings.Contains(lower, term) {
			continue
		}
		for _, s := range g.catalog.Suggest(term, nil, termSuggestLimit) {
			ids = append(ids, s.EntityID)
		}
	}

	for _, area := range areaTerms {
		if !strings.Contains(lower, area) {
			continue
		}
		recs := g.catalog.EntitiesByArea(area)
		if len(recs) > areaEntityLimit {
			recs = recs[:areaEntityLimit]
		}
		for _, r := range recs {
			ids = append(ids, r.EntityID)
		}
	}

	return dedupe(ids)
}
