// Package catalog keeps an in-memory snapshot of every relevant Home
// Assistant entity, with a token index for fuzzy lookup.
//
// A full [Catalog.Rebuild] builds fresh containers and swaps them in under
// the write lock, so readers never observe a half-built snapshot. Between
// rebuilds, state_changed notifications update the state, attributes and
// timestamps of already-cached records in place. Entities created after
// the last rebuild stay invisible until the next one.
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nugget/ha-config-assistant/internal/homeassistant"
)

// ExcludedDomains are dropped entirely during a rebuild.
var ExcludedDomains = map[string]bool{
	"zone":                    true,
	"device_tracker":          true,
	"persistent_notification": true,
	"updater":                 true,
}

// PreferredDomains orders the suggestions returned for an empty query.
var PreferredDomains = []string{
	"light",
	"switch",
	"sensor",
	"binary_sensor",
	"climate",
	"cover",
	"fan",
	"lock",
	"media_player",
	"camera",
	"vacuum",
	"alarm_control_panel",
}

// preferredPerDomain caps how many entities each preferred domain
// contributes to an empty-query suggestion list.
const preferredPerDomain = 2

// Registry is the read side of Home Assistant the catalog is built from.
// [homeassistant.Registry] satisfies it.
type Registry interface {
	GetStates(ctx context.Context) ([]homeassistant.State, error)
	GetEntityRegistry(ctx context.Context) ([]homeassistant.EntityRegistryEntry, error)
	GetDeviceRegistry(ctx context.Context) ([]homeassistant.DeviceRegistryEntry, error)
	GetAreaRegistry(ctx context.Context) ([]homeassistant.Area, error)
	GetServices(ctx context.Context) ([]homeassistant.ServiceDomain, error)
}

// Record describes one cached entity. EntityID, Name, Domain, AreaID,
// AreaName and DeviceName are fixed at rebuild; the rest follows live
// state changes.
type Record struct {
	EntityID    string         `json:"entity_id"`
	Name        string         `json:"name"`
	Domain      string         `json:"domain"`
	State       string         `json:"state"`
	Attributes  map[string]any `json:"attributes"`
	AreaID      string         `json:"area_id,omitempty"`
	AreaName    string         `json:"area_name,omitempty"`
	DeviceName  string         `json:"device_name,omitempty"`
	LastChanged time.Time      `json:"last_changed"`
	LastUpdated time.Time      `json:"last_updated"`
}

// Unavailable reports whether the entity is in the unavailable or
// unknown state.
func (r Record) Unavailable() bool {
	return r.State == "unavailable" || r.State == "unknown"
}

// snapshot is everything a rebuild produces. Its maps are never written
// after the swap; only the Record values they point to are.
type snapshot struct {
	entities map[string]*Record
	byDomain map[string][]string
	byArea   map[string][]string // keyed by lowercased area name
	index    map[string][]string // token -> entity IDs
	services map[string][]string // domain -> service names
	builtAt  time.Time
}

func emptySnapshot() *snapshot {
	return &snapshot{
		entities: make(map[string]*Record),
		byDomain: make(map[string][]string),
		byArea:   make(map[string][]string),
		index:    make(map[string][]string),
		services: make(map[string][]string),
	}
}

// Catalog is the live entity catalog. The zero value is not usable; call
// [New].
type Catalog struct {
	registry Registry
	logger   *slog.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// New creates an empty catalog reading from registry.
func New(registry Registry, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		registry: registry,
		logger:   logger,
		snap:     emptySnapshot(),
	}
}

// Rebuild reloads every entity from the registry and atomically replaces
// the cache and all indexes. If any registry call fails the previous
// cache is kept and the error is returned. A failed service listing is
// not fatal; the previous service set is carried over.
func (c *Catalog) Rebuild(ctx context.Context) error {
	start := time.Now()

	states, err := c.registry.GetStates(ctx)
	if err != nil {
		c.logger.Warn("catalog rebuild failed, keeping stale cache", "stage", "states", "error", err)
		return fmt.Errorf("get states: %w", err)
	}
	entries, err := c.registry.GetEntityRegistry(ctx)
	if err != nil {
		c.logger.Warn("catalog rebuild failed, keeping stale cache", "stage", "entity_registry", "error", err)
		return fmt.Errorf("get entity registry: %w", err)
	}
	devices, err := c.registry.GetDeviceRegistry(ctx)
	if err != nil {
		c.logger.Warn("catalog rebuild failed, keeping stale cache", "stage", "device_registry", "error", err)
		return fmt.Errorf("get device registry: %w", err)
	}
	areas, err := c.registry.GetAreaRegistry(ctx)
	if err != nil {
		c.logger.Warn("catalog rebuild failed, keeping stale cache", "stage", "area_registry", "error", err)
		return fmt.Errorf("get area registry: %w", err)
	}

	next := build(states, entries, devices, areas)

	services, err := c.registry.GetServices(ctx)
	if err != nil {
		c.logger.Warn("service listing failed, keeping previous services", "error", err)
		c.mu.RLock()
		next.services = c.snap.services
		c.mu.RUnlock()
	} else {
		for _, sd := range services {
			next.services[sd.Domain] = sd.Names()
		}
	}

	c.mu.Lock()
	c.snap = next
	c.mu.Unlock()

	c.logger.Info("catalog rebuilt",
		"entities", len(next.entities),
		"domains", len(next.byDomain),
		"areas", len(next.byArea),
		"tokens", len(next.index),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

// build assembles a snapshot from registry data. It touches no shared
// state.
func build(states []homeassistant.State, entries []homeassistant.EntityRegistryEntry, devices []homeassistant.DeviceRegistryEntry, areas []homeassistant.Area) *snapshot {
	areaNames := make(map[string]string, len(areas))
	for _, a := range areas {
		areaNames[a.AreaID] = a.Name
	}
	deviceByID := make(map[string]homeassistant.DeviceRegistryEntry, len(devices))
	for _, d := range devices {
		deviceByID[d.ID] = d
	}
	entryByID := make(map[string]homeassistant.EntityRegistryEntry, len(entries))
	for _, e := range entries {
		entryByID[e.EntityID] = e
	}

	snap := emptySnapshot()
	snap.builtAt = time.Now()

	for _, st := range states {
		domain := homeassistant.Domain(st.EntityID)
		if domain == "" || ExcludedDomains[domain] {
			continue
		}

		rec := &Record{
			EntityID:    st.EntityID,
			Name:        st.Name(),
			Domain:      domain,
			State:       st.State,
			Attributes:  st.Attributes,
			LastChanged: st.LastChanged,
			LastUpdated: st.LastUpdated,
		}

		if entry, ok := entryByID[st.EntityID]; ok {
			rec.AreaID = entry.AreaID
			if dev, ok := deviceByID[entry.DeviceID]; ok && entry.DeviceID != "" {
				rec.DeviceName = dev.DisplayName()
				if rec.AreaID == "" {
					rec.AreaID = dev.AreaID
				}
			}
		}
		if rec.AreaID != "" {
			rec.AreaName = areaNames[rec.AreaID]
		}

		snap.entities[rec.EntityID] = rec
		snap.byDomain[domain] = append(snap.byDomain[domain], rec.EntityID)
		if rec.AreaName != "" {
			key := strings.ToLower(rec.AreaName)
			snap.byArea[key] = append(snap.byArea[key], rec.EntityID)
		}
		indexRecord(snap.index, rec)
	}

	return snap
}

// OnStateChanged applies a live state update to an already-cached entity.
// Unknown entities are ignored until the next rebuild.
func (c *Catalog) OnStateChanged(entityID string, newState homeassistant.State) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.snap.entities[entityID]
	if !ok {
		return
	}
	rec.State = newState.State
	rec.Attributes = newState.Attributes
	rec.LastChanged = newState.LastChanged
	rec.LastUpdated = newState.LastUpdated
}

// Start consumes Home Assistant events until the returned stop function
// is called or ctx ends. stop blocks until the consumer has exited and is
// safe to call more than once.
func (c *Catalog) Start(ctx context.Context, events <-chan homeassistant.Event) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		homeassistant.WatchStates(ctx, events, c.OnStateChanged, c.logger)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// Get returns a copy of the cached record for entityID.
func (c *Catalog) Get(entityID string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.snap.entities[entityID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Has reports whether entityID is cached.
func (c *Catalog) Has(entityID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.snap.entities[entityID]
	return ok
}

// EntitiesByDomain returns the cached entities in domain, in rebuild order.
func (c *Catalog) EntitiesByDomain(domain string) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recordsLocked(c.snap.byDomain[domain])
}

// EntitiesByArea returns the cached entities whose area name equals
// areaName, ignoring case.
func (c *Catalog) EntitiesByArea(areaName string) []Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.recordsLocked(c.snap.byArea[strings.ToLower(areaName)])
}

func (c *Catalog) recordsLocked(ids []string) []Record {
	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		if rec, ok := c.snap.entities[id]; ok {
			out = append(out, *rec)
		}
	}
	return out
}

// Services returns a copy of the registered services by domain.
func (c *Catalog) Services() map[string][]string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string][]string, len(c.snap.services))
	for d, names := range c.snap.services {
		out[d] = append([]string(nil), names...)
	}
	return out
}

// IsService reports whether name ("domain.service") is a registered
// service rather than an entity.
func (c *Catalog) IsService(name string) bool {
	domain, service, ok := strings.Cut(name, ".")
	if !ok {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.snap.services[domain] {
		if s == service {
			return true
		}
	}
	return false
}

// Summary describes the catalog for status endpoints.
type Summary struct {
	EntityCount int       `json:"entity_count"`
	LastUpdate  time.Time `json:"last_update"`
	Domains     []string  `json:"domains"`
	Areas       []string  `json:"areas"`
}

// Summary returns counts and the sorted domain and area names.
func (c *Catalog) Summary() Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Summary{
		EntityCount: len(c.snap.entities),
		LastUpdate:  c.snap.builtAt,
		Domains:     make([]string, 0, len(c.snap.byDomain)),
		Areas:       make([]string, 0, len(c.snap.byArea)),
	}
	for d := range c.snap.byDomain {
		s.Domains = append(s.Domains, d)
	}
	seen := make(map[string]bool)
	for _, ids := range c.snap.byArea {
		if name := c.snap.entities[ids[0]].AreaName; !seen[name] {
			seen[name] = true
			s.Areas = append(s.Areas, name)
		}
	}
	sort.Strings(s.Domains)
	sort.Strings(s.Areas)
	return s
}
