// Package catalogtest provides an in-memory registry and a ready-built
// catalog for tests in packages that consume the catalog.
package catalogtest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nugget/ha-config-assistant/internal/catalog"
	"github.com/nugget/ha-config-assistant/internal/homeassistant"
)

// ErrUnavailable is returned by a Registry with Fail set.
var ErrUnavailable = errors.New("registry unavailable")

// Registry is a static [catalog.Registry].
type Registry struct {
	States   []homeassistant.State
	Entries  []homeassistant.EntityRegistryEntry
	Devices  []homeassistant.DeviceRegistryEntry
	Areas    []homeassistant.Area
	Services []homeassistant.ServiceDomain

	// Fail makes every call return ErrUnavailable.
	Fail bool
	// FailServices makes only GetServices fail.
	FailServices bool
}

func (r *Registry) GetStates(context.Context) ([]homeassistant.State, error) {
	if r.Fail {
		return nil, ErrUnavailable
	}
	return r.States, nil
}

func (r *Registry) GetEntityRegistry(context.Context) ([]homeassistant.EntityRegistryEntry, error) {
	if r.Fail {
		return nil, ErrUnavailable
	}
	return r.Entries, nil
}

func (r *Registry) GetDeviceRegistry(context.Context) ([]homeassistant.DeviceRegistryEntry, error) {
	if r.Fail {
		return nil, ErrUnavailable
	}
	return r.Devices, nil
}

func (r *Registry) GetAreaRegistry(context.Context) ([]homeassistant.Area, error) {
	if r.Fail {
		return nil, ErrUnavailable
	}
	return r.Areas, nil
}

func (r *Registry) GetServices(context.Context) ([]homeassistant.ServiceDomain, error) {
	if r.Fail || r.FailServices {
		return nil, ErrUnavailable
	}
	return r.Services, nil
}

// State builds a state with a friendly name.
func State(entityID, state, name string) homeassistant.State {
	return homeassistant.State{
		EntityID:   entityID,
		State:      state,
		Attributes: map[string]any{"friendly_name": name},
	}
}

// Services builds a service domain entry.
func Services(domain string, names ...string) homeassistant.ServiceDomain {
	sd := homeassistant.ServiceDomain{Domain: domain, Services: make(map[string]json.RawMessage)}
	for _, n := range names {
		sd.Services[n] = json.RawMessage(`{}`)
	}
	return sd
}

// Home returns a small house: a kitchen with a light on a device, a
// living room lamp, a bedroom temperature sensor, an unavailable garage
// door and an excluded zone.
func Home() *Registry {
	return &Registry{
		States: []homeassistant.State{
			State("light.kitchen", "on", "Kitchen Light"),
			State("light.living_room_lamp", "off", "Living Room Lamp"),
			State("sensor.bedroom_temperature", "21.5", "Bedroom Temperature"),
			State("cover.garage_door", "unavailable", "Garage Door"),
			State("switch.coffee_maker", "off", "Coffee Maker"),
			State("zone.home", "0", "Home"),
		},
		Entries: []homeassistant.EntityRegistryEntry{
			{EntityID: "light.kitchen", DeviceID: "dev-kitchen"},
			{EntityID: "light.living_room_lamp", AreaID: "living_room"},
			{EntityID: "sensor.bedroom_temperature", AreaID: "bedroom", DeviceID: "dev-climate"},
			{EntityID: "cover.garage_door", AreaID: "garage"},
			{EntityID: "switch.coffee_maker", DeviceID: "dev-coffee"},
		},
		Devices: []homeassistant.DeviceRegistryEntry{
			{ID: "dev-kitchen", Name: "Hue Bulb", NameByUser: "Kitchen Ceiling", AreaID: "kitchen"},
			{ID: "dev-climate", Name: "Aqara Sensor", AreaID: "office"},
			{ID: "dev-coffee", Name: "Smart Plug"},
		},
		Areas: []homeassistant.Area{
			{AreaID: "kitchen", Name: "Kitchen"},
			{AreaID: "living_room", Name: "Living Room"},
			{AreaID: "bedroom", Name: "Bedroom"},
			{AreaID: "garage", Name: "Garage"},
			{AreaID: "office", Name: "Office"},
		},
		Services: []homeassistant.ServiceDomain{
			Services("light", "turn_on", "turn_off", "toggle"),
			Services("switch", "turn_on", "turn_off"),
			Services("notify", "mobile_app_phone"),
			Services("homeassistant", "restart"),
		},
	}
}

// New builds a catalog from reg, failing the test if the rebuild fails.
func New(t testing.TB, reg *Registry) *catalog.Catalog {
	t.Helper()
	c := catalog.New(reg, nil)
	if err := c.Rebuild(context.Background()); err != nil {
		t.Fatalf("catalog rebuild: %v", err)
	}
	return c
}
