package mqtt

import "github.com/nugget/ha-config-assistant/internal/buildinfo"

// DeviceInfo holds the Home Assistant device registry fields shared by
// every discovery payload this process publishes, so HA groups the
// assistant's sensors under one device page.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version"`
}

// SensorConfig is the JSON payload for an HA MQTT sensor discovery
// message. It is published retained on every broker (re-)connect.
type SensorConfig struct {
	Name                string     `json:"name"`
	ObjectID            string     `json:"object_id,omitempty"`
	HasEntityName       bool       `json:"has_entity_name,omitempty"`
	UniqueID            string     `json:"unique_id"`
	StateTopic          string     `json:"state_topic"`
	AvailabilityTopic   string     `json:"availability_topic"`
	JsonAttributesTopic string     `json:"json_attributes_topic,omitempty"`
	Device              DeviceInfo `json:"device"`
	Icon                string     `json:"icon,omitempty"`
	StateClass          string     `json:"state_class,omitempty"`
	EntityCategory      string     `json:"entity_category,omitempty"`
}

// NewDeviceInfo builds the device block. The client ID doubles as the
// stable HA device identifier.
func NewDeviceInfo(clientID string) DeviceInfo {
	return DeviceInfo{
		Identifiers:  []string{clientID},
		Name:         "AI Config Assistant",
		Manufacturer: "Hollow Oak",
		Model:        "HA Config Assistant",
		SWVersion:    buildinfo.Version,
	}
}
