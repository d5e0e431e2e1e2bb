package mqtt

import (
	"fmt"

	"hearthd/internal/core/domain"
	"hearthd/internal/registry"
)

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	JSONAttrTopic     string            `json:"json_attributes_topic,omitempty"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	EnabledByDefault  *bool             `json:"enabled_by_default,omitempty"`
	Icon              string            `json:"icon,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

// HADiscoveryTopic builds the Home Assistant discovery config topic for an
// entity. Commandable entities are announced as switches so the command
// topic gets wired up on the other side; everything else is a sensor.
func HADiscoveryTopic(prefix string, entity domain.DiscoveryEntity) string {
	component := "sensor"
	if entity.Commandable {
		component = "switch"
	}
	_, objectID := registry.SplitEntityID(entity.EntityID)
	return fmt.Sprintf("%s/%s/%s/%s/config", prefix, component, entity.Device.Id, objectID)
}

func EntityToHADiscoveryMessage(client *MQTTClient, entity domain.DiscoveryEntity) HADiscoveryConfig {
	disConfig := HADiscoveryConfig{
		Device:            device(entity.Device),
		StateTopic:        client.EntityStateTopic(entity.EntityID),
		JSONAttrTopic:     client.EntityAttributesTopic(entity.EntityID),
		StateClass:        entity.StateClass,
		DeviceClass:       entity.DeviceClass,
		UnitOfMeasurement: entity.UnitOfMeasurement,
		AvTopic:           client.BridgeStateTopic(),
		EntityCategory:    entity.EntityCategory,
		Name:              entity.Name,
		UniqueId:          entity.UniqueId,
		Icon:              entity.Icon,
		EnabledByDefault:  entity.EnabledByDefault,
		Platform:          "mqtt",
	}
	if entity.Commandable {
		disConfig.CommandTopic = client.EntityCommandTopic(entity.EntityID)
	}
	return disConfig
}

func device(d domain.Device) HADiscoveryDevice {
	return HADiscoveryDevice{
		Id:           []string{d.Id},
		Manufacturer: d.Manufacturer,
		Version:      d.Version,
		Model:        d.Model,
		Name:         d.Name,
		ViaDevice:    d.ViaDevice,
	}
}
