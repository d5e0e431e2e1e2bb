package domain

// Device groups entities under one physical or logical device in the
// discovery payload.
type Device struct {
	Id           string
	Name         string
	Version      string
	Model        string
	Manufacturer string
	ViaDevice    string
}

// DiscoveryEntity is the announcement record for one registered entity,
// consumed by the MQTT discovery publisher.
type DiscoveryEntity struct {
	Device            Device
	EntityID          string // "domain.object_id"
	Domain            string
	Platform          string
	UniqueId          string
	Name              string
	Icon              string
	DeviceClass       string // voltage, current, power, temperature...
	StateClass        string // measurement, duration, total_increasing
	UnitOfMeasurement string
	EntityCategory    string // diagnostic, config
	EnabledByDefault  *bool
	Commandable       bool
}

// Event stream model. Published by the state store, consumed by the MQTT
// publisher actor.

type EntityStateEvent struct {
	EntityID string
	State    State
}

type EntityRemovedEvent struct {
	EntityID string
}
