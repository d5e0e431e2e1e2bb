package domain

import (
	"context"
	"time"
)

// DEFAULT_ENTITY_NAME is used to generate an entity id for entities that
// declare neither a unique id nor a display name.
const DEFAULT_ENTITY_NAME = "unnamed device"

// State is a snapshot of an entity's published state.
type State struct {
	Value      string
	Attributes map[string]any
	UpdatedAt  time.Time
}

// Entity is the unit of device state a platform exposes to the hub.
//
// Every entity implements the full lifecycle surface. Integrations embed
// BaseEntity to get no-op hooks and only override what they need, so the
// coordinator never has to probe for optional methods.
type Entity interface {
	// UniqueID returns the stable unique identifier of the entity, or ""
	// if the integration cannot provide one.
	UniqueID() string
	// EntityID returns the assigned external identifier
	// ("domain.object_id"), or "" before registration. Integrations may
	// pre-set it to suggest an id.
	EntityID() string
	SetEntityID(id string)
	Name() string
	// ShouldPoll reports whether the entity needs the platform polling
	// loop to call Update periodically.
	ShouldPoll() bool
	Update(ctx context.Context) error
	State() State

	// Lifecycle hooks.
	AddedToHub(ctx context.Context) error
	WillRemove(ctx context.Context) error
}

// Commandable is implemented by entities that accept inbound commands
// (switches, numbers) routed from the MQTT command topics.
type Commandable interface {
	Entity
	HandleCommand(ctx context.Context, payload string) error
}

// AddEntitiesFunc is the callback a platform setup function uses to hand
// freshly created entities back to the coordinator.
type AddEntitiesFunc func(entities []Entity, updateBeforeAdd bool)

// BaseEntity carries the common entity fields and default lifecycle hooks.
type BaseEntity struct {
	EntityUniqueID string
	EntityName     string
	Poll           bool

	entityID string
}

func (e *BaseEntity) UniqueID() string      { return e.EntityUniqueID }
func (e *BaseEntity) EntityID() string      { return e.entityID }
func (e *BaseEntity) SetEntityID(id string) { e.entityID = id }
func (e *BaseEntity) Name() string          { return e.EntityName }
func (e *BaseEntity) ShouldPoll() bool      { return e.Poll }

func (e *BaseEntity) Update(ctx context.Context) error { return nil }

func (e *BaseEntity) AddedToHub(ctx context.Context) error { return nil }

func (e *BaseEntity) WillRemove(ctx context.Context) error { return nil }
