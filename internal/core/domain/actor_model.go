package domain

import (
	"github.com/asynkron/protoactor-go/actor"
)

const (
	ACTOR_ID_MASTER = "master"
	ACTOR_ID_MQTT   = "mqtt"
)

type ActorRef actor.PID

type ActorRequestMixIn struct {
	ReplyToRef *ActorRef
}

type ActorRequest interface {
	ReplyTo() *ActorRef
}

func (r ActorRequestMixIn) ReplyTo() *ActorRef {
	return r.ReplyToRef
}

type ActorResponseMixIn struct {
	ResponseError error
}

func (r ActorResponseMixIn) GetResponseError() error {
	return r.ResponseError
}

func (r ActorResponseMixIn) HasResponseError() bool {
	return r.ResponseError != nil
}

type ActorResponse interface {
	GetResponseError() error
	HasResponseError() bool
}

// Health checks

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// MQTT publishing

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishEntityStateRequest struct {
	ActorRequestMixIn
	EntityID string
	State    State
}

type PublishEntityStateResponse struct {
	ActorResponseMixIn
}

type PublishEntityRemovalRequest struct {
	ActorRequestMixIn
	EntityID string
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Entities []DiscoveryEntity
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

// Commands parsed from MQTT command topics, routed master -> platform entity.

type EntityCommandRequest struct {
	ActorRequestMixIn
	EntityID string
	Payload  string
}

// Platform status, consumed by the HTTP status route.

type PlatformStatusRequest struct {
	ActorRequestMixIn
}

type PlatformStatus struct {
	Domain      string `json:"domain"`
	Platform    string `json:"platform"`
	Loaded      bool   `json:"loaded"`
	EntityCount int    `json:"entity_count"`
	Polling     bool   `json:"polling"`
	SetupPhase  string `json:"setup_phase"`
}

type PlatformStatusResponse struct {
	ActorResponseMixIn
	Platforms []PlatformStatus
}
