package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"

	adactor "hearthd/internal/adapter/actor"
	"hearthd/internal/config"
	"hearthd/internal/core/domain"
	"hearthd/internal/core/hub"
	"hearthd/internal/core/platform"
	"hearthd/internal/integration"
	. "hearthd/internal/util/actorutil"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

// MasterOfPuppetsActor owns the platform coordinators and the MQTT child. It
// drives platform setup, announces registered entities over discovery and
// routes inbound commands to their target entity.
type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	hub          *hub.Hub
	sched        quartz.Scheduler
	coordinators []*platform.Coordinator

	currentHealthCheck healthCheckResult
	mqttActor          *actor.PID
	mqttActorProvider  MQTTActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	mqttActorHealthy bool
	checksReceived   int
	respondTo        *actor.PID
}

// platformSetupResult reports the outcome of one (possibly retried) Setup
// call back to the master mailbox.
type platformSetupResult struct {
	platform string
	loaded   bool
}

// entitiesAdded carries a settled add batch from a coordinator callback into
// the mailbox.
type entitiesAdded struct {
	coordinator *platform.Coordinator
	entities    []domain.Entity
}

type commandResult struct {
	entityID string
	state    *domain.State
	err      error
}

func NewMasterOfPuppetsActor(cfg config.Config, h *hub.Hub, sched quartz.Scheduler, mqttActorProvider MQTTActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		config:            cfg,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		hub:               h,
		sched:             sched,
		logger:            ActorLogger("master", logger),
		mqttActorProvider: mqttActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// build coordinators and launch platform setup
		if err := state.startPlatforms(ctx); err != nil {
			panic(err)
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Stopping:
		state.logger.Debug("master@default stopping")
		state.shutdownPlatforms()
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.PlatformStatusRequest:
		state.logger.Debug("master@default PlatformStatusRequest")
		statuses := make([]domain.PlatformStatus, 0, len(state.coordinators))
		for _, coord := range state.coordinators {
			statuses = append(statuses, coord.Status())
		}
		ForRequest(msg).Respond(ctx, domain.PlatformStatusResponse{Platforms: statuses})
	case platformSetupResult:
		if msg.loaded {
			state.logger.Info("master@default platform loaded", zap.String("platform", msg.platform))
		} else {
			state.logger.Warn("master@default platform not loaded yet", zap.String("platform", msg.platform))
		}
	case entitiesAdded:
		state.logger.Debug("master@default entitiesAdded", zap.Int("count", len(msg.entities)))
		if state.config.MQTT.Enable && state.config.MQTT.HADiscoveryEnable {
			discovery := state.discoveryEntities(msg.coordinator, msg.entities)
			if len(discovery) > 0 {
				ctx.Send(state.mqttActor, domain.PublishDiscoveryRequest{Entities: discovery})
			}
		}
	case adactor.ParsedCommand:
		// redirect parsed command to the target entity
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			state.handleEntityCommand(ctx, domain.EntityCommandRequest{
				EntityID: msg.Command.EntityID,
				Payload:  msg.Command.Payload,
			})
		}
	case domain.EntityCommandRequest:
		state.logger.Debug("master@default EntityCommandRequest", zap.String("entity_id", msg.EntityID))
		state.handleEntityCommand(ctx, msg)
	case commandResult:
		if msg.err != nil {
			state.logger.Error("master@default command failed",
				zap.String("entity_id", msg.entityID), zap.Error(msg.err))
		} else if msg.state != nil {
			// push the post-command state so MQTT subscribers see the effect
			state.hub.States().Set(msg.entityID, *msg.state)
		}
	case *actor.Terminated:
		// if the MQTT actor fails on boot, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, domain.ACTOR_ID_MQTT) {
			state.logger.Error("master@default mqtt terminated")
			panic(fmt.Errorf("mqtt actor terminated"))
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy && msg.Id == domain.ACTOR_ID_MQTT {
			state.currentHealthCheck.mqttActorHealthy = true
		}
		if state.currentHealthCheck.allReceived() {

			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.hub.Events())
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

// startPlatforms builds one coordinator per configured platform and launches
// their setup functions. Setup runs off the mailbox so a slow or retrying
// platform never blocks the actor.
func (state *MasterOfPuppetsActor) startPlatforms(ctx actor.Context) error {
	root := ctx.ActorSystem().Root
	self := ctx.Self()
	defaults := state.config.Platform

	for _, pc := range state.config.Platforms {
		setup, err := integration.Lookup(pc.Integration)
		if err != nil {
			return err
		}

		var coord *platform.Coordinator
		opts := platform.Options{
			Domain:              pc.Domain,
			Platform:            pc.PlatformName(),
			Namespace:           pc.Namespace,
			ScanInterval:        millis(pc.ScanIntervalMillis, defaults.ScanIntervalMillis),
			SlowSetupWarning:    seconds(defaults.SlowSetupWarningSeconds),
			SlowSetupMaxWait:    seconds(defaults.SlowSetupMaxWaitSeconds),
			NotReadyBackoffUnit: seconds(defaults.NotReadyBackoffSeconds),
			NotReadyBackoffCap:  int(defaults.NotReadyBackoffCap),
			OnEntitiesAdded: func(added []domain.Entity) {
				root.Send(self, entitiesAdded{coordinator: coord, entities: added})
			},
		}
		coord = platform.New(state.hub, state.sched, state.logger, opts)
		state.coordinators = append(state.coordinators, coord)

		name := fmt.Sprintf("%s.%s", opts.Platform, opts.Domain)
		cfg, disc := pc.Config, pc.Discovery
		go func(c *platform.Coordinator) {
			loaded := c.Setup(context.Background(), setup, cfg, disc)
			root.Send(self, platformSetupResult{platform: name, loaded: loaded})
		}(coord)
	}
	return nil
}

// handleEntityCommand dispatches a command payload to the target entity on a
// background task and pipes the post-command state back to the mailbox.
func (state *MasterOfPuppetsActor) handleEntityCommand(ctx actor.Context, cmd domain.EntityCommandRequest) {
	var target domain.Commandable
	for _, coord := range state.coordinators {
		if e, ok := coord.Entity(cmd.EntityID); ok {
			if c, ok := e.(domain.Commandable); ok {
				target = c
			}
			break
		}
	}
	if target == nil {
		state.logger.Warn("master@command no commandable entity", zap.String("entity_id", cmd.EntityID))
		return
	}

	NewBackgroundTaskNoError(ctx, func() *commandResult {
		cmdCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := target.HandleCommand(cmdCtx, cmd.Payload); err != nil {
			return &commandResult{entityID: cmd.EntityID, err: err}
		}
		st := target.State()
		return &commandResult{entityID: cmd.EntityID, state: &st}
	}).WithTimeout(6 * time.Second).Recover(func(err error) commandResult {
		return commandResult{entityID: cmd.EntityID, err: err}
	}).PipeTo(ctx.Self())
}

// discoveryEntities maps a settled add batch to discovery announcements.
func (state *MasterOfPuppetsActor) discoveryEntities(coord *platform.Coordinator, entities []domain.Entity) []domain.DiscoveryEntity {
	status := coord.Status()
	device := domain.Device{
		Id:           fmt.Sprintf("hearthd_%s_%s", status.Platform, status.Domain),
		Name:         fmt.Sprintf("hearthd %s", status.Platform),
		Model:        status.Platform,
		Manufacturer: "hearthd",
		Version:      versioninfo.Short(),
	}
	out := make([]domain.DiscoveryEntity, 0, len(entities))
	for _, e := range entities {
		uid := e.UniqueID()
		if uid == "" {
			uid = e.EntityID()
		}
		_, commandable := e.(domain.Commandable)
		out = append(out, domain.DiscoveryEntity{
			Device:      device,
			EntityID:    e.EntityID(),
			Domain:      status.Domain,
			Platform:    status.Platform,
			UniqueId:    uid,
			Name:        e.Name(),
			Commandable: commandable,
		})
	}
	return out
}

// shutdownPlatforms tears the coordinators down concurrently.
func (state *MasterOfPuppetsActor) shutdownPlatforms() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan struct{}, len(state.coordinators))
	for _, coord := range state.coordinators {
		go func(c *platform.Coordinator) {
			c.Reset(shutdownCtx)
			done <- struct{}{}
		}(coord)
	}
	for range state.coordinators {
		<-done
	}
}

func millis(value, fallback uint32) time.Duration {
	if value == 0 {
		value = fallback
	}
	return time.Duration(value) * time.Millisecond
}

func seconds(value uint32) time.Duration {
	return time.Duration(value) * time.Second
}

func (state *healthCheckResult) reset() {
	state.mqttActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 1
}

func (state *healthCheckResult) allHealthy() bool {
	return state.mqttActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      "master",
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
