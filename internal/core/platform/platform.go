package platform

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"hearthd/internal/core/domain"
	"hearthd/internal/core/hub"
	"hearthd/internal/registry"

	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultScanInterval        = 15 * time.Second
	DefaultSlowSetupWarning    = 10 * time.Second
	DefaultSlowSetupMaxWait    = 60 * time.Second
	DefaultNotReadyBackoffUnit = 30 * time.Second
	DefaultNotReadyBackoffCap  = 6
)

// SetupFunc is the entry point an integration exposes for one platform. It
// creates entities and hands them back through add. Returning a
// *domain.NotReadyError asks the coordinator to retry later with backoff.
type SetupFunc func(ctx context.Context, h *hub.Hub, config map[string]any, discovery map[string]any, add domain.AddEntitiesFunc) error

type Options struct {
	// Domain is the entity grouping (sensor, switch, ...), Platform the
	// integration name within it.
	Domain   string
	Platform string
	// Namespace optionally prefixes generated object ids.
	Namespace string

	ScanInterval        time.Duration
	SlowSetupWarning    time.Duration
	SlowSetupMaxWait    time.Duration
	NotReadyBackoffUnit time.Duration
	NotReadyBackoffCap  int

	// OnEntitiesAdded fires once per settled add batch with the entities
	// that were actually registered.
	OnEntitiesAdded func(added []domain.Entity)
}

// Coordinator drives the setup, registration, polling and teardown lifecycle
// of one integration's entities within one domain.
type Coordinator struct {
	hub    *hub.Hub
	sched  quartz.Scheduler
	logger *zap.Logger
	opts   Options

	mu            sync.Mutex
	entities      map[string]domain.Entity
	pending       []chan struct{}
	setupComplete bool
	pollKey       *quartz.JobKey

	retry *retryState

	// pollMu guards against overlapping polling cycles. Checked with
	// TryLock so a busy tick is skipped, never queued.
	pollMu sync.Mutex
}

func New(h *hub.Hub, sched quartz.Scheduler, logger *zap.Logger, opts Options) *Coordinator {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = DefaultScanInterval
	}
	if opts.SlowSetupWarning <= 0 {
		opts.SlowSetupWarning = DefaultSlowSetupWarning
	}
	if opts.SlowSetupMaxWait <= 0 {
		opts.SlowSetupMaxWait = DefaultSlowSetupMaxWait
	}
	if opts.NotReadyBackoffUnit <= 0 {
		opts.NotReadyBackoffUnit = DefaultNotReadyBackoffUnit
	}
	if opts.NotReadyBackoffCap <= 0 {
		opts.NotReadyBackoffCap = DefaultNotReadyBackoffCap
	}
	return &Coordinator{
		hub:      h,
		sched:    sched,
		logger:   logger.Named(fmt.Sprintf("%s.%s", opts.Platform, opts.Domain)),
		opts:     opts,
		entities: make(map[string]domain.Entity),
		retry:    newRetryState(opts.NotReadyBackoffUnit, opts.NotReadyBackoffCap),
	}
}

func (c *Coordinator) fullName() string {
	return fmt.Sprintf("%s.%s", c.opts.Platform, c.opts.Domain)
}

// Setup invokes the integration setup function, warning when it is slow and
// giving up waiting (without stopping it) past the max-wait threshold. While
// setup reports not ready, it is retried in the background with capped
// linear backoff. Returns true once the platform is loaded.
//
// Setup failures never propagate: a broken platform must not take the rest
// of the hub down with it.
func (c *Coordinator) Setup(ctx context.Context, setup SetupFunc, config, discovery map[string]any) bool {
	c.retry.running()
	c.logger.Info("setting up platform")

	done := make(chan error, 1)
	go func() {
		done <- c.runSetup(ctx, setup, config, discovery)
	}()

	warn := time.NewTimer(c.opts.SlowSetupWarning)
	defer warn.Stop()
	maxWait := time.NewTimer(c.opts.SlowSetupMaxWait)
	defer maxWait.Stop()

	var err error
wait:
	for {
		select {
		case err = <-done:
			break wait
		case <-warn.C:
			c.logger.Warn("platform setup is taking a while",
				zap.Duration("elapsed", c.opts.SlowSetupWarning))
		case <-maxWait.C:
			// The setup goroutine is left running; entities it hands
			// back later are still accepted. Startup just stops
			// waiting for it.
			c.logger.Error("platform setup did not finish in time, proceeding without it",
				zap.Duration("max_wait", c.opts.SlowSetupMaxWait))
			c.retry.fail()
			return false
		case <-ctx.Done():
			c.retry.fail()
			return false
		}
	}

	var notReady *domain.NotReadyError
	switch {
	case err == nil:
		// Every add batch scheduled during setup must have settled
		// before the platform counts as loaded.
		c.waitPending()
		c.mu.Lock()
		c.setupComplete = true
		c.mu.Unlock()
		c.hub.MarkLoaded(c.fullName())
		c.retry.succeed()
		c.logger.Info("platform setup complete", zap.Int("entities", len(c.EntityIDs())))
		return true
	case errors.As(err, &notReady):
		delay := c.retry.notReady(func() {
			c.Setup(ctx, setup, config, discovery)
		})
		c.logger.Warn("platform not ready; retrying",
			zap.Int("attempt", c.retry.attempts()),
			zap.Duration("delay", delay),
			zap.String("reason", notReady.Reason))
		return false
	default:
		c.retry.fail()
		c.logger.Error("platform setup failed", zap.Error(err))
		return false
	}
}

func (c *Coordinator) runSetup(ctx context.Context, setup SetupFunc, config, discovery map[string]any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("platform setup panic: %v", r)
		}
	}()
	add := func(entities []domain.Entity, updateBeforeAdd bool) {
		c.ScheduleAddEntities(ctx, entities, updateBeforeAdd)
	}
	return setup(ctx, c.hub, config, discovery, add)
}

// ScheduleAddEntities runs AddEntities on its own goroutine. Batches
// scheduled before setup completes are awaited by Setup.
func (c *Coordinator) ScheduleAddEntities(ctx context.Context, entities []domain.Entity, updateBeforeAdd bool) {
	done := make(chan struct{})
	c.mu.Lock()
	if !c.setupComplete {
		c.pending = append(c.pending, done)
	}
	c.mu.Unlock()

	go func() {
		defer close(done)
		if err := c.AddEntities(ctx, entities, updateBeforeAdd); err != nil {
			c.logger.Error("add entities failed", zap.Error(err))
		}
	}()
}

func (c *Coordinator) waitPending() {
	for {
		c.mu.Lock()
		pending := c.pending
		c.pending = nil
		c.mu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, done := range pending {
			<-done
		}
	}
}

// AddEntities registers a batch of entities. All entities are added
// concurrently and the call returns once the whole batch has settled: every
// entity either registered or rejected. Hard per-entity errors are joined
// into the returned error; a dropped entity (failed pre-add update, disabled
// by registry) is logged and is not an error.
func (c *Coordinator) AddEntities(ctx context.Context, entities []domain.Entity, updateBeforeAdd bool) error {
	if len(entities) == 0 {
		return nil
	}
	// A nil entity is an integration bug. Reject the whole batch before
	// registering anything.
	for _, e := range entities {
		if e == nil {
			return fmt.Errorf("platform %s: entity cannot be nil", c.opts.Platform)
		}
	}

	results := make([]error, len(entities))
	added := make([]domain.Entity, len(entities))
	var g errgroup.Group
	for i, e := range entities {
		i, e := i, e
		g.Go(func() error {
			ok, err := c.addEntity(ctx, e, updateBeforeAdd)
			results[i] = err
			if ok {
				added[i] = e
			}
			return err
		})
	}
	_ = g.Wait()

	if c.opts.OnEntitiesAdded != nil {
		settled := make([]domain.Entity, 0, len(added))
		for _, e := range added {
			if e != nil {
				settled = append(settled, e)
			}
		}
		c.opts.OnEntitiesAdded(settled)
	}

	c.maybeStartPolling()
	return errors.Join(results...)
}

// addEntity resolves an entity id, registers the entity and publishes its
// initial state. ok reports whether the entity went live; err is a hard
// error for this entity only.
func (c *Coordinator) addEntity(ctx context.Context, entity domain.Entity, updateBeforeAdd bool) (bool, error) {
	reg := c.hub.Registry()

	if updateBeforeAdd {
		if err := entity.Update(ctx); err != nil {
			c.logger.Error("update before add failed, not adding entity",
				zap.String("name", entity.Name()), zap.Error(err))
			return false, nil
		}
	}

	suggestedName := entity.Name()
	if suggestedName == "" {
		suggestedName = domain.DEFAULT_ENTITY_NAME
	}

	if uid := entity.UniqueID(); uid != "" {
		suggestion := suggestedName
		if entity.EntityID() != "" {
			// The entity suggested its own id; keep the object part.
			if _, object := registry.SplitEntityID(entity.EntityID()); object != "" {
				suggestion = object
			}
		}
		if c.opts.Namespace != "" {
			suggestion = c.opts.Namespace + " " + suggestion
		}
		entry := reg.GetOrCreate(c.opts.Domain, c.opts.Platform, uid, registry.GetOrCreateOptions{
			SuggestedObjectID: suggestion,
			Name:              entity.Name(),
			KnownIDs:          c.liveIDs(),
		})
		if entry.Disabled {
			c.logger.Info("not adding entity because it is disabled by the registry",
				zap.String("entity_id", entry.EntityID),
				zap.String("unique_id", uid))
			return false, nil
		}
		entity.SetEntityID(entry.EntityID)
	} else {
		suggestion := suggestedName
		if preset := entity.EntityID(); preset != "" && reg.IsRegistered(preset) {
			// The pre-set id belongs to a registry-managed entity.
			// Demote it to a suggestion and generate a fresh one.
			if _, object := registry.SplitEntityID(preset); object != "" {
				suggestion = object
			}
			entity.SetEntityID("")
		}
		if entity.EntityID() == "" {
			if c.opts.Namespace != "" {
				suggestion = c.opts.Namespace + " " + suggestion
			}
			entity.SetEntityID(reg.GenerateEntityID(c.opts.Domain, suggestion, c.liveIDs()))
		}
	}

	entityID := entity.EntityID()
	if !registry.ValidEntityID(entityID) {
		return false, fmt.Errorf("invalid entity id %q", entityID)
	}

	c.mu.Lock()
	if _, exists := c.entities[entityID]; exists {
		c.mu.Unlock()
		if entity.UniqueID() == "" {
			return false, fmt.Errorf("platform %s does not generate unique IDs; entity id %s already exists", c.opts.Platform, entityID)
		}
		return false, fmt.Errorf("entity id %s already exists", entityID)
	}
	c.entities[entityID] = entity
	c.mu.Unlock()

	if err := entity.AddedToHub(ctx); err != nil {
		c.mu.Lock()
		delete(c.entities, entityID)
		c.mu.Unlock()
		return false, fmt.Errorf("entity %s added-to-hub hook: %w", entityID, err)
	}

	c.hub.States().Set(entityID, entity.State())
	c.logger.Debug("entity added", zap.String("entity_id", entityID))
	return true, nil
}

func (c *Coordinator) liveIDs() map[string]struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make(map[string]struct{}, len(c.entities))
	for id := range c.entities {
		ids[id] = struct{}{}
	}
	return ids
}

// RemoveEntity removes one entity, then stops the polling loop when no
// remaining entity needs it.
func (c *Coordinator) RemoveEntity(ctx context.Context, entityID string) error {
	c.mu.Lock()
	entity, ok := c.entities[entityID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("unknown entity id %s", entityID)
	}
	delete(c.entities, entityID)
	c.mu.Unlock()

	c.removeEntity(ctx, entityID, entity)

	if !c.anyPoller() {
		c.stopPolling()
	}
	return nil
}

func (c *Coordinator) removeEntity(ctx context.Context, entityID string, entity domain.Entity) {
	if err := entity.WillRemove(ctx); err != nil {
		c.logger.Error("will-remove hook failed", zap.String("entity_id", entityID), zap.Error(err))
	}
	c.hub.States().Remove(entityID)
}

// Reset removes every registered entity concurrently, then cancels the
// setup retry and the polling loop. Calling it again is a no-op.
func (c *Coordinator) Reset(ctx context.Context) {
	c.retry.cancel()

	c.mu.Lock()
	entities := c.entities
	c.entities = make(map[string]domain.Entity)
	c.setupComplete = false
	c.mu.Unlock()

	var wg sync.WaitGroup
	for entityID, entity := range entities {
		entityID, entity := entityID, entity
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.removeEntity(ctx, entityID, entity)
		}()
	}
	wg.Wait()

	c.stopPolling()
}

// Shutdown cancels the setup retry and the polling loop without touching
// entity state. Used when the whole hub is stopping.
func (c *Coordinator) Shutdown() {
	c.retry.cancel()
	c.stopPolling()
}

func (c *Coordinator) Entity(entityID string) (domain.Entity, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entities[entityID]
	return e, ok
}

func (c *Coordinator) EntityIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entities))
	for id := range c.entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *Coordinator) Status() domain.PlatformStatus {
	c.mu.Lock()
	entityCount := len(c.entities)
	polling := c.pollKey != nil
	c.mu.Unlock()
	return domain.PlatformStatus{
		Domain:      c.opts.Domain,
		Platform:    c.opts.Platform,
		Loaded:      c.hub.IsLoaded(c.fullName()),
		EntityCount: entityCount,
		Polling:     polling,
		SetupPhase:  c.retry.currentPhase().String(),
	}
}
