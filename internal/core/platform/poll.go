package platform

import (
	"context"
	"fmt"
	"sync"

	"hearthd/internal/core/domain"

	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

// pollJob drives one platform's polling loop on the shared scheduler.
type pollJob struct {
	c *Coordinator
}

func (j *pollJob) Execute(ctx context.Context) error {
	j.c.pollOnce(ctx)
	return nil
}

func (j *pollJob) Description() string {
	return fmt.Sprintf("poll %s", j.c.fullName())
}

// maybeStartPolling lazily schedules the polling job once at least one live
// entity needs polling.
func (c *Coordinator) maybeStartPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollKey != nil || !c.anyPollerLocked() {
		return
	}
	key := quartz.NewJobKey(fmt.Sprintf("%s.poll", c.fullName()))
	detail := quartz.NewJobDetail(&pollJob{c: c}, key)
	if err := c.sched.ScheduleJob(detail, quartz.NewSimpleTrigger(c.opts.ScanInterval)); err != nil {
		c.logger.Error("could not schedule polling", zap.Error(err))
		return
	}
	c.pollKey = key
	c.logger.Debug("polling started", zap.Duration("interval", c.opts.ScanInterval))
}

func (c *Coordinator) stopPolling() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pollKey == nil {
		return
	}
	if err := c.sched.DeleteJob(c.pollKey); err != nil {
		c.logger.Debug("could not unschedule polling", zap.Error(err))
	}
	c.pollKey = nil
}

func (c *Coordinator) anyPoller() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.anyPollerLocked()
}

func (c *Coordinator) anyPollerLocked() bool {
	for _, e := range c.entities {
		if e.ShouldPoll() {
			return true
		}
	}
	return false
}

// pollOnce runs a single polling cycle. If the previous cycle is still in
// flight the tick is dropped entirely; cycles never queue or overlap.
func (c *Coordinator) pollOnce(ctx context.Context) {
	if !c.pollMu.TryLock() {
		c.logger.Warn("updating took longer than the scheduled scan interval; skipping cycle",
			zap.String("platform", c.opts.Platform),
			zap.String("domain", c.opts.Domain),
			zap.Duration("scan_interval", c.opts.ScanInterval))
		return
	}
	defer c.pollMu.Unlock()

	c.mu.Lock()
	pollers := make(map[string]domain.Entity, len(c.entities))
	for id, e := range c.entities {
		if e.ShouldPoll() {
			pollers[id] = e
		}
	}
	c.mu.Unlock()

	var wg sync.WaitGroup
	for entityID, entity := range pollers {
		entityID, entity := entityID, entity
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := entity.Update(ctx); err != nil {
				c.logger.Error("entity update failed", zap.String("entity_id", entityID), zap.Error(err))
				return
			}
			c.hub.States().Set(entityID, entity.State())
		}()
	}
	wg.Wait()
}
