package platform

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reugn/go-quartz/quartz"
	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"

	"hearthd/internal/core/domain"
	"hearthd/internal/core/hub"
	"hearthd/internal/registry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testEntity struct {
	domain.BaseEntity

	mu          sync.Mutex
	value       string
	updates     int
	updateErr   error
	updateDelay time.Duration
	addedErr    error
	removed     int
}

func newTestEntity(uid, name string, poll bool) *testEntity {
	e := &testEntity{value: "initial"}
	e.EntityUniqueID = uid
	e.EntityName = name
	e.Poll = poll
	return e
}

func (e *testEntity) Update(ctx context.Context) error {
	if e.updateDelay > 0 {
		time.Sleep(e.updateDelay)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.updateErr != nil {
		return e.updateErr
	}
	e.updates++
	e.value = fmt.Sprintf("update_%d", e.updates)
	return nil
}

func (e *testEntity) State() domain.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.State{Value: e.value}
}

func (e *testEntity) AddedToHub(ctx context.Context) error {
	return e.addedErr
}

func (e *testEntity) WillRemove(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed++
	return nil
}

func (e *testEntity) updateCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updates
}

func (e *testEntity) removeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removed
}

func newTestCoordinator(t *testing.T, opts Options) (*Coordinator, *hub.Hub) {
	t.Helper()
	h := hub.New(registry.NewInMemory(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	sched := quartz.NewStdScheduler()
	sched.Start(ctx)
	t.Cleanup(func() {
		sched.Stop()
		cancel()
	})

	if opts.Domain == "" {
		opts.Domain = "sensor"
	}
	if opts.Platform == "" {
		opts.Platform = "demo"
	}
	return New(h, sched, zaptest.NewLogger(t), opts), h
}

func observedCoordinator(t *testing.T, opts Options) (*Coordinator, *hub.Hub, *observer.ObservedLogs) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	h := hub.New(registry.NewInMemory(zaptest.NewLogger(t)))

	ctx, cancel := context.WithCancel(context.Background())
	sched := quartz.NewStdScheduler()
	sched.Start(ctx)
	t.Cleanup(func() {
		sched.Stop()
		cancel()
	})

	if opts.Domain == "" {
		opts.Domain = "sensor"
	}
	if opts.Platform == "" {
		opts.Platform = "demo"
	}
	return New(h, sched, zap.New(core), opts), h, logs
}

func TestSetupAddsEntities(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{})

	setup := func(ctx context.Context, h *hub.Hub, config, discovery map[string]any, add domain.AddEntitiesFunc) error {
		add([]domain.Entity{
			newTestEntity("uid_a", "Alpha", false),
			newTestEntity("uid_b", "Beta", false),
		}, false)
		return nil
	}

	loaded := c.Setup(context.Background(), setup, nil, nil)

	assert.True(loaded)
	assert.True(h.IsLoaded("demo.sensor"))
	assert.Equal([]string{"sensor.alpha", "sensor.beta"}, c.EntityIDs())

	st, ok := h.States().Get("sensor.alpha")
	assert.True(ok)
	assert.Equal("initial", st.Value)

	id, ok := h.Registry().GetEntityID("sensor", "demo", "uid_a")
	assert.True(ok)
	assert.Equal("sensor.alpha", id)
}

func TestSetupNotReadyRetries(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{
		NotReadyBackoffUnit: 10 * time.Millisecond,
		NotReadyBackoffCap:  3,
	})

	var attempts atomic.Int32
	setup := func(ctx context.Context, h *hub.Hub, config, discovery map[string]any, add domain.AddEntitiesFunc) error {
		if attempts.Add(1) <= 2 {
			return domain.NotReady("device still booting")
		}
		add([]domain.Entity{newTestEntity("uid", "Late", false)}, false)
		return nil
	}

	loaded := c.Setup(context.Background(), setup, nil, nil)
	assert.False(loaded, "first attempt reports not ready")

	assert.Eventually(func() bool {
		return h.IsLoaded("demo.sensor")
	}, 2*time.Second, 5*time.Millisecond, "setup is retried until ready")
	assert.Equal(int32(3), attempts.Load())
	assert.Equal([]string{"sensor.late"}, c.EntityIDs())
}

func TestSetupErrorDoesNotPropagate(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{})

	setup := func(ctx context.Context, h *hub.Hub, config, discovery map[string]any, add domain.AddEntitiesFunc) error {
		return errors.New("broken wiring")
	}

	loaded := c.Setup(context.Background(), setup, nil, nil)

	assert.False(loaded)
	assert.False(h.IsLoaded("demo.sensor"))
	assert.Equal("failed", c.Status().SetupPhase)
	assert.Equal(0, c.retry.attempts(), "generic errors are not retried")
}

func TestSetupPanicIsContained(t *testing.T) {

	assert := assert.New(t)

	c, _ := newTestCoordinator(t, Options{})

	setup := func(ctx context.Context, h *hub.Hub, config, discovery map[string]any, add domain.AddEntitiesFunc) error {
		panic("integration bug")
	}

	loaded := c.Setup(context.Background(), setup, nil, nil)

	assert.False(loaded)
	assert.Equal("failed", c.Status().SetupPhase)
}

func TestSetupSlowWarningAndMaxWait(t *testing.T) {

	assert := assert.New(t)

	c, _, logs := observedCoordinator(t, Options{
		SlowSetupWarning: 20 * time.Millisecond,
		SlowSetupMaxWait: 60 * time.Millisecond,
	})

	release := make(chan struct{})
	setup := func(ctx context.Context, h *hub.Hub, config, discovery map[string]any, add domain.AddEntitiesFunc) error {
		<-release
		add([]domain.Entity{newTestEntity("uid", "Slow", false)}, false)
		return nil
	}

	start := time.Now()
	loaded := c.Setup(context.Background(), setup, nil, nil)
	elapsed := time.Since(start)

	assert.False(loaded, "setup gave up waiting")
	assert.Less(elapsed, 2*time.Second)
	assert.Equal(1, logs.FilterMessage("platform setup is taking a while").Len())
	assert.Equal(1, logs.FilterMessage("platform setup did not finish in time, proceeding without it").Len())

	// the setup goroutine keeps running; entities it adds later still land
	close(release)
	assert.Eventually(func() bool {
		return len(c.EntityIDs()) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestAddEntitiesNilEntityRejectsBatch(t *testing.T) {

	assert := assert.New(t)

	c, _ := newTestCoordinator(t, Options{})

	err := c.AddEntities(context.Background(), []domain.Entity{
		newTestEntity("uid", "Good", false),
		nil,
	}, false)

	assert.ErrorContains(err, "entity cannot be nil")
	assert.Empty(c.EntityIDs(), "nothing registered from a batch with a nil entity")
}

func TestAddEntitiesDuplicatePresetIDWithoutUniqueID(t *testing.T) {

	assert := assert.New(t)

	c, _ := newTestCoordinator(t, Options{})

	a := newTestEntity("", "A", false)
	a.SetEntityID("sensor.dup")
	b := newTestEntity("", "B", false)
	b.SetEntityID("sensor.dup")
	other := newTestEntity("", "Other", false)

	err := c.AddEntities(context.Background(), []domain.Entity{a, b, other}, false)

	assert.ErrorContains(err, "does not generate unique IDs")
	assert.Len(c.EntityIDs(), 2, "one duplicate rejected, the rest registered")
	_, ok := c.Entity("sensor.dup")
	assert.True(ok)
}

func TestAddEntitiesSameUniqueID(t *testing.T) {

	assert := assert.New(t)

	c, _ := newTestCoordinator(t, Options{})

	err := c.AddEntities(context.Background(), []domain.Entity{
		newTestEntity("uid_same", "First", false),
		newTestEntity("uid_same", "Second", false),
	}, false)

	assert.ErrorContains(err, "already exists")
	assert.Len(c.EntityIDs(), 1)
}

func TestAddEntitiesRegistryDisabledSkip(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{})
	h.Registry().GetOrCreate("sensor", "demo", "uid_off", registry.GetOrCreateOptions{
		SuggestedObjectID: "Hidden",
		DisabledByDefault: true,
	})

	err := c.AddEntities(context.Background(), []domain.Entity{
		newTestEntity("uid_off", "Hidden", false),
	}, false)

	assert.NoError(err, "a disabled entity is skipped, not an error")
	assert.Empty(c.EntityIDs())
}

func TestAddEntitiesUpdateBeforeAddFailureDropsEntity(t *testing.T) {

	assert := assert.New(t)

	c, _ := newTestCoordinator(t, Options{})

	broken := newTestEntity("uid_bad", "Bad", false)
	broken.updateErr = errors.New("sensor offline")

	err := c.AddEntities(context.Background(), []domain.Entity{
		broken,
		newTestEntity("uid_ok", "Ok", false),
	}, true)

	assert.NoError(err, "a failed pre-add update drops the entity silently")
	assert.Equal([]string{"sensor.ok"}, c.EntityIDs())
}

func TestAddEntityPresetIDOwnedByRegistryIsDemoted(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{})
	owner := h.Registry().GetOrCreate("sensor", "demo", "uid_owner", registry.GetOrCreateOptions{
		SuggestedObjectID: "Grid Power",
	})
	assert.Equal("sensor.grid_power", owner.EntityID)

	squatter := newTestEntity("", "Squatter", false)
	squatter.SetEntityID("sensor.grid_power")

	err := c.AddEntities(context.Background(), []domain.Entity{squatter}, false)

	assert.NoError(err)
	assert.Equal("sensor.grid_power_2", squatter.EntityID(), "pre-set id is demoted to a suggestion")
}

func TestAddEntityInvalidPresetID(t *testing.T) {

	assert := assert.New(t)

	c, _ := newTestCoordinator(t, Options{})

	bad := newTestEntity("", "Bad", false)
	bad.SetEntityID("Sensor.BAD")

	err := c.AddEntities(context.Background(), []domain.Entity{bad}, false)

	assert.ErrorContains(err, "invalid entity id")
	assert.Empty(c.EntityIDs())
}

func TestAddEntityHookFailureUnregisters(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{})

	broken := newTestEntity("uid", "Hooked", false)
	broken.addedErr = errors.New("no resources")

	err := c.AddEntities(context.Background(), []domain.Entity{broken}, false)

	assert.ErrorContains(err, "added-to-hub hook")
	assert.Empty(c.EntityIDs())
	_, ok := h.States().Get("sensor.hooked")
	assert.False(ok)
}

func TestNamespacePrefixesGeneratedIDs(t *testing.T) {

	assert := assert.New(t)

	c, _ := newTestCoordinator(t, Options{Namespace: "office"})

	err := c.AddEntities(context.Background(), []domain.Entity{
		newTestEntity("uid", "Temp", false),
	}, false)

	assert.NoError(err)
	assert.Equal([]string{"sensor.office_temp"}, c.EntityIDs())
}

func TestRemoveEntity(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{ScanInterval: time.Hour})

	e := newTestEntity("uid", "Pollster", true)
	assert.NoError(c.AddEntities(context.Background(), []domain.Entity{e}, false))
	assert.True(c.Status().Polling, "polling starts with the first polled entity")

	assert.NoError(c.RemoveEntity(context.Background(), "sensor.pollster"))
	assert.Equal(1, e.removeCount())
	assert.Empty(c.EntityIDs())
	assert.False(c.Status().Polling, "polling stops when no pollers remain")
	_, ok := h.States().Get("sensor.pollster")
	assert.False(ok)

	assert.ErrorContains(c.RemoveEntity(context.Background(), "sensor.pollster"), "unknown entity id")
}

func TestResetIsIdempotent(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{ScanInterval: time.Hour})

	a := newTestEntity("uid_a", "A", true)
	b := newTestEntity("uid_b", "B", false)
	assert.NoError(c.AddEntities(context.Background(), []domain.Entity{a, b}, false))

	c.Reset(context.Background())
	c.Reset(context.Background())

	assert.Empty(c.EntityIDs())
	assert.Equal(1, a.removeCount(), "hooks run once per entity")
	assert.Equal(1, b.removeCount())
	assert.False(c.Status().Polling)
	assert.Empty(h.States().All())
}

func TestPollOnceUpdatesStates(t *testing.T) {

	assert := assert.New(t)

	c, h := newTestCoordinator(t, Options{ScanInterval: time.Hour})

	polled := newTestEntity("uid_poll", "Polled", true)
	static := newTestEntity("uid_static", "Static", false)
	failing := newTestEntity("uid_fail", "Failing", true)
	failing.updateErr = errors.New("read error")

	assert.NoError(c.AddEntities(context.Background(), []domain.Entity{polled, static, failing}, false))

	c.pollOnce(context.Background())

	assert.Equal(1, polled.updateCount())
	assert.Equal(0, static.updateCount(), "non-polled entities are left alone")

	st, ok := h.States().Get("sensor.polled")
	assert.True(ok)
	assert.Equal("update_1", st.Value)

	st, ok = h.States().Get("sensor.failing")
	assert.True(ok)
	assert.Equal("initial", st.Value, "a failed update does not publish state")
}

func TestPollOnceSkipsWhileBusy(t *testing.T) {

	assert := assert.New(t)

	c, _, logs := observedCoordinator(t, Options{ScanInterval: time.Hour})

	slow := newTestEntity("uid_slow", "Slow", true)
	slow.updateDelay = 150 * time.Millisecond
	assert.NoError(c.AddEntities(context.Background(), []domain.Entity{slow}, false))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.pollOnce(context.Background())
	}()

	// let the first cycle grab the lock before ticking again
	time.Sleep(30 * time.Millisecond)
	c.pollOnce(context.Background())
	<-done

	assert.Equal(1, slow.updateCount(), "overlapping cycle is dropped, not queued")
	assert.Equal(1, logs.FilterMessage("updating took longer than the scheduled scan interval; skipping cycle").Len())
}

func TestRetryBackoffIsCappedLinear(t *testing.T) {

	assert := assert.New(t)

	r := newRetryState(10*time.Millisecond, 3)
	t.Cleanup(r.cancel)

	var delays []time.Duration
	for i := 0; i < 5; i++ {
		delays = append(delays, r.notReady(func() {}))
	}

	assert.Equal([]time.Duration{
		10 * time.Millisecond,
		20 * time.Millisecond,
		30 * time.Millisecond,
		30 * time.Millisecond,
		30 * time.Millisecond,
	}, delays, "delay grows linearly up to the cap")
}
