package hub

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"hearthd/internal/core/domain"
	"hearthd/internal/registry"
)

func TestStateStorePublishesEvents(t *testing.T) {

	assert := assert.New(t)

	h := New(registry.NewInMemory(zaptest.NewLogger(t)))

	var events []any
	sub := h.Events().Subscribe(func(value any) {
		events = append(events, value)
	})
	defer h.Events().Unsubscribe(sub)

	h.States().Set("sensor.power", domain.State{Value: "42"})

	st, ok := h.States().Get("sensor.power")
	assert.True(ok)
	assert.Equal("42", st.Value)
	assert.False(st.UpdatedAt.IsZero(), "timestamp is filled in")

	h.States().Remove("sensor.power")
	_, ok = h.States().Get("sensor.power")
	assert.False(ok)

	// removing an unknown id publishes nothing
	h.States().Remove("sensor.power")

	assert.Len(events, 2)
	stateEv, ok := events[0].(domain.EntityStateEvent)
	assert.True(ok)
	assert.Equal("sensor.power", stateEv.EntityID)
	removedEv, ok := events[1].(domain.EntityRemovedEvent)
	assert.True(ok)
	assert.Equal("sensor.power", removedEv.EntityID)
}

func TestHubLoadedComponents(t *testing.T) {

	assert := assert.New(t)

	h := New(registry.NewInMemory(zaptest.NewLogger(t)))

	assert.False(h.IsLoaded("demo.sensor"))
	h.MarkLoaded("demo.sensor")
	h.MarkLoaded("sysmon.sensor")
	assert.True(h.IsLoaded("demo.sensor"))
	assert.Equal([]string{"demo.sensor", "sysmon.sensor"}, h.Components())
}
