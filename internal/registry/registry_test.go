package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"
)

func TestGetOrCreateIsIdempotent(t *testing.T) {

	assert := assert.New(t)

	reg := NewInMemory(zaptest.NewLogger(t))

	first := reg.GetOrCreate("sensor", "demo", "abc123", GetOrCreateOptions{SuggestedObjectID: "Grid Power"})
	second := reg.GetOrCreate("sensor", "demo", "abc123", GetOrCreateOptions{SuggestedObjectID: "Other Name"})

	assert.Equal("sensor.grid_power", first.EntityID)
	assert.Equal(first.EntityID, second.EntityID, "same unique id resolves to same entity id")
}

func TestGetOrCreateCollisionSuffix(t *testing.T) {

	assert := assert.New(t)

	reg := NewInMemory(zaptest.NewLogger(t))

	a := reg.GetOrCreate("sensor", "demo", "uid_a", GetOrCreateOptions{SuggestedObjectID: "Power"})
	b := reg.GetOrCreate("sensor", "demo", "uid_b", GetOrCreateOptions{SuggestedObjectID: "Power"})
	c := reg.GetOrCreate("sensor", "other", "uid_c", GetOrCreateOptions{SuggestedObjectID: "Power"})

	assert.Equal("sensor.power", a.EntityID)
	assert.Equal("sensor.power_2", b.EntityID)
	assert.Equal("sensor.power_3", c.EntityID)
}

func TestGenerateEntityIDAvoidsTakenSet(t *testing.T) {

	assert := assert.New(t)

	reg := NewInMemory(zaptest.NewLogger(t))
	taken := map[string]struct{}{"sensor.power": {}}

	id := reg.GenerateEntityID("sensor", "Power", taken)

	assert.Equal("sensor.power_2", id)
}

func TestDisabledByDefault(t *testing.T) {

	assert := assert.New(t)

	reg := NewInMemory(zaptest.NewLogger(t))

	e := reg.GetOrCreate("sensor", "demo", "uid", GetOrCreateOptions{
		SuggestedObjectID: "Hidden",
		DisabledByDefault: true,
	})

	assert.True(e.Disabled)
	// the flag persists for later resolutions of the same unique id
	again := reg.GetOrCreate("sensor", "demo", "uid", GetOrCreateOptions{})
	assert.True(again.Disabled)
}

func TestSetDisabledNotifiesSubscribers(t *testing.T) {

	assert := assert.New(t)

	reg := NewInMemory(zaptest.NewLogger(t))
	e := reg.GetOrCreate("sensor", "demo", "uid", GetOrCreateOptions{SuggestedObjectID: "Power"})

	var got []Entry
	unsubscribe := reg.Subscribe(func(entry Entry) {
		got = append(got, entry)
	})

	assert.NoError(reg.SetDisabled(e.EntityID, true))
	assert.Len(got, 1)
	assert.True(got[0].Disabled)

	unsubscribe()
	assert.NoError(reg.SetDisabled(e.EntityID, false))
	assert.Len(got, 1, "unsubscribed listener is not called")

	assert.Error(reg.SetDisabled("sensor.nope", true))
}

func TestLoadRoundTrip(t *testing.T) {

	assert := assert.New(t)

	dir := t.TempDir()
	reg, err := Load(dir, zaptest.NewLogger(t))
	assert.NoError(err)

	created := reg.GetOrCreate("sensor", "demo", "uid", GetOrCreateOptions{SuggestedObjectID: "Power", Name: "Power"})

	// a fresh registry over the same dir sees the persisted entry
	reloaded, err := Load(dir, zaptest.NewLogger(t))
	assert.NoError(err)

	id, ok := reloaded.GetEntityID("sensor", "demo", "uid")
	assert.True(ok)
	assert.Equal(created.EntityID, id)
	assert.True(reloaded.IsRegistered(created.EntityID))

	_, err = os.Stat(filepath.Join(dir, registryFileName))
	assert.NoError(err)
}

func TestValidEntityID(t *testing.T) {

	assert := assert.New(t)

	assert.True(ValidEntityID("sensor.grid_power"))
	assert.False(ValidEntityID("sensor.Grid"))
	assert.False(ValidEntityID("sensor."))
	assert.False(ValidEntityID("grid_power"))
	assert.False(ValidEntityID("sensor._grid"))
	assert.False(ValidEntityID("sensor.grid__power"))
}

func TestSlugify(t *testing.T) {

	assert := assert.New(t)

	assert.Equal("grid_power_w", Slugify("Grid Power (W)"))
	assert.Equal("unnamed_device", Slugify("Unnamed  Device "))
	assert.Equal("", Slugify("!!!"))
}
