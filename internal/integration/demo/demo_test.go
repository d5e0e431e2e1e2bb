package demo

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"hearthd/internal/core/domain"
	"hearthd/internal/core/hub"
	"hearthd/internal/registry"
)

func TestDemoSetup(t *testing.T) {

	assert := assert.New(t)

	h := hub.New(registry.NewInMemory(zaptest.NewLogger(t)))

	var got []domain.Entity
	add := func(entities []domain.Entity, updateBeforeAdd bool) {
		got = entities
	}

	err := Setup(context.Background(), h, map[string]any{
		"sensors":  1,
		"switches": 1,
	}, nil, add)

	assert.NoError(err)
	assert.Len(got, 2)
	assert.True(got[0].ShouldPoll(), "sensors poll")
	assert.False(got[1].ShouldPoll(), "switches do not poll")

	_, commandable := got[1].(domain.Commandable)
	assert.True(commandable)
}

func TestDemoSetupNotReady(t *testing.T) {

	assert := assert.New(t)

	h := hub.New(registry.NewInMemory(zaptest.NewLogger(t)))
	cfg := map[string]any{"fail_first_setups": 1}
	add := func(entities []domain.Entity, updateBeforeAdd bool) {}

	err := Setup(context.Background(), h, cfg, nil, add)
	var notReady *domain.NotReadyError
	assert.ErrorAs(err, &notReady)

	// the same config value succeeds on the retry
	assert.NoError(Setup(context.Background(), h, cfg, nil, add))
}

func TestSimulatedSwitchCommands(t *testing.T) {

	assert := assert.New(t)

	sw := &simulatedSwitch{}

	assert.Equal("OFF", sw.State().Value)
	assert.NoError(sw.HandleCommand(context.Background(), "on"))
	assert.Equal("ON", sw.State().Value)
	assert.NoError(sw.HandleCommand(context.Background(), " OFF "))
	assert.Equal("OFF", sw.State().Value)
	assert.Error(sw.HandleCommand(context.Background(), "toggle"))
}

func TestSimulatedSensorUpdate(t *testing.T) {

	assert := assert.New(t)

	var got []domain.Entity
	add := func(entities []domain.Entity, updateBeforeAdd bool) {
		got = entities
	}
	h := hub.New(registry.NewInMemory(zaptest.NewLogger(t)))
	assert.NoError(Setup(context.Background(), h, map[string]any{"sensors": 1}, nil, add))
	assert.Len(got, 1)

	assert.NoError(got[0].Update(context.Background()))
	after, err := strconv.ParseFloat(got[0].State().Value, 64)
	assert.NoError(err)
	assert.InDelta(0, after, 1.0, "one step stays within the walk bound")
}
