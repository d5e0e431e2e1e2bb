package actor

import (
	"context"
	"fmt"
	"testing"
	"time"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/reugn/go-quartz/quartz"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	adactor "hearthd/internal/adapter/actor"
	"hearthd/internal/core/domain"
	"hearthd/internal/core/hub"
	"hearthd/internal/registry"
	"hearthd/internal/util"

	_ "hearthd/internal/integration/demo"
)

func TestMasterActor(t *testing.T) {

	as := pactor.NewActorSystem()
	rootCtx := as.Root

	cfg := util.LoadTestConfig()
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	h := hub.New(registry.NewInMemory(logger))

	schedCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sched := quartz.NewStdScheduler()
	sched.Start(schedCtx)
	defer sched.Stop()

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return NewMasterOfPuppetsActor(cfg, h, sched, func(events *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, events, logger)
		}, logger)
	})
	pid, err := rootCtx.SpawnNamed(props, "master")
	if err != nil {
		t.Error(err)
		return
	}

	time.Sleep(2 * time.Second)

	res, err := rootCtx.RequestFuture(pid, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	healthResp, ok := res.(domain.ActorHealthResponse)
	assert.True(t, ok)
	fmt.Printf("Health response: %+v\n", healthResp)
	assert.NotNil(t, healthResp)

	assert.True(t, healthResp.Healthy, "healthy is true")

	// demo platform should be loaded with its simulated entities registered
	res, err = rootCtx.RequestFuture(pid, domain.PlatformStatusRequest{}, 10*time.Second).Result()
	if err != nil {
		t.Error(err)
	}
	statusResp, ok := res.(domain.PlatformStatusResponse)
	assert.True(t, ok)
	assert.Len(t, statusResp.Platforms, 1)
	assert.Equal(t, "demo", statusResp.Platforms[0].Platform)
	assert.Equal(t, "sensor", statusResp.Platforms[0].Domain)
	assert.True(t, statusResp.Platforms[0].Loaded, "demo platform loaded")
	assert.Equal(t, 2, statusResp.Platforms[0].EntityCount)

	rootCtx.Stop(pid)

	as.Shutdown()
}
