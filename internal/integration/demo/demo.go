// Package demo provides simulated entities for trying out the hub without
// any hardware attached.
package demo

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"hearthd/internal/core/domain"
	"hearthd/internal/core/hub"
	"hearthd/internal/integration"
)

func init() {
	integration.Register("demo", Setup)
}

type demoConfig struct {
	Sensors         int     `mapstructure:"sensors"`
	Switches        int     `mapstructure:"switches"`
	StartValue      float64 `mapstructure:"start_value"`
	FailFirstSetups int     `mapstructure:"fail_first_setups"`
	UniqueIDs       bool    `mapstructure:"unique_ids"`
	UpdateBeforeAdd bool    `mapstructure:"update_before_add"`
}

var (
	setupMu     sync.Mutex
	setupCounts = map[string]int{}
)

// Setup creates the configured number of simulated sensors and switches.
// With fail_first_setups > 0 the first attempts report not ready, which is
// handy for exercising the retry path end to end.
func Setup(ctx context.Context, h *hub.Hub, config, discovery map[string]any, add domain.AddEntitiesFunc) error {
	var cfg demoConfig
	cfg.Sensors = 2
	cfg.UniqueIDs = true
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return fmt.Errorf("decode demo config: %w", err)
	}

	if cfg.FailFirstSetups > 0 {
		setupMu.Lock()
		key := fmt.Sprintf("%p", config)
		setupCounts[key]++
		attempt := setupCounts[key]
		setupMu.Unlock()
		if attempt <= cfg.FailFirstSetups {
			return domain.NotReady("simulated startup delay (attempt %d)", attempt)
		}
	}

	entities := make([]domain.Entity, 0, cfg.Sensors+cfg.Switches)
	for i := 0; i < cfg.Sensors; i++ {
		s := &simulatedSensor{
			value: cfg.StartValue,
			rng:   rand.New(rand.NewSource(time.Now().UnixNano() + int64(i))),
		}
		s.EntityName = fmt.Sprintf("Demo Sensor %d", i+1)
		s.Poll = true
		if cfg.UniqueIDs {
			s.EntityUniqueID = fmt.Sprintf("demo_sensor_%d", i+1)
		}
		entities = append(entities, s)
	}
	for i := 0; i < cfg.Switches; i++ {
		sw := &simulatedSwitch{}
		sw.EntityName = fmt.Sprintf("Demo Switch %d", i+1)
		if cfg.UniqueIDs {
			sw.EntityUniqueID = fmt.Sprintf("demo_switch_%d", i+1)
		}
		entities = append(entities, sw)
	}

	add(entities, cfg.UpdateBeforeAdd)
	return nil
}

// simulatedSensor produces a bounded random walk.
type simulatedSensor struct {
	domain.BaseEntity

	mu    sync.Mutex
	rng   *rand.Rand
	value float64
}

func (s *simulatedSensor) Update(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value += (s.rng.Float64() - 0.5) * 2
	return nil
}

func (s *simulatedSensor) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.State{
		Value: strconv.FormatFloat(s.value, 'f', 2, 64),
		Attributes: map[string]any{
			"simulated": true,
		},
	}
}

// simulatedSwitch keeps an on/off flag toggled through commands.
type simulatedSwitch struct {
	domain.BaseEntity

	mu sync.Mutex
	on bool
}

func (s *simulatedSwitch) HandleCommand(ctx context.Context, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch strings.ToUpper(strings.TrimSpace(payload)) {
	case "ON":
		s.on = true
	case "OFF":
		s.on = false
	default:
		return fmt.Errorf("unsupported switch command %q", payload)
	}
	return nil
}

func (s *simulatedSwitch) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	value := "OFF"
	if s.on {
		value = "ON"
	}
	return domain.State{Value: value}
}
