// Package sysmon exposes host metrics (cpu, memory, load) as polled sensor
// entities.
package sysmon

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/mitchellh/mapstructure"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"hearthd/internal/core/domain"
	"hearthd/internal/core/hub"
	"hearthd/internal/integration"
)

func init() {
	integration.Register("sysmon", Setup)
}

type sysmonConfig struct {
	CPU    bool `mapstructure:"cpu"`
	Memory bool `mapstructure:"memory"`
	Load   bool `mapstructure:"load"`
}

func Setup(ctx context.Context, h *hub.Hub, config, discovery map[string]any, add domain.AddEntitiesFunc) error {
	cfg := sysmonConfig{CPU: true, Memory: true, Load: true}
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return fmt.Errorf("decode sysmon config: %w", err)
	}

	// Probe once so a host without the needed kernel interfaces fails setup
	// instead of producing entities that never update.
	if _, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		return domain.NotReady("host metrics unavailable: %s", err)
	}

	var entities []domain.Entity
	if cfg.CPU {
		entities = append(entities, newCPUSensor())
	}
	if cfg.Memory {
		entities = append(entities, newMemorySensor())
	}
	if cfg.Load {
		entities = append(entities, newLoadSensor())
	}
	add(entities, true)
	return nil
}

type cpuSensor struct {
	domain.BaseEntity

	mu      sync.Mutex
	percent float64
}

func newCPUSensor() *cpuSensor {
	s := &cpuSensor{}
	s.EntityUniqueID = "sysmon_cpu_percent"
	s.EntityName = "CPU usage"
	s.Poll = true
	return s
}

func (s *cpuSensor) Update(ctx context.Context) error {
	percents, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("read cpu usage: %w", err)
	}
	if len(percents) == 0 {
		return fmt.Errorf("read cpu usage: no data")
	}
	s.mu.Lock()
	s.percent = percents[0]
	s.mu.Unlock()
	return nil
}

func (s *cpuSensor) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return domain.State{
		Value:      strconv.FormatFloat(s.percent, 'f', 1, 64),
		Attributes: map[string]any{"unit_of_measurement": "%"},
	}
}

type memorySensor struct {
	domain.BaseEntity

	mu   sync.Mutex
	stat *mem.VirtualMemoryStat
}

func newMemorySensor() *memorySensor {
	s := &memorySensor{}
	s.EntityUniqueID = "sysmon_memory_percent"
	s.EntityName = "Memory usage"
	s.Poll = true
	return s
}

func (s *memorySensor) Update(ctx context.Context) error {
	stat, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("read memory usage: %w", err)
	}
	s.mu.Lock()
	s.stat = stat
	s.mu.Unlock()
	return nil
}

func (s *memorySensor) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stat == nil {
		return domain.State{Value: "unknown"}
	}
	return domain.State{
		Value: strconv.FormatFloat(s.stat.UsedPercent, 'f', 1, 64),
		Attributes: map[string]any{
			"unit_of_measurement": "%",
			"total_bytes":         s.stat.Total,
			"available_bytes":     s.stat.Available,
		},
	}
}

type loadSensor struct {
	domain.BaseEntity

	mu   sync.Mutex
	load *load.AvgStat
}

func newLoadSensor() *loadSensor {
	s := &loadSensor{}
	s.EntityUniqueID = "sysmon_load_1m"
	s.EntityName = "Load average 1m"
	s.Poll = true
	return s
}

func (s *loadSensor) Update(ctx context.Context) error {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return fmt.Errorf("read load average: %w", err)
	}
	s.mu.Lock()
	s.load = avg
	s.mu.Unlock()
	return nil
}

func (s *loadSensor) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.load == nil {
		return domain.State{Value: "unknown"}
	}
	return domain.State{
		Value: strconv.FormatFloat(s.load.Load1, 'f', 2, 64),
		Attributes: map[string]any{
			"load_5m":  s.load.Load5,
			"load_15m": s.load.Load15,
		},
	}
}
