// Package modbus reads holding registers from a Modbus TCP device and
// exposes each configured register as a polled sensor entity.
//
// All sensors of a platform share one TCP connection. The underlying client
// is not safe for concurrent use, so every read goes through the shared
// connection mutex.
package modbus

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	mb "github.com/simonvetter/modbus"

	"hearthd/internal/core/domain"
	"hearthd/internal/core/hub"
	"hearthd/internal/integration"
)

func init() {
	integration.Register("modbus", Setup)
}

type modbusConfig struct {
	Host          string           `mapstructure:"host"`
	Port          uint             `mapstructure:"port"`
	UnitID        uint8            `mapstructure:"unit_id"`
	TimeoutMillis uint32           `mapstructure:"timeout_millis"`
	Registers     []registerConfig `mapstructure:"registers"`
}

type registerConfig struct {
	Name    string  `mapstructure:"name"`
	Address uint16  `mapstructure:"address"`
	Scale   float64 `mapstructure:"scale"`
	Unit    string  `mapstructure:"unit"`
}

func Setup(ctx context.Context, h *hub.Hub, config, discovery map[string]any, add domain.AddEntitiesFunc) error {
	cfg := modbusConfig{Port: 502, TimeoutMillis: 5000}
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return fmt.Errorf("decode modbus config: %w", err)
	}
	if cfg.Host == "" {
		return fmt.Errorf("modbus config: host is required")
	}
	if len(cfg.Registers) == 0 {
		return fmt.Errorf("modbus config: no registers configured")
	}

	client, err := mb.NewClient(&mb.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", cfg.Host, cfg.Port),
		Timeout: time.Duration(cfg.TimeoutMillis) * time.Millisecond,
	})
	if err != nil {
		return fmt.Errorf("create modbus client: %w", err)
	}
	if cfg.UnitID > 0 {
		if err := client.SetUnitId(cfg.UnitID); err != nil {
			return fmt.Errorf("set modbus unit id: %w", err)
		}
	}
	if err := client.Open(); err != nil {
		// The device may simply not be powered up yet. Report not ready so
		// setup is retried instead of failing the platform for good.
		return domain.NotReady("modbus device %s:%d unreachable: %s", cfg.Host, cfg.Port, err)
	}

	conn := &connection{client: client, refs: len(cfg.Registers)}
	entities := make([]domain.Entity, 0, len(cfg.Registers))
	for _, reg := range cfg.Registers {
		entities = append(entities, newRegisterSensor(conn, reg))
	}
	add(entities, true)
	return nil
}

// connection wraps the shared modbus client. The last sensor removed closes
// the TCP connection.
type connection struct {
	mu     sync.Mutex
	client *mb.ModbusClient
	refs   int
}

func (c *connection) readRegister(address uint16) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	regs, err := c.client.ReadRegisters(address, 1, mb.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	if len(regs) == 0 {
		return 0, fmt.Errorf("empty response for register %d", address)
	}
	return regs[0], nil
}

func (c *connection) release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refs--
	if c.refs > 0 {
		return nil
	}
	return c.client.Close()
}

type registerSensor struct {
	domain.BaseEntity

	conn *connection
	reg  registerConfig

	mu    sync.Mutex
	value float64
	read  bool
}

func newRegisterSensor(conn *connection, reg registerConfig) *registerSensor {
	if reg.Scale == 0 {
		reg.Scale = 1
	}
	s := &registerSensor{conn: conn, reg: reg}
	s.EntityUniqueID = fmt.Sprintf("modbus_register_%d", reg.Address)
	s.EntityName = reg.Name
	if s.EntityName == "" {
		s.EntityName = fmt.Sprintf("Register %d", reg.Address)
	}
	s.Poll = true
	return s
}

func (s *registerSensor) Update(ctx context.Context) error {
	raw, err := s.conn.readRegister(s.reg.Address)
	if err != nil {
		return fmt.Errorf("read register %d: %w", s.reg.Address, err)
	}
	s.mu.Lock()
	s.value = float64(raw) * s.reg.Scale
	s.read = true
	s.mu.Unlock()
	return nil
}

func (s *registerSensor) State() domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.read {
		return domain.State{Value: "unknown"}
	}
	attrs := map[string]any{"address": s.reg.Address}
	if s.reg.Unit != "" {
		attrs["unit_of_measurement"] = s.reg.Unit
	}
	return domain.State{
		Value:      strconv.FormatFloat(s.value, 'f', 2, 64),
		Attributes: attrs,
	}
}

func (s *registerSensor) WillRemove(ctx context.Context) error {
	return s.conn.release()
}
