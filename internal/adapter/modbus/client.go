// Package modbus implements the Protocol Adapter contract over Modbus/TCP,
// adapted from the gateway's production Modbus client: connection reuse
// keyed by device ip and a circuit breaker per device ip around reads and
// writes. A failed read or write is not retried here; it returns nil or
// false to the caller. Per-data-type decoding of the raw words this
// adapter returns is the Poller's concern (internal/poller), since it is
// identical across every protocol adapter, not specific to Modbus.
package modbus

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	gomodbus "github.com/goburrow/modbus"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// connection wraps one device's live handler and its circuit breaker. Only
// the owning Poller calls Read/Write on it; any worker may call
// Connect/Disconnect (both idempotent).
type connection struct {
	handler *gomodbus.TCPClientHandler
	client  gomodbus.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	mu      sync.Mutex
}

// Adapter is the Modbus/TCP protocol adapter. It maintains a process-local
// map ip -> live client, guarded by a mutex, per SPEC_FULL.md §4.1 and §5.
type Adapter struct {
	logger zerolog.Logger

	mu    sync.RWMutex
	conns map[string]*connection
}

// New returns a Modbus/TCP adapter. The returned value is safe for
// concurrent connect/disconnect calls; reads/writes for a given device
// must be serialized by the caller (the owning Poller).
func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		logger: logger.With().Str("component", "modbus-adapter").Logger(),
		conns:  make(map[string]*connection),
	}
}

func (a *Adapter) get(ip string) (*connection, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.conns[ip]
	return c, ok
}

// Connect opens (or reuses) a TCP connection to the device. Returns false
// and logs a structured event on failure; marks nothing on the device
// itself — the Poller owns the online/offline transition.
func (a *Adapter) Connect(ctx context.Context, device *domain.Device, port int) bool {
	if c, ok := a.get(device.IP); ok {
		c.mu.Lock()
		connected := c.handler != nil
		c.mu.Unlock()
		if connected {
			return true
		}
	}

	addr := fmt.Sprintf("%s:%d", device.IP, device.Port(port))
	handler := gomodbus.NewTCPClientHandler(addr)
	handler.Timeout = device.Timeout
	handler.SlaveId = device.UnitID
	if handler.SlaveId == 0 {
		handler.SlaveId = 1
	}

	done := make(chan error, 1)
	go func() { done <- handler.Connect() }()

	select {
	case err := <-done:
		if err != nil {
			a.logger.Error().
				Str("event", "connect_failed").
				Str("ip", device.IP).
				Int("port", device.Port(port)).
				Err(err).
				Msg("modbus connect failed")
			return false
		}
	case <-ctx.Done():
		a.logger.Error().
			Str("event", "connect_timeout").
			Str("ip", device.IP).
			Msg("modbus connect cancelled")
		return false
	}

	name := "modbus-" + device.IP
	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	a.mu.Lock()
	a.conns[device.IP] = &connection{
		handler: handler,
		client:  gomodbus.NewClient(handler),
		breaker: breaker,
	}
	a.mu.Unlock()

	a.logger.Info().Str("event", "connected").Str("ip", device.IP).Msg("modbus connected")
	return true
}

// Disconnect closes the transport for this device's ip; idempotent.
func (a *Adapter) Disconnect(device *domain.Device) {
	a.mu.Lock()
	c, ok := a.conns[device.IP]
	if ok {
		delete(a.conns, device.IP)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	c.mu.Lock()
	if c.handler != nil {
		if err := c.handler.Close(); err != nil {
			a.logger.Warn().Str("ip", device.IP).Err(err).Msg("error closing modbus connection")
		}
		c.handler = nil
	}
	c.mu.Unlock()

	a.logger.Info().Str("event", "disconnected").Str("ip", device.IP).Msg("modbus disconnected")
}

// IsConnected reports whether a live handler is currently held for this ip.
func (a *Adapter) IsConnected(device *domain.Device) bool {
	c, ok := a.get(device.IP)
	if !ok {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler != nil
}

// Read reads count 16-bit words at address for the given register type.
// Returns nil on any transport error, protocol error, or timeout — never
// propagates an error to the caller.
func (a *Adapter) Read(ctx context.Context, device *domain.Device, regType domain.RegisterType, address, count int) []uint16 {
	c, ok := a.get(device.IP)
	if !ok {
		return nil
	}

	raw, err := c.breaker.Execute(func() ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.client == nil {
			return nil, domain.ErrDeviceIPRequired
		}
		switch regType {
		case domain.RegisterCoil:
			return c.client.ReadCoils(uint16(address), uint16(count))
		case domain.RegisterDiscrete:
			return c.client.ReadDiscreteInputs(uint16(address), uint16(count))
		case domain.RegisterHolding:
			return c.client.ReadHoldingRegisters(uint16(address), uint16(count))
		case domain.RegisterInput:
			return c.client.ReadInputRegisters(uint16(address), uint16(count))
		default:
			return nil, domain.ErrUnknownRegisterType
		}
	})
	if err != nil {
		a.logger.Warn().
			Str("event", "read_failed").
			Str("ip", device.IP).
			Int("address", address).
			Err(err).
			Msg("modbus read failed")
		if isTimeout(err) {
			return nil
		}
		return nil
	}
	if len(raw) == 0 {
		return nil
	}

	if regType == domain.RegisterCoil || regType == domain.RegisterDiscrete {
		words := make([]uint16, count)
		for i := 0; i < count && i/8 < len(raw); i++ {
			if raw[i/8]&(1<<(uint(i)%8)) != 0 {
				words[i] = 1
			}
		}
		return words
	}

	words := make([]uint16, len(raw)/2)
	for i := range words {
		words[i] = binary.BigEndian.Uint16(raw[i*2 : i*2+2])
	}
	return words
}

// Write writes one register; returns false on any error.
func (a *Adapter) Write(ctx context.Context, device *domain.Device, regType domain.RegisterType, address int, value uint16) bool {
	c, ok := a.get(device.IP)
	if !ok {
		return false
	}
	_, err := c.breaker.Execute(func() ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.client == nil {
			return nil, domain.ErrDeviceIPRequired
		}
		return c.client.WriteSingleRegister(uint16(address), value)
	})
	if err != nil {
		a.logger.Warn().
			Str("event", "write_failed").
			Str("ip", device.IP).
			Int("address", address).
			Err(err).
			Msg("modbus write failed")
		return false
	}
	return true
}

func isTimeout(err error) bool {
	if netErr, ok := err.(net.Error); ok {
		return netErr.Timeout()
	}
	return false
}
