// Package s7 implements the Protocol Adapter contract over Siemens S7comm,
// using the same uniform connect/read/write contract as the Modbus and
// OPC-UA adapters. Register addresses map to byte offsets within a single
// fixed data block (DB1); a RegisterConfig's address is a word offset, so
// the byte offset is address*2.
package s7

import (
	"context"
	"sync"

	"github.com/robinson/gos7"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

const dataBlock = 1

// Adapter is the S7/TCP protocol adapter.
type Adapter struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]gos7.Client
	handles map[string]*gos7.TCPClientHandler
}

// New returns an S7/TCP adapter.
func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		logger:  logger.With().Str("component", "s7-adapter").Logger(),
		clients: make(map[string]gos7.Client),
		handles: make(map[string]*gos7.TCPClientHandler),
	}
}

// Connect opens a S7 connection using rack 0, slot 1 (the common default
// for S7-300/400 CPUs); idempotent per ip. The handler is built from the
// device IP alone: neither the port argument nor the device's declared
// ports are used.
func (a *Adapter) Connect(ctx context.Context, device *domain.Device, port int) bool {
	a.mu.RLock()
	_, exists := a.clients[device.IP]
	a.mu.RUnlock()
	if exists {
		return true
	}

	handler := gos7.NewTCPClientHandler(device.IP, 0, 1)
	handler.Timeout = device.Timeout
	handler.IdleTimeout = device.Timeout * 6

	if err := handler.Connect(); err != nil {
		a.logger.Error().Str("event", "connect_failed").Str("ip", device.IP).Err(err).Msg("s7 connect failed")
		return false
	}

	a.mu.Lock()
	a.handles[device.IP] = handler
	a.clients[device.IP] = gos7.NewClient(handler)
	a.mu.Unlock()

	a.logger.Info().Str("event", "connected").Str("ip", device.IP).Msg("s7 connected")
	return true
}

// Disconnect closes the connection; idempotent.
func (a *Adapter) Disconnect(device *domain.Device) {
	a.mu.Lock()
	handler, ok := a.handles[device.IP]
	delete(a.handles, device.IP)
	delete(a.clients, device.IP)
	a.mu.Unlock()

	if !ok {
		return
	}
	handler.Close()
	a.logger.Info().Str("event", "disconnected").Str("ip", device.IP).Msg("s7 disconnected")
}

// IsConnected reports whether a live client is currently held for this ip.
func (a *Adapter) IsConnected(device *domain.Device) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.clients[device.IP]
	return ok
}

// Read reads count words (2 bytes each) from DB1 starting at the byte
// offset address*2. Returns nil on any error.
func (a *Adapter) Read(ctx context.Context, device *domain.Device, regType domain.RegisterType, address, count int) []uint16 {
	a.mu.RLock()
	client, ok := a.clients[device.IP]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	buf := make([]byte, count*2)
	if err := client.AGReadDB(dataBlock, address*2, len(buf), buf); err != nil {
		a.logger.Warn().Str("event", "read_failed").Str("ip", device.IP).Int("address", address).Err(err).Msg("s7 read failed")
		return nil
	}

	words := make([]uint16, count)
	for i := 0; i < count; i++ {
		words[i] = uint16(buf[i*2])<<8 | uint16(buf[i*2+1])
	}
	return words
}

// Write writes one register (2 bytes) to DB1 at byte offset address*2.
func (a *Adapter) Write(ctx context.Context, device *domain.Device, regType domain.RegisterType, address int, value uint16) bool {
	a.mu.RLock()
	client, ok := a.clients[device.IP]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	buf := []byte{byte(value >> 8), byte(value)}
	if err := client.AGWriteDB(dataBlock, address*2, len(buf), buf); err != nil {
		a.logger.Warn().Str("event", "write_failed").Str("ip", device.IP).Int("address", address).Err(err).Msg("s7 write failed")
		return false
	}
	return true
}
