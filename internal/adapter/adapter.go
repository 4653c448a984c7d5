// Package adapter defines the uniform contract every protocol
// implementation satisfies, per SPEC_FULL.md §4.1.
package adapter

import (
	"context"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// Adapter is the capability set a Per-Device Poller drives: connect,
// disconnect, read, write. Implementations must never panic into the
// caller — every failure surfaces through the return value, never a raised
// error that escapes this boundary uncaught by the adapter itself.
type Adapter interface {
	// Connect opens a transport to the device on the chosen port (an
	// explicit port wins over the device's first declared port). Idempotent:
	// if a live connection exists for this device's ip, it is reused.
	Connect(ctx context.Context, device *domain.Device, port int) bool

	// Disconnect closes the active transport; a no-op if none is open.
	Disconnect(device *domain.Device)

	// Read reads count 16-bit words starting at address. Returns nil on
	// any transport error, protocol error, empty payload, or timeout.
	Read(ctx context.Context, device *domain.Device, regType domain.RegisterType, address, count int) []uint16

	// Write writes one register; returns false on any error.
	Write(ctx context.Context, device *domain.Device, regType domain.RegisterType, address int, value uint16) bool

	// IsConnected reports whether a live connection is currently held for
	// this device's ip.
	IsConnected(device *domain.Device) bool
}

// Factory constructs an Adapter instance. Factories must be stateless; the
// Adapter Registry shares factory descriptors across the process.
type Factory func() Adapter
