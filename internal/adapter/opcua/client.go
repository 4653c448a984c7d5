// Package opcua implements the Protocol Adapter contract over OPC-UA,
// adapted from the gateway's subscription-based client down to the
// uniform poll-driven connect/read/write contract every adapter in this
// fleet shares (SPEC_FULL.md §4.1): the Poller decides when to read, so
// there is no server-push subscription here, only synchronous reads
// against the node IDs a RegisterConfig's address maps to.
package opcua

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// Adapter is the OPC-UA protocol adapter. Node IDs are derived from a
// register's namespace-qualified address: ns=2;i=<address>.
type Adapter struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*opcua.Client
}

// New returns an OPC-UA adapter.
func New(logger zerolog.Logger) *Adapter {
	return &Adapter{
		logger:  logger.With().Str("component", "opcua-adapter").Logger(),
		clients: make(map[string]*opcua.Client),
	}
}

// Connect dials the OPC-UA endpoint opc.tcp://ip:port. Idempotent per ip.
func (a *Adapter) Connect(ctx context.Context, device *domain.Device, port int) bool {
	a.mu.RLock()
	_, exists := a.clients[device.IP]
	a.mu.RUnlock()
	if exists {
		return true
	}

	endpoint := fmt.Sprintf("opc.tcp://%s:%d", device.IP, device.Port(port))
	client, err := opcua.NewClient(endpoint)
	if err != nil {
		a.logger.Error().Str("event", "connect_failed").Str("ip", device.IP).Err(err).Msg("opcua client build failed")
		return false
	}

	dialCtx, cancel := context.WithTimeout(ctx, device.Timeout)
	defer cancel()
	if err := client.Connect(dialCtx); err != nil {
		a.logger.Error().Str("event", "connect_failed").Str("ip", device.IP).Err(err).Msg("opcua connect failed")
		return false
	}

	a.mu.Lock()
	a.clients[device.IP] = client
	a.mu.Unlock()

	a.logger.Info().Str("event", "connected").Str("ip", device.IP).Msg("opcua connected")
	return true
}

// Disconnect closes the session; idempotent.
func (a *Adapter) Disconnect(device *domain.Device) {
	a.mu.Lock()
	client, ok := a.clients[device.IP]
	if ok {
		delete(a.clients, device.IP)
	}
	a.mu.Unlock()

	if !ok {
		return
	}
	_ = client.Close(context.Background())
	a.logger.Info().Str("event", "disconnected").Str("ip", device.IP).Msg("opcua disconnected")
}

// IsConnected reports whether a session is currently held for this ip.
func (a *Adapter) IsConnected(device *domain.Device) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.clients[device.IP]
	return ok
}

// Read performs a synchronous OPC-UA read of a single node, encoded back
// into the uint16-word shape the Poller's decode step expects. address is
// the node's numeric identifier within namespace 2.
func (a *Adapter) Read(ctx context.Context, device *domain.Device, regType domain.RegisterType, address, count int) []uint16 {
	a.mu.RLock()
	client, ok := a.clients[device.IP]
	a.mu.RUnlock()
	if !ok {
		return nil
	}

	nodeID := ua.NewNumericNodeID(2, uint32(address))
	req := &ua.ReadRequest{
		MaxAge:             0,
		TimestampsToReturn: ua.TimestampsToReturnNeither,
		NodesToRead: []*ua.ReadValueID{
			{NodeID: nodeID, AttributeID: ua.AttributeIDValue},
		},
	}

	resp, err := client.Read(ctx, req)
	if err != nil || len(resp.Results) == 0 {
		a.logger.Warn().Str("event", "read_failed").Str("ip", device.IP).Int("address", address).Err(err).Msg("opcua read failed")
		return nil
	}

	result := resp.Results[0]
	if result.Status != ua.StatusOK || result.Value == nil {
		return nil
	}

	return encodeAsWords(result.Value, count)
}

// Write performs a synchronous OPC-UA write of a single node.
func (a *Adapter) Write(ctx context.Context, device *domain.Device, regType domain.RegisterType, address int, value uint16) bool {
	a.mu.RLock()
	client, ok := a.clients[device.IP]
	a.mu.RUnlock()
	if !ok {
		return false
	}

	nodeID := ua.NewNumericNodeID(2, uint32(address))
	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      nodeID,
				AttributeID: ua.AttributeIDValue,
				Value: &ua.DataValue{
					EncodingMask: ua.DataValueValue,
					Value:        ua.MustVariant(int32(value)),
				},
			},
		},
	}

	resp, err := client.Write(ctx, req)
	if err != nil || len(resp.Results) == 0 || resp.Results[0] != ua.StatusOK {
		a.logger.Warn().Str("event", "write_failed").Str("ip", device.IP).Int("address", address).Err(err).Msg("opcua write failed")
		return false
	}
	return true
}

// encodeAsWords packs an OPC-UA scalar value back into 16-bit words so the
// Poller's shared decode path (DataType-driven) works uniformly across
// adapters.
func encodeAsWords(v *ua.Variant, count int) []uint16 {
	words := make([]uint16, count)
	switch val := v.Value().(type) {
	case int16:
		words[0] = uint16(val)
	case uint16:
		words[0] = val
	case int32:
		if count >= 2 {
			words[0] = uint16(val >> 16)
			words[1] = uint16(val)
		} else {
			words[0] = uint16(val)
		}
	case float32:
		bits := math.Float32bits(val)
		if count >= 2 {
			words[0] = uint16(bits >> 16)
			words[1] = uint16(bits)
		}
	case bool:
		if val {
			words[0] = 1
		}
	default:
		return nil
	}
	return words
}
