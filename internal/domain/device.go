// Package domain contains the core business entities shared by every
// component of the fleet: devices, their register declarations, readings,
// and the transient hosts the discovery pipeline produces. These types are
// protocol-agnostic; adapters translate them to and from the wire.
package domain

import (
	"encoding/json"
	"net"
	"strconv"
	"time"
)

// Protocol identifies the wire protocol a device speaks.
type Protocol string

const (
	ProtocolModbusTCP  Protocol = "modbus_tcp"
	ProtocolS7         Protocol = "s7_tcp"
	ProtocolEthernetIP Protocol = "ethernet_ip"
	ProtocolOPCUA      Protocol = "opcua"
)

// SupportedProtocols is the set the Adapter Registry is populated with at
// process start. Any other tag is a ConfigError.
var SupportedProtocols = map[Protocol]bool{
	ProtocolModbusTCP: true,
	ProtocolS7:        true,
	ProtocolOPCUA:     true,
}

// WordOrder controls how two consecutive 16-bit words are combined into a
// 32-bit float. Defaults to WordOrderHighFirst (see SPEC_FULL.md Open
// Question 2).
type WordOrder string

const (
	WordOrderHighFirst WordOrder = "high_first" // ABCD
	WordOrderLowFirst  WordOrder = "low_first"  // CDAB
	WordOrderHighSwap  WordOrder = "high_swap"  // BADC
	WordOrderLowSwap   WordOrder = "low_swap"   // DCBA
)

// Device is a controller the fleet talks to.
type Device struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`

	MAC    string `json:"mac,omitempty"`
	IP     string `json:"ip_address"`
	Subnet string `json:"subnet,omitempty"`

	// Ports is the list of open ports discovered or declared for this
	// device; the first entry is the default connect port.
	Ports []int `json:"ports"`

	Protocol Protocol `json:"protocol"`
	Kind     string   `json:"tipo,omitempty"`

	UnitID uint8 `json:"unit_id"`

	PollingInterval time.Duration `json:"polling_interval"`
	Timeout         time.Duration `json:"timeout"`
	WordOrder       WordOrder     `json:"word_order,omitempty"`

	Active bool `json:"active"`
	Online bool `json:"online"`

	LastConnection time.Time `json:"last_connection,omitempty"`

	// Manual is true when this row was created by an operator; discovery
	// may never overwrite it unless overwrite_existing is explicitly set.
	Manual bool `json:"manual"`

	Info json.RawMessage `json:"info,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate enforces the invariants in SPEC_FULL.md §3 and returns the first
// violation as one of the sentinel errors in errors.go. No code path in
// this module calls it; the Supervisor starts devices without validating
// them.
func (d *Device) Validate() error {
	if d.ID == 0 && d.IP == "" {
		return ErrDeviceIDRequired
	}
	if d.Name == "" {
		return ErrDeviceNameRequired
	}
	if d.IP == "" {
		return ErrDeviceIPRequired
	}
	if d.Protocol == "" {
		return ErrProtocolRequired
	}
	if !SupportedProtocols[d.Protocol] {
		return ErrUnknownProtocol
	}
	if d.PollingInterval < 100*time.Millisecond {
		return ErrPollIntervalTooShort
	}
	if d.Timeout < 100*time.Millisecond {
		return ErrTimeoutTooShort
	}
	return nil
}

// Port returns the port to connect on: an explicit override wins, else the
// device's first declared port, else the protocol's conventional default.
func (d *Device) Port(override int) int {
	if override != 0 {
		return override
	}
	if len(d.Ports) > 0 {
		return d.Ports[0]
	}
	switch d.Protocol {
	case ProtocolModbusTCP:
		return 502
	case ProtocolS7:
		return 102
	case ProtocolOPCUA:
		return 4840
	default:
		return 502
	}
}

// Address returns host:port for this device's current connect attempt.
func (d *Device) Address(override int) string {
	return net.JoinHostPort(d.IP, strconv.Itoa(d.Port(override)))
}

// EffectiveWordOrder returns the device's configured word order, defaulting
// to high-word-first when unset.
func (d *Device) EffectiveWordOrder() WordOrder {
	if d.WordOrder == "" {
		return WordOrderHighFirst
	}
	return d.WordOrder
}
