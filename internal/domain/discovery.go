package domain

import "time"

// InterfaceKind classifies a local network interface for discovery's
// interface-enumeration phase.
type InterfaceKind string

const (
	InterfaceEthernet InterfaceKind = "ethernet"
	InterfaceWireless InterfaceKind = "wireless"
	InterfaceBridge   InterfaceKind = "bridge"
	InterfaceVirtual  InterfaceKind = "virtual"
	InterfaceTunnel   InterfaceKind = "tunnel"
	InterfaceUnknown  InterfaceKind = "unknown"
)

// NetInterface is one UP, non-loopback IPv4 interface found during phase 1.
type NetInterface struct {
	Name      string
	IP        string
	Netmask   string
	Network   string // CIDR
	Broadcast string
	MAC       string
	Kind      InterfaceKind
}

// DiscoveryMethod names which phase produced evidence for a host.
type DiscoveryMethod string

const (
	ViaPassive DiscoveryMethod = "passive"
	ViaARP     DiscoveryMethod = "arp"
	ViaICMP    DiscoveryMethod = "icmp"
	ViaTCP     DiscoveryMethod = "tcp"
	ViaNmap    DiscoveryMethod = "nmap"
)

// PortState is the quick-probe or deep-scan observed state of a port.
type PortState string

const (
	PortOpen    PortState = "open"
	PortClosed  PortState = "closed"
	PortUnknown PortState = "unknown"
)

// PortInfo is what's known about one open port on a discovered host.
type PortInfo struct {
	Port    int
	State   PortState
	Method  DiscoveryMethod
	Service string
	Product string
	Version string
}

// IndustrialDevice is the Industrial Classifier's verdict for a host.
type IndustrialDevice struct {
	Type         string
	Manufacturer string
	Protocols    []string
	Confidence   int
}

// DiscoveredHost is the transient record produced by one pass of the
// Discovery Pipeline, before MAC-based dedup and import.
type DiscoveredHost struct {
	IP        string
	MAC       string // normalized aa:bb:cc:dd:ee:ff, empty if unknown
	Interface string
	Network   string

	Ports    map[int]*PortInfo
	Services map[int]string

	DiscoveredVia map[DiscoveryMethod]bool
	RespondsPing  bool

	Industrial IndustrialDevice

	// IPsSeen accumulates every IP this (MAC-deduplicated) host group was
	// observed under.
	IPsSeen []string

	Timestamp time.Time
}

// NewDiscoveredHost returns a host record with its maps initialized.
func NewDiscoveredHost(ip string) *DiscoveredHost {
	return &DiscoveredHost{
		IP:            ip,
		Ports:         make(map[int]*PortInfo),
		Services:      make(map[int]string),
		DiscoveredVia: make(map[DiscoveryMethod]bool),
		IPsSeen:       []string{ip},
		Timestamp:     time.Now(),
	}
}

// HasOpenPort reports whether any of the given ports was observed open.
func (h *DiscoveredHost) HasOpenPort(ports ...int) bool {
	for _, p := range ports {
		if info, ok := h.Ports[p]; ok && info.State == PortOpen {
			return true
		}
	}
	return false
}
