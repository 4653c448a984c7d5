// Package discovery implements the multi-phase network discovery pipeline
// from SPEC_FULL.md §4.8, grounded on original_source's scapy-based
// discovery.py (passive sniff + ARP sweep + port scan) reworked onto
// golang.org/x/net/icmp and the standard library's net package, since the
// example pack carries no packet-capture library (see DESIGN.md).
package discovery

import (
	"net"
	"strings"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// EnumerateInterfaces returns every UP, non-loopback IPv4 interface on the
// host — discovery pipeline phase 1.
func EnumerateInterfaces() ([]domain.NetInterface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []domain.NetInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok || ipnet.IP.To4() == nil {
				continue
			}
			out = append(out, domain.NetInterface{
				Name:      iface.Name,
				IP:        ipnet.IP.String(),
				Netmask:   net.IP(ipnet.Mask).String(),
				Network:   ipnet.String(),
				Broadcast: broadcastAddr(ipnet).String(),
				MAC:       iface.HardwareAddr.String(),
				Kind:      classifyInterface(iface.Name, iface.Flags),
			})
		}
	}
	return out, nil
}

func broadcastAddr(n *net.IPNet) net.IP {
	ip := n.IP.To4()
	mask := n.Mask
	bc := make(net.IP, len(ip))
	for i := range ip {
		bc[i] = ip[i] | ^mask[i]
	}
	return bc
}

// classifyInterface maps a platform-conventional interface name (and its
// flags) to one of the Non-goal-free interface kinds spec.md names.
func classifyInterface(name string, flags net.Flags) domain.InterfaceKind {
	n := strings.ToLower(name)
	switch {
	case strings.HasPrefix(n, "docker"), strings.HasPrefix(n, "veth"), strings.HasPrefix(n, "virbr"):
		return domain.InterfaceVirtual
	case strings.HasPrefix(n, "br"):
		return domain.InterfaceBridge
	case strings.HasPrefix(n, "tun"), strings.HasPrefix(n, "tap"), strings.HasPrefix(n, "wg"):
		return domain.InterfaceTunnel
	case strings.HasPrefix(n, "wl"), strings.HasPrefix(n, "wlan"):
		return domain.InterfaceWireless
	case strings.HasPrefix(n, "en"), strings.HasPrefix(n, "eth"):
		return domain.InterfaceEthernet
	default:
		return domain.InterfaceUnknown
	}
}
