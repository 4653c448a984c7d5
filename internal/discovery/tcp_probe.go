package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// IndustrialPorts is the fixed set of ports the quick TCP probe connect-
// scans, per SPEC_FULL.md §4.8 phase 6.
var IndustrialPorts = buildIndustrialPorts()

func buildIndustrialPorts() []int {
	ports := []int{502, 1502, 102, 44818, 2222, 5555, 1911, 4840, 48400, 48401, 48402, 161, 162, 80, 443, 8080, 20000, 20001, 20002, 21, 23}
	return ports
}

// ServiceHints maps a well-known industrial or web port to its phase-8
// service identification hint.
var ServiceHints = map[int]string{
	502:   "modbus",
	1502:  "modbus",
	102:   "s7comm",
	44818: "ethernet_ip",
	4840:  "opcua",
	80:    "http",
	443:   "http",
	8080:  "http",
}

// QuickTCPProbe connect-scans IndustrialPorts on ip and returns the open
// ones.
func QuickTCPProbe(ctx context.Context, ip string, timeout time.Duration) map[int]*domain.PortInfo {
	out := make(map[int]*domain.PortInfo)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, port := range IndustrialPorts {
		wg.Add(1)
		go func(port int) {
			defer wg.Done()
			addr := fmt.Sprintf("%s:%d", ip, port)
			conn, err := net.DialTimeout("tcp", addr, timeout)
			if err != nil {
				return
			}
			conn.Close()

			info := &domain.PortInfo{Port: port, State: domain.PortOpen, Method: domain.ViaTCP}
			if hint, ok := ServiceHints[port]; ok {
				info.Service = hint
			}
			mu.Lock()
			out[port] = info
			mu.Unlock()
		}(port)
	}
	wg.Wait()
	return out
}

// IdentifyService attaches the phase-8 service hint for a port to a host
// record already populated by the quick probe or deep scan, for any port
// the probe itself didn't already label.
func IdentifyService(host *domain.DiscoveredHost) {
	for port, info := range host.Ports {
		if info.Service != "" {
			continue
		}
		if hint, ok := ServiceHints[port]; ok {
			info.Service = hint
		} else {
			info.Service = "unknown"
		}
	}
}
