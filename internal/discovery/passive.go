package discovery

import (
	"context"
	"net"
	"time"

	"golang.org/x/net/icmp"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// PassiveSniff listens for unsolicited ICMP traffic on each interface for
// the adaptive passive window and records source IPs seen. This is a
// deliberate simplification of original_source's scapy `sniff(filter="arp
// or icmp or tcp")`: without a packet-capture library in the dependency
// surface, the pipeline observes only ICMP (echo/unreachable/etc.) via a
// raw ICMP listen socket, which requires the same elevated privilege the
// original demanded. A permission failure here is non-fatal: it is
// returned as a PermissionError, which the pipeline treats as an empty
// result before continuing with the remaining active phases; the error is
// not logged or otherwise reported.
func PassiveSniff(ctx context.Context, timeout time.Duration) (map[string]bool, error) {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return nil, &domain.PermissionError{Op: "passive_sniff"}
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	conn.SetReadDeadline(deadline)

	seen := make(map[string]bool)
	buf := make([]byte, 1500)

	for {
		select {
		case <-ctx.Done():
			return seen, nil
		default:
		}
		if time.Now().After(deadline) {
			return seen, nil
		}
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return seen, nil
			}
			return seen, nil
		}
		if n == 0 {
			continue
		}
		if ipAddr, ok := addr.(*net.IPAddr); ok {
			seen[ipAddr.IP.String()] = true
		}
	}
}
