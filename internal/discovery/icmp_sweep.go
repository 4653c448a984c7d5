package discovery

import (
	"context"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
)

// ICMPSweep pings every IP in ips (chunked at ≤200 at a time per
// SPEC_FULL.md §4.8 phase 5) and returns the set that responded.
func ICMPSweep(ctx context.Context, ips []string, timeout time.Duration) map[string]bool {
	conn, err := icmp.ListenPacket("ip4:icmp", "0.0.0.0")
	if err != nil {
		return map[string]bool{}
	}
	defer conn.Close()

	responded := make(map[string]bool)
	var mu sync.Mutex

	const chunkSize = 200
	id := os.Getpid() & 0xffff

	for start := 0; start < len(ips); start += chunkSize {
		end := start + chunkSize
		if end > len(ips) {
			end = len(ips)
		}
		chunk := ips[start:end]

		var wg sync.WaitGroup
		for i, ip := range chunk {
			wg.Add(1)
			go func(ip string, seq int) {
				defer wg.Done()
				if pingOnce(conn, ip, id, seq, timeout) {
					mu.Lock()
					responded[ip] = true
					mu.Unlock()
				}
			}(ip, i+1)
		}
		wg.Wait()

		select {
		case <-ctx.Done():
			return responded
		default:
		}
	}
	return responded
}

func pingOnce(conn *icmp.PacketConn, ip string, id, seq int, timeout time.Duration) bool {
	dst, err := net.ResolveIPAddr("ip4", ip)
	if err != nil {
		return false
	}

	msg := icmp.Message{
		Type: ipv4.ICMPTypeEcho,
		Code: 0,
		Body: &icmp.Echo{ID: id, Seq: seq, Data: []byte("plc-fleet-discovery")},
	}
	wb, err := msg.Marshal(nil)
	if err != nil {
		return false
	}
	if _, err := conn.WriteTo(wb, dst); err != nil {
		return false
	}

	conn.SetReadDeadline(time.Now().Add(timeout))
	rb := make([]byte, 1500)
	for {
		n, peer, err := conn.ReadFrom(rb)
		if err != nil {
			return false
		}
		if peer.String() != dst.String() {
			continue
		}
		rm, err := icmp.ParseMessage(1, rb[:n])
		if err != nil {
			return false
		}
		return rm.Type == ipv4.ICMPTypeEchoReply
	}
}
