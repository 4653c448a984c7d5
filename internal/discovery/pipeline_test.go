package discovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

func TestDedupeByMAC_MergesSameMACDifferentIPs(t *testing.T) {
	a := domain.NewDiscoveredHost("10.0.0.5")
	a.MAC = "aa:bb:cc:dd:ee:ff"
	a.DiscoveredVia[domain.ViaARP] = true
	a.Ports[502] = &domain.PortInfo{Port: 502, State: domain.PortOpen, Method: domain.ViaTCP}

	b := domain.NewDiscoveredHost("10.0.0.105")
	b.MAC = "aa:bb:cc:dd:ee:ff"
	b.RespondsPing = true
	b.DiscoveredVia[domain.ViaICMP] = true

	out := DedupeByMAC([]*domain.DiscoveredHost{a, b})
	require.Len(t, out, 1)

	host := out[0]
	assert.Equal(t, "10.0.0.105", host.IP, "representative should be the IP that responded to ping")
	assert.True(t, host.DiscoveredVia[domain.ViaARP])
	assert.True(t, host.DiscoveredVia[domain.ViaICMP])
	assert.True(t, host.RespondsPing)
	assert.ElementsMatch(t, []string{"10.0.0.5", "10.0.0.105"}, host.IPsSeen)
	assert.Contains(t, host.Ports, 502)
}

func TestDedupeByMAC_NoMACFallsBackToIP(t *testing.T) {
	a := domain.NewDiscoveredHost("192.168.1.10")
	b := domain.NewDiscoveredHost("192.168.1.11")

	out := DedupeByMAC([]*domain.DiscoveredHost{a, b})
	assert.Len(t, out, 2)
}

func TestDedupeByMAC_InvalidMACDiscarded(t *testing.T) {
	a := domain.NewDiscoveredHost("192.168.1.10")
	a.MAC = normalizeMAC("ff:ff:ff:ff:ff:ff")
	assert.Equal(t, "", a.MAC)

	a.MAC = normalizeMAC("00:00:00:00:00:00")
	assert.Equal(t, "", a.MAC)
}

func TestComputeAdaptiveTimeouts_ScalesWithNetworkSizeAndCaps(t *testing.T) {
	small := ComputeAdaptiveTimeouts(256, 10*time.Second, 3*time.Second, 1*time.Second, 1*time.Second)
	assert.Equal(t, 10*time.Second, small.Passive)

	huge := ComputeAdaptiveTimeouts(256*1000, 10*time.Second, 3*time.Second, 1*time.Second, 1*time.Second)
	assert.Equal(t, 120*time.Second, huge.Passive, "passive timeout must cap at 120s regardless of network size")
	assert.Equal(t, 10*time.Second, huge.ARP, "arp timeout must cap at 10s")
	assert.Equal(t, 5*time.Second, huge.ICMP, "icmp timeout must cap at 5s")
	assert.Equal(t, 3*time.Second, huge.TCP, "tcp timeout must cap at 3s")
}

func TestMergePortInfo_PrefersOpenStateAndFillsBlanks(t *testing.T) {
	a := &domain.PortInfo{Port: 502, State: domain.PortUnknown, Method: domain.ViaTCP}
	b := &domain.PortInfo{Port: 502, State: domain.PortOpen, Method: domain.ViaNmap, Service: "modbus", Product: "Schneider"}

	merged := mergePortInfo(a, b)
	assert.Equal(t, domain.PortOpen, merged.State)
	assert.Equal(t, "modbus", merged.Service)
	assert.Equal(t, "Schneider", merged.Product)
}
