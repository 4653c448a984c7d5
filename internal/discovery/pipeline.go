package discovery

import (
	"context"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/metrics"
)

// Config tunes the pipeline's base timeouts (before adaptive scaling) and
// optional deep-scan behavior.
type Config struct {
	BasePassive    time.Duration
	BaseARP        time.Duration
	BaseICMP       time.Duration
	BaseTCP        time.Duration
	DeepScan       bool
	NmapPath       string
	DeepScanWindow time.Duration
}

func (c *Config) applyDefaults() {
	if c.BasePassive <= 0 {
		c.BasePassive = 10 * time.Second
	}
	if c.BaseARP <= 0 {
		c.BaseARP = 3 * time.Second
	}
	if c.BaseICMP <= 0 {
		c.BaseICMP = 1 * time.Second
	}
	if c.BaseTCP <= 0 {
		c.BaseTCP = 1 * time.Second
	}
	if c.NmapPath == "" {
		c.NmapPath = "nmap"
	}
	if c.DeepScanWindow <= 0 {
		c.DeepScanWindow = 30 * time.Second
	}
}

// Pipeline runs the eight discovery phases and returns MAC-deduplicated
// hosts.
type Pipeline struct {
	cfg     Config
	metrics *metrics.Registry
	logger  zerolog.Logger
}

// New builds a Pipeline.
func New(cfg Config, m *metrics.Registry, logger zerolog.Logger) *Pipeline {
	cfg.applyDefaults()
	return &Pipeline{cfg: cfg, metrics: m, logger: logger.With().Str("component", "discovery").Logger()}
}

// Run executes all phases in order against every discovered interface and
// returns the deduplicated host set.
func (p *Pipeline) Run(ctx context.Context) ([]*domain.DiscoveredHost, error) {
	phaseStart := time.Now()

	ifaces, err := EnumerateInterfaces()
	if err != nil {
		return nil, err
	}
	p.observePhase("interfaces", phaseStart)

	n := totalHostCount(ifaces)
	timeouts := ComputeAdaptiveTimeouts(n, p.cfg.BasePassive, p.cfg.BaseARP, p.cfg.BaseICMP, p.cfg.BaseTCP)

	merged := make(map[string]*domain.DiscoveredHost)

	// Phase 2: passive sniff, concurrently per interface.
	phaseStart = time.Now()
	passiveSeen := p.runPassive(ctx, ifaces, timeouts.Passive)
	for ip := range passiveSeen {
		host := getOrCreate(merged, ip)
		host.DiscoveredVia[domain.ViaPassive] = true
	}
	p.observePhase("passive", phaseStart)

	// Phase 3: ARP sweep per interface CIDR.
	phaseStart = time.Now()
	for _, iface := range ifaces {
		entries, err := ARPSweep(ctx, iface.Network, timeouts.ARP)
		if err != nil {
			p.logger.Warn().Err(err).Str("interface", iface.Name).Msg("arp sweep failed")
			continue
		}
		for _, e := range entries {
			host := getOrCreate(merged, e.IP)
			host.MAC = normalizeMAC(e.MAC)
			host.Interface = iface.Name
			host.Network = iface.Network
			host.DiscoveredVia[domain.ViaARP] = true
		}
	}
	p.observePhase("arp", phaseStart)

	// Phase 4: ARP cache blend (read-only MAC source).
	if cache, err := ReadARPCache(); err == nil {
		for _, e := range cache {
			if host, ok := merged[e.IP]; ok && host.MAC == "" {
				host.MAC = normalizeMAC(e.MAC)
			}
		}
	}

	// Phase 5: ICMP sweep.
	phaseStart = time.Now()
	ips := make([]string, 0, len(merged))
	for ip := range merged {
		ips = append(ips, ip)
	}
	responded := ICMPSweep(ctx, ips, timeouts.ICMP)
	for ip := range responded {
		merged[ip].RespondsPing = true
		merged[ip].DiscoveredVia[domain.ViaICMP] = true
	}
	p.observePhase("icmp", phaseStart)

	// Phase 6: quick TCP probe.
	phaseStart = time.Now()
	for ip, host := range merged {
		ports := QuickTCPProbe(ctx, ip, timeouts.TCP)
		if len(ports) > 0 {
			host.DiscoveredVia[domain.ViaTCP] = true
		}
		for port, info := range ports {
			host.Ports[port] = info
		}
	}
	p.observePhase("tcp_probe", phaseStart)

	// Phase 7: optional deep scan for hosts with ≥1 open industrial port.
	if p.cfg.DeepScan {
		phaseStart = time.Now()
		for ip, host := range merged {
			if !hasAnyIndustrialPort(host) {
				continue
			}
			deepPorts, err := DeepScan(ctx, p.cfg.NmapPath, ip, p.cfg.DeepScanWindow)
			if err != nil {
				p.logger.Warn().Err(err).Str("ip", ip).Msg("deep scan unavailable")
				continue
			}
			host.DiscoveredVia[domain.ViaNmap] = true
			for _, info := range deepPorts {
				host.Ports[info.Port] = info
			}
		}
		p.observePhase("deep_scan", phaseStart)
	}

	// Phase 8: service identification.
	for _, host := range merged {
		IdentifyService(host)
	}

	hosts := make([]*domain.DiscoveredHost, 0, len(merged))
	for _, h := range merged {
		hosts = append(hosts, h)
	}

	deduped := DedupeByMAC(hosts)
	if p.metrics != nil {
		p.metrics.IncDiscoveryRuns()
		p.metrics.SetDiscoveryHosts(len(deduped))
	}
	return deduped, nil
}

func (p *Pipeline) observePhase(phase string, start time.Time) {
	if p.metrics != nil {
		p.metrics.ObserveDiscoveryPhase(phase, time.Since(start).Seconds())
	}
}

func (p *Pipeline) runPassive(ctx context.Context, ifaces []domain.NetInterface, timeout time.Duration) map[string]bool {
	result := make(map[string]bool)
	if len(ifaces) == 0 {
		return result
	}

	type res struct{ seen map[string]bool }
	ch := make(chan res, len(ifaces))
	for range ifaces {
		go func() {
			seen, err := PassiveSniff(ctx, timeout)
			if err != nil {
				ch <- res{seen: map[string]bool{}}
				return
			}
			ch <- res{seen: seen}
		}()
	}
	for range ifaces {
		r := <-ch
		for ip := range r.seen {
			result[ip] = true
		}
	}
	return result
}

func getOrCreate(m map[string]*domain.DiscoveredHost, ip string) *domain.DiscoveredHost {
	if h, ok := m[ip]; ok {
		return h
	}
	h := domain.NewDiscoveredHost(ip)
	m[ip] = h
	return h
}

func totalHostCount(ifaces []domain.NetInterface) int {
	total := 0
	for _, iface := range ifaces {
		_, ipnet, err := net.ParseCIDR(iface.Network)
		if err != nil {
			continue
		}
		ones, _ := ipnet.Mask.Size()
		total += hostCount(ones)
	}
	return total
}

var industrialPortSet = func() map[int]bool {
	m := make(map[int]bool, len(IndustrialPorts))
	for _, p := range IndustrialPorts {
		if p == 80 || p == 443 || p == 8080 || p == 21 || p == 23 || p == 161 || p == 162 {
			continue
		}
		m[p] = true
	}
	return m
}()

func hasAnyIndustrialPort(h *domain.DiscoveredHost) bool {
	for port, info := range h.Ports {
		if info.State == domain.PortOpen && industrialPortSet[port] {
			return true
		}
	}
	return false
}

func normalizeMAC(mac string) string {
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return ""
	}
	s := hw.String()
	if s == "00:00:00:00:00:00" || s == "ff:ff:ff:ff:ff:ff" {
		return ""
	}
	return strings.ToLower(s)
}

// DedupeByMAC groups hosts sharing a normalized MAC (or, when absent, by
// IP) and merges each group per SPEC_FULL.md §4.8's merge rules.
func DedupeByMAC(hosts []*domain.DiscoveredHost) []*domain.DiscoveredHost {
	groups := make(map[string][]*domain.DiscoveredHost)
	for _, h := range hosts {
		key := h.MAC
		if key == "" {
			key = "ip:" + h.IP
		}
		groups[key] = append(groups[key], h)
	}

	out := make([]*domain.DiscoveredHost, 0, len(groups))
	for _, group := range groups {
		out = append(out, mergeGroup(group))
	}

	sort.Slice(out, func(i, j int) bool { return out[i].IP < out[j].IP })
	return out
}

func mergeGroup(group []*domain.DiscoveredHost) *domain.DiscoveredHost {
	if len(group) == 1 {
		return group[0]
	}

	rep := representative(group)
	merged := domain.NewDiscoveredHost(rep.IP)
	merged.MAC = rep.MAC
	merged.Interface = rep.Interface
	merged.Network = rep.Network
	merged.Timestamp = rep.Timestamp

	seenIPs := make(map[string]bool)
	for _, h := range group {
		for via := range h.DiscoveredVia {
			merged.DiscoveredVia[via] = true
		}
		merged.RespondsPing = merged.RespondsPing || h.RespondsPing

		for port, info := range h.Ports {
			existing, ok := merged.Ports[port]
			if !ok {
				merged.Ports[port] = info
				continue
			}
			merged.Ports[port] = mergePortInfo(existing, info)
		}
		for port, svc := range h.Services {
			if merged.Services[port] == "" {
				merged.Services[port] = svc
			}
		}
		for _, ip := range h.IPsSeen {
			if !seenIPs[ip] {
				seenIPs[ip] = true
				merged.IPsSeen = append(merged.IPsSeen, ip)
			}
		}
	}
	sort.Strings(merged.IPsSeen)
	return merged
}

func mergePortInfo(a, b *domain.PortInfo) *domain.PortInfo {
	out := *a
	if b.State == domain.PortOpen {
		out.State = domain.PortOpen
	}
	if out.Service == "" {
		out.Service = b.Service
	}
	if out.Product == "" {
		out.Product = b.Product
	}
	if out.Version == "" {
		out.Version = b.Version
	}
	return &out
}

// representative picks, per SPEC_FULL.md §4.8: an IP with RespondsPing,
// else an IP with any open port, else the first seen.
func representative(group []*domain.DiscoveredHost) *domain.DiscoveredHost {
	for _, h := range group {
		if h.RespondsPing {
			return h
		}
	}
	for _, h := range group {
		for _, info := range h.Ports {
			if info.State == domain.PortOpen {
				return h
			}
		}
	}
	return group[0]
}
