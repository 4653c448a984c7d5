// Package importer implements the Discovery Importer from SPEC_FULL.md
// §4.10: it filters discovered hosts down to PLC candidates and upserts
// them through the Device Repository's manual-protection rule.
package importer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/nexus-edge/plc-fleet/internal/classifier"
	"github.com/nexus-edge/plc-fleet/internal/domain"
	"github.com/nexus-edge/plc-fleet/internal/repository/postgres"
)

// recognizedIndustrialPorts maps a port to its primary-port priority and
// protocol tag, used when no classifier type is available to fall back
// on but the host still has a recognized industrial port open.
var recognizedIndustrialPorts = []struct {
	port     int
	protocol domain.Protocol
}{
	{502, domain.ProtocolModbusTCP},
	{1502, domain.ProtocolModbusTCP},
	{102, domain.ProtocolS7},
	{44818, domain.ProtocolEthernetIP},
	{4840, domain.ProtocolOPCUA},
}

// DeviceUpserter is the slice of the Device Repository the importer needs.
type DeviceUpserter interface {
	GetByIP(ctx context.Context, ip string) (*domain.Device, error)
	UpsertDiscovered(ctx context.Context, ip string, f postgres.DiscoveredFields, overwriteExisting bool) (*domain.Device, error)
}

// Flags control import behavior per SPEC_FULL.md §4.10.
type Flags struct {
	AutoActivate      bool
	OverwriteExisting bool
	TargetInterfaces  []string // empty means all
}

// Report tallies the outcome of one import run.
type Report struct {
	Saved   int
	Updated int
	Skipped int
	Errors  int
}

// Importer upserts classified discovery results into the Device
// Repository.
type Importer struct {
	repo   DeviceUpserter
	logger zerolog.Logger
}

// New builds an Importer.
func New(repo DeviceUpserter, logger zerolog.Logger) *Importer {
	return &Importer{repo: repo, logger: logger.With().Str("component", "importer").Logger()}
}

// Import classifies and upserts every candidate host, returning a summary
// report.
func (im *Importer) Import(ctx context.Context, hosts []*domain.DiscoveredHost, flags Flags) Report {
	var report Report

	for _, host := range hosts {
		if len(flags.TargetInterfaces) > 0 && !containsStr(flags.TargetInterfaces, host.Interface) {
			report.Skipped++
			continue
		}

		verdict := classifier.Classify(host)
		host.Industrial = verdict

		if !classifier.IsPLCCandidate(verdict) && !hasRecognizedIndustrialPort(host) {
			report.Skipped++
			continue
		}

		protocol, primaryPort := choosePrimary(host)
		name := plcName(verdict, host.IP)

		ports := []int{primaryPort}
		for _, p := range openPortNumbers(host) {
			if p != primaryPort {
				ports = append(ports, p)
			}
		}

		fields := postgres.DiscoveredFields{
			Name:            name,
			MAC:             host.MAC,
			Subnet:          host.Network,
			Ports:           ports,
			Protocol:        protocol,
			Kind:            verdict.Type,
			Online:          host.RespondsPing || len(host.Ports) > 0,
			LastConnection:  time.Now(),
			PollingInterval: 0,
			Timeout:         0,
			UnitID:          0,
		}
		// primaryPort leads Ports, so Device.Port picks it at poll time.

		existing, err := im.repo.GetByIP(ctx, host.IP)
		if err != nil {
			im.logger.Error().Err(err).Str("ip", host.IP).Msg("failed to look up device before upsert")
			report.Errors++
			continue
		}

		if _, err := im.repo.UpsertDiscovered(ctx, host.IP, fields, flags.OverwriteExisting); err != nil {
			im.logger.Error().Err(err).Str("ip", host.IP).Msg("failed to upsert discovered device")
			report.Errors++
			continue
		}

		if existing == nil {
			report.Saved++
		} else {
			report.Updated++
		}
	}

	return report
}

func choosePrimary(host *domain.DiscoveredHost) (domain.Protocol, int) {
	for _, rp := range recognizedIndustrialPorts {
		if host.HasOpenPort(rp.port) {
			return rp.protocol, rp.port
		}
	}
	return domain.ProtocolModbusTCP, 502
}

func hasRecognizedIndustrialPort(host *domain.DiscoveredHost) bool {
	for _, rp := range recognizedIndustrialPorts {
		if host.HasOpenPort(rp.port) {
			return true
		}
	}
	return false
}

func plcName(v domain.IndustrialDevice, ip string) string {
	t := v.Type
	if t == "" {
		t = "plc"
	}
	return fmt.Sprintf("%s-%s", t, ip)
}

func openPortNumbers(host *domain.DiscoveredHost) []int {
	out := make([]int, 0, len(host.Ports))
	for port, info := range host.Ports {
		if info.State == domain.PortOpen {
			out = append(out, port)
		}
	}
	return out
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
