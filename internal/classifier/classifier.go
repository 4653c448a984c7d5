// Package classifier implements the Industrial Classifier from
// SPEC_FULL.md §4.9: additive port-based scoring plus SNMP enrichment via
// gosnmp/gosnmp, grounded on original_source's device-type heuristics in
// discovery_service.py (manufacturer/type inference from open ports).
package classifier

import (
	"context"
	"time"

	"github.com/gosnmp/gosnmp"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

const plcCandidateThreshold = 60

// Classify scores a discovered host and returns its industrial
// classification verdict, per SPEC_FULL.md §4.9's additive rules.
func Classify(host *domain.DiscoveredHost) domain.IndustrialDevice {
	var v domain.IndustrialDevice
	protocols := make(map[string]bool)

	score := 0

	if host.HasOpenPort(502, 1502) {
		score += 30
		v.Type = "modbus_plc"
		protocols["modbus"] = true
	}
	if host.HasOpenPort(102) {
		score += 25
		v.Manufacturer = "siemens"
		protocols["s7"] = true
	}
	if host.HasOpenPort(44818, 2222, 5555, 1911) {
		score += 25
		v.Manufacturer = "rockwell"
		protocols["ethernet_ip"] = true
	}
	if host.HasOpenPort(4840) {
		score += 20
		protocols["opcua"] = true
	}
	if host.HasOpenPort(161, 162) {
		score += 15
	}

	hasIndustrial := host.HasOpenPort(502, 1502, 102, 44818, 2222, 5555, 1911, 4840)
	if hasIndustrial && host.HasOpenPort(80, 443, 8080) {
		score += 10
		protocols["http"] = true
	}

	if host.HasOpenPort(502) && host.HasOpenPort(80, 443) {
		score += 20
		v.Type = "modbus_plc"
	}
	if host.HasOpenPort(102) && host.HasOpenPort(80) {
		score += 25
		v.Manufacturer = "siemens"
		v.Type = "siemens_plc"
	}

	if score > 100 {
		score = 100
	}

	v.Confidence = score
	for p := range protocols {
		v.Protocols = append(v.Protocols, p)
	}
	return v
}

// IsPLCCandidate reports whether a classification crosses the import
// threshold.
func IsPLCCandidate(v domain.IndustrialDevice) bool {
	return v.Confidence >= plcCandidateThreshold
}

// SNMPEnrich queries sysDescr over SNMPv2c to refine a
// classification when port 161 is open; failures are non-fatal and leave
// the classification unchanged.
func SNMPEnrich(ctx context.Context, ip, community string, v *domain.IndustrialDevice) {
	params := &gosnmp.GoSNMP{
		Target:    ip,
		Port:      161,
		Community: community,
		Version:   gosnmp.Version2c,
		Timeout:   2 * time.Second,
		Retries:   1,
	}
	if err := params.Connect(); err != nil {
		return
	}
	defer params.Conn.Close()

	result, err := params.Get([]string{".1.3.6.1.2.1.1.1.0"}) // sysDescr
	if err != nil || len(result.Variables) == 0 {
		return
	}

	descr, ok := result.Variables[0].Value.(string)
	if !ok || descr == "" {
		return
	}

	if v.Manufacturer == "" {
		v.Manufacturer = guessManufacturer(descr)
	}
}

func guessManufacturer(sysDescr string) string {
	switch {
	case contains(sysDescr, "Siemens"):
		return "siemens"
	case contains(sysDescr, "Rockwell"), contains(sysDescr, "Allen-Bradley"):
		return "rockwell"
	case contains(sysDescr, "Schneider"), contains(sysDescr, "Modicon"):
		return "schneider"
	default:
		return ""
	}
}

func contains(s, substr string) bool {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}
