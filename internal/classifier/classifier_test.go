package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

func hostWithPorts(ports ...int) *domain.DiscoveredHost {
	h := domain.NewDiscoveredHost("10.0.0.1")
	for _, p := range ports {
		h.Ports[p] = &domain.PortInfo{Port: p, State: domain.PortOpen}
	}
	return h
}

func TestClassify_ModbusOnly(t *testing.T) {
	v := Classify(hostWithPorts(502))
	assert.Equal(t, 30, v.Confidence)
	assert.Equal(t, "modbus_plc", v.Type)
	assert.Contains(t, v.Protocols, "modbus")
	assert.False(t, IsPLCCandidate(v))
}

func TestClassify_ModbusPlusWebCrossesThreshold(t *testing.T) {
	v := Classify(hostWithPorts(502, 80))
	// 30 (modbus) + 10 (industrial+web) + 20 (502 ∧ 80/443 combo) = 60
	assert.Equal(t, 60, v.Confidence)
	assert.True(t, IsPLCCandidate(v))
}

func TestClassify_SiemensS7PlusHTTP(t *testing.T) {
	v := Classify(hostWithPorts(102, 80))
	// 25 (s7) + 10 (industrial+web) + 25 (102 ∧ 80 combo) = 60
	assert.Equal(t, 60, v.Confidence)
	assert.Equal(t, "siemens", v.Manufacturer)
	assert.Equal(t, "siemens_plc", v.Type)
	assert.True(t, IsPLCCandidate(v))
}

func TestClassify_ConfidenceCapsAt100(t *testing.T) {
	v := Classify(hostWithPorts(502, 1502, 102, 44818, 4840, 161, 80, 443))
	assert.LessOrEqual(t, v.Confidence, 100)
}

func TestClassify_NoIndustrialPortsZeroConfidence(t *testing.T) {
	v := Classify(hostWithPorts(80, 443))
	assert.Equal(t, 0, v.Confidence)
	assert.False(t, IsPLCCandidate(v))
}

func TestGuessManufacturer(t *testing.T) {
	assert.Equal(t, "siemens", guessManufacturer("Siemens SIMATIC S7-1500"))
	assert.Equal(t, "rockwell", guessManufacturer("Allen-Bradley ControlLogix"))
	assert.Equal(t, "", guessManufacturer("Generic Linux Router"))
}
