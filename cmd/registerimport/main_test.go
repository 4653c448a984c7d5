package main

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() zerolog.Logger { return zerolog.Nop() }

func TestRegisterEntry_ToDomainAppliesDefaults(t *testing.T) {
	re := registerEntry{
		Name:         "temperature",
		Address:      100,
		Count:        1,
		RegisterType: "holding",
		DataType:     "float32",
	}

	cfg, err := re.toDomain(7)
	require.NoError(t, err)

	assert.Equal(t, int64(7), cfg.DeviceID)
	assert.Equal(t, 1.0, cfg.ScaleFactor)
	assert.True(t, cfg.Active)
	assert.Zero(t, cfg.Interval)
}

func TestRegisterEntry_ToDomainRejectsMissingName(t *testing.T) {
	re := registerEntry{Address: 1, RegisterType: "holding", DataType: "uint16"}

	_, err := re.toDomain(1)
	assert.Error(t, err)
}

func TestValidateOnly_CatchesInvalidRegisterType(t *testing.T) {
	doc := registerFile{
		Devices: []deviceRegisters{
			{
				IP: "10.0.0.5",
				Registers: []registerEntry{
					{Name: "bad", Address: 1, Count: 1, RegisterType: "bogus", DataType: "uint16"},
				},
			},
		},
	}

	err := validateOnly(doc, testLogger())
	assert.Error(t, err)
}

func TestValidateOnly_AcceptsWellFormedDoc(t *testing.T) {
	doc := registerFile{
		Devices: []deviceRegisters{
			{
				IP: "10.0.0.5",
				Registers: []registerEntry{
					{Name: "status", Address: 1, Count: 1, RegisterType: "coil", DataType: "bool"},
				},
			},
		},
	}

	err := validateOnly(doc, testLogger())
	assert.NoError(t, err)
}
