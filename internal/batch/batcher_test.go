package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

func reg(t domain.RegisterType, address, count int) *domain.RegisterConfig {
	return &domain.RegisterConfig{RegisterType: t, Address: address, Count: count}
}

func TestPlan_LiteralScenario(t *testing.T) {
	configs := []*domain.RegisterConfig{
		reg(domain.RegisterHolding, 100, 1),
		reg(domain.RegisterHolding, 101, 2),
		reg(domain.RegisterHolding, 110, 1),
		reg(domain.RegisterInput, 200, 1),
		reg(domain.RegisterHolding, 104, 1),
	}

	batches := Plan(configs)
	require.Len(t, batches, 3)

	assert.Equal(t, domain.RegisterHolding, batches[0].RegisterType)
	assert.Equal(t, 100, batches[0].Start)
	assert.Equal(t, 5, batches[0].Count)
	assert.Len(t, batches[0].Members, 3)

	assert.Equal(t, domain.RegisterHolding, batches[1].RegisterType)
	assert.Equal(t, 110, batches[1].Start)
	assert.Equal(t, 1, batches[1].Count)

	assert.Equal(t, domain.RegisterInput, batches[2].RegisterType)
	assert.Equal(t, 200, batches[2].Start)
	assert.Equal(t, 1, batches[2].Count)
}

func TestPlan_NoBatchExceedsCap(t *testing.T) {
	var configs []*domain.RegisterConfig
	for i := 0; i < 300; i++ {
		configs = append(configs, reg(domain.RegisterHolding, i, 1))
	}

	batches := Plan(configs)
	for _, b := range batches {
		assert.LessOrEqual(t, b.Count, MaxRegistersPerBatch)
	}

	total := 0
	for _, b := range batches {
		total += len(b.Members)
	}
	assert.Equal(t, len(configs), total)
}

func TestPlan_NeverCrossesRegisterType(t *testing.T) {
	configs := []*domain.RegisterConfig{
		reg(domain.RegisterHolding, 0, 1),
		reg(domain.RegisterCoil, 0, 1),
		reg(domain.RegisterDiscrete, 0, 1),
		reg(domain.RegisterInput, 0, 1),
	}
	batches := Plan(configs)
	require.Len(t, batches, 4)
	seen := map[domain.RegisterType]bool{}
	for _, b := range batches {
		assert.False(t, seen[b.RegisterType], "register type %s batched twice", b.RegisterType)
		seen[b.RegisterType] = true
	}
}

func TestPlan_EveryAddressInExactlyOneBatch(t *testing.T) {
	configs := []*domain.RegisterConfig{
		reg(domain.RegisterHolding, 5, 1),
		reg(domain.RegisterHolding, 3, 1),
		reg(domain.RegisterHolding, 4, 1),
	}
	batches := Plan(configs)
	require.Len(t, batches, 1)
	assert.Equal(t, 3, batches[0].Start)
	assert.Equal(t, 3, batches[0].Count)
	assert.Len(t, batches[0].Members, 3)
}

func TestPlan_MemberOffset(t *testing.T) {
	configs := []*domain.RegisterConfig{
		reg(domain.RegisterHolding, 100, 1),
		reg(domain.RegisterHolding, 104, 1),
	}
	batches := Plan(configs)
	require.Len(t, batches, 1)
	b := batches[0]
	lo, hi := b.MemberOffset(configs[1])
	assert.Equal(t, 4, lo)
	assert.Equal(t, 5, hi)
}
