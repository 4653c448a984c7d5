// Package batch implements the register Batcher from SPEC_FULL.md §4.5:
// it groups a device's RegisterConfigs into contiguous reads bounded by
// Modbus's 125-register-per-PDU cap.
package batch

import (
	"sort"

	"github.com/nexus-edge/plc-fleet/internal/domain"
)

// MaxRegistersPerBatch is the Modbus function 0x03/0x04 PDU cap.
const MaxRegistersPerBatch = 125

// MaxBridgeableGap is the widest hole Plan will read across rather than
// pay for a second round trip. A gap of a few words (e.g. registers
// 101-102 then 104) is cheaper to over-read than to split into its own
// batch; a gap of four or more is not.
const MaxBridgeableGap = 3

// Batch is one planned read: a contiguous, overlapping, or near-adjacent
// (gap ≤ MaxBridgeableGap) run of registers of a single type, plus the configs that will be sliced out of
// its response.
type Batch struct {
	RegisterType domain.RegisterType
	Start        int
	Count        int
	Members      []*domain.RegisterConfig
}

// End returns the last word address this batch covers (inclusive).
func (b *Batch) End() int {
	return b.Start + b.Count - 1
}

// MemberOffset returns the slice bounds within a batch's response that
// belong to member c: response[lo:hi].
func (b *Batch) MemberOffset(c *domain.RegisterConfig) (lo, hi int) {
	lo = c.Address - b.Start
	hi = lo + c.Count
	return
}

// Plan partitions configs by register type, sorts each partition by
// address, and greedily merges contiguous, overlapping, or near-adjacent
// (gap ≤ MaxBridgeableGap) configs into batches no larger than
// MaxRegistersPerBatch words.
//
// Every address in configs appears in exactly one batch; no batch crosses
// register types; no batch exceeds the PDU cap.
func Plan(configs []*domain.RegisterConfig) []*Batch {
	byType := make(map[domain.RegisterType][]*domain.RegisterConfig)
	for _, c := range configs {
		byType[c.RegisterType] = append(byType[c.RegisterType], c)
	}

	// Deterministic iteration order keeps Plan's output stable for tests.
	types := make([]domain.RegisterType, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	var batches []*Batch
	for _, t := range types {
		group := byType[t]
		sort.Slice(group, func(i, j int) bool { return group[i].Address < group[j].Address })

		var current *Batch
		for _, c := range group {
			if current == nil {
				current = &Batch{
					RegisterType: t,
					Start:        c.Address,
					Count:        c.Count,
					Members:      []*domain.RegisterConfig{c},
				}
				continue
			}

			candidateEnd := c.End()
			maxEnd := candidateEnd
			if current.End() > maxEnd {
				maxEnd = current.End()
			}
			span := maxEnd - current.Start + 1
			gap := c.Address - current.End() - 1

			if gap <= MaxBridgeableGap && span <= MaxRegistersPerBatch {
				current.Members = append(current.Members, c)
				if maxEnd+1-current.Start > current.Count {
					current.Count = maxEnd + 1 - current.Start
				}
				continue
			}

			batches = append(batches, current)
			current = &Batch{
				RegisterType: t,
				Start:        c.Address,
				Count:        c.Count,
				Members:      []*domain.RegisterConfig{c},
			}
		}
		if current != nil {
			batches = append(batches, current)
		}
	}

	return batches
}
