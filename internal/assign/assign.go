package assign

import (
	"conveyor/internal/fault"
)

// Policy captures how many peers cooperate on one topic, as handed down by the
// external scheduler. Exactly one of the forms must pin the count: a fixed
// partition (single worker), an exact peer count, or min == max.
type Policy struct {
	// Pinned routes the whole task to one explicit partition and bypasses
	// slot math entirely.
	Pinned       bool
	PinPartition int32

	NPeers   int // exact count, 0 when unset
	MinPeers int
	MaxPeers int
}

// Slots resolves the effective number of worker slots, or a fatal
// configuration error when the policy is not fully determined.
func (p Policy) Slots(partitionCount int) (int, error) {
	if partitionCount <= 0 {
		return 0, fault.New(fault.Config, "topic reports %d partitions", partitionCount)
	}
	if p.Pinned {
		if peers := max(p.NPeers, p.MinPeers, p.MaxPeers); peers > 1 {
			return 0, fault.New(fault.Config, "fixed partition %d pinned but %d peers configured", p.PinPartition, peers)
		}
		if p.PinPartition < 0 || int(p.PinPartition) >= partitionCount {
			return 0, fault.New(fault.Config, "pinned partition %d outside [0,%d)", p.PinPartition, partitionCount)
		}
		return 1, nil
	}
	slots := p.NPeers
	if slots == 0 {
		if p.MinPeers > 0 && p.MinPeers == p.MaxPeers {
			slots = p.MinPeers
		} else {
			return 0, fault.New(fault.Config, "peer count not fully determined (n_peers unset, min %d != max %d)", p.MinPeers, p.MaxPeers)
		}
	}
	if slots > partitionCount {
		return 0, fault.New(fault.Config, "%d peers exceed %d partitions", slots, partitionCount)
	}
	return slots, nil
}

// Plan returns the partitions owned by slot under policy p. The ranges across
// all slots tile [0, partitionCount) exactly once; when the split is uneven the
// lower-numbered slots each take one extra partition.
func Plan(partitionCount int, p Policy, slot int) ([]int32, error) {
	slots, err := p.Slots(partitionCount)
	if err != nil {
		return nil, err
	}
	if p.Pinned {
		return []int32{p.PinPartition}, nil
	}
	if slot < 0 || slot >= slots {
		return nil, fault.New(fault.Config, "slot %d outside [0,%d)", slot, slots)
	}
	lo, hi := bounds(partitionCount, slots, slot)
	parts := make([]int32, 0, hi-lo+1)
	for id := lo; id <= hi; id++ {
		parts = append(parts, id)
	}
	return parts, nil
}

// bounds computes the inclusive partition range for slot: an even split of
// partitionCount over slots with the remainder spread over the lower slots.
func bounds(partitionCount, slots, slot int) (int32, int32) {
	size := partitionCount / slots
	rem := partitionCount % slots
	lo := slot*size + min(slot, rem)
	hi := lo + size - 1
	if slot < rem {
		hi++
	}
	return int32(lo), int32(hi)
}
