package validator

import (
	"bytes"
	"sort"

	"github.com/stakechain/chaincore/pkg/state"
)

// Update is one emitted change to consensus: a validator's new voting
// power, or zero to signal removal.
type Update struct {
	ValidatorAddress state.Address
	Power            uint64
}

// Snapshot is the set of (validator-address -> power) pairs handed to
// consensus as of the prior block, used to compute the next diff.
type Snapshot map[state.Address]uint64

// DiffAgainst computes the validator-update set between prior and next,
// emitted in the total order (validator-address-bytes, power).
func DiffAgainst(prior, next Snapshot) []Update {
	seen := make(map[state.Address]bool, len(prior)+len(next))
	var updates []Update
	for addr := range prior {
		seen[addr] = true
	}
	for addr := range next {
		seen[addr] = true
	}
	for addr := range seen {
		oldPower, hadOld := prior[addr]
		newPower, hasNew := next[addr]
		switch {
		case hasNew && (!hadOld || oldPower != newPower):
			updates = append(updates, Update{ValidatorAddress: addr, Power: newPower})
		case hadOld && !hasNew:
			updates = append(updates, Update{ValidatorAddress: addr, Power: 0})
		}
	}

	sort.Slice(updates, func(i, j int) bool {
		c := bytes.Compare(updates[i].ValidatorAddress[:], updates[j].ValidatorAddress[:])
		if c != 0 {
			return c < 0
		}
		return updates[i].Power < updates[j].Power
	})
	return updates
}

// SnapshotFrom builds a Snapshot from a set of entries, pairing each with
// its voting power as computed by set.
func SnapshotFrom(set *Set, entries []*Entry) Snapshot {
	snap := make(Snapshot, len(entries))
	for _, e := range entries {
		snap[e.ValidatorAddress] = set.Power(e)
	}
	return snap
}
