// Package validator implements the in-memory validator table: a dense
// slot store plus three secondary indices (by staking address, by
// validator address, and by voting power descending).
package validator

import (
	"fmt"
	"sort"
	"time"

	"github.com/stakechain/chaincore/pkg/state"
)

// Entry is one validator's live record.
type Entry struct {
	StakingAddress   state.StakedStateAddress
	ValidatorAddress state.Address
	Council          state.CouncilNode
	Bonded           state.Coin
	Jailed           bool
	Liveness         *LivenessTracker
	// InactiveTime is set once the validator falls below the minimum stake
	// or is punished; nil while the validator is fully active.
	InactiveTime *time.Time
}

// slot is a Slab-style dense storage cell: either occupied (entry != nil) or
// part of the free list (nextFree holds the next free index, -1 if none).
type slot struct {
	entry    *Entry
	nextFree int
}

// powerKey orders the by-power index: descending power, ties broken by
// ascending staking address bytes for a stable total order.
type powerKey struct {
	power   uint64
	staking state.StakedStateAddress
}

// Set is the validator table. Not safe for concurrent use; the driver owns
// it exclusively for the duration of a block.
type Set struct {
	slots       []slot
	freeHead    int
	byStaking   map[state.StakedStateAddress]int
	byValidator map[state.Address]int
	byPower     []powerKey // kept sorted; slot index recovered via byStaking
	baseUnit    state.Coin
}

// New creates an empty validator set. baseUnit is the coin granularity in
// whose units voting power is computed.
func New(baseUnit state.Coin) *Set {
	return &Set{
		freeHead:    -1,
		byStaking:   map[state.StakedStateAddress]int{},
		byValidator: map[state.Address]int{},
		baseUnit:    baseUnit,
	}
}

// Power computes floor(bonded/base) for a non-jailed validator, zero if
// jailed.
func (s *Set) Power(e *Entry) uint64 {
	if e.Jailed || s.baseUnit == 0 {
		return 0
	}
	return uint64(e.Bonded) / uint64(s.baseUnit)
}

func (s *Set) alloc(e *Entry) int {
	if s.freeHead >= 0 {
		idx := s.freeHead
		s.freeHead = s.slots[idx].nextFree
		s.slots[idx] = slot{entry: e}
		return idx
	}
	s.slots = append(s.slots, slot{entry: e})
	return len(s.slots) - 1
}

func (s *Set) free(idx int) {
	s.slots[idx] = slot{entry: nil, nextFree: s.freeHead}
	s.freeHead = idx
}

// Insert adds a new validator. Returns an error if the staking or validator
// address is already present.
func (s *Set) Insert(e *Entry) error {
	if _, ok := s.byStaking[e.StakingAddress]; ok {
		return fmt.Errorf("validator: staking address %s already present", e.StakingAddress.Redeem)
	}
	if _, ok := s.byValidator[e.ValidatorAddress]; ok {
		return fmt.Errorf("validator: validator address %s already present", e.ValidatorAddress)
	}
	idx := s.alloc(e)
	s.byStaking[e.StakingAddress] = idx
	s.byValidator[e.ValidatorAddress] = idx
	s.insertPowerIndex(e)
	return nil
}

// Remove deletes a validator by staking address.
func (s *Set) Remove(staking state.StakedStateAddress) error {
	idx, ok := s.byStaking[staking]
	if !ok {
		return fmt.Errorf("validator: unknown staking address %s", staking.Redeem)
	}
	e := s.slots[idx].entry
	s.removePowerIndex(e)
	delete(s.byStaking, staking)
	delete(s.byValidator, e.ValidatorAddress)
	s.free(idx)
	return nil
}

// ByStakingAddress looks up a validator by its staking identity.
func (s *Set) ByStakingAddress(addr state.StakedStateAddress) (*Entry, bool) {
	idx, ok := s.byStaking[addr]
	if !ok {
		return nil, false
	}
	return s.slots[idx].entry, true
}

// ByValidatorAddress looks up a validator by its consensus address.
func (s *Set) ByValidatorAddress(addr state.Address) (*Entry, bool) {
	idx, ok := s.byValidator[addr]
	if !ok {
		return nil, false
	}
	return s.slots[idx].entry, true
}

// Len reports the number of live validators.
func (s *Set) Len() int { return len(s.byStaking) }

func (s *Set) insertPowerIndex(e *Entry) {
	pk := powerKey{power: s.Power(e), staking: e.StakingAddress}
	i := sort.Search(len(s.byPower), func(i int) bool { return less(pk, s.byPower[i]) })
	s.byPower = append(s.byPower, powerKey{})
	copy(s.byPower[i+1:], s.byPower[i:])
	s.byPower[i] = pk
}

func (s *Set) removePowerIndex(e *Entry) {
	// Match on the staking address alone: callers mutate the entry before
	// UpdatePower, so the indexed power may no longer equal s.Power(e).
	for i, k := range s.byPower {
		if k.staking == e.StakingAddress {
			s.byPower = append(s.byPower[:i], s.byPower[i+1:]...)
			return
		}
	}
}

// less orders by-power entries: higher power first, ties broken by
// ascending staking address bytes.
func less(a, b powerKey) bool {
	if a.power != b.power {
		return a.power > b.power
	}
	return addressLess(a.staking.Redeem, b.staking.Redeem)
}

func addressLess(a, b state.Address) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// UpdatePower must be called after any mutation that can change a
// validator's voting power (bond change, jail toggle, slash), so the
// by-power index stays consistent with the entry.
func (s *Set) UpdatePower(staking state.StakedStateAddress) error {
	idx, ok := s.byStaking[staking]
	if !ok {
		return fmt.Errorf("validator: unknown staking address %s", staking.Redeem)
	}
	e := s.slots[idx].entry
	s.removePowerIndex(e)
	s.insertPowerIndex(e)
	return nil
}

// SortedByPower returns validators in descending voting-power order, ties
// broken by ascending staking address.
func (s *Set) SortedByPower() []*Entry {
	out := make([]*Entry, 0, len(s.byPower))
	for _, pk := range s.byPower {
		idx := s.byStaking[pk.staking]
		out = append(out, s.slots[idx].entry)
	}
	return out
}

// TopK returns the k highest-power validators, fewer if the set is smaller.
func (s *Set) TopK(k int) []*Entry {
	sorted := s.SortedByPower()
	if k < len(sorted) {
		sorted = sorted[:k]
	}
	return sorted
}

// Active returns every validator with no InactiveTime set, in stable
// power-descending order.
func (s *Set) Active() []*Entry {
	var out []*Entry
	for _, e := range s.SortedByPower() {
		if e.InactiveTime == nil {
			out = append(out, e)
		}
	}
	return out
}

// All returns every live validator, in no particular order; intended for
// iteration during cleanup passes where ordering doesn't matter.
func (s *Set) All() []*Entry {
	out := make([]*Entry, 0, len(s.byStaking))
	for _, sl := range s.slots {
		if sl.entry != nil {
			out = append(out, sl.entry)
		}
	}
	return out
}

// SanityCheck verifies the three views remain mutually consistent: equal
// cardinality, and every staking address resolves
// consistently across all three indices.
func (s *Set) SanityCheck() error {
	if len(s.byStaking) != len(s.byValidator) {
		return fmt.Errorf("validator: index cardinality mismatch: staking=%d validator=%d", len(s.byStaking), len(s.byValidator))
	}
	if len(s.byStaking) != len(s.byPower) {
		return fmt.Errorf("validator: index cardinality mismatch: staking=%d power=%d", len(s.byStaking), len(s.byPower))
	}
	seen := map[state.StakedStateAddress]bool{}
	for _, pk := range s.byPower {
		if seen[pk.staking] {
			return fmt.Errorf("validator: duplicate staking address %s in power index", pk.staking.Redeem)
		}
		seen[pk.staking] = true
		idx, ok := s.byStaking[pk.staking]
		if !ok {
			return fmt.Errorf("validator: power index references unknown staking address %s", pk.staking.Redeem)
		}
		e := s.slots[idx].entry
		if s.byValidator[e.ValidatorAddress] != idx {
			return fmt.Errorf("validator: validator-address index mismatch for %s", e.ValidatorAddress)
		}
		if pk.power != s.Power(e) {
			return fmt.Errorf("validator: stale power index entry for %s", pk.staking.Redeem)
		}
	}
	// Check strict ordering.
	for i := 1; i < len(s.byPower); i++ {
		if !less(s.byPower[i-1], s.byPower[i]) {
			return fmt.Errorf("validator: power index out of order at position %d", i)
		}
	}
	return nil
}

// Clone deep-copies the set in O(n); the copy shares no mutable state with
// the original.
func (s *Set) Clone() *Set {
	out := New(s.baseUnit)
	out.slots = make([]slot, len(s.slots))
	for i, sl := range s.slots {
		if sl.entry == nil {
			out.slots[i] = sl
			continue
		}
		cp := *sl.entry
		if sl.entry.Liveness != nil {
			cp.Liveness = sl.entry.Liveness.Clone()
		}
		out.slots[i] = slot{entry: &cp}
	}
	out.freeHead = s.freeHead
	for k, v := range s.byStaking {
		out.byStaking[k] = v
	}
	for k, v := range s.byValidator {
		out.byValidator[k] = v
	}
	out.byPower = append([]powerKey(nil), s.byPower...)
	return out
}
