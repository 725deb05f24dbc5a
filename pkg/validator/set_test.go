package validator

import (
	"testing"

	"github.com/stakechain/chaincore/pkg/state"
)

func addr(b byte) state.Address {
	var a state.Address
	a[0] = b
	return a
}

func entry(stakingByte, validatorByte byte, bonded state.Coin) *Entry {
	return &Entry{
		StakingAddress:   state.NewBasicRedeemAddress(addr(stakingByte)),
		ValidatorAddress: addr(validatorByte),
		Bonded:           bonded,
		Liveness:         NewLivenessTracker(4),
	}
}

func TestSetInsertSortsByDescendingPower(t *testing.T) {
	s := New(100)
	if err := s.Insert(entry(1, 1, 500)); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(entry(2, 2, 1000)); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(entry(3, 3, 700)); err != nil {
		t.Fatal(err)
	}

	sorted := s.SortedByPower()
	if len(sorted) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(sorted))
	}
	if sorted[0].Bonded != 1000 || sorted[1].Bonded != 700 || sorted[2].Bonded != 500 {
		t.Fatalf("unexpected order: %+v", sorted)
	}
	if err := s.SanityCheck(); err != nil {
		t.Fatal(err)
	}
}

func TestSetPowerTiesBreakByStakingAddress(t *testing.T) {
	s := New(100)
	if err := s.Insert(entry(2, 1, 500)); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(entry(1, 2, 500)); err != nil {
		t.Fatal(err)
	}
	sorted := s.SortedByPower()
	if sorted[0].StakingAddress.Redeem[0] != 1 {
		t.Fatalf("expected staking address 1 first on tie, got %v", sorted[0].StakingAddress)
	}
}

func TestJailedValidatorHasZeroPower(t *testing.T) {
	s := New(100)
	e := entry(1, 1, 1000)
	if err := s.Insert(e); err != nil {
		t.Fatal(err)
	}
	e.Jailed = true
	if err := s.UpdatePower(e.StakingAddress); err != nil {
		t.Fatal(err)
	}
	if s.Power(e) != 0 {
		t.Fatalf("expected zero power for jailed validator")
	}
	sorted := s.SortedByPower()
	if sorted[0].StakingAddress != e.StakingAddress {
		t.Fatalf("expected jailed validator still indexed")
	}
}

func TestRemoveKeepsIndicesConsistent(t *testing.T) {
	s := New(100)
	a := entry(1, 1, 500)
	b := entry(2, 2, 600)
	if err := s.Insert(a); err != nil {
		t.Fatal(err)
	}
	if err := s.Insert(b); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(a.StakingAddress); err != nil {
		t.Fatal(err)
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 remaining, got %d", s.Len())
	}
	if _, ok := s.ByStakingAddress(a.StakingAddress); ok {
		t.Fatalf("expected removed validator absent")
	}
	if err := s.SanityCheck(); err != nil {
		t.Fatal(err)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := New(100)
	e := entry(1, 1, 500)
	if err := s.Insert(e); err != nil {
		t.Fatal(err)
	}
	clone := s.Clone()
	cloned, _ := clone.ByStakingAddress(e.StakingAddress)
	cloned.Bonded = 999
	if err := clone.UpdatePower(cloned.StakingAddress); err != nil {
		t.Fatal(err)
	}

	original, _ := s.ByStakingAddress(e.StakingAddress)
	if original.Bonded != 500 {
		t.Fatalf("expected original set unaffected by clone mutation, got %d", original.Bonded)
	}
}

func TestLivenessMissedCountsUnsignedBits(t *testing.T) {
	l := NewLivenessTracker(4)
	l.RecordBlock(true)
	l.RecordBlock(false)
	l.RecordBlock(false)
	l.RecordBlock(true)
	if got := l.Missed(); got != 2 {
		t.Fatalf("expected 2 missed, got %d", got)
	}
	// Ring overwrites the oldest bit (the first `true`) with a new miss.
	l.RecordBlock(false)
	if got := l.Missed(); got != 3 {
		t.Fatalf("expected 3 missed after ring wrap, got %d", got)
	}
}

func TestDiffAgainstEmitsAdditionsRemovalsAndChanges(t *testing.T) {
	prior := Snapshot{addr(1): 10, addr(2): 20}
	next := Snapshot{addr(1): 10, addr(2): 25, addr(3): 5}

	updates := DiffAgainst(prior, next)
	want := map[state.Address]uint64{addr(2): 25, addr(3): 5}
	if len(updates) != len(want) {
		t.Fatalf("expected %d updates, got %d: %+v", len(want), len(updates), updates)
	}
	for _, u := range updates {
		if want[u.ValidatorAddress] != u.Power {
			t.Fatalf("unexpected update %+v", u)
		}
	}
}
