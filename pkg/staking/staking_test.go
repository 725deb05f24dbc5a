package staking

import (
	"testing"
	"time"

	"github.com/stakechain/chaincore/pkg/config"
	"github.com/stakechain/chaincore/pkg/enclave"
	"github.com/stakechain/chaincore/pkg/state"
	"github.com/stakechain/chaincore/pkg/tx"
	"github.com/stakechain/chaincore/pkg/validator"
)

// memStore is a trivial in-memory AccountStore for exercising Engine
// transitions without pulling in pkg/merkle or pkg/kv.
type memStore struct {
	accounts map[state.StakedStateAddress]*state.StakingAccount
}

func newMemStore() *memStore {
	return &memStore{accounts: map[state.StakedStateAddress]*state.StakingAccount{}}
}

func (m *memStore) Get(addr state.StakedStateAddress) (*state.StakingAccount, error) {
	acct, ok := m.accounts[addr]
	if !ok {
		return nil, nil
	}
	cp := *acct
	return &cp, nil
}

func (m *memStore) Put(acct *state.StakingAccount) error {
	cp := *acct
	m.accounts[acct.Address] = &cp
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		MinRequiredStaking:    1000,
		MaxValidators:         10,
		MaxEvidenceAge:        48 * time.Hour,
		SlashWaitPeriod:       10 * time.Minute,
		JailDuration:          24 * time.Hour,
		RewardPeriod:          time.Hour,
		UnbondingPeriod:       21 * 24 * time.Hour,
		BlockSigningWindow:    4,
		ByzantineSlashPercent: 20,
		LivenessSlashPercent:  1,
		MissedBlockThreshold:  2,
		BaseUnit:              100,
	}
}

func addrFor(b byte) state.Address {
	var a state.Address
	a[0] = b
	return a
}

func stakingAddrFor(b byte) state.StakedStateAddress {
	return state.NewBasicRedeemAddress(addrFor(b))
}

// Scenario 1: genesis with a single validator bonded above the minimum
// produces a non-jailed, active entry with positive voting power.
func TestGenesisSingleValidatorIsActiveWithPower(t *testing.T) {
	set := validator.New(state.Coin(100))
	staking := stakingAddrFor(1)
	e := &validator.Entry{
		StakingAddress:   staking,
		ValidatorAddress: addrFor(1),
		Bonded:           5000,
		Liveness:         validator.NewLivenessTracker(4),
	}
	if err := set.Insert(e); err != nil {
		t.Fatal(err)
	}
	if set.Power(e) != 50 {
		t.Fatalf("expected power 50, got %d", set.Power(e))
	}
	if e.InactiveTime != nil {
		t.Fatalf("expected genesis validator active")
	}
}

// Scenario 2: a block with no transactions and a full round of signing
// advances liveness tracking but changes nothing else.
func TestBlockWithNoTxLeavesStateUnchanged(t *testing.T) {
	cfg := testConfig()
	set := validator.New(state.Coin(cfg.BaseUnit))
	staking := stakingAddrFor(1)
	e := &validator.Entry{
		StakingAddress:   staking,
		ValidatorAddress: addrFor(1),
		Bonded:           5000,
		Liveness:         validator.NewLivenessTracker(cfg.BlockSigningWindow),
	}
	if err := set.Insert(e); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(set, cfg)
	blockTime := time.Unix(1000, 0)

	if err := engine.BeginBlock(blockTime, staking, nil, []SigningInfo{{ValidatorAddress: e.ValidatorAddress, Signed: true}}); err != nil {
		t.Fatal(err)
	}
	if _, err := engine.EndBlock(blockTime); err != nil {
		t.Fatal(err)
	}

	if e.Bonded != 5000 {
		t.Fatalf("expected bonded unchanged, got %d", e.Bonded)
	}
	if e.Jailed {
		t.Fatalf("expected validator not jailed")
	}
	if e.Liveness.Missed() != 0 {
		t.Fatalf("expected zero missed blocks, got %d", e.Liveness.Missed())
	}
}

// Scenario 3: byzantine evidence jails the validator immediately and, once
// the slash wait period elapses, deducts the byzantine slash ratio from
// bonded stake into the rewards pool.
func TestByzantineEvidenceJailsAndSlashes(t *testing.T) {
	cfg := testConfig()
	set := validator.New(state.Coin(cfg.BaseUnit))
	staking := stakingAddrFor(1)
	e := &validator.Entry{
		StakingAddress:   staking,
		ValidatorAddress: addrFor(1),
		Bonded:           10000,
		Liveness:         validator.NewLivenessTracker(cfg.BlockSigningWindow),
	}
	if err := set.Insert(e); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(set, cfg)
	blockTime := time.Unix(1000, 0)

	if err := engine.BeginBlock(blockTime, staking, []Evidence{{StakingAddress: staking, Reason: "double sign"}}, nil); err != nil {
		t.Fatal(err)
	}
	if !e.Jailed {
		t.Fatalf("expected validator jailed immediately on byzantine evidence")
	}
	if e.Bonded != 10000 {
		t.Fatalf("expected no slash yet before wait period elapses, got %d", e.Bonded)
	}

	afterWait := blockTime.Add(cfg.SlashWaitPeriod + time.Second)
	if err := engine.BeginBlock(afterWait, staking, nil, nil); err != nil {
		t.Fatal(err)
	}
	if e.Bonded != 8000 {
		t.Fatalf("expected 20%% byzantine slash to leave 8000 bonded, got %d", e.Bonded)
	}
	if engine.RewardsPool != 2000 {
		t.Fatalf("expected slashed amount credited to rewards pool, got %d", engine.RewardsPool)
	}
}

// Scenario 4: falling below the minimum required stake inactivates a
// validator and emits a zero-power diff update to consensus.
func TestBelowMinimumStakeInactivatesAndEmitsZeroPowerDiff(t *testing.T) {
	cfg := testConfig()
	set := validator.New(state.Coin(cfg.BaseUnit))
	staking := stakingAddrFor(1)
	e := &validator.Entry{
		StakingAddress:   staking,
		ValidatorAddress: addrFor(1),
		Bonded:           5000,
		Liveness:         validator.NewLivenessTracker(cfg.BlockSigningWindow),
	}
	if err := set.Insert(e); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(set, cfg)
	blockTime := time.Unix(1000, 0)

	if err := engine.BeginBlock(blockTime, staking, nil, nil); err != nil {
		t.Fatal(err)
	}
	updates, err := engine.EndBlock(blockTime)
	if err != nil {
		t.Fatal(err)
	}
	if len(updates) != 1 || updates[0].Power != 50 {
		t.Fatalf("expected initial positive-power diff, got %+v", updates)
	}

	e.Bonded = 500 // below cfg.MinRequiredStaking (1000)
	nextBlock := blockTime.Add(time.Minute)
	if err := engine.BeginBlock(nextBlock, staking, nil, nil); err != nil {
		t.Fatal(err)
	}
	updates, err = engine.EndBlock(nextBlock)
	if err != nil {
		t.Fatal(err)
	}
	if e.InactiveTime == nil {
		t.Fatalf("expected validator marked inactive")
	}
	if len(updates) != 1 || updates[0].Power != 0 {
		t.Fatalf("expected zero-power diff after dropping below minimum stake, got %+v", updates)
	}
}

func TestDispatchDepositAppliesToAccountAndValidatorMirror(t *testing.T) {
	cfg := testConfig()
	set := validator.New(state.Coin(cfg.BaseUnit))
	staking := stakingAddrFor(1)
	e := &validator.Entry{
		StakingAddress:   staking,
		ValidatorAddress: addrFor(1),
		Bonded:           1000,
		Liveness:         validator.NewLivenessTracker(cfg.BlockSigningWindow),
	}
	if err := set.Insert(e); err != nil {
		t.Fatal(err)
	}
	engine := NewEngine(set, cfg)
	store := newMemStore()
	if err := store.Put(&state.StakingAccount{Address: staking, Bonded: 1000}); err != nil {
		t.Fatal(err)
	}
	proxy := enclave.NewLoopback(0x01)

	raw := tx.Encode(tx.DepositTx{To: staking, Amount: 500})
	if err := engine.DeliverTx(store, proxy, 0x01, time.Unix(1000, 0), raw); err != nil {
		t.Fatal(err)
	}

	acct, err := store.Get(staking)
	if err != nil {
		t.Fatal(err)
	}
	if acct.Bonded != 1500 {
		t.Fatalf("expected bonded 1500 after deposit, got %d", acct.Bonded)
	}
	if e.Bonded != 1500 {
		t.Fatalf("expected validator mirror updated to 1500, got %d", e.Bonded)
	}
}

func TestDispatchUnbondRejectsStaleNonce(t *testing.T) {
	cfg := testConfig()
	set := validator.New(state.Coin(cfg.BaseUnit))
	engine := NewEngine(set, cfg)
	store := newMemStore()
	staking := stakingAddrFor(1)
	if err := store.Put(&state.StakingAccount{Address: staking, Bonded: 1000, Nonce: 3}); err != nil {
		t.Fatal(err)
	}
	proxy := enclave.NewLoopback(0x01)

	raw := tx.Encode(tx.UnbondTx{From: staking, Amount: 100, Nonce: 1})
	if err := engine.DeliverTx(store, proxy, 0x01, time.Unix(1000, 0), raw); err != errStaleNonce {
		t.Fatalf("expected errStaleNonce, got %v", err)
	}
}
