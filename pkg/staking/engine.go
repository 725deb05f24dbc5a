package staking

import (
	"bytes"
	"sort"
	"time"

	"github.com/stakechain/chaincore/pkg/config"
	"github.com/stakechain/chaincore/pkg/state"
	"github.com/stakechain/chaincore/pkg/validator"
)

// Evidence is one reported instance of byzantine validator behavior.
type Evidence struct {
	StakingAddress state.StakedStateAddress
	Reason         string
}

// SigningInfo records whether a validator's signature was present on the
// last committed block.
type SigningInfo struct {
	ValidatorAddress state.Address
	Signed           bool
}

// Engine owns the validator set, punishment bookkeeping, and rewards pool
// for one chain, driving the BeginBlock/EndBlock transitions of the staking
// protocol. The account ledger itself lives in the Merkle-backed store the
// driver owns; Engine mutates only the in-memory Entry.Bonded mirror,
// which the driver reconciles back into StakingAccount records it persists.
type Engine struct {
	Validators  *validator.Set
	Punishments PunishmentSet
	RewardsPool state.Coin
	// Accrual counts blocks proposed per staking address since the last
	// reward distribution.
	Accrual                map[state.StakedStateAddress]uint64
	LastRewardDistribution time.Time
	PriorSnapshot          validator.Snapshot
	Cfg                    *config.Config
}

// NewEngine creates an Engine over an already-populated validator set.
func NewEngine(validators *validator.Set, cfg *config.Config) *Engine {
	return &Engine{
		Validators:  validators,
		Punishments: PunishmentSet{},
		Accrual:     map[state.StakedStateAddress]uint64{},
		Cfg:         cfg,
	}
}

func ratioFromPercent(percent int) state.SlashRatio {
	return state.SlashRatio{Numerator: uint64(percent), Denominator: 100}
}

// BeginBlock runs jail decisions, slash execution, and reward accrual, in
// that order.
func (e *Engine) BeginBlock(blockTime time.Time, proposer state.StakedStateAddress, evidence []Evidence, lastCommit []SigningInfo) error {
	if err := e.jailDecisions(blockTime, evidence, lastCommit); err != nil {
		return err
	}
	if err := e.executeSlashes(blockTime); err != nil {
		return err
	}
	return e.accrueRewards(blockTime, proposer)
}

func (e *Engine) jailDecisions(blockTime time.Time, evidence []Evidence, lastCommit []SigningInfo) error {
	byzantineRatio := ratioFromPercent(e.Cfg.ByzantineSlashPercent)
	for _, ev := range evidence {
		e.Punishments.InsertOrMerge(ev.StakingAddress, byzantineRatio, "byzantine: "+ev.Reason, blockTime)
		if entry, ok := e.Validators.ByStakingAddress(ev.StakingAddress); ok {
			entry.Jailed = true
			if err := e.Validators.UpdatePower(ev.StakingAddress); err != nil {
				return err
			}
		}
	}

	livenessRatio := ratioFromPercent(e.Cfg.LivenessSlashPercent)
	for _, si := range lastCommit {
		entry, ok := e.Validators.ByValidatorAddress(si.ValidatorAddress)
		if !ok || entry.Liveness == nil {
			continue
		}
		entry.Liveness.RecordBlock(si.Signed)
		if entry.Liveness.Missed() > e.Cfg.MissedBlockThreshold {
			e.Punishments.InsertOrMerge(entry.StakingAddress, livenessRatio, "liveness", blockTime)
			entry.Jailed = true
			if err := e.Validators.UpdatePower(entry.StakingAddress); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) executeSlashes(blockTime time.Time) error {
	addrs := make([]state.StakedStateAddress, 0, len(e.Punishments))
	for addr := range e.Punishments {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)

	for _, addr := range addrs {
		rec := e.Punishments[addr]
		if rec.SlashAmount != nil {
			continue
		}
		due := rec.JailTime.Add(e.Cfg.SlashWaitPeriod)
		if blockTime.Before(due) {
			continue
		}
		entry, ok := e.Validators.ByStakingAddress(addr)
		if !ok {
			continue
		}
		amount := entry.Bonded.ApplySlashRatio(rec.SlashRatio.Numerator, rec.SlashRatio.Denominator)
		newBonded, err := entry.Bonded.Sub(amount)
		if err != nil {
			return err
		}
		entry.Bonded = newBonded
		pool, err := e.RewardsPool.Add(amount)
		if err != nil {
			return err
		}
		e.RewardsPool = pool
		rec.SlashAmount = &amount
		if err := e.Validators.UpdatePower(addr); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) accrueRewards(blockTime time.Time, proposer state.StakedStateAddress) error {
	if e.Accrual == nil {
		e.Accrual = map[state.StakedStateAddress]uint64{}
	}
	e.Accrual[proposer]++

	if e.LastRewardDistribution.IsZero() {
		e.LastRewardDistribution = blockTime
		return nil
	}
	if blockTime.Sub(e.LastRewardDistribution) < e.Cfg.RewardPeriod {
		return nil
	}
	return e.distributeRewards(blockTime)
}

func (e *Engine) distributeRewards(blockTime time.Time) error {
	var total uint64
	for _, count := range e.Accrual {
		total += count
	}
	if total == 0 {
		e.LastRewardDistribution = blockTime
		return nil
	}

	addrs := make([]state.StakedStateAddress, 0, len(e.Accrual))
	for addr := range e.Accrual {
		addrs = append(addrs, addr)
	}
	sortAddresses(addrs)

	pool := e.RewardsPool
	var distributed state.Coin
	for _, addr := range addrs {
		count := e.Accrual[addr]
		share := state.Coin(uint64(pool) * count / total)
		entry, ok := e.Validators.ByStakingAddress(addr)
		if !ok {
			// Proposer left the set before distribution; its share stays in
			// the pool.
			continue
		}
		newBonded, err := entry.Bonded.Add(share)
		if err != nil {
			return err
		}
		entry.Bonded = newBonded
		if err := e.Validators.UpdatePower(addr); err != nil {
			return err
		}
		sum, err := distributed.Add(share)
		if err != nil {
			return err
		}
		distributed = sum
	}
	remaining, err := pool.Sub(distributed)
	if err != nil {
		return err
	}
	e.RewardsPool = remaining
	e.Accrual = map[state.StakedStateAddress]uint64{}
	e.LastRewardDistribution = blockTime
	return nil
}

// EndBlock runs inactivation, diff emission, and cleanup in order,
// returning the validator-update set to hand to consensus.
func (e *Engine) EndBlock(blockTime time.Time) ([]validator.Update, error) {
	e.inactivate(blockTime)

	topK := e.Validators.Active()
	if e.Cfg.MaxValidators < len(topK) {
		topK = topK[:e.Cfg.MaxValidators]
	}
	next := validator.SnapshotFrom(e.Validators, topK)
	updates := validator.DiffAgainst(e.PriorSnapshot, next)
	e.PriorSnapshot = next

	e.cleanup(blockTime)
	return updates, nil
}

func (e *Engine) inactivate(blockTime time.Time) {
	for _, entry := range e.Validators.All() {
		if entry.InactiveTime != nil {
			continue
		}
		_, punished := e.Punishments[entry.StakingAddress]
		belowMin := uint64(entry.Bonded) < e.Cfg.MinRequiredStaking
		if belowMin || punished {
			t := blockTime
			entry.InactiveTime = &t
		}
	}
}

func (e *Engine) cleanup(blockTime time.Time) {
	for _, entry := range e.Validators.All() {
		if entry.InactiveTime == nil {
			continue
		}
		if blockTime.Before(entry.InactiveTime.Add(e.Cfg.MaxEvidenceAge)) {
			continue
		}
		if e.Accrual[entry.StakingAddress] > 0 {
			continue
		}
		if _, punished := e.Punishments[entry.StakingAddress]; punished {
			continue
		}
		_ = e.Validators.Remove(entry.StakingAddress)
	}
}

// Unjail honors an unjail request iff block_time >= jail_time +
// jail_duration: it clears the jailed flag and removes the punishment
// entry, but leaves inactive_time untouched so the validator must
// explicitly re-join.
func (e *Engine) Unjail(addr state.StakedStateAddress, blockTime time.Time) error {
	rec, ok := e.Punishments[addr]
	if !ok {
		return errNotJailed
	}
	if blockTime.Before(rec.JailTime.Add(e.Cfg.JailDuration)) {
		return errJailNotExpired
	}
	e.Punishments.Remove(addr)
	if entry, ok := e.Validators.ByStakingAddress(addr); ok {
		entry.Jailed = false
		return e.Validators.UpdatePower(addr)
	}
	return nil
}

// CanRejoin reports whether a validator may re-join: bonded at least the
// minimum stake and no active punishment.
func (e *Engine) CanRejoin(bonded state.Coin, addr state.StakedStateAddress) bool {
	if uint64(bonded) < e.Cfg.MinRequiredStaking {
		return false
	}
	_, punished := e.Punishments[addr]
	return !punished
}

func sortAddresses(addrs []state.StakedStateAddress) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i].Redeem[:], addrs[j].Redeem[:]) < 0
	})
}
