package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"time"

	"github.com/stakechain/chaincore/pkg/config"
	"github.com/stakechain/chaincore/pkg/merkle"
	"github.com/stakechain/chaincore/pkg/staking"
	"github.com/stakechain/chaincore/pkg/state"
	"github.com/stakechain/chaincore/pkg/validator"
)

// TopLevelState is the triple that, together with the block's tx root,
// determines the app-hash: the account-tree root, the rewards pool balance,
// and the network parameters.
type TopLevelState struct {
	AccountRoot merkle.Hash
	RewardsPool state.Coin
	Params      NetworkParams
}

// Encode renders the triple deterministically.
func (t TopLevelState) Encode() []byte {
	out := make([]byte, 0, 32+8+12*8+1)
	out = append(out, t.AccountRoot[:]...)
	var pool [8]byte
	binary.BigEndian.PutUint64(pool[:], uint64(t.RewardsPool))
	out = append(out, pool[:]...)
	return append(out, t.Params.Encode()...)
}

// DecodeTopLevelState is the exact inverse of Encode.
func DecodeTopLevelState(data []byte) (TopLevelState, int, error) {
	if len(data) < 40 {
		return TopLevelState{}, 0, fmt.Errorf("chain: top-level state truncated")
	}
	var t TopLevelState
	copy(t.AccountRoot[:], data[:32])
	t.RewardsPool = state.Coin(binary.BigEndian.Uint64(data[32:40]))
	params, n, err := DecodeNetworkParams(data[40:])
	if err != nil {
		return TopLevelState{}, 0, err
	}
	t.Params = params
	return t, 40 + n, nil
}

// ChainNodeState is the application's top-level snapshot, persisted under
// the metadata column at every Commit and restored at startup.
type ChainNodeState struct {
	LastBlockHeight uint64
	LastAppHash     [32]byte
	LastBlockTime   time.Time
	GenesisTime     time.Time
	Validators      ValidatorState
	TopLevel        TopLevelState
}

// Encode renders the full snapshot.
func (s *ChainNodeState) Encode() []byte {
	out := make([]byte, 0, 256)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.LastBlockHeight)
	out = append(out, buf[:]...)
	out = append(out, s.LastAppHash[:]...)
	out = appendUnix(out, s.LastBlockTime)
	out = appendUnix(out, s.GenesisTime)
	vs := s.Validators.Encode()
	out = appendLen(out, len(vs))
	out = append(out, vs...)
	return append(out, s.TopLevel.Encode()...)
}

// DecodeChainNodeState is the exact inverse of Encode.
func DecodeChainNodeState(data []byte) (*ChainNodeState, error) {
	if len(data) < 8+32+8+8 {
		return nil, fmt.Errorf("chain: node state truncated")
	}
	s := &ChainNodeState{}
	s.LastBlockHeight = binary.BigEndian.Uint64(data)
	copy(s.LastAppHash[:], data[8:40])
	offset := 40
	var n int
	var err error
	s.LastBlockTime, n, err = readUnix(data[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	s.GenesisTime, n, err = readUnix(data[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	vlen, n, err := readLen(data[offset:])
	if err != nil {
		return nil, err
	}
	offset += n
	if len(data[offset:]) < vlen {
		return nil, fmt.Errorf("chain: validator state truncated")
	}
	s.Validators, err = DecodeValidatorState(data[offset : offset+vlen])
	if err != nil {
		return nil, err
	}
	offset += vlen
	s.TopLevel, _, err = DecodeTopLevelState(data[offset:])
	if err != nil {
		return nil, err
	}
	return s, nil
}

// punishmentEntry pairs a staking address with its punishment record for
// deterministic, address-sorted serialization.
type punishmentEntry struct {
	Address state.StakedStateAddress
	Record  staking.PunishmentRecord
}

// accrualEntry pairs a proposer's staking address with its block count.
type accrualEntry struct {
	Address state.StakedStateAddress
	Count   uint64
}

// snapshotEntry pairs a validator address with the power last reported to
// consensus for it.
type snapshotEntry struct {
	Address state.Address
	Power   uint64
}

// ValidatorState is the serializable form of the staking engine: validator
// entries, outstanding punishments, reward accrual, and the snapshot handed
// to consensus at the prior block. It exists so a restarted node resumes
// from exactly the state a continuous run would hold.
type ValidatorState struct {
	Entries                []validator.Entry
	Punishments            []punishmentEntry
	RewardsPool            state.Coin
	Accrual                []accrualEntry
	LastRewardDistribution time.Time
	PriorSnapshot          []snapshotEntry
}

// CaptureValidatorState extracts the engine's current state in the sorted
// order the encoding requires.
func CaptureValidatorState(e *staking.Engine) ValidatorState {
	var vs ValidatorState

	entries := e.Validators.All()
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].StakingAddress.Redeem[:], entries[j].StakingAddress.Redeem[:]) < 0
	})
	for _, entry := range entries {
		cp := *entry
		if entry.Liveness != nil {
			cp.Liveness = entry.Liveness.Clone()
		}
		if entry.InactiveTime != nil {
			t := *entry.InactiveTime
			cp.InactiveTime = &t
		}
		vs.Entries = append(vs.Entries, cp)
	}

	for addr, rec := range e.Punishments {
		cp := *rec
		if rec.SlashAmount != nil {
			amt := *rec.SlashAmount
			cp.SlashAmount = &amt
		}
		vs.Punishments = append(vs.Punishments, punishmentEntry{Address: addr, Record: cp})
	}
	sort.Slice(vs.Punishments, func(i, j int) bool {
		return bytes.Compare(vs.Punishments[i].Address.Redeem[:], vs.Punishments[j].Address.Redeem[:]) < 0
	})

	vs.RewardsPool = e.RewardsPool

	for addr, count := range e.Accrual {
		vs.Accrual = append(vs.Accrual, accrualEntry{Address: addr, Count: count})
	}
	sort.Slice(vs.Accrual, func(i, j int) bool {
		return bytes.Compare(vs.Accrual[i].Address.Redeem[:], vs.Accrual[j].Address.Redeem[:]) < 0
	})

	vs.LastRewardDistribution = e.LastRewardDistribution

	for addr, power := range e.PriorSnapshot {
		vs.PriorSnapshot = append(vs.PriorSnapshot, snapshotEntry{Address: addr, Power: power})
	}
	sort.Slice(vs.PriorSnapshot, func(i, j int) bool {
		return bytes.Compare(vs.PriorSnapshot[i].Address[:], vs.PriorSnapshot[j].Address[:]) < 0
	})

	return vs
}

// BuildEngine reconstructs a staking engine from a decoded snapshot.
func (vs ValidatorState) BuildEngine(cfg *config.Config) (*staking.Engine, error) {
	set := validator.New(state.Coin(cfg.BaseUnit))
	for i := range vs.Entries {
		entry := vs.Entries[i]
		cp := entry
		if entry.Liveness != nil {
			cp.Liveness = entry.Liveness.Clone()
		}
		if entry.InactiveTime != nil {
			t := *entry.InactiveTime
			cp.InactiveTime = &t
		}
		if err := set.Insert(&cp); err != nil {
			return nil, err
		}
	}

	e := staking.NewEngine(set, cfg)
	for _, pe := range vs.Punishments {
		rec := pe.Record
		if pe.Record.SlashAmount != nil {
			amt := *pe.Record.SlashAmount
			rec.SlashAmount = &amt
		}
		e.Punishments[pe.Address] = &rec
	}
	e.RewardsPool = vs.RewardsPool
	for _, ae := range vs.Accrual {
		e.Accrual[ae.Address] = ae.Count
	}
	e.LastRewardDistribution = vs.LastRewardDistribution
	if len(vs.PriorSnapshot) > 0 {
		e.PriorSnapshot = validator.Snapshot{}
		for _, se := range vs.PriorSnapshot {
			e.PriorSnapshot[se.Address] = se.Power
		}
	}
	if err := set.SanityCheck(); err != nil {
		return nil, err
	}
	return e, nil
}

// Encode renders the validator state; every list is already sorted by
// CaptureValidatorState, so the output is content-derived.
func (vs ValidatorState) Encode() []byte {
	out := appendLen(nil, len(vs.Entries))
	for i := range vs.Entries {
		out = append(out, encodeEntry(&vs.Entries[i])...)
	}

	out = appendLen(out, len(vs.Punishments))
	for _, pe := range vs.Punishments {
		out = append(out, pe.Address.Encode()...)
		out = append(out, encodePunishment(pe.Record)...)
	}

	var pool [8]byte
	binary.BigEndian.PutUint64(pool[:], uint64(vs.RewardsPool))
	out = append(out, pool[:]...)

	out = appendLen(out, len(vs.Accrual))
	for _, ae := range vs.Accrual {
		out = append(out, ae.Address.Encode()...)
		var c [8]byte
		binary.BigEndian.PutUint64(c[:], ae.Count)
		out = append(out, c[:]...)
	}

	out = appendUnix(out, vs.LastRewardDistribution)

	out = appendLen(out, len(vs.PriorSnapshot))
	for _, se := range vs.PriorSnapshot {
		out = append(out, se.Address[:]...)
		var p [8]byte
		binary.BigEndian.PutUint64(p[:], se.Power)
		out = append(out, p[:]...)
	}
	return out
}

// DecodeValidatorState is the exact inverse of Encode.
func DecodeValidatorState(data []byte) (ValidatorState, error) {
	var vs ValidatorState
	count, offset, err := readLen(data)
	if err != nil {
		return vs, err
	}
	for i := 0; i < count; i++ {
		entry, n, err := decodeEntry(data[offset:])
		if err != nil {
			return vs, err
		}
		offset += n
		vs.Entries = append(vs.Entries, entry)
	}

	count, n, err := readLen(data[offset:])
	if err != nil {
		return vs, err
	}
	offset += n
	for i := 0; i < count; i++ {
		addr, n, err := state.DecodeStakedStateAddress(data[offset:])
		if err != nil {
			return vs, err
		}
		offset += n
		rec, n, err := decodePunishment(data[offset:])
		if err != nil {
			return vs, err
		}
		offset += n
		vs.Punishments = append(vs.Punishments, punishmentEntry{Address: addr, Record: rec})
	}

	if len(data[offset:]) < 8 {
		return vs, fmt.Errorf("chain: rewards pool truncated")
	}
	vs.RewardsPool = state.Coin(binary.BigEndian.Uint64(data[offset:]))
	offset += 8

	count, n, err = readLen(data[offset:])
	if err != nil {
		return vs, err
	}
	offset += n
	for i := 0; i < count; i++ {
		addr, n, err := state.DecodeStakedStateAddress(data[offset:])
		if err != nil {
			return vs, err
		}
		offset += n
		if len(data[offset:]) < 8 {
			return vs, fmt.Errorf("chain: accrual entry truncated")
		}
		vs.Accrual = append(vs.Accrual, accrualEntry{Address: addr, Count: binary.BigEndian.Uint64(data[offset:])})
		offset += 8
	}

	vs.LastRewardDistribution, n, err = readUnix(data[offset:])
	if err != nil {
		return vs, err
	}
	offset += n

	count, n, err = readLen(data[offset:])
	if err != nil {
		return vs, err
	}
	offset += n
	for i := 0; i < count; i++ {
		if len(data[offset:]) < 20+8 {
			return vs, fmt.Errorf("chain: snapshot entry truncated")
		}
		var se snapshotEntry
		copy(se.Address[:], data[offset:offset+20])
		se.Power = binary.BigEndian.Uint64(data[offset+20:])
		offset += 28
		vs.PriorSnapshot = append(vs.PriorSnapshot, se)
	}
	return vs, nil
}

const (
	entryFlagJailed   byte = 1 << 0
	entryFlagInactive byte = 1 << 1
	entryFlagLiveness byte = 1 << 2
)

func encodeEntry(e *validator.Entry) []byte {
	out := e.StakingAddress.Encode()
	out = append(out, e.ValidatorAddress[:]...)
	council := e.Council.Encode()
	out = appendLen(out, len(council))
	out = append(out, council...)
	var bonded [8]byte
	binary.BigEndian.PutUint64(bonded[:], uint64(e.Bonded))
	out = append(out, bonded[:]...)

	var flags byte
	if e.Jailed {
		flags |= entryFlagJailed
	}
	if e.InactiveTime != nil {
		flags |= entryFlagInactive
	}
	if e.Liveness != nil {
		flags |= entryFlagLiveness
	}
	out = append(out, flags)
	if e.InactiveTime != nil {
		out = appendUnix(out, *e.InactiveTime)
	}
	if e.Liveness != nil {
		lv := e.Liveness.Encode()
		out = appendLen(out, len(lv))
		out = append(out, lv...)
	}
	return out
}

func decodeEntry(data []byte) (validator.Entry, int, error) {
	var e validator.Entry
	addr, offset, err := state.DecodeStakedStateAddress(data)
	if err != nil {
		return e, 0, err
	}
	e.StakingAddress = addr
	if len(data[offset:]) < 20 {
		return e, 0, fmt.Errorf("chain: validator entry truncated")
	}
	copy(e.ValidatorAddress[:], data[offset:offset+20])
	offset += 20

	clen, n, err := readLen(data[offset:])
	if err != nil {
		return e, 0, err
	}
	offset += n
	if len(data[offset:]) < clen {
		return e, 0, fmt.Errorf("chain: council node truncated")
	}
	council, _, err := state.DecodeCouncilNode(data[offset : offset+clen])
	if err != nil {
		return e, 0, err
	}
	e.Council = council
	offset += clen

	if len(data[offset:]) < 9 {
		return e, 0, fmt.Errorf("chain: validator entry truncated")
	}
	e.Bonded = state.Coin(binary.BigEndian.Uint64(data[offset:]))
	offset += 8
	flags := data[offset]
	offset++
	e.Jailed = flags&entryFlagJailed != 0
	if flags&entryFlagInactive != 0 {
		t, n, err := readUnix(data[offset:])
		if err != nil {
			return e, 0, err
		}
		offset += n
		e.InactiveTime = &t
	}
	if flags&entryFlagLiveness != 0 {
		llen, n, err := readLen(data[offset:])
		if err != nil {
			return e, 0, err
		}
		offset += n
		if len(data[offset:]) < llen {
			return e, 0, fmt.Errorf("chain: liveness tracker truncated")
		}
		tracker, _, err := validator.DecodeLivenessTracker(data[offset : offset+llen])
		if err != nil {
			return e, 0, err
		}
		e.Liveness = tracker
		offset += llen
	}
	return e, offset, nil
}

func encodePunishment(rec staking.PunishmentRecord) []byte {
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out, rec.SlashRatio.Numerator)
	binary.BigEndian.PutUint64(out[8:], rec.SlashRatio.Denominator)
	out = appendUnix(out, rec.JailTime)
	out = appendLen(out, len(rec.Reason))
	out = append(out, rec.Reason...)
	if rec.SlashAmount != nil {
		out = append(out, 1)
		var amt [8]byte
		binary.BigEndian.PutUint64(amt[:], uint64(*rec.SlashAmount))
		out = append(out, amt[:]...)
	} else {
		out = append(out, 0)
	}
	return out
}

func decodePunishment(data []byte) (staking.PunishmentRecord, int, error) {
	var rec staking.PunishmentRecord
	if len(data) < 16 {
		return rec, 0, fmt.Errorf("chain: punishment record truncated")
	}
	rec.SlashRatio.Numerator = binary.BigEndian.Uint64(data)
	rec.SlashRatio.Denominator = binary.BigEndian.Uint64(data[8:])
	offset := 16
	t, n, err := readUnix(data[offset:])
	if err != nil {
		return rec, 0, err
	}
	rec.JailTime = t
	offset += n
	rlen, n, err := readLen(data[offset:])
	if err != nil {
		return rec, 0, err
	}
	offset += n
	if len(data[offset:]) < rlen+1 {
		return rec, 0, fmt.Errorf("chain: punishment reason truncated")
	}
	rec.Reason = string(data[offset : offset+rlen])
	offset += rlen
	hasAmount := data[offset]
	offset++
	if hasAmount == 1 {
		if len(data[offset:]) < 8 {
			return rec, 0, fmt.Errorf("chain: punishment amount truncated")
		}
		amt := state.Coin(binary.BigEndian.Uint64(data[offset:]))
		rec.SlashAmount = &amt
		offset += 8
	}
	return rec, offset, nil
}

func appendLen(dst []byte, n int) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(n))
	return append(dst, buf[:]...)
}

func readLen(data []byte) (int, int, error) {
	if len(data) < 4 {
		return 0, 0, fmt.Errorf("chain: length prefix truncated")
	}
	return int(binary.BigEndian.Uint32(data)), 4, nil
}

func appendUnix(dst []byte, t time.Time) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.Unix()))
	return append(dst, buf[:]...)
}

func readUnix(data []byte) (time.Time, int, error) {
	if len(data) < 8 {
		return time.Time{}, 0, fmt.Errorf("chain: timestamp truncated")
	}
	return time.Unix(int64(binary.BigEndian.Uint64(data)), 0).UTC(), 8, nil
}
