// Package staking implements the staking state machine: jailing, slashing,
// reward accrual, validator lifecycle transitions, and transaction
// dispatch.
package staking

import (
	"time"

	"github.com/stakechain/chaincore/pkg/state"
)

// PunishmentRecord is one jailed validator's outstanding punishment.
type PunishmentRecord struct {
	SlashRatio  state.SlashRatio
	JailTime    time.Time
	Reason      string
	SlashAmount *state.Coin
}

// PunishmentSet maps a jailed staking address to its punishment record; an
// address is present here iff the corresponding account is jailed.
type PunishmentSet map[state.StakedStateAddress]*PunishmentRecord

// InsertOrMerge applies the BeginBlock jail-decision conflict rule: on
// conflict, keep the higher slash ratio and refresh the reason, but never
// reset jail time or overwrite an already-computed slash amount.
func (p PunishmentSet) InsertOrMerge(addr state.StakedStateAddress, ratio state.SlashRatio, reason string, jailTime time.Time) {
	existing, ok := p[addr]
	if !ok {
		p[addr] = &PunishmentRecord{SlashRatio: ratio, JailTime: jailTime, Reason: reason}
		return
	}
	if ratioGreater(ratio, existing.SlashRatio) {
		existing.SlashRatio = ratio
	}
	existing.Reason = reason
}

// ratioGreater compares a/b of two SlashRatio values via cross-multiplication
// to avoid floating point.
func ratioGreater(a, b state.SlashRatio) bool {
	if a.Denominator == 0 || b.Denominator == 0 {
		return a.Numerator > b.Numerator
	}
	return a.Numerator*b.Denominator > b.Numerator*a.Denominator
}

// Remove deletes a punishment record, honored on a successful unjail.
func (p PunishmentSet) Remove(addr state.StakedStateAddress) {
	delete(p, addr)
}
