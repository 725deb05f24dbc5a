package state

import (
	"encoding/binary"
	"fmt"
	"time"
)

// CouncilNode is a validator's declarative metadata.
type CouncilNode struct {
	Name            string
	SecurityContact string
	ConsensusPubKey TendermintValidatorPubKey
}

// Encode renders the council node deterministically; exported so callers
// outside this package (e.g. pkg/tx's node-join payload) can embed it.
func (c CouncilNode) Encode() []byte {
	return c.encode()
}

func (c CouncilNode) encode() []byte {
	var out []byte
	out = appendString(out, c.Name)
	out = appendString(out, c.SecurityContact)
	out = append(out, c.ConsensusPubKey.Encode()...)
	return out
}

// DecodeCouncilNode is the exact inverse of Encode.
func DecodeCouncilNode(data []byte) (CouncilNode, int, error) {
	return decodeCouncilNode(data)
}

func decodeCouncilNode(data []byte) (CouncilNode, int, error) {
	var offset int
	name, n, err := readString(data[offset:])
	if err != nil {
		return CouncilNode{}, 0, err
	}
	offset += n
	contact, n, err := readString(data[offset:])
	if err != nil {
		return CouncilNode{}, 0, err
	}
	offset += n
	pk, n, err := DecodeTendermintValidatorPubKey(data[offset:])
	if err != nil {
		return CouncilNode{}, 0, err
	}
	offset += n
	return CouncilNode{Name: name, SecurityContact: contact, ConsensusPubKey: pk}, offset, nil
}

// ValidatorBinding ties a staking account to its validator identity.
type ValidatorBinding struct {
	Council          CouncilNode
	ValidatorAddress Address
}

// SlashRatio expresses a slash as an exact integer fraction, avoiding
// floating point in a determinism-critical computation.
type SlashRatio struct {
	Numerator   uint64
	Denominator uint64
}

// Punishment is the account's own record of its most recent jailing, kept
// alongside the canonical PunishmentSet entry (pkg/staking) so a fetched
// account is self-describing.
type Punishment struct {
	SlashRatio  SlashRatio
	Reason      string
	SlashAmount *Coin
}

// StakingAccount is the long-lived record for one staking identity.
type StakingAccount struct {
	Address      StakedStateAddress
	Nonce        uint64
	Bonded       Coin
	Unbonded     Coin
	UnbondedFrom time.Time
	Validator    *ValidatorBinding
	JailedUntil  *time.Time
	Punishment   *Punishment
}

// CheckInvariants verifies the account-level invariants: bonded+unbonded
// does not exceed the account's reported total, and a bound validator's
// address matches the hash of its own consensus pubkey.
func (a *StakingAccount) CheckInvariants(total Coin) error {
	sum, err := a.Bonded.Add(a.Unbonded)
	if err != nil {
		return err
	}
	if sum > total {
		return fmt.Errorf("state: account %s bonded+unbonded %d exceeds total %d", a.Address.Redeem, sum, total)
	}
	if a.Validator != nil {
		derived, err := a.Validator.Council.ConsensusPubKey.ValidatorAddress()
		if err != nil {
			return err
		}
		if derived != a.Validator.ValidatorAddress {
			return fmt.Errorf("state: account %s validator address mismatch", a.Address.Redeem)
		}
	}
	return nil
}

const (
	flagHasValidator byte = 1 << 0
	flagHasJailed    byte = 1 << 1
	flagHasSlash     byte = 1 << 2
)

// Encode renders the account with a tag-first, length-prefixed binary
// layout chosen for byte-for-byte determinism: unlike
// encoding/json, field order and presence are explicit rather than
// dependent on map iteration or struct-tag conventions.
func (a *StakingAccount) Encode() []byte {
	out := a.Address.Encode()
	var nonceBuf [8]byte
	binary.BigEndian.PutUint64(nonceBuf[:], a.Nonce)
	out = append(out, nonceBuf[:]...)
	var bondedBuf, unbondedBuf [8]byte
	binary.BigEndian.PutUint64(bondedBuf[:], uint64(a.Bonded))
	binary.BigEndian.PutUint64(unbondedBuf[:], uint64(a.Unbonded))
	out = append(out, bondedBuf[:]...)
	out = append(out, unbondedBuf[:]...)
	out = appendUnixSeconds(out, a.UnbondedFrom)

	var flags byte
	if a.Validator != nil {
		flags |= flagHasValidator
	}
	if a.JailedUntil != nil {
		flags |= flagHasJailed
	}
	if a.Punishment != nil {
		flags |= flagHasSlash
	}
	out = append(out, flags)

	if a.Validator != nil {
		out = append(out, a.Validator.Council.encode()...)
		out = append(out, a.Validator.ValidatorAddress[:]...)
	}
	if a.JailedUntil != nil {
		out = appendUnixSeconds(out, *a.JailedUntil)
	}
	if a.Punishment != nil {
		var numBuf, denBuf [8]byte
		binary.BigEndian.PutUint64(numBuf[:], a.Punishment.SlashRatio.Numerator)
		binary.BigEndian.PutUint64(denBuf[:], a.Punishment.SlashRatio.Denominator)
		out = append(out, numBuf[:]...)
		out = append(out, denBuf[:]...)
		out = appendString(out, a.Punishment.Reason)
		if a.Punishment.SlashAmount != nil {
			out = append(out, 1)
			var amtBuf [8]byte
			binary.BigEndian.PutUint64(amtBuf[:], uint64(*a.Punishment.SlashAmount))
			out = append(out, amtBuf[:]...)
		} else {
			out = append(out, 0)
		}
	}
	return out
}

// DecodeStakingAccount is the exact inverse of Encode.
func DecodeStakingAccount(data []byte) (*StakingAccount, error) {
	addr, n, err := DecodeStakedStateAddress(data)
	if err != nil {
		return nil, err
	}
	offset := n
	if len(data[offset:]) < 8+8+8+8+1 {
		return nil, fmt.Errorf("state: account truncated")
	}
	nonce := binary.BigEndian.Uint64(data[offset:])
	offset += 8
	bonded := binary.BigEndian.Uint64(data[offset:])
	offset += 8
	unbonded := binary.BigEndian.Uint64(data[offset:])
	offset += 8
	unbondedFrom, n, err := readUnixSeconds(data[offset:])
	if err != nil {
		return nil, err
	}
	offset += n

	flags := data[offset]
	offset++

	acct := &StakingAccount{
		Address:      addr,
		Nonce:        nonce,
		Bonded:       Coin(bonded),
		Unbonded:     Coin(unbonded),
		UnbondedFrom: unbondedFrom,
	}

	if flags&flagHasValidator != 0 {
		council, n, err := decodeCouncilNode(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if len(data[offset:]) < 20 {
			return nil, fmt.Errorf("state: account validator address truncated")
		}
		var vaddr Address
		copy(vaddr[:], data[offset:offset+20])
		offset += 20
		acct.Validator = &ValidatorBinding{Council: council, ValidatorAddress: vaddr}
	}
	if flags&flagHasJailed != 0 {
		jailed, n, err := readUnixSeconds(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		acct.JailedUntil = &jailed
	}
	if flags&flagHasSlash != 0 {
		if len(data[offset:]) < 16 {
			return nil, fmt.Errorf("state: account punishment truncated")
		}
		num := binary.BigEndian.Uint64(data[offset:])
		offset += 8
		den := binary.BigEndian.Uint64(data[offset:])
		offset += 8
		reason, n, err := readString(data[offset:])
		if err != nil {
			return nil, err
		}
		offset += n
		if len(data[offset:]) < 1 {
			return nil, fmt.Errorf("state: account punishment amount flag truncated")
		}
		hasAmount := data[offset]
		offset++
		p := &Punishment{SlashRatio: SlashRatio{Numerator: num, Denominator: den}, Reason: reason}
		if hasAmount == 1 {
			if len(data[offset:]) < 8 {
				return nil, fmt.Errorf("state: account punishment amount truncated")
			}
			amt := Coin(binary.BigEndian.Uint64(data[offset:]))
			p.SlashAmount = &amt
			offset += 8
		}
		acct.Punishment = p
	}
	return acct, nil
}
