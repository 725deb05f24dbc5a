// Package state defines the account and UTxO records the staking chain
// persists, their canonical binary encoding, and the key derivation rules
// that place them in the versioned Merkle store (pkg/merkle).
package state

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Address is the 20-byte identity shared by staking accounts and validators.
type Address [20]byte

func (a Address) String() string { return hex.EncodeToString(a[:]) }

// StakedStateAddressTag discriminates StakedStateAddress variants. Only
// BasicRedeem is implemented; the tag is still carried on the wire so a
// future address kind can be added without breaking decoders that already
// understand the tag byte.
type StakedStateAddressTag byte

const (
	AddressBasicRedeem StakedStateAddressTag = 0x00
)

// StakedStateAddress is a tagged sum type over staking-account identity
// kinds, grounded on the original's StakedStateAddress enum.
type StakedStateAddress struct {
	Tag    StakedStateAddressTag
	Redeem Address
}

// NewBasicRedeemAddress wraps a raw redeem address as a StakedStateAddress.
func NewBasicRedeemAddress(a Address) StakedStateAddress {
	return StakedStateAddress{Tag: AddressBasicRedeem, Redeem: a}
}

// Encode renders the tagged address as tag(1) || address(20).
func (a StakedStateAddress) Encode() []byte {
	out := make([]byte, 1+20)
	out[0] = byte(a.Tag)
	copy(out[1:], a.Redeem[:])
	return out
}

// DecodeStakedStateAddress is the exact inverse of Encode.
func DecodeStakedStateAddress(data []byte) (StakedStateAddress, int, error) {
	if len(data) < 21 {
		return StakedStateAddress{}, 0, fmt.Errorf("state: staked state address truncated")
	}
	tag := StakedStateAddressTag(data[0])
	if tag != AddressBasicRedeem {
		return StakedStateAddress{}, 0, fmt.Errorf("state: unknown staked state address tag %#x", tag)
	}
	var addr Address
	copy(addr[:], data[1:21])
	return StakedStateAddress{Tag: tag, Redeem: addr}, 21, nil
}

// MerkleKey is the 32-byte tree key for this account: its 20-byte redeem
// address, zero-padded (staking keys are not hashed).
func (a StakedStateAddress) MerkleKey() [32]byte {
	var key [32]byte
	copy(key[:20], a.Redeem[:])
	return key
}

// ValidatorAddressFromPubKey derives a 20-byte Tendermint validator address
// as the leading 20 bytes of the SHA-256 digest of the raw consensus public
// key, matching CometBFT's address derivation for Ed25519 keys.
func ValidatorAddressFromPubKey(rawPubKey []byte) Address {
	sum := sha256.Sum256(rawPubKey)
	var addr Address
	copy(addr[:], sum[:20])
	return addr
}
