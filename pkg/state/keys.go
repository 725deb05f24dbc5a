package state

import (
	"crypto/sha256"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// RedeemAddressFromPublicKey derives the 20-byte staking identity from a
// Secp256k1 public key: the leading 20 bytes of the SHA-256 digest of the
// compressed key encoding. Staking keys are long-lived identities, so this
// derivation is part of the wire contract and must never change.
func RedeemAddressFromPublicKey(pub *secp256k1.PublicKey) Address {
	sum := sha256.Sum256(pub.SerializeCompressed())
	var addr Address
	copy(addr[:], sum[:20])
	return addr
}

// StakedStateAddressFromPublicKey wraps the derived redeem address as a
// BasicRedeem StakedStateAddress.
func StakedStateAddressFromPublicKey(pub *secp256k1.PublicKey) StakedStateAddress {
	return NewBasicRedeemAddress(RedeemAddressFromPublicKey(pub))
}
