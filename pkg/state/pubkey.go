package state

import "fmt"

// PubKeyKind discriminates TendermintValidatorPubKey variants.
type PubKeyKind byte

const (
	PubKeyEd25519 PubKeyKind = 0x01
	// PubKeyUnknown is a placeholder preserved for forward compatibility
	// with consensus key types CometBFT may add later; a decoder that sees
	// it keeps the raw bytes around without being able to interpret them.
	PubKeyUnknown PubKeyKind = 0xff
)

// TendermintValidatorPubKey is a tagged sum type over consensus public key
// kinds, mirroring the original's PubKey enum.
type TendermintValidatorPubKey struct {
	Kind    PubKeyKind
	Ed25519 [32]byte
	// Raw holds the original bytes for a PubKeyUnknown variant.
	Raw []byte
}

// NewEd25519PubKey wraps a raw 32-byte Ed25519 consensus key.
func NewEd25519PubKey(key [32]byte) TendermintValidatorPubKey {
	return TendermintValidatorPubKey{Kind: PubKeyEd25519, Ed25519: key}
}

// ValidatorAddress derives this key's 20-byte Tendermint validator address.
func (k TendermintValidatorPubKey) ValidatorAddress() (Address, error) {
	switch k.Kind {
	case PubKeyEd25519:
		return ValidatorAddressFromPubKey(k.Ed25519[:]), nil
	default:
		return Address{}, fmt.Errorf("state: cannot derive validator address for pubkey kind %#x", k.Kind)
	}
}

// Encode renders the key as tag(1) || key_len(varint) || key_bytes.
func (k TendermintValidatorPubKey) Encode() []byte {
	switch k.Kind {
	case PubKeyEd25519:
		out := []byte{byte(PubKeyEd25519)}
		out = appendUvarint(out, 32)
		return append(out, k.Ed25519[:]...)
	default:
		out := []byte{byte(PubKeyUnknown)}
		out = appendUvarint(out, uint64(len(k.Raw)))
		return append(out, k.Raw...)
	}
}

// DecodeTendermintValidatorPubKey is the exact inverse of Encode.
func DecodeTendermintValidatorPubKey(data []byte) (TendermintValidatorPubKey, int, error) {
	if len(data) < 1 {
		return TendermintValidatorPubKey{}, 0, fmt.Errorf("state: pubkey truncated")
	}
	kind := PubKeyKind(data[0])
	length, n, err := readUvarint(data[1:])
	if err != nil {
		return TendermintValidatorPubKey{}, 0, err
	}
	start := 1 + n
	if uint64(len(data)-start) < length {
		return TendermintValidatorPubKey{}, 0, fmt.Errorf("state: pubkey body truncated")
	}
	body := data[start : start+int(length)]
	switch kind {
	case PubKeyEd25519:
		if length != 32 {
			return TendermintValidatorPubKey{}, 0, fmt.Errorf("state: ed25519 pubkey must be 32 bytes, got %d", length)
		}
		var key [32]byte
		copy(key[:], body)
		return TendermintValidatorPubKey{Kind: kind, Ed25519: key}, start + int(length), nil
	default:
		raw := make([]byte, length)
		copy(raw, body)
		return TendermintValidatorPubKey{Kind: PubKeyUnknown, Raw: raw}, start + int(length), nil
	}
}
