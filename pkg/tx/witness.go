package tx

import (
	"crypto/sha256"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/stakechain/chaincore/pkg/state"
)

// Witness authenticates an account-mutating payload: a compressed Secp256k1
// public key plus a DER signature over the payload's signing hash. The
// staking address the payload names must equal the address derived from the
// witness key.
type Witness struct {
	PubKey    *secp256k1.PublicKey
	Signature *ecdsa.Signature
}

// Envelope is the raw form a transaction travels in: the encoded payload
// plus an optional witness. Confidential transfers carry no witness here;
// their authentication lives inside the sealed payload the enclave checks.
type Envelope struct {
	Payload []byte
	Witness *Witness
}

// SigHash computes the signing hash for a payload: the network identifier
// byte followed by the payload bytes, hashed once. Binding the network byte
// in prevents cross-network transaction replay (the chain-ID convention).
func SigHash(networkByte byte, payload []byte) [32]byte {
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, networkByte)
	buf = append(buf, payload...)
	return sha256.Sum256(buf)
}

// Sign produces a witness for payload under priv.
func Sign(priv *secp256k1.PrivateKey, networkByte byte, payload []byte) *Witness {
	digest := SigHash(networkByte, payload)
	return &Witness{
		PubKey:    priv.PubKey(),
		Signature: ecdsa.Sign(priv, digest[:]),
	}
}

// Verify checks the witness signature over payload and that the witness key
// derives the expected signer address.
func (w *Witness) Verify(networkByte byte, payload []byte, signer state.StakedStateAddress) error {
	if w == nil || w.PubKey == nil || w.Signature == nil {
		return fmt.Errorf("tx: missing witness")
	}
	digest := SigHash(networkByte, payload)
	if !w.Signature.Verify(digest[:], w.PubKey) {
		return fmt.Errorf("tx: invalid witness signature")
	}
	derived := state.RedeemAddressFromPublicKey(w.PubKey)
	if derived != signer.Redeem {
		return fmt.Errorf("tx: witness key derives %s, payload names %s", derived, signer.Redeem)
	}
	return nil
}

// SignerAddress reports which staking address must witness a payload, or
// false for kinds whose authentication is delegated to the enclave.
func SignerAddress(t Tx) (state.StakedStateAddress, bool) {
	switch v := t.(type) {
	case DepositTx:
		return v.To, true
	case UnbondTx:
		return v.From, true
	case WithdrawTx:
		return v.From, true
	case NodeJoinTx:
		return v.Staking, true
	case UnjailTx:
		return v.Staking, true
	default:
		return state.StakedStateAddress{}, false
	}
}

// EncodeEnvelope renders payload_len(8 BE) || payload || has_witness(1) ||
// [pubkey(33) || sig_len(8 BE) || sig_der].
func EncodeEnvelope(e Envelope) []byte {
	out := appendUint64(nil, uint64(len(e.Payload)))
	out = append(out, e.Payload...)
	if e.Witness == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	out = append(out, e.Witness.PubKey.SerializeCompressed()...)
	sig := e.Witness.Signature.Serialize()
	out = appendUint64(out, uint64(len(sig)))
	return append(out, sig...)
}

// DecodeEnvelope is the exact inverse of EncodeEnvelope.
func DecodeEnvelope(data []byte) (Envelope, error) {
	plen, err := readUint64(data)
	if err != nil {
		return Envelope{}, err
	}
	if uint64(len(data)-8) < plen+1 {
		return Envelope{}, fmt.Errorf("tx: envelope payload truncated")
	}
	payload := make([]byte, plen)
	copy(payload, data[8:8+plen])
	rest := data[8+plen:]

	switch rest[0] {
	case 0:
		return Envelope{Payload: payload}, nil
	case 1:
		rest = rest[1:]
		if len(rest) < 33 {
			return Envelope{}, fmt.Errorf("tx: envelope pubkey truncated")
		}
		pub, err := secp256k1.ParsePubKey(rest[:33])
		if err != nil {
			return Envelope{}, fmt.Errorf("tx: envelope pubkey: %w", err)
		}
		rest = rest[33:]
		slen, err := readUint64(rest)
		if err != nil {
			return Envelope{}, err
		}
		if uint64(len(rest)-8) < slen {
			return Envelope{}, fmt.Errorf("tx: envelope signature truncated")
		}
		sig, err := ecdsa.ParseDERSignature(rest[8 : 8+slen])
		if err != nil {
			return Envelope{}, fmt.Errorf("tx: envelope signature: %w", err)
		}
		return Envelope{Payload: payload, Witness: &Witness{PubKey: pub, Signature: sig}}, nil
	default:
		return Envelope{}, fmt.Errorf("tx: unknown envelope witness flag %#x", rest[0])
	}
}
