package tx

import (
	"bytes"
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/stakechain/chaincore/pkg/state"
)

func testKey(seed byte) *secp256k1.PrivateKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = seed
	}
	return secp256k1.PrivKeyFromBytes(raw[:])
}

func TestWitnessSignVerify(t *testing.T) {
	priv := testKey(7)
	signer := state.StakedStateAddressFromPublicKey(priv.PubKey())
	payload := Encode(UnbondTx{From: signer, Amount: 5, Nonce: 0})

	w := Sign(priv, 0x2a, payload)
	if err := w.Verify(0x2a, payload, signer); err != nil {
		t.Fatal(err)
	}

	// Another network's signature must not verify here.
	if err := w.Verify(0x2b, payload, signer); err == nil {
		t.Fatal("witness verified under the wrong network byte")
	}
	// A different key's address must not pass.
	other := state.StakedStateAddressFromPublicKey(testKey(8).PubKey())
	if err := w.Verify(0x2a, payload, other); err == nil {
		t.Fatal("witness verified against a different signer")
	}
	// A tampered payload must not pass.
	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-1] ^= 1
	if err := w.Verify(0x2a, tampered, signer); err == nil {
		t.Fatal("witness verified a tampered payload")
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	priv := testKey(7)
	signer := state.StakedStateAddressFromPublicKey(priv.PubKey())
	payload := Encode(DepositTx{To: signer, Amount: 99})

	signed := Envelope{Payload: payload, Witness: Sign(priv, 0x01, payload)}
	decoded, err := DecodeEnvelope(EncodeEnvelope(signed))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(decoded.Payload, payload) {
		t.Fatal("payload lost in round trip")
	}
	if decoded.Witness == nil {
		t.Fatal("witness lost in round trip")
	}
	if err := decoded.Witness.Verify(0x01, decoded.Payload, signer); err != nil {
		t.Fatal(err)
	}

	unsigned := Envelope{Payload: payload}
	decoded, err = DecodeEnvelope(EncodeEnvelope(unsigned))
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Witness != nil {
		t.Fatal("phantom witness after round trip")
	}
}

func TestDecodeEnvelopeRejectsTruncation(t *testing.T) {
	priv := testKey(7)
	payload := Encode(UnjailTx{Staking: state.StakedStateAddressFromPublicKey(priv.PubKey()), Nonce: 1})
	raw := EncodeEnvelope(Envelope{Payload: payload, Witness: Sign(priv, 0x01, payload)})

	for _, cut := range []int{1, 8, len(raw) / 2, len(raw) - 1} {
		if _, err := DecodeEnvelope(raw[:cut]); err == nil {
			t.Fatalf("accepted envelope truncated to %d bytes", cut)
		}
	}
}
