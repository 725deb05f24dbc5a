package tx

import (
	"testing"

	"github.com/stakechain/chaincore/pkg/state"
)

func addr(b byte) state.StakedStateAddress {
	var a state.Address
	a[0] = b
	return state.NewBasicRedeemAddress(a)
}

func TestEncodeDecodeRoundTripAllKinds(t *testing.T) {
	cases := []Tx{
		DepositTx{To: addr(1), Amount: 1000},
		UnbondTx{From: addr(2), Amount: 500, Nonce: 3},
		WithdrawTx{From: addr(3), Amount: 250, Nonce: 1},
		TransferTx{SealedPayload: []byte{0xde, 0xad, 0xbe, 0xef}},
		NodeJoinTx{
			Staking: addr(4),
			Council: state.CouncilNode{
				Name:            "node",
				SecurityContact: "ops@example.com",
				ConsensusPubKey: state.NewEd25519PubKey([32]byte{9}),
			},
			Nonce: 7,
		},
		UnjailTx{Staking: addr(5), Nonce: 2},
	}

	for _, want := range cases {
		encoded := Encode(want)
		got, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode %T: %v", want, err)
		}
		if got.Kind() != want.Kind() {
			t.Fatalf("kind mismatch for %T: got %v want %v", want, got.Kind(), want.Kind())
		}
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	if _, err := Decode([]byte{0xff}); err == nil {
		t.Fatal("expected error for unknown transaction kind")
	}
}

func TestDecodeRejectsEmptyInput(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatal("expected error for empty transaction")
	}
}
