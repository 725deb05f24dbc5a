package state

import (
	"testing"
	"time"
)

func sampleAddress(b byte) Address {
	var a Address
	for i := range a {
		a[i] = b
	}
	return a
}

func TestStakingAccountEncodeDecodeRoundTrip(t *testing.T) {
	jailed := time.Unix(1700000000, 0).UTC()
	amount := Coin(500)
	acct := &StakingAccount{
		Address:      NewBasicRedeemAddress(sampleAddress(0x7c)),
		Nonce:        4,
		Bonded:       100_0000_0000,
		Unbonded:     0,
		UnbondedFrom: time.Unix(0, 0).UTC(),
		Validator: &ValidatorBinding{
			Council: CouncilNode{
				Name:            "node-1",
				SecurityContact: "ops@example.com",
				ConsensusPubKey: NewEd25519PubKey([32]byte{1}),
			},
			ValidatorAddress: sampleAddress(0xaa),
		},
		JailedUntil: &jailed,
		Punishment: &Punishment{
			SlashRatio:  SlashRatio{Numerator: 20, Denominator: 100},
			Reason:      "byzantine",
			SlashAmount: &amount,
		},
	}

	encoded := acct.Encode()
	decoded, err := DecodeStakingAccount(encoded)
	if err != nil {
		t.Fatal(err)
	}

	if decoded.Address != acct.Address {
		t.Fatalf("address mismatch: %v vs %v", decoded.Address, acct.Address)
	}
	if decoded.Nonce != acct.Nonce || decoded.Bonded != acct.Bonded {
		t.Fatalf("scalar field mismatch")
	}
	if decoded.Validator == nil || decoded.Validator.ValidatorAddress != acct.Validator.ValidatorAddress {
		t.Fatalf("validator binding mismatch")
	}
	if decoded.Validator.Council.Name != "node-1" {
		t.Fatalf("council node name mismatch: %q", decoded.Validator.Council.Name)
	}
	if decoded.JailedUntil == nil || !decoded.JailedUntil.Equal(jailed) {
		t.Fatalf("jailed_until mismatch")
	}
	if decoded.Punishment == nil || decoded.Punishment.Reason != "byzantine" {
		t.Fatalf("punishment mismatch")
	}
	if decoded.Punishment.SlashAmount == nil || *decoded.Punishment.SlashAmount != amount {
		t.Fatalf("slash amount mismatch")
	}
}

func TestStakingAccountEncodeDecodeWithoutOptionalFields(t *testing.T) {
	acct := &StakingAccount{
		Address:      NewBasicRedeemAddress(sampleAddress(0x01)),
		Nonce:        0,
		Bonded:       10,
		Unbonded:     5,
		UnbondedFrom: time.Unix(100, 0).UTC(),
	}
	decoded, err := DecodeStakingAccount(acct.Encode())
	if err != nil {
		t.Fatal(err)
	}
	if decoded.Validator != nil || decoded.JailedUntil != nil || decoded.Punishment != nil {
		t.Fatalf("expected no optional fields set")
	}
	if decoded.Bonded != 10 || decoded.Unbonded != 5 {
		t.Fatalf("scalar fields mismatch: %+v", decoded)
	}
}

func TestAccountInvariantRejectsOverdrawnTotal(t *testing.T) {
	acct := &StakingAccount{
		Address:  NewBasicRedeemAddress(sampleAddress(0x02)),
		Bonded:   80,
		Unbonded: 30,
	}
	if err := acct.CheckInvariants(100); err == nil {
		t.Fatal("expected invariant violation for bonded+unbonded > total")
	}
}

func TestUTXOMerkleKeyIsDeterministicAndDistinct(t *testing.T) {
	a := UTxOPointer{TxID: TxID{1, 2, 3}, Index: 0}
	b := UTxOPointer{TxID: TxID{1, 2, 3}, Index: 1}

	k1 := a.MerkleKey()
	k2 := a.MerkleKey()
	if k1 != k2 {
		t.Fatal("expected deterministic key derivation")
	}

	k3 := b.MerkleKey()
	if k1 == k3 {
		t.Fatal("expected distinct keys for distinct output indices")
	}
}
