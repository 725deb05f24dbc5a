package chain

import (
	"strings"
	"testing"
	"time"

	"github.com/stakechain/chaincore/pkg/state"
)

func TestParseGenesisDocRejectsBadDocuments(t *testing.T) {
	cases := []struct {
		name string
		doc  string
	}{
		{"empty distribution", `{"distribution":{},"rewards_pool":0}`},
		{"bad destination", `{"distribution":{"aa00000000000000000000000000000000000000":{"destination":"frozen","amount":1}}}`},
		{"orphan council node", `{"distribution":{"aa00000000000000000000000000000000000000":{"destination":"bonded","amount":1}},"council_nodes":{"bb00000000000000000000000000000000000000":{"name":"x","consensus_pubkey_type":"ed25519","consensus_pubkey_hex":"00"}}}`},
		{"not json", `-`},
	}
	for _, tc := range cases {
		if _, err := ParseGenesisDoc([]byte(tc.doc)); err == nil {
			t.Errorf("%s: accepted", tc.name)
		}
	}
}

func TestGenesisAccountsBindCouncilNodes(t *testing.T) {
	v := newTestValidator(t, 3)
	doc, err := ParseGenesisDoc(genesisJSON([]testValidator{v}, []state.Coin{5_0000_0000}))
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := doc.GenesisAccounts(time.Unix(0, 0), 1_0000_0000)
	if err != nil {
		t.Fatal(err)
	}
	if len(accounts) != 1 {
		t.Fatalf("got %d accounts", len(accounts))
	}
	acct := accounts[0]
	if acct.Bonded != 5_0000_0000 {
		t.Fatalf("bonded = %d", acct.Bonded)
	}
	if acct.Validator == nil {
		t.Fatal("council node not bound")
	}
	if acct.Validator.ValidatorAddress != v.valAddr {
		t.Fatal("validator address not derived from consensus key")
	}
	if err := acct.CheckInvariants(5_0000_0000); err != nil {
		t.Fatal(err)
	}
}

func TestGenesisAccountsRejectUnderfundedCouncilNode(t *testing.T) {
	v := newTestValidator(t, 3)
	doc, err := ParseGenesisDoc(genesisJSON([]testValidator{v}, []state.Coin{5000}))
	if err != nil {
		t.Fatal(err)
	}
	_, err = doc.GenesisAccounts(time.Unix(0, 0), 1_0000_0000)
	if err == nil || !strings.Contains(err.Error(), "below minimum") {
		t.Fatalf("expected minimum-stake rejection, got %v", err)
	}
}

func TestCheckInitialValidatorsSortsBothSides(t *testing.T) {
	v1 := newTestValidator(t, 1)
	v2 := newTestValidator(t, 2)
	doc, err := ParseGenesisDoc(genesisJSON([]testValidator{v1, v2}, []state.Coin{100_0000_0000, 99_0000_0000}))
	if err != nil {
		t.Fatal(err)
	}
	accounts, err := doc.GenesisAccounts(time.Unix(0, 0), 1_0000_0000)
	if err != nil {
		t.Fatal(err)
	}

	// Supplied in the reverse order: the check must sort, not compare
	// positionally.
	supplied := []InitialValidator{
		{PubKeyType: "ed25519", PubKey: v2.consKey[:], Power: 99},
		{PubKeyType: "ed25519", PubKey: v1.consKey[:], Power: 100},
	}
	if err := CheckInitialValidators(accounts, supplied, 1_0000_0000); err != nil {
		t.Fatal(err)
	}

	supplied[0].Power = 98
	if err := CheckInitialValidators(accounts, supplied, 1_0000_0000); err == nil {
		t.Fatal("accepted a power mismatch")
	}
}
