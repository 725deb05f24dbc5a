package chain

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/stakechain/chaincore/pkg/state"
)

// GenesisAccount is one entry of the genesis coin distribution.
type GenesisAccount struct {
	// Destination is "bonded" or "unbonded".
	Destination string     `json:"destination"`
	Amount      state.Coin `json:"amount"`
}

// GenesisCouncilNode declares one initial validator, keyed in GenesisDoc by
// the staking address that backs it.
type GenesisCouncilNode struct {
	Name            string `json:"name"`
	SecurityContact string `json:"security_contact"`
	// ConsensusPubKeyType is "ed25519".
	ConsensusPubKeyType string `json:"consensus_pubkey_type"`
	// ConsensusPubKeyHex is the 32-byte key, hex encoded.
	ConsensusPubKeyHex string `json:"consensus_pubkey_hex"`
}

// GenesisDoc is the declarative app-state document delivered through
// InitChain. Network parameters may be declared inline; absent, the node's
// own configuration supplies them (every node must then be configured
// identically, which the genesis app-hash check enforces).
type GenesisDoc struct {
	Distribution  map[string]GenesisAccount     `json:"distribution"`
	RewardsPool   state.Coin                    `json:"rewards_pool"`
	CouncilNodes  map[string]GenesisCouncilNode `json:"council_nodes"`
	NetworkParams *GenesisNetworkParams         `json:"network_params,omitempty"`
	// AppHashHex, when present, is the expected genesis app-hash; computing
	// a different one is fatal.
	AppHashHex string `json:"genesis_app_hash,omitempty"`
}

// GenesisNetworkParams mirrors NetworkParams with JSON-friendly fields;
// durations are in seconds.
type GenesisNetworkParams struct {
	MinRequiredStaking    uint64 `json:"min_required_staking"`
	MaxValidators         uint64 `json:"max_validators"`
	MaxEvidenceAgeSec     uint64 `json:"max_evidence_age"`
	SlashWaitPeriodSec    uint64 `json:"slash_wait_period"`
	JailDurationSec       uint64 `json:"jail_duration"`
	RewardPeriodSec       uint64 `json:"reward_period"`
	UnbondingPeriodSec    uint64 `json:"unbonding_period"`
	BlockSigningWindow    uint64 `json:"block_signing_window"`
	ByzantineSlashPercent uint64 `json:"byzantine_slash_percent"`
	LivenessSlashPercent  uint64 `json:"liveness_slash_percent"`
	MissedBlockThreshold  uint64 `json:"missed_block_threshold"`
	BaseUnit              uint64 `json:"base_unit"`
}

func (g *GenesisNetworkParams) apply(p *NetworkParams) {
	p.MinRequiredStaking = g.MinRequiredStaking
	p.MaxValidators = g.MaxValidators
	p.MaxEvidenceAge = time.Duration(g.MaxEvidenceAgeSec) * time.Second
	p.SlashWaitPeriod = time.Duration(g.SlashWaitPeriodSec) * time.Second
	p.JailDuration = time.Duration(g.JailDurationSec) * time.Second
	p.RewardPeriod = time.Duration(g.RewardPeriodSec) * time.Second
	p.UnbondingPeriod = time.Duration(g.UnbondingPeriodSec) * time.Second
	p.BlockSigningWindow = g.BlockSigningWindow
	p.ByzantineSlashPercent = g.ByzantineSlashPercent
	p.LivenessSlashPercent = g.LivenessSlashPercent
	p.MissedBlockThreshold = g.MissedBlockThreshold
	p.BaseUnit = g.BaseUnit
}

// ParseGenesisDoc decodes and structurally validates the app-state bytes.
func ParseGenesisDoc(raw []byte) (*GenesisDoc, error) {
	var doc GenesisDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("chain: parse genesis app state: %w", err)
	}
	if len(doc.Distribution) == 0 {
		return nil, fmt.Errorf("chain: genesis distribution is empty")
	}
	for addr, acct := range doc.Distribution {
		if acct.Destination != "bonded" && acct.Destination != "unbonded" {
			return nil, fmt.Errorf("chain: genesis account %s has unknown destination %q", addr, acct.Destination)
		}
	}
	for addr := range doc.CouncilNodes {
		if _, ok := doc.Distribution[addr]; !ok {
			return nil, fmt.Errorf("chain: council node %s has no distribution entry", addr)
		}
	}
	return &doc, nil
}

// parseRedeemAddress accepts a 20-byte address hex string, with or without a
// 0x prefix.
func parseRedeemAddress(s string) (state.Address, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return state.Address{}, fmt.Errorf("chain: address %q: %w", s, err)
	}
	if len(raw) != 20 {
		return state.Address{}, fmt.Errorf("chain: address %q is %d bytes, want 20", s, len(raw))
	}
	var addr state.Address
	copy(addr[:], raw)
	return addr, nil
}

// GenesisAccounts materializes the distribution into staking accounts,
// binding validator metadata to the accounts council_nodes names. Accounts
// come back sorted by staking address so downstream hashing is
// content-ordered.
func (doc *GenesisDoc) GenesisAccounts(genesisTime time.Time, minRequiredStaking state.Coin) ([]*state.StakingAccount, error) {
	keys := make([]string, 0, len(doc.Distribution))
	for addr := range doc.Distribution {
		keys = append(keys, addr)
	}
	sort.Strings(keys)

	accounts := make([]*state.StakingAccount, 0, len(keys))
	for _, key := range keys {
		dist := doc.Distribution[key]
		redeem, err := parseRedeemAddress(key)
		if err != nil {
			return nil, err
		}
		acct := &state.StakingAccount{Address: state.NewBasicRedeemAddress(redeem)}
		switch dist.Destination {
		case "bonded":
			acct.Bonded = dist.Amount
		case "unbonded":
			acct.Unbonded = dist.Amount
			acct.UnbondedFrom = genesisTime
		}

		if node, ok := doc.CouncilNodes[key]; ok {
			if dist.Destination != "bonded" {
				return nil, fmt.Errorf("chain: council node %s must have a bonded distribution", key)
			}
			if acct.Bonded < minRequiredStaking {
				return nil, fmt.Errorf("chain: council node %s bonded %d below minimum %d", key, acct.Bonded, minRequiredStaking)
			}
			council, err := node.councilNode()
			if err != nil {
				return nil, err
			}
			validatorAddr, err := council.ConsensusPubKey.ValidatorAddress()
			if err != nil {
				return nil, err
			}
			acct.Validator = &state.ValidatorBinding{Council: council, ValidatorAddress: validatorAddr}
		}
		accounts = append(accounts, acct)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return bytes.Compare(accounts[i].Address.Redeem[:], accounts[j].Address.Redeem[:]) < 0
	})
	return accounts, nil
}

func (n GenesisCouncilNode) councilNode() (state.CouncilNode, error) {
	if n.ConsensusPubKeyType != "ed25519" {
		return state.CouncilNode{}, fmt.Errorf("chain: unsupported consensus pubkey type %q", n.ConsensusPubKeyType)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(n.ConsensusPubKeyHex, "0x"))
	if err != nil {
		return state.CouncilNode{}, fmt.Errorf("chain: consensus pubkey for %q: %w", n.Name, err)
	}
	if len(raw) != 32 {
		return state.CouncilNode{}, fmt.Errorf("chain: consensus pubkey for %q is %d bytes, want 32", n.Name, len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return state.CouncilNode{
		Name:            n.Name,
		SecurityContact: n.SecurityContact,
		ConsensusPubKey: state.NewEd25519PubKey(key),
	}, nil
}

// InitialValidator is one validator consensus supplies at InitChain.
type InitialValidator struct {
	PubKeyType string
	PubKey     []byte
	Power      int64
}

// initialValidatorKey is the (key-type, key-bytes) sort key both sides of
// the consistency check are ordered by.
func initialValidatorKey(keyType string, key []byte) string {
	return keyType + "\x00" + string(key)
}

// CheckInitialValidators verifies the consensus-supplied initial validator
// set matches what the genesis accounts imply: the same keys with the same
// powers, both sides sorted by (key-type, key-bytes). Any inequality is
// fatal to InitChain.
func CheckInitialValidators(accounts []*state.StakingAccount, supplied []InitialValidator, baseUnit state.Coin) error {
	type expected struct {
		sortKey string
		power   int64
	}
	var want []expected
	for _, acct := range accounts {
		if acct.Validator == nil {
			continue
		}
		pk := acct.Validator.Council.ConsensusPubKey
		if pk.Kind != state.PubKeyEd25519 {
			return fmt.Errorf("chain: genesis validator %s has non-ed25519 key", acct.Address.Redeem)
		}
		if baseUnit == 0 {
			return fmt.Errorf("chain: zero base unit")
		}
		want = append(want, expected{
			sortKey: initialValidatorKey("ed25519", pk.Ed25519[:]),
			power:   int64(acct.Bonded / baseUnit),
		})
	}
	sort.Slice(want, func(i, j int) bool { return want[i].sortKey < want[j].sortKey })

	got := make([]InitialValidator, len(supplied))
	copy(got, supplied)
	sort.Slice(got, func(i, j int) bool {
		return initialValidatorKey(got[i].PubKeyType, got[i].PubKey) < initialValidatorKey(got[j].PubKeyType, got[j].PubKey)
	})

	if len(want) != len(got) {
		return fmt.Errorf("chain: initial validator count mismatch: genesis %d, consensus %d", len(want), len(got))
	}
	for i := range want {
		if want[i].sortKey != initialValidatorKey(got[i].PubKeyType, got[i].PubKey) {
			return fmt.Errorf("chain: initial validator %d key mismatch", i)
		}
		if want[i].power != got[i].Power {
			return fmt.Errorf("chain: initial validator %d power mismatch: genesis %d, consensus %d", i, want[i].power, got[i].Power)
		}
	}
	return nil
}

// ExpectedAppHash decodes the doc's declared genesis app-hash, reporting
// whether one was declared at all.
func (doc *GenesisDoc) ExpectedAppHash() ([32]byte, bool, error) {
	if doc.AppHashHex == "" {
		return [32]byte{}, false, nil
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(doc.AppHashHex, "0x"))
	if err != nil {
		return [32]byte{}, false, fmt.Errorf("chain: genesis app hash: %w", err)
	}
	if len(raw) != 32 {
		return [32]byte{}, false, fmt.Errorf("chain: genesis app hash is %d bytes, want 32", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return out, true, nil
}
