package chain

import (
	"bytes"
	"sort"

	"github.com/stakechain/chaincore/pkg/merkle"
	"github.com/stakechain/chaincore/pkg/state"
	"github.com/stakechain/chaincore/pkg/staking"
)

// AccountLedger is the block-scoped account buffer: reads fall through a
// per-transaction overlay and the block's staged writes to the committed
// Merkle tree; writes land in the transaction overlay until the transaction
// either commits into the block stage or aborts. Nothing touches storage
// until the driver flushes the collected batch at Commit.
type AccountLedger struct {
	tree        *merkle.Tree
	version     merkle.Version
	haveVersion bool

	staged  map[state.StakedStateAddress]*state.StakingAccount
	utxos   map[[32]byte][]byte
	inTx    bool
	txAccts map[state.StakedStateAddress]*state.StakingAccount
	txUtxos map[[32]byte][]byte
}

var _ staking.AccountStore = (*AccountLedger)(nil)

// NewAccountLedger opens a ledger reading committed state at version;
// haveVersion is false before the first commit ever (an empty tree).
func NewAccountLedger(tree *merkle.Tree, version merkle.Version, haveVersion bool) *AccountLedger {
	return &AccountLedger{
		tree:        tree,
		version:     version,
		haveVersion: haveVersion,
		staged:      map[state.StakedStateAddress]*state.StakingAccount{},
		utxos:       map[[32]byte][]byte{},
	}
}

// BeginTx opens the per-transaction overlay. Must be balanced by CommitTx or
// AbortTx before the next BeginTx.
func (l *AccountLedger) BeginTx() {
	l.inTx = true
	l.txAccts = map[state.StakedStateAddress]*state.StakingAccount{}
	l.txUtxos = map[[32]byte][]byte{}
}

// CommitTx folds the transaction overlay into the block stage.
func (l *AccountLedger) CommitTx() {
	for addr, acct := range l.txAccts {
		l.staged[addr] = acct
	}
	for key, blob := range l.txUtxos {
		l.utxos[key] = blob
	}
	l.inTx = false
	l.txAccts = nil
	l.txUtxos = nil
}

// AbortTx discards the transaction overlay, leaving the block stage exactly
// as it was before BeginTx.
func (l *AccountLedger) AbortTx() {
	l.inTx = false
	l.txAccts = nil
	l.txUtxos = nil
}

// Get implements staking.AccountStore. The returned account is the caller's
// copy; mutations are invisible until Put.
func (l *AccountLedger) Get(addr state.StakedStateAddress) (*state.StakingAccount, error) {
	if l.inTx {
		if acct, ok := l.txAccts[addr]; ok {
			cp := *acct
			return &cp, nil
		}
	}
	if acct, ok := l.staged[addr]; ok {
		cp := *acct
		return &cp, nil
	}
	if !l.haveVersion {
		return nil, nil
	}
	blob, err := l.tree.Get(addr.MerkleKey(), l.version)
	if err != nil {
		return nil, err
	}
	if blob == nil {
		return nil, nil
	}
	return state.DecodeStakingAccount(blob)
}

// Put implements staking.AccountStore.
func (l *AccountLedger) Put(acct *state.StakingAccount) error {
	cp := *acct
	if l.inTx {
		l.txAccts[cp.Address] = &cp
		return nil
	}
	l.staged[cp.Address] = &cp
	return nil
}

// PutUTxO stages an unspent-output marker under the pointer's tree key.
func (l *AccountLedger) PutUTxO(ptr state.UTxOPointer) {
	key := ptr.MerkleKey()
	blob := state.UTxOEntry{}.Encode()
	if l.inTx {
		l.txUtxos[key] = blob
		return
	}
	l.utxos[key] = blob
}

// HasUTxO reports whether the pointer is unspent as of the read version,
// consulting staged writes first.
func (l *AccountLedger) HasUTxO(ptr state.UTxOPointer) (bool, error) {
	key := ptr.MerkleKey()
	if l.inTx {
		if _, ok := l.txUtxos[key]; ok {
			return true, nil
		}
	}
	if _, ok := l.utxos[key]; ok {
		return true, nil
	}
	if !l.haveVersion {
		return false, nil
	}
	blob, err := l.tree.Get(merkle.Hash(key), l.version)
	if err != nil {
		return false, err
	}
	return blob != nil, nil
}

// Dirty reports whether the block stage holds any write at all.
func (l *AccountLedger) Dirty() bool {
	return len(l.staged) > 0 || len(l.utxos) > 0
}

// Collect drains the block stage into a tree batch sorted by key, the
// content-derived order the app-hash computation requires.
func (l *AccountLedger) Collect() []merkle.KV {
	batch := make([]merkle.KV, 0, len(l.staged)+len(l.utxos))
	for _, acct := range l.staged {
		batch = append(batch, merkle.KV{Key: acct.Address.MerkleKey(), Blob: acct.Encode()})
	}
	for key, blob := range l.utxos {
		batch = append(batch, merkle.KV{Key: key, Blob: blob})
	}
	sort.Slice(batch, func(i, j int) bool {
		return bytes.Compare(batch[i].Key[:], batch[j].Key[:]) < 0
	})
	return batch
}

// AdvanceTo clears the block stage and re-points reads at the freshly
// committed version.
func (l *AccountLedger) AdvanceTo(version merkle.Version) {
	l.version = version
	l.haveVersion = true
	l.staged = map[state.StakedStateAddress]*state.StakingAccount{}
	l.utxos = map[[32]byte][]byte{}
}
