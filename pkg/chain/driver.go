package chain

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"log"
	"os"
	"sort"
	"time"

	"github.com/stakechain/chaincore/pkg/config"
	"github.com/stakechain/chaincore/pkg/enclave"
	"github.com/stakechain/chaincore/pkg/kv"
	"github.com/stakechain/chaincore/pkg/merkle"
	"github.com/stakechain/chaincore/pkg/metrics"
	"github.com/stakechain/chaincore/pkg/staking"
	"github.com/stakechain/chaincore/pkg/state"
	"github.com/stakechain/chaincore/pkg/tx"
	"github.com/stakechain/chaincore/pkg/validator"
)

// Evidence is one byzantine-behavior report as consensus delivers it: the
// offending validator identified by consensus address.
type Evidence struct {
	ValidatorAddress state.Address
	Reason           string
}

// Driver owns the ChainNodeState and orchestrates a block's lifecycle:
// BeginBlock, DeliverTx, EndBlock, Finalize, Commit. It is the exclusive
// owner of all mutable state for the duration of a block; read-only proof
// queries may run concurrently against committed tree versions.
type Driver struct {
	cfg     *config.Config
	logger  *log.Logger
	store   *kv.Store
	buf     *kv.Buffer
	tree    *merkle.Tree
	proxy   enclave.Proxy
	metrics *metrics.Metrics

	engine *staking.Engine
	ledger *AccountLedger
	st     *ChainNodeState

	networkByte byte
	version     merkle.Version
	haveVersion bool

	// Per-block working state.
	blockHeight  uint64
	blockTime    time.Time
	deliveredTxs [][]byte

	// Staged by Finalize, written by Commit.
	pendingWrite *merkle.WriteBatch

	historicalEnabled bool

	// fatal is called for determinism-critical failures; overridable so
	// tests can observe instead of exiting.
	fatal func(error)
}

// New builds a driver over an open store. Call Restore or InitChain before
// processing blocks.
func New(cfg *config.Config, store *kv.Store, proxy enclave.Proxy, m *metrics.Metrics, logger *log.Logger) (*Driver, error) {
	nb, err := cfg.NetworkByte()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.New(log.Writer(), "[driver] ", log.LstdFlags)
	}
	d := &Driver{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		buf:         kv.NewBuffer(store),
		tree:        merkle.New(merkle.NewStoreReader(store)),
		proxy:       proxy,
		metrics:     m,
		networkByte: nb,
	}
	d.fatal = func(err error) {
		d.logger.Printf("FATAL: %v", err)
		os.Exit(1)
	}
	return d, nil
}

// SetFatalHandler replaces the abort hook; tests use this to assert on
// determinism-critical failures instead of exiting the process.
func (d *Driver) SetFatalHandler(f func(error)) { d.fatal = f }

// EnableHistoricalState turns on the height-indexed top-level-state column.
func (d *Driver) EnableHistoricalState() { d.historicalEnabled = true }

// State returns the current committed snapshot, nil before InitChain or
// Restore.
func (d *Driver) State() *ChainNodeState { return d.st }

// Tree exposes the versioned account tree for read-only proof service.
func (d *Driver) Tree() *merkle.Tree { return d.tree }

// Restore loads the last committed snapshot from storage. Returns false if
// the store holds no state yet (fresh node awaiting InitChain). A stored
// chain-id that disagrees with the configured one is fatal.
func (d *Driver) Restore() (bool, error) {
	raw, err := d.store.Get(kv.ColMeta, kv.MetaLastAppState)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	storedChainID, err := d.store.Get(kv.ColMeta, kv.MetaChainID)
	if err != nil {
		return false, err
	}
	if string(storedChainID) != d.cfg.ChainID {
		d.fatal(fmt.Errorf("chain: stored chain id %q does not match configured %q", storedChainID, d.cfg.ChainID))
		return false, fmt.Errorf("chain: chain id mismatch")
	}

	st, err := DecodeChainNodeState(raw)
	if err != nil {
		d.fatal(fmt.Errorf("chain: corrupt stored state: %w", err))
		return false, err
	}
	engine, err := st.Validators.BuildEngine(d.cfg)
	if err != nil {
		d.fatal(fmt.Errorf("chain: restore validator state: %w", err))
		return false, err
	}
	d.st = st
	d.engine = engine
	d.version = st.LastBlockHeight
	d.haveVersion = true
	d.ledger = NewAccountLedger(d.tree, d.version, true)
	d.logger.Printf("restored state: height=%d app_hash=%x", st.LastBlockHeight, st.LastAppHash[:8])
	return true, nil
}

// InitChain processes the declarative genesis: materialize accounts, check
// the consensus-supplied validators against them, compute and verify the
// genesis app-hash, and persist the initial snapshot at version 0.
func (d *Driver) InitChain(chainID string, appState []byte, initial []InitialValidator, genesisTime time.Time) ([32]byte, error) {
	if d.st != nil {
		return [32]byte{}, fmt.Errorf("chain: InitChain on an initialized node")
	}
	if chainID != d.cfg.ChainID {
		err := fmt.Errorf("chain: consensus chain id %q does not match configured %q", chainID, d.cfg.ChainID)
		d.fatal(err)
		return [32]byte{}, err
	}
	if err := d.proxy.CheckChain(chainID); err != nil {
		d.fatal(fmt.Errorf("chain: enclave handshake: %w", err))
		return [32]byte{}, err
	}

	doc, err := ParseGenesisDoc(appState)
	if err != nil {
		d.fatal(err)
		return [32]byte{}, err
	}
	params, err := ParamsFromConfig(d.cfg)
	if err != nil {
		d.fatal(err)
		return [32]byte{}, err
	}
	if doc.NetworkParams != nil {
		declared := params
		doc.NetworkParams.apply(&declared)
		// The staking engine reads the node's own configuration, so a
		// genesis document declaring different parameters would diverge
		// from what this node actually enforces.
		if declared != params {
			err := fmt.Errorf("chain: genesis network params disagree with node configuration")
			d.fatal(err)
			return [32]byte{}, err
		}
	}

	accounts, err := doc.GenesisAccounts(genesisTime, state.Coin(params.MinRequiredStaking))
	if err != nil {
		d.fatal(err)
		return [32]byte{}, err
	}
	if err := CheckInitialValidators(accounts, initial, state.Coin(params.BaseUnit)); err != nil {
		d.fatal(err)
		return [32]byte{}, err
	}

	set := validator.New(state.Coin(params.BaseUnit))
	for _, acct := range accounts {
		if acct.Validator == nil {
			continue
		}
		err := set.Insert(&validator.Entry{
			StakingAddress:   acct.Address,
			ValidatorAddress: acct.Validator.ValidatorAddress,
			Council:          acct.Validator.Council,
			Bonded:           acct.Bonded,
			Liveness:         validator.NewLivenessTracker(int(params.BlockSigningWindow)),
		})
		if err != nil {
			d.fatal(err)
			return [32]byte{}, err
		}
	}
	engine := staking.NewEngine(set, d.cfg)
	engine.RewardsPool = doc.RewardsPool
	// The validators InitChain hands to consensus are the snapshot the first
	// block's diff is computed against.
	engine.PriorSnapshot = validator.SnapshotFrom(set, set.SortedByPower())

	batch := make([]merkle.KV, 0, len(accounts))
	for _, acct := range accounts {
		batch = append(batch, merkle.KV{Key: acct.Address.MerkleKey(), Blob: acct.Encode()})
	}
	sort.Slice(batch, func(i, j int) bool {
		return bytes.Compare(batch[i].Key[:], batch[j].Key[:]) < 0
	})
	roots, wb, err := d.tree.PutBlobSets([][]merkle.KV{batch}, 0)
	if err != nil {
		d.fatal(err)
		return [32]byte{}, err
	}
	accountRoot := roots[0]

	appHash := ComputeAppHash(merkle.ZeroHash, accountRoot, doc.RewardsPool, params)
	if declared, ok, err := doc.ExpectedAppHash(); err != nil {
		d.fatal(err)
		return [32]byte{}, err
	} else if ok && declared != appHash {
		err := fmt.Errorf("chain: computed genesis app hash %x does not match declared %x", appHash, declared)
		d.fatal(err)
		return [32]byte{}, err
	}

	st := &ChainNodeState{
		LastBlockHeight: 0,
		LastAppHash:     appHash,
		LastBlockTime:   genesisTime,
		GenesisTime:     genesisTime,
		Validators:      CaptureValidatorState(engine),
		TopLevel: TopLevelState{
			AccountRoot: accountRoot,
			RewardsPool: doc.RewardsPool,
			Params:      params,
		},
	}

	merkle.StageWriteBuffer(d.buf, wb)
	d.buf.Set(kv.ColMeta, kv.MetaGenesisAppHash, appHash[:])
	d.buf.Set(kv.ColMeta, kv.MetaChainID, []byte(chainID))
	d.buf.Set(kv.ColMeta, kv.MetaLastAppState, st.Encode())
	if d.historicalEnabled {
		d.buf.Set(kv.ColHistorical, heightKey(0), st.TopLevel.Encode())
	}
	if err := d.buf.Flush(); err != nil {
		d.fatal(err)
		return [32]byte{}, err
	}

	d.st = st
	d.engine = engine
	d.version = 0
	d.haveVersion = true
	d.ledger = NewAccountLedger(d.tree, 0, true)
	d.logger.Printf("genesis committed: %d accounts, %d validators, app_hash=%x",
		len(accounts), set.Len(), appHash[:8])
	return appHash, nil
}

// BeginBlock starts a block: jail decisions, slash execution, and reward
// accrual run here, and their account effects are reconciled into the
// ledger before any transaction is delivered.
func (d *Driver) BeginBlock(height uint64, blockTime time.Time, proposer state.Address, evidence []Evidence, lastCommit []staking.SigningInfo) error {
	if d.st == nil {
		return fmt.Errorf("chain: BeginBlock before InitChain")
	}
	d.blockHeight = height
	d.blockTime = blockTime.UTC()
	d.deliveredTxs = nil

	stakingEvidence := make([]staking.Evidence, 0, len(evidence))
	for _, ev := range evidence {
		entry, ok := d.engine.Validators.ByValidatorAddress(ev.ValidatorAddress)
		if !ok {
			// Evidence against a validator already cleaned up; nothing left
			// to punish.
			d.logger.Printf("evidence for unknown validator %s dropped", ev.ValidatorAddress)
			continue
		}
		stakingEvidence = append(stakingEvidence, staking.Evidence{
			StakingAddress: entry.StakingAddress,
			Reason:         ev.Reason,
		})
	}

	var proposerStaking state.StakedStateAddress
	if entry, ok := d.engine.Validators.ByValidatorAddress(proposer); ok {
		proposerStaking = entry.StakingAddress
	}

	if err := d.engine.BeginBlock(d.blockTime, proposerStaking, stakingEvidence, lastCommit); err != nil {
		d.fatal(fmt.Errorf("chain: begin block %d: %w", height, err))
		return err
	}
	if err := d.reconcileAccounts(); err != nil {
		d.fatal(fmt.Errorf("chain: begin block %d reconcile: %w", height, err))
		return err
	}
	if err := d.engine.Validators.SanityCheck(); err != nil {
		d.fatal(fmt.Errorf("chain: begin block %d: %w", height, err))
		return err
	}
	return nil
}

// DeliverTx applies one raw transaction envelope. A returned error is a
// transaction-level failure: the block continues and the ledger holds no
// trace of the failed transaction.
func (d *Driver) DeliverTx(raw []byte) error {
	env, err := tx.DecodeEnvelope(raw)
	if err != nil {
		return err
	}
	parsed, err := tx.Decode(env.Payload)
	if err != nil {
		return err
	}
	if signer, required := tx.SignerAddress(parsed); required {
		if err := env.Witness.Verify(d.networkByte, env.Payload, signer); err != nil {
			return err
		}
	}

	d.ledger.BeginTx()
	if err := d.engine.DeliverTx(d.ledger, d.proxy, d.networkByte, d.blockTime, env.Payload); err != nil {
		d.ledger.AbortTx()
		return err
	}
	if _, ok := parsed.(tx.WithdrawTx); ok {
		// A successful withdraw creates a transparent unspent output keyed
		// by the transaction's signing hash.
		d.ledger.PutUTxO(state.UTxOPointer{TxID: tx.SigHash(d.networkByte, env.Payload), Index: 0})
	}
	d.ledger.CommitTx()
	d.deliveredTxs = append(d.deliveredTxs, raw)
	return nil
}

// EndBlock runs inactivation, diff emission and cleanup, reconciles the
// engine's account effects, and returns the validator updates for
// consensus.
func (d *Driver) EndBlock() ([]validator.Update, error) {
	updates, err := d.engine.EndBlock(d.blockTime)
	if err != nil {
		d.fatal(fmt.Errorf("chain: end block %d: %w", d.blockHeight, err))
		return nil, err
	}
	if err := d.reconcileAccounts(); err != nil {
		d.fatal(fmt.Errorf("chain: end block %d reconcile: %w", d.blockHeight, err))
		return nil, err
	}
	if _, err := d.proxy.EndBlock(); err != nil {
		d.fatal(fmt.Errorf("chain: enclave end block: %w", err))
		return nil, err
	}
	if err := d.engine.Validators.SanityCheck(); err != nil {
		d.fatal(fmt.Errorf("chain: end block %d: %w", d.blockHeight, err))
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.ValidatorsActive.Set(float64(len(d.engine.Validators.Active())))
	}
	return updates, nil
}

// Finalize flushes the block's account mutations into the tree at the next
// version and computes the new app-hash. The produced node writes are only
// staged; Commit makes them durable.
func (d *Driver) Finalize() ([32]byte, error) {
	start := time.Now()
	newVersion := d.version + 1

	batch := d.ledger.Collect()
	roots, wb, err := d.tree.PutBlobSets([][]merkle.KV{batch}, newVersion)
	if err != nil {
		d.fatal(fmt.Errorf("chain: finalize block %d: %w", d.blockHeight, err))
		return [32]byte{}, err
	}
	accountRoot := roots[0]

	d.st.TopLevel.AccountRoot = accountRoot
	d.st.TopLevel.RewardsPool = d.engine.RewardsPool
	appHash := ComputeAppHash(TxRoot(d.deliveredTxs), accountRoot, d.engine.RewardsPool, d.st.TopLevel.Params)

	d.st.LastBlockHeight = d.blockHeight
	d.st.LastAppHash = appHash
	d.st.LastBlockTime = d.blockTime
	d.st.Validators = CaptureValidatorState(d.engine)

	d.pendingWrite = wb
	if d.metrics != nil {
		d.metrics.AppHashComputeSeconds.Observe(time.Since(start).Seconds())
	}
	return appHash, nil
}

// Commit writes everything Finalize staged — tree nodes, stale indices, the
// snapshot, optional historical state — in one atomic batch, then advances
// the read version. Any storage failure here is fatal.
func (d *Driver) Commit() error {
	if d.pendingWrite == nil {
		err := fmt.Errorf("chain: Commit without Finalize")
		d.fatal(err)
		return err
	}
	start := time.Now()
	newVersion := d.version + 1

	merkle.StageWriteBuffer(d.buf, d.pendingWrite)
	d.buf.Set(kv.ColMeta, kv.MetaLastAppState, d.st.Encode())
	if d.historicalEnabled {
		d.buf.Set(kv.ColHistorical, heightKey(d.blockHeight), d.st.TopLevel.Encode())
	}
	if err := d.buf.Flush(); err != nil {
		d.fatal(err)
		return err
	}

	d.version = newVersion
	d.ledger.AdvanceTo(newVersion)
	d.pendingWrite = nil
	d.deliveredTxs = nil
	if d.metrics != nil {
		d.metrics.KVCommitSeconds.Observe(time.Since(start).Seconds())
		d.metrics.BlockHeight.Set(float64(d.blockHeight))
	}
	return nil
}

// StoreConsensusParams persists the consensus-supplied parameter bytes under
// the metadata column, so a restarted node can hand them back to the engine.
func (d *Driver) StoreConsensusParams(raw []byte) error {
	b := d.store.NewBatch()
	if err := b.Set(kv.ColMeta, kv.MetaConsensusParams, raw); err != nil {
		b.Discard()
		return err
	}
	return b.Commit()
}

// ConsensusParams returns the stored consensus parameter bytes, nil if none
// were ever persisted.
func (d *Driver) ConsensusParams() ([]byte, error) {
	return d.store.Get(kv.ColMeta, kv.MetaConsensusParams)
}

// PruneStale garbage-collects tree nodes superseded at or before watermark.
// Safe to call between blocks; never during one.
func (d *Driver) PruneStale(watermark merkle.Version) (int, error) {
	list, err := merkle.CollectStale(d.store, watermark)
	if err != nil {
		return 0, err
	}
	if len(list) == 0 {
		return 0, nil
	}
	if err := merkle.Prune(d.store, list); err != nil {
		return 0, err
	}
	return len(list), nil
}

// reconcileAccounts writes the engine's in-memory bonded/punishment effects
// back into the persisted accounts, so the account root reflects every
// slash, reward and jailing this block produced. Iteration is sorted by
// staking address.
func (d *Driver) reconcileAccounts() error {
	entries := d.engine.Validators.All()
	sort.Slice(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].StakingAddress.Redeem[:], entries[j].StakingAddress.Redeem[:]) < 0
	})
	slashEvents := 0
	for _, entry := range entries {
		acct, err := d.ledger.Get(entry.StakingAddress)
		if err != nil {
			return err
		}
		if acct == nil {
			return fmt.Errorf("chain: validator %s has no staking account", entry.StakingAddress.Redeem)
		}
		changed := false
		if acct.Bonded != entry.Bonded {
			if acct.Bonded > entry.Bonded {
				slashEvents++
			}
			acct.Bonded = entry.Bonded
			changed = true
		}
		if rec, punished := d.engine.Punishments[entry.StakingAddress]; punished {
			until := rec.JailTime.Add(d.cfg.JailDuration)
			if acct.JailedUntil == nil || !acct.JailedUntil.Equal(until) {
				acct.JailedUntil = &until
				changed = true
			}
			p := &state.Punishment{SlashRatio: rec.SlashRatio, Reason: rec.Reason}
			if rec.SlashAmount != nil {
				amt := *rec.SlashAmount
				p.SlashAmount = &amt
			}
			if !samePunishment(acct.Punishment, p) {
				acct.Punishment = p
				changed = true
			}
		} else {
			// No canonical punishment: the account mirror must not keep one
			// either, or the account root diverges from the state it claims
			// to describe.
			if acct.JailedUntil != nil {
				acct.JailedUntil = nil
				changed = true
			}
			if acct.Punishment != nil {
				acct.Punishment = nil
				changed = true
			}
		}
		if changed {
			if err := d.ledger.Put(acct); err != nil {
				return err
			}
		}
	}
	if slashEvents > 0 && d.metrics != nil {
		d.metrics.SlashEventsTotal.Add(float64(slashEvents))
	}
	return nil
}

// samePunishment compares two punishment records by value; SlashAmount
// pointers compare by the coin they point at.
func samePunishment(a, b *state.Punishment) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.SlashRatio != b.SlashRatio || a.Reason != b.Reason {
		return false
	}
	switch {
	case a.SlashAmount == nil && b.SlashAmount == nil:
		return true
	case a.SlashAmount == nil || b.SlashAmount == nil:
		return false
	default:
		return *a.SlashAmount == *b.SlashAmount
	}
}

func heightKey(h uint64) []byte {
	var out [8]byte
	binary.BigEndian.PutUint64(out[:], h)
	return out[:]
}
