package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"log"

	abcitypes "github.com/cometbft/cometbft/abci/types"
	cryptoproto "github.com/cometbft/cometbft/proto/tendermint/crypto"
	cmtproto "github.com/cometbft/cometbft/proto/tendermint/types"

	"github.com/stakechain/chaincore/pkg/state"
	"github.com/stakechain/chaincore/pkg/staking"
	"github.com/stakechain/chaincore/pkg/tx"
)

// retainedVersions bounds how many historical tree versions keep their
// superseded nodes before stale-node GC reclaims them.
const retainedVersions = 100

// Application adapts the driver to the CometBFT ABCI surface. FinalizeBlock
// drives the BeginBlock / DeliverTx* / EndBlock / Finalize sequence;
// Commit makes the staged writes durable.
type Application struct {
	driver *Driver
	logger *log.Logger

	// pubkeys maps every validator address the driver has ever announced to
	// its consensus key, needed because validator updates travel to
	// consensus keyed by public key while the diff is computed over
	// addresses.
	pubkeys map[state.Address]state.TendermintValidatorPubKey
}

var _ abcitypes.Application = (*Application)(nil)

// NewApplication wraps a driver for consensus.
func NewApplication(driver *Driver, logger *log.Logger) *Application {
	if logger == nil {
		logger = log.New(log.Writer(), "[abci] ", log.LstdFlags)
	}
	app := &Application{
		driver:  driver,
		logger:  logger,
		pubkeys: map[state.Address]state.TendermintValidatorPubKey{},
	}
	app.refreshPubKeys()
	return app
}

func (app *Application) refreshPubKeys() {
	if app.driver.engine == nil {
		return
	}
	for _, entry := range app.driver.engine.Validators.All() {
		app.pubkeys[entry.ValidatorAddress] = entry.Council.ConsensusPubKey
	}
}

// Info reports the committed height and app-hash so consensus can decide
// whether to replay.
func (app *Application) Info(ctx context.Context, req *abcitypes.RequestInfo) (*abcitypes.ResponseInfo, error) {
	resp := &abcitypes.ResponseInfo{
		Data:       "stakechain",
		Version:    "1.0.0",
		AppVersion: 1,
	}
	if st := app.driver.State(); st != nil {
		resp.LastBlockHeight = int64(st.LastBlockHeight)
		resp.LastBlockAppHash = st.LastAppHash[:]
	}
	return resp, nil
}

// InitChain parses the declarative genesis and checks it against the
// consensus-supplied validators; any inconsistency aborts the node.
func (app *Application) InitChain(ctx context.Context, req *abcitypes.RequestInitChain) (*abcitypes.ResponseInitChain, error) {
	initial := make([]InitialValidator, 0, len(req.Validators))
	for _, v := range req.Validators {
		switch pk := v.PubKey.Sum.(type) {
		case *cryptoproto.PublicKey_Ed25519:
			initial = append(initial, InitialValidator{PubKeyType: "ed25519", PubKey: pk.Ed25519, Power: v.Power})
		default:
			return nil, fmt.Errorf("chain: unsupported initial validator key type %T", pk)
		}
	}

	appHash, err := app.driver.InitChain(req.ChainId, req.AppStateBytes, initial, req.Time)
	if err != nil {
		return nil, err
	}
	if req.ConsensusParams != nil {
		raw, err := req.ConsensusParams.Marshal()
		if err != nil {
			return nil, fmt.Errorf("chain: marshal consensus params: %w", err)
		}
		if err := app.driver.StoreConsensusParams(raw); err != nil {
			return nil, err
		}
	}
	app.refreshPubKeys()
	// Returning no validators accepts the consensus-supplied set, which
	// InitChain has already checked against genesis.
	return &abcitypes.ResponseInitChain{AppHash: appHash[:]}, nil
}

// CheckTx runs the stateless checks: envelope shape, payload shape, witness
// signature. Stateful validation happens at FinalizeBlock.
func (app *Application) CheckTx(ctx context.Context, req *abcitypes.RequestCheckTx) (*abcitypes.ResponseCheckTx, error) {
	env, err := tx.DecodeEnvelope(req.Tx)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}
	parsed, err := tx.Decode(env.Payload)
	if err != nil {
		return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
	}
	if signer, required := tx.SignerAddress(parsed); required {
		if err := env.Witness.Verify(app.driver.networkByte, env.Payload, signer); err != nil {
			return &abcitypes.ResponseCheckTx{Code: 1, Log: err.Error()}, nil
		}
	}
	return &abcitypes.ResponseCheckTx{Code: 0, GasWanted: 1}, nil
}

// FinalizeBlock runs the whole block lifecycle and returns per-transaction
// results, the validator diff, and the new app-hash.
func (app *Application) FinalizeBlock(ctx context.Context, req *abcitypes.RequestFinalizeBlock) (*abcitypes.ResponseFinalizeBlock, error) {
	evidence := make([]Evidence, 0, len(req.Misbehavior))
	for _, mb := range req.Misbehavior {
		var addr state.Address
		copy(addr[:], mb.Validator.Address)
		evidence = append(evidence, Evidence{
			ValidatorAddress: addr,
			Reason:           mb.Type.String(),
		})
	}

	lastCommit := make([]staking.SigningInfo, 0, len(req.DecidedLastCommit.Votes))
	for _, vote := range req.DecidedLastCommit.Votes {
		var addr state.Address
		copy(addr[:], vote.Validator.Address)
		lastCommit = append(lastCommit, staking.SigningInfo{
			ValidatorAddress: addr,
			Signed:           vote.BlockIdFlag == cmtproto.BlockIDFlagCommit,
		})
	}

	var proposer state.Address
	copy(proposer[:], req.ProposerAddress)

	if err := app.driver.BeginBlock(uint64(req.Height), req.Time, proposer, evidence, lastCommit); err != nil {
		return nil, err
	}

	txResults := make([]*abcitypes.ExecTxResult, len(req.Txs))
	for i, raw := range req.Txs {
		if err := app.driver.DeliverTx(raw); err != nil {
			txResults[i] = &abcitypes.ExecTxResult{Code: 1, Log: err.Error()}
			continue
		}
		txResults[i] = &abcitypes.ExecTxResult{Code: 0}
	}

	updates, err := app.driver.EndBlock()
	if err != nil {
		return nil, err
	}
	app.refreshPubKeys()

	validatorUpdates := make([]abcitypes.ValidatorUpdate, 0, len(updates))
	for _, u := range updates {
		pk, ok := app.pubkeys[u.ValidatorAddress]
		if !ok || pk.Kind != state.PubKeyEd25519 {
			err := fmt.Errorf("chain: no consensus key recorded for validator %s", u.ValidatorAddress)
			app.driver.fatal(err)
			return nil, err
		}
		validatorUpdates = append(validatorUpdates, abcitypes.ValidatorUpdate{
			PubKey: cryptoproto.PublicKey{Sum: &cryptoproto.PublicKey_Ed25519{Ed25519: pk.Ed25519[:]}},
			Power:  int64(u.Power),
		})
	}

	appHash, err := app.driver.Finalize()
	if err != nil {
		return nil, err
	}

	return &abcitypes.ResponseFinalizeBlock{
		TxResults:        txResults,
		ValidatorUpdates: validatorUpdates,
		AppHash:          appHash[:],
	}, nil
}

// Commit durably writes the finalized block and garbage-collects stale tree
// nodes behind the retention window.
func (app *Application) Commit(ctx context.Context, req *abcitypes.RequestCommit) (*abcitypes.ResponseCommit, error) {
	if err := app.driver.Commit(); err != nil {
		return nil, err
	}

	if app.driver.version > retainedVersions {
		watermark := app.driver.version - retainedVersions
		if n, err := app.driver.PruneStale(watermark); err != nil {
			app.logger.Printf("stale prune at watermark %d failed: %v", watermark, err)
		} else if n > 0 {
			app.logger.Printf("pruned %d stale tree nodes at or below version %d", n, watermark)
		}
	}

	retain := int64(0)
	if app.driver.State().LastBlockHeight > retainedVersions {
		retain = int64(app.driver.State().LastBlockHeight - retainedVersions)
	}
	return &abcitypes.ResponseCommit{RetainHeight: retain}, nil
}

// Query serves read-only lookups against committed state.
func (app *Application) Query(ctx context.Context, req *abcitypes.RequestQuery) (*abcitypes.ResponseQuery, error) {
	st := app.driver.State()
	if st == nil {
		return &abcitypes.ResponseQuery{Code: 2, Log: "chain not initialized"}, nil
	}

	switch req.Path {
	case "/account":
		addr, n, err := state.DecodeStakedStateAddress(req.Data)
		if err != nil || n != len(req.Data) {
			return &abcitypes.ResponseQuery{Code: 1, Log: "bad staking address"}, nil
		}
		version := app.driver.version
		if req.Height > 0 {
			version = uint64(req.Height)
		}
		blob, _, err := app.driver.Tree().GetWithProof(addr.MerkleKey(), version)
		if err != nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: err.Error()}, nil
		}
		if blob == nil {
			return &abcitypes.ResponseQuery{Code: 1, Log: "account not found"}, nil
		}
		return &abcitypes.ResponseQuery{Code: 0, Value: blob, Height: int64(version)}, nil

	case "/apphash":
		return &abcitypes.ResponseQuery{Code: 0, Value: st.LastAppHash[:]}, nil

	case "/height":
		var out [8]byte
		binary.BigEndian.PutUint64(out[:], st.LastBlockHeight)
		return &abcitypes.ResponseQuery{Code: 0, Value: out[:]}, nil

	default:
		return &abcitypes.ResponseQuery{Code: 2, Log: "unknown query path: " + req.Path}, nil
	}
}

// PrepareProposal passes transactions through unmodified.
func (app *Application) PrepareProposal(ctx context.Context, req *abcitypes.RequestPrepareProposal) (*abcitypes.ResponsePrepareProposal, error) {
	return &abcitypes.ResponsePrepareProposal{Txs: req.Txs}, nil
}

// ProcessProposal accepts any proposal whose transactions decode; stateful
// rejection happens per-transaction at FinalizeBlock.
func (app *Application) ProcessProposal(ctx context.Context, req *abcitypes.RequestProcessProposal) (*abcitypes.ResponseProcessProposal, error) {
	for _, raw := range req.Txs {
		if _, err := tx.DecodeEnvelope(raw); err != nil {
			return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_REJECT}, nil
		}
	}
	return &abcitypes.ResponseProcessProposal{Status: abcitypes.ResponseProcessProposal_ACCEPT}, nil
}

// ExtendVote is unused; votes carry no application extension.
func (app *Application) ExtendVote(ctx context.Context, req *abcitypes.RequestExtendVote) (*abcitypes.ResponseExtendVote, error) {
	return &abcitypes.ResponseExtendVote{}, nil
}

// VerifyVoteExtension accepts the empty extension.
func (app *Application) VerifyVoteExtension(ctx context.Context, req *abcitypes.RequestVerifyVoteExtension) (*abcitypes.ResponseVerifyVoteExtension, error) {
	return &abcitypes.ResponseVerifyVoteExtension{Status: abcitypes.ResponseVerifyVoteExtension_ACCEPT}, nil
}

// ListSnapshots reports none; state sync is not offered.
func (app *Application) ListSnapshots(ctx context.Context, req *abcitypes.RequestListSnapshots) (*abcitypes.ResponseListSnapshots, error) {
	return &abcitypes.ResponseListSnapshots{}, nil
}

// OfferSnapshot rejects state-sync snapshots.
func (app *Application) OfferSnapshot(ctx context.Context, req *abcitypes.RequestOfferSnapshot) (*abcitypes.ResponseOfferSnapshot, error) {
	return &abcitypes.ResponseOfferSnapshot{Result: abcitypes.ResponseOfferSnapshot_ABORT}, nil
}

// LoadSnapshotChunk has nothing to serve.
func (app *Application) LoadSnapshotChunk(ctx context.Context, req *abcitypes.RequestLoadSnapshotChunk) (*abcitypes.ResponseLoadSnapshotChunk, error) {
	return &abcitypes.ResponseLoadSnapshotChunk{}, nil
}

// ApplySnapshotChunk rejects state-sync chunks.
func (app *Application) ApplySnapshotChunk(ctx context.Context, req *abcitypes.RequestApplySnapshotChunk) (*abcitypes.ResponseApplySnapshotChunk, error) {
	return &abcitypes.ResponseApplySnapshotChunk{Result: abcitypes.ResponseApplySnapshotChunk_ABORT}, nil
}
