package staking

import (
	"time"

	"github.com/stakechain/chaincore/pkg/enclave"
	"github.com/stakechain/chaincore/pkg/state"
	"github.com/stakechain/chaincore/pkg/tx"
	"github.com/stakechain/chaincore/pkg/validator"
)

// AccountStore is the minimal read/write surface DeliverTx dispatch needs
// against the account ledger; the driver backs this with the Merkle-store
// write buffer (pkg/merkle, pkg/kv) so staking itself stays storage-agnostic.
type AccountStore interface {
	Get(addr state.StakedStateAddress) (*state.StakingAccount, error)
	Put(acct *state.StakingAccount) error
}

// DeliverTx dispatches raw by transaction kind. All staged
// writes go through store; on error the caller must treat store writes made
// so far in this call as not happened (the driver's buffer discards a
// failed tx's writes rather than committing them).
func (e *Engine) DeliverTx(store AccountStore, proxy enclave.Proxy, networkByte byte, blockTime time.Time, raw []byte) error {
	parsed, err := tx.Decode(raw)
	if err != nil {
		return err
	}
	switch v := parsed.(type) {
	case tx.DepositTx:
		return e.applyDeposit(store, v)
	case tx.UnbondTx:
		return e.applyUnbond(store, v, blockTime)
	case tx.WithdrawTx:
		return e.applyWithdraw(store, proxy, networkByte, v, blockTime)
	case tx.TransferTx:
		return e.applyTransfer(proxy, networkByte, v)
	case tx.NodeJoinTx:
		return e.applyNodeJoin(store, v)
	case tx.UnjailTx:
		return e.applyUnjail(store, v, blockTime)
	default:
		return errAccountNotFound
	}
}

func (e *Engine) applyDeposit(store AccountStore, t tx.DepositTx) error {
	acct, err := store.Get(t.To)
	if err != nil {
		return err
	}
	if acct == nil {
		acct = &state.StakingAccount{Address: t.To}
	}
	bonded, err := acct.Bonded.Add(t.Amount)
	if err != nil {
		return err
	}
	acct.Bonded = bonded
	if err := store.Put(acct); err != nil {
		return err
	}
	if entry, ok := e.Validators.ByStakingAddress(t.To); ok {
		entry.Bonded = acct.Bonded
		return e.Validators.UpdatePower(t.To)
	}
	return nil
}

func (e *Engine) applyUnbond(store AccountStore, t tx.UnbondTx, blockTime time.Time) error {
	acct, err := store.Get(t.From)
	if err != nil {
		return err
	}
	if acct == nil {
		return errAccountNotFound
	}
	if t.Nonce != acct.Nonce {
		return errStaleNonce
	}
	bonded, err := acct.Bonded.Sub(t.Amount)
	if err != nil {
		return err
	}
	unbonded, err := acct.Unbonded.Add(t.Amount)
	if err != nil {
		return err
	}
	acct.Bonded = bonded
	acct.Unbonded = unbonded
	acct.UnbondedFrom = blockTime.Add(e.Cfg.UnbondingPeriod)
	acct.Nonce++
	if err := store.Put(acct); err != nil {
		return err
	}
	if entry, ok := e.Validators.ByStakingAddress(t.From); ok {
		entry.Bonded = acct.Bonded
		return e.Validators.UpdatePower(t.From)
	}
	return nil
}

func (e *Engine) applyWithdraw(store AccountStore, proxy enclave.Proxy, networkByte byte, t tx.WithdrawTx, blockTime time.Time) error {
	acct, err := store.Get(t.From)
	if err != nil {
		return err
	}
	if acct == nil {
		return errAccountNotFound
	}
	if t.Nonce != acct.Nonce {
		return errStaleNonce
	}
	if blockTime.Before(acct.UnbondedFrom) {
		return errInsufficientFunds
	}
	unbonded, err := acct.Unbonded.Sub(t.Amount)
	if err != nil {
		return err
	}
	if _, err := proxy.Verify(tx.Encode(t), enclave.VerifyContext{ChainIDByte: networkByte}); err != nil {
		return err
	}
	acct.Unbonded = unbonded
	acct.Nonce++
	return store.Put(acct)
}

func (e *Engine) applyTransfer(proxy enclave.Proxy, networkByte byte, t tx.TransferTx) error {
	result, err := proxy.Verify(t.SealedPayload, enclave.VerifyContext{ChainIDByte: networkByte})
	if err != nil {
		return err
	}
	if result.Decision != enclave.DecisionAccept {
		return errInsufficientFunds
	}
	return nil
}

func (e *Engine) applyNodeJoin(store AccountStore, t tx.NodeJoinTx) error {
	acct, err := store.Get(t.Staking)
	if err != nil {
		return err
	}
	if acct == nil {
		return errAccountNotFound
	}
	if t.Nonce != acct.Nonce {
		return errStaleNonce
	}
	if !e.CanRejoin(acct.Bonded, t.Staking) {
		return errCannotRejoin
	}
	validatorAddr, err := t.Council.ConsensusPubKey.ValidatorAddress()
	if err != nil {
		return err
	}
	if acct.Validator != nil && acct.Validator.ValidatorAddress != validatorAddr {
		// Rotating validator identity: drop the old index entry first.
		if err := e.Validators.Remove(t.Staking); err != nil {
			return err
		}
	} else if _, ok := e.Validators.ByStakingAddress(t.Staking); ok {
		return errAlreadyBound
	}

	acct.Validator = &state.ValidatorBinding{Council: t.Council, ValidatorAddress: validatorAddr}
	acct.Nonce++
	if err := store.Put(acct); err != nil {
		return err
	}

	return e.Validators.Insert(&validator.Entry{
		StakingAddress:   t.Staking,
		ValidatorAddress: validatorAddr,
		Council:          t.Council,
		Bonded:           acct.Bonded,
		Liveness:         validator.NewLivenessTracker(e.Cfg.BlockSigningWindow),
	})
}

func (e *Engine) applyUnjail(store AccountStore, t tx.UnjailTx, blockTime time.Time) error {
	acct, err := store.Get(t.Staking)
	if err != nil {
		return err
	}
	if acct == nil {
		return errAccountNotFound
	}
	if t.Nonce != acct.Nonce {
		return errStaleNonce
	}
	if err := e.Unjail(t.Staking, blockTime); err != nil {
		return err
	}
	acct.JailedUntil = nil
	acct.Punishment = nil
	acct.Nonce++
	return store.Put(acct)
}
