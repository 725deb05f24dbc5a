// Package tx defines the transaction kinds the staking state machine
// dispatches in DeliverTx, their canonical binary encoding, and the
// Secp256k1 witness envelope that authenticates account mutations.
package tx

import (
	"encoding/binary"
	"fmt"

	"github.com/stakechain/chaincore/pkg/state"
)

// Kind tags a transaction's dispatch target.
type Kind byte

const (
	KindDeposit  Kind = 0x01
	KindUnbond   Kind = 0x02
	KindWithdraw Kind = 0x03
	KindTransfer Kind = 0x04
	KindNodeJoin Kind = 0x05
	KindUnjail   Kind = 0x06
)

// Tx is any dispatchable transaction payload.
type Tx interface {
	Kind() Kind
}

// DepositTx bonds coin into a (possibly new) staking account.
type DepositTx struct {
	To     state.StakedStateAddress
	Amount state.Coin
}

func (DepositTx) Kind() Kind { return KindDeposit }

// UnbondTx moves bonded coin into the unbonding cool-down.
type UnbondTx struct {
	From   state.StakedStateAddress
	Amount state.Coin
	Nonce  uint64
}

func (UnbondTx) Kind() Kind { return KindUnbond }

// WithdrawTx releases matured unbonded coin to a UTxO output. Consults the
// enclave proxy.
type WithdrawTx struct {
	From   state.StakedStateAddress
	Amount state.Coin
	Nonce  uint64
}

func (WithdrawTx) Kind() Kind { return KindWithdraw }

// TransferTx moves value between confidential UTxO outputs, consulting the
// enclave proxy for validation.
type TransferTx struct {
	SealedPayload []byte
}

func (TransferTx) Kind() Kind { return KindTransfer }

// NodeJoinTx binds a staking account to validator identity, honored only
// when the join conditions hold.
type NodeJoinTx struct {
	Staking state.StakedStateAddress
	Council state.CouncilNode
	Nonce   uint64
}

func (NodeJoinTx) Kind() Kind { return KindNodeJoin }

// UnjailTx requests release from jail once the jail-duration has elapsed.
type UnjailTx struct {
	Staking state.StakedStateAddress
	Nonce   uint64
}

func (UnjailTx) Kind() Kind { return KindUnjail }

// Encode renders tag(1) || payload using each kind's own encoding.
func Encode(t Tx) []byte {
	switch v := t.(type) {
	case DepositTx:
		out := []byte{byte(KindDeposit)}
		out = append(out, v.To.Encode()...)
		return appendCoin(out, v.Amount)
	case UnbondTx:
		out := []byte{byte(KindUnbond)}
		out = append(out, v.From.Encode()...)
		out = appendCoin(out, v.Amount)
		return appendUint64(out, v.Nonce)
	case WithdrawTx:
		out := []byte{byte(KindWithdraw)}
		out = append(out, v.From.Encode()...)
		out = appendCoin(out, v.Amount)
		return appendUint64(out, v.Nonce)
	case TransferTx:
		out := []byte{byte(KindTransfer)}
		out = appendUint64(out, uint64(len(v.SealedPayload)))
		return append(out, v.SealedPayload...)
	case NodeJoinTx:
		out := []byte{byte(KindNodeJoin)}
		out = append(out, v.Staking.Encode()...)
		out = append(out, v.Council.Encode()...)
		out = appendUint64(out, v.Nonce)
		return out
	case UnjailTx:
		out := []byte{byte(KindUnjail)}
		out = append(out, v.Staking.Encode()...)
		return appendUint64(out, v.Nonce)
	default:
		panic(fmt.Sprintf("tx: unknown transaction type %T", t))
	}
}

// Decode dispatches on the leading tag byte to reconstruct a concrete Tx,
// mirroring Encode exactly.
func Decode(data []byte) (Tx, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("tx: empty transaction")
	}
	kind := Kind(data[0])
	body := data[1:]
	switch kind {
	case KindDeposit:
		addr, n, err := state.DecodeStakedStateAddress(body)
		if err != nil {
			return nil, err
		}
		amount, err := readCoin(body[n:])
		if err != nil {
			return nil, err
		}
		return DepositTx{To: addr, Amount: amount}, nil
	case KindUnbond:
		addr, n, err := state.DecodeStakedStateAddress(body)
		if err != nil {
			return nil, err
		}
		amount, err := readCoin(body[n:])
		if err != nil {
			return nil, err
		}
		nonce, err := readUint64(body[n+8:])
		if err != nil {
			return nil, err
		}
		return UnbondTx{From: addr, Amount: amount, Nonce: nonce}, nil
	case KindWithdraw:
		addr, n, err := state.DecodeStakedStateAddress(body)
		if err != nil {
			return nil, err
		}
		amount, err := readCoin(body[n:])
		if err != nil {
			return nil, err
		}
		nonce, err := readUint64(body[n+8:])
		if err != nil {
			return nil, err
		}
		return WithdrawTx{From: addr, Amount: amount, Nonce: nonce}, nil
	case KindTransfer:
		length, err := readUint64(body)
		if err != nil {
			return nil, err
		}
		if uint64(len(body)-8) < length {
			return nil, fmt.Errorf("tx: transfer payload truncated")
		}
		payload := make([]byte, length)
		copy(payload, body[8:8+length])
		return TransferTx{SealedPayload: payload}, nil
	case KindNodeJoin:
		addr, n, err := state.DecodeStakedStateAddress(body)
		if err != nil {
			return nil, err
		}
		council, cn, err := state.DecodeCouncilNode(body[n:])
		if err != nil {
			return nil, err
		}
		nonce, err := readUint64(body[n+cn:])
		if err != nil {
			return nil, err
		}
		return NodeJoinTx{Staking: addr, Council: council, Nonce: nonce}, nil
	case KindUnjail:
		addr, n, err := state.DecodeStakedStateAddress(body)
		if err != nil {
			return nil, err
		}
		nonce, err := readUint64(body[n:])
		if err != nil {
			return nil, err
		}
		return UnjailTx{Staking: addr, Nonce: nonce}, nil
	default:
		return nil, fmt.Errorf("tx: unknown transaction kind %#x", kind)
	}
}

func appendCoin(dst []byte, c state.Coin) []byte {
	return appendUint64(dst, uint64(c))
}

func readCoin(data []byte) (state.Coin, error) {
	v, err := readUint64(data)
	return state.Coin(v), err
}

func appendUint64(dst []byte, v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return append(dst, buf[:]...)
}

func readUint64(data []byte) (uint64, error) {
	if len(data) < 8 {
		return 0, fmt.Errorf("tx: truncated integer field")
	}
	return binary.BigEndian.Uint64(data), nil
}
