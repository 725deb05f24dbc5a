// Package enclave names the capability interface to the external
// transaction obfuscation/validation subsystem. The application only ever
// sees the three-method request/response contract below; the transport
// behind it is a deployment concern.
package enclave

import "github.com/stakechain/chaincore/pkg/state"

// VerifyDecision is the enclave's verdict on a confidential transaction.
type VerifyDecision int

const (
	DecisionReject VerifyDecision = iota
	DecisionAccept
)

// VerifyContext carries the ambient block state the enclave needs to judge
// a transaction (the chain's network identifier byte) without exposing the
// full application state.
type VerifyContext struct {
	ChainIDByte byte
}

// VerifyResult is the enclave's response to a verify call.
type VerifyResult struct {
	Decision VerifyDecision
	Fee      state.Coin
	SealedTx []byte
}

// Proxy is the synchronous call/response contract to the enclave. All
// three methods are blocking and must either return within the block
// deadline or the calling transaction fails; there is no background queue.
type Proxy interface {
	// CheckChain is a startup sanity handshake against the given chain-id
	// hex string.
	CheckChain(hexChainID string) error
	// Verify validates a confidential transaction payload and returns the
	// decision, fee, and re-sealed transaction bytes.
	Verify(rawTx []byte, ctx VerifyContext) (VerifyResult, error)
	// EndBlock lets the enclave emit any end-of-block events it has
	// accumulated; optional, so an empty return is always valid.
	EndBlock() ([]byte, error)
}
