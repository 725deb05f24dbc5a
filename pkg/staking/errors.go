package staking

import "errors"

var (
	errNotJailed         = errors.New("staking: staking address is not jailed")
	errJailNotExpired    = errors.New("staking: jail duration has not yet elapsed")
	errAccountNotFound   = errors.New("staking: staking account not found")
	errInsufficientFunds = errors.New("staking: insufficient unbonded/bonded funds")
	errStaleNonce        = errors.New("staking: stale transaction nonce")
	errAlreadyBound      = errors.New("staking: staking address already bound to a validator")
	errCannotRejoin      = errors.New("staking: re-join conditions not met")
)
