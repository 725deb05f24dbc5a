package state

import "fmt"

// Coin is the smallest denominated unit of stake/reward value.
type Coin uint64

// MaxCoin bounds a single Coin value, mirroring the original chain's
// MAX_COIN supply cap so additions can be checked rather than silently
// wrapping.
const MaxCoin Coin = 10_000_000_000_000_000

// Add returns a+b, erroring on overflow past MaxCoin.
func (a Coin) Add(b Coin) (Coin, error) {
	sum := a + b
	if sum < a || sum > MaxCoin {
		return 0, fmt.Errorf("state: coin overflow adding %d + %d", a, b)
	}
	return sum, nil
}

// Sub returns a-b, erroring if b > a.
func (a Coin) Sub(b Coin) (Coin, error) {
	if b > a {
		return 0, fmt.Errorf("state: coin underflow subtracting %d - %d", a, b)
	}
	return a - b, nil
}

// ApplySlashRatio returns floor(amount * numerator / denominator), the
// portion of amount removed by a slash expressed as an integer ratio
// (e.g. 20/100 for a 20% byzantine slash), avoiding floating point in a
// determinism-critical computation.
func (a Coin) ApplySlashRatio(numerator, denominator uint64) Coin {
	if denominator == 0 {
		return 0
	}
	return Coin((uint64(a) * numerator) / denominator)
}
