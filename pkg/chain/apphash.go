package chain

import (
	"crypto/sha256"
	"encoding/binary"

	"lukechampine.com/blake3"

	"github.com/stakechain/chaincore/pkg/merkle"
	"github.com/stakechain/chaincore/pkg/state"
)

// TxRoot computes the Merkle root over the block's delivered transactions: a
// binary tree over Blake3 leaf hashes, odd last nodes promoted unpaired. An
// empty block yields the all-zero root, matching the "empty tx-Merkle-root"
// the genesis hash is defined over.
func TxRoot(txs [][]byte) merkle.Hash {
	if len(txs) == 0 {
		return merkle.ZeroHash
	}
	level := make([]merkle.Hash, len(txs))
	for i, raw := range txs {
		level[i] = blake3.Sum256(raw)
	}
	for len(level) > 1 {
		next := make([]merkle.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 == len(level) {
				next = append(next, level[i])
				continue
			}
			buf := make([]byte, 0, 64)
			buf = append(buf, level[i][:]...)
			buf = append(buf, level[i+1][:]...)
			next = append(next, blake3.Sum256(buf))
		}
		level = next
	}
	return level[0]
}

// ComputeAppHash is the single composition function both the genesis hash
// and every per-block hash use: SHA-256 over the tx root, the account root,
// the rewards pool balance, and the digest of the encoded network
// parameters, in that frozen order. Block time and height are deliberately
// not inputs; a signed empty block changes the app-hash only if one of the
// four components changed.
func ComputeAppHash(txRoot merkle.Hash, accountRoot merkle.Hash, rewardsPool state.Coin, params NetworkParams) [32]byte {
	paramsDigest := sha256.Sum256(params.Encode())
	buf := make([]byte, 0, 32+32+8+32)
	buf = append(buf, txRoot[:]...)
	buf = append(buf, accountRoot[:]...)
	var pool [8]byte
	binary.BigEndian.PutUint64(pool[:], uint64(rewardsPool))
	buf = append(buf, pool[:]...)
	buf = append(buf, paramsDigest[:]...)
	return sha256.Sum256(buf)
}
