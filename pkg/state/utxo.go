package state

import (
	"encoding/binary"

	"lukechampine.com/blake3"
)

// TxID is a transaction's 32-byte content hash.
type TxID [32]byte

// UTxOPointer addresses a single transaction output.
type UTxOPointer struct {
	TxID  TxID
	Index uint16
}

// canonicalEncoding renders (txid, index) deterministically: the fixed
// encoding Blake3 hashes to derive the Merkle key.
func (p UTxOPointer) canonicalEncoding() []byte {
	out := make([]byte, 32+2)
	copy(out[:32], p.TxID[:])
	binary.BigEndian.PutUint16(out[32:], p.Index)
	return out
}

// MerkleKey derives the 32-byte tree key for this output: Blake3 of its
// canonical (txid, index) encoding.
func (p UTxOPointer) MerkleKey() [32]byte {
	return blake3.Sum256(p.canonicalEncoding())
}

// UTxOEntry is the unit value stored for an unspent output: its presence in
// the tree, not its content, is the fact being recorded.
type UTxOEntry struct{}

// Encode renders the unspent marker. A single byte is enough since presence
// alone carries meaning; the stored bytes are never decoded, only key
// presence is ever tested against the tree.
func (UTxOEntry) Encode() []byte { return []byte{1} }
