package merkle

import (
	"encoding/binary"
	"fmt"

	"github.com/stakechain/chaincore/pkg/kv"
)

// Encode renders a stale-node index entry as stale_since_version (big-endian
// uint64) followed by the superseded node's own key encoding, matching
// node-key encoding exactly so the two schemes can share decode logic.
func (s StaleNodeIndex) Encode() []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, s.StaleSinceVersion)
	return append(out, s.NodeKey.Encode()...)
}

// DecodeStaleNodeIndex is the exact inverse of Encode.
func DecodeStaleNodeIndex(data []byte) (StaleNodeIndex, error) {
	if len(data) < 8 {
		return StaleNodeIndex{}, fmt.Errorf("merkle: stale index entry truncated")
	}
	since := binary.BigEndian.Uint64(data[:8])
	nk, err := DecodeNodeKey(data[8:])
	if err != nil {
		return StaleNodeIndex{}, err
	}
	return StaleNodeIndex{StaleSinceVersion: since, NodeKey: nk}, nil
}

// StageWriteBatch stages every node and stale-index entry produced by
// PutBlobSets into an already-open KV batch, so callers can commit tree
// writes and their own metadata in one atomic step.
func StageWriteBatch(b *kv.Batch, wb *WriteBatch) error {
	for _, nw := range wb.Nodes {
		if err := b.Set(kv.ColTrieNode, nw.Key.Encode(), nw.Node.Encode()); err != nil {
			return err
		}
	}
	for _, st := range wb.Stale {
		if err := b.Set(kv.ColTrieStale, st.Encode(), []byte{1}); err != nil {
			return err
		}
	}
	return nil
}

// StageWriteBuffer stages every node and stale-index entry produced by
// PutBlobSets into a KV write buffer, for callers that accumulate a block's
// storage writes there before a single atomic Flush.
func StageWriteBuffer(buf *kv.Buffer, wb *WriteBatch) {
	for _, nw := range wb.Nodes {
		buf.Set(kv.ColTrieNode, nw.Key.Encode(), nw.Node.Encode())
	}
	for _, st := range wb.Stale {
		buf.Set(kv.ColTrieStale, st.Encode(), []byte{1})
	}
}

// ApplyWriteBatch persists every node and stale-index entry produced by
// PutBlobSets into store's ColTrieNode and ColTrieStale columns within a
// single atomic batch.
func ApplyWriteBatch(store *kv.Store, wb *WriteBatch) error {
	b := store.NewBatch()
	if err := StageWriteBatch(b, wb); err != nil {
		b.Discard()
		return err
	}
	return b.Commit()
}

// CollectStale returns every stale-index entry recorded with
// StaleSinceVersion <= watermark: nodes that became obsolete at or before
// that version and are safe to prune, since no live version still
// references them.
func CollectStale(store *kv.Store, watermark Version) ([]StaleNodeIndex, error) {
	it, err := store.IteratePrefix(kv.ColTrieStale, nil)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var out []StaleNodeIndex
	for ; it.Valid(); it.Next() {
		entry, err := DecodeStaleNodeIndex(it.Key())
		if err != nil {
			return nil, fmt.Errorf("merkle: corrupt stale index entry: %w", err)
		}
		if entry.StaleSinceVersion <= watermark {
			out = append(out, entry)
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Prune permanently removes the node data and stale-index bookkeeping for
// every entry in list. Callers must only pass entries already confirmed safe
// via CollectStale against a watermark no live reader will ever query below.
func Prune(store *kv.Store, list []StaleNodeIndex) error {
	b := store.NewBatch()
	for _, entry := range list {
		if err := b.Delete(kv.ColTrieNode, entry.NodeKey.Encode()); err != nil {
			b.Discard()
			return err
		}
		if err := b.Delete(kv.ColTrieStale, entry.Encode()); err != nil {
			b.Discard()
			return err
		}
	}
	return b.Commit()
}
