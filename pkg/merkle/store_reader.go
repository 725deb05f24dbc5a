package merkle

import "github.com/stakechain/chaincore/pkg/kv"

// StoreReader implements NodeReader directly against committed KV storage,
// with no buffering of its own.
type StoreReader struct {
	store *kv.Store
}

// NewStoreReader wraps store for use as a Tree's NodeReader.
func NewStoreReader(store *kv.Store) *StoreReader {
	return &StoreReader{store: store}
}

// GetNode implements NodeReader.
func (r *StoreReader) GetNode(key NodeKey) (Node, bool, error) {
	raw, err := r.store.Get(kv.ColTrieNode, key.Encode())
	if err != nil {
		return nil, false, err
	}
	if raw == nil {
		return nil, false, nil
	}
	node, err := DecodeNode(raw)
	if err != nil {
		return nil, false, err
	}
	return node, true, nil
}
