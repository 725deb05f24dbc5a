// Package kv provides the column-indexed ordered byte-to-byte map that the
// rest of the application builds its state on. The underlying engine is a
// github.com/cometbft/cometbft-db handle; columns are implemented as a
// one-byte key prefix over that single handle, since cometbft-db exposes no
// native column-family API.
package kv

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
)

// Column tags the logical table a key belongs to. Required per the storage
// layout: trie nodes, the stale-node index, metadata and optional
// height-indexed historical state.
type Column byte

const (
	ColTrieNode   Column = 0x01
	ColTrieStale  Column = 0x02
	ColMeta       Column = 0x03
	ColHistorical Column = 0x04
)

// Well-known metadata keys (stored under ColMeta).
var (
	MetaGenesisAppHash  = []byte("genesis-app-hash")
	MetaChainID         = []byte("chain-id")
	MetaLastAppState    = []byte("last-app-state")
	MetaConsensusParams = []byte("consensus-params")
)

// prefixedKey joins a column tag and a caller key into the physical key
// stored in the underlying DB.
func prefixedKey(col Column, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(col)
	copy(out[1:], key)
	return out
}

// Store wraps a dbm.DB and exposes column-scoped reads plus atomic
// multi-column batch commit. Any I/O error returned by the underlying engine
// is treated as fatal by callers per the error-handling design: this package
// never swallows one.
type Store struct {
	db dbm.DB
}

// NewStore wraps an already-open cometbft-db handle.
func NewStore(db dbm.DB) *Store {
	return &Store{db: db}
}

// Get reads key from col directly against the committed store.
func (s *Store) Get(col Column, key []byte) ([]byte, error) {
	v, err := s.db.Get(prefixedKey(col, key))
	if err != nil {
		return nil, fmt.Errorf("kv: get column=%#x: %w", col, err)
	}
	return v, nil
}

// Has reports whether key is present in col.
func (s *Store) Has(col Column, key []byte) (bool, error) {
	ok, err := s.db.Has(prefixedKey(col, key))
	if err != nil {
		return false, fmt.Errorf("kv: has column=%#x: %w", col, err)
	}
	return ok, nil
}

// IteratePrefix returns an ordered iterator over every key in col with the
// given prefix. The caller must Close() it.
func (s *Store) IteratePrefix(col Column, prefix []byte) (dbm.Iterator, error) {
	start := prefixedKey(col, prefix)
	end := prefixEnd(start)
	it, err := s.db.Iterator(start, end)
	if err != nil {
		return nil, fmt.Errorf("kv: iterate column=%#x: %w", col, err)
	}
	return &columnIterator{Iterator: it, colLen: 1}, nil
}

// columnIterator strips the one-byte column prefix from Key() so callers
// only ever see the logical key they put in.
type columnIterator struct {
	dbm.Iterator
	colLen int
}

func (c *columnIterator) Key() []byte {
	k := c.Iterator.Key()
	if len(k) < c.colLen {
		return nil
	}
	return k[c.colLen:]
}

// prefixEnd returns the smallest key that is strictly greater than every key
// with the given prefix, for use as an exclusive iterator upper bound.
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] < 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	// prefix is all 0xff: no finite upper bound, iterate to the end of the DB.
	return nil
}

// Batch accumulates column-scoped writes and deletes for a single atomic
// commit, grounded on the same SetSync/batch split the reference ledger
// store used when flushing at commit time.
type Batch struct {
	db    dbm.DB
	batch dbm.Batch
}

// NewBatch opens a new atomic batch against the store.
func (s *Store) NewBatch() *Batch {
	return &Batch{db: s.db, batch: s.db.NewBatch()}
}

// Set stages a write.
func (b *Batch) Set(col Column, key, value []byte) error {
	if err := b.batch.Set(prefixedKey(col, key), value); err != nil {
		return fmt.Errorf("kv: batch set column=%#x: %w", col, err)
	}
	return nil
}

// Delete stages a deletion.
func (b *Batch) Delete(col Column, key []byte) error {
	if err := b.batch.Delete(prefixedKey(col, key)); err != nil {
		return fmt.Errorf("kv: batch delete column=%#x: %w", col, err)
	}
	return nil
}

// Commit writes the whole batch atomically. Any failure here is
// determinism-critical: the caller must abort rather than let consensus and
// application state diverge.
func (b *Batch) Commit() error {
	if err := b.batch.WriteSync(); err != nil {
		return fmt.Errorf("kv: batch commit: %w", err)
	}
	return b.batch.Close()
}

// Discard releases batch resources without writing.
func (b *Batch) Discard() error {
	return b.batch.Close()
}
