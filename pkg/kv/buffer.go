package kv

// bufferKey is the in-memory key for a buffered write: column tag plus the
// logical key, so a single map can hold entries from every column.
type bufferKey struct {
	col Column
	key string
}

// Buffer is an in-memory write layer on top of a committed Store. Reads
// consult the buffer first, then the underlying store; writes only ever
// touch the buffer until Flush is called. The driver accumulates a block's
// storage writes here — tree nodes, stale-index entries, the state
// snapshot — and Flush issues them as one atomic batch at Commit, so a
// block either lands whole or not at all.
type Buffer struct {
	store   *Store
	pending map[bufferKey][]byte
	// order preserves insertion order for deterministic iteration where it
	// matters (e.g. re-playing the buffer into a batch); lookups still use
	// the map.
	order []bufferKey
}

// NewBuffer layers a fresh write buffer over store.
func NewBuffer(store *Store) *Buffer {
	return &Buffer{
		store:   store,
		pending: make(map[bufferKey][]byte),
	}
}

// Get reads key, preferring the buffer over the committed store. A buffered
// nil value is an explicit tombstone from Delete and must not fall through
// to the committed store.
func (b *Buffer) Get(col Column, key []byte) ([]byte, error) {
	bk := bufferKey{col: col, key: string(key)}
	if v, ok := b.pending[bk]; ok {
		return v, nil
	}
	return b.store.Get(col, key)
}

// Set stages a write in the buffer.
func (b *Buffer) Set(col Column, key, value []byte) {
	bk := bufferKey{col: col, key: string(key)}
	if _, exists := b.pending[bk]; !exists {
		b.order = append(b.order, bk)
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	b.pending[bk] = cp
}

// Delete stages a tombstone in the buffer.
func (b *Buffer) Delete(col Column, key []byte) {
	bk := bufferKey{col: col, key: string(key)}
	if _, exists := b.pending[bk]; !exists {
		b.order = append(b.order, bk)
	}
	b.pending[bk] = nil
}

// Len reports the number of staged writes (including tombstones).
func (b *Buffer) Len() int {
	return len(b.pending)
}

// Reset discards all staged writes without touching the underlying store.
// Flush calls it once the staged batch has been committed.
func (b *Buffer) Reset() {
	b.pending = make(map[bufferKey][]byte)
	b.order = nil
}

// Flush issues every staged write as a single atomic batch against the
// underlying store and then clears the buffer. Any failure here is fatal:
// the caller must abort rather than risk a commit that partially applied.
func (b *Buffer) Flush() error {
	batch := b.store.NewBatch()
	for _, bk := range b.order {
		v := b.pending[bk]
		key := []byte(bk.key)
		if v == nil {
			if err := batch.Delete(bk.col, key); err != nil {
				batch.Discard()
				return err
			}
			continue
		}
		if err := batch.Set(bk.col, key, v); err != nil {
			batch.Discard()
			return err
		}
	}
	if err := batch.Commit(); err != nil {
		return err
	}
	b.Reset()
	return nil
}
