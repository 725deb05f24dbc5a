package kv

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(dbm.NewMemDB())
}

func TestStoreColumnIsolation(t *testing.T) {
	s := newTestStore(t)
	b := s.NewBatch()
	if err := b.Set(ColTrieNode, []byte("k"), []byte("node-value")); err != nil {
		t.Fatal(err)
	}
	if err := b.Set(ColMeta, []byte("k"), []byte("meta-value")); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	v, err := s.Get(ColTrieNode, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "node-value" {
		t.Fatalf("got %q", v)
	}

	v, err = s.Get(ColMeta, []byte("k"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "meta-value" {
		t.Fatalf("got %q", v)
	}
}

func TestStoreIteratePrefix(t *testing.T) {
	s := newTestStore(t)
	b := s.NewBatch()
	keys := [][]byte{[]byte("a1"), []byte("a2"), []byte("b1")}
	for _, k := range keys {
		if err := b.Set(ColTrieStale, k, []byte("v")); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	it, err := s.IteratePrefix(ColTrieStale, []byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	defer it.Close()

	var got []string
	for ; it.Valid(); it.Next() {
		got = append(got, string(it.Key()))
	}
	if len(got) != 2 || got[0] != "a1" || got[1] != "a2" {
		t.Fatalf("got %v", got)
	}
}

func TestBufferReadsOwnWritesBeforeFlush(t *testing.T) {
	s := newTestStore(t)
	buf := NewBuffer(s)

	buf.Set(ColMeta, []byte("x"), []byte("1"))
	v, err := buf.Get(ColMeta, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "1" {
		t.Fatalf("got %q", v)
	}

	// Not visible in the underlying store until Flush.
	stored, err := s.Get(ColMeta, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if stored != nil {
		t.Fatalf("expected no committed value yet, got %q", stored)
	}

	if err := buf.Flush(); err != nil {
		t.Fatal(err)
	}
	stored, err = s.Get(ColMeta, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if string(stored) != "1" {
		t.Fatalf("got %q after flush", stored)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected buffer cleared after flush, got len=%d", buf.Len())
	}
}

func TestBufferResetDiscardsPartialWrites(t *testing.T) {
	s := newTestStore(t)
	buf := NewBuffer(s)
	buf.Set(ColMeta, []byte("x"), []byte("1"))
	buf.Reset()
	if buf.Len() != 0 {
		t.Fatalf("expected empty buffer after reset")
	}
	v, err := buf.Get(ColMeta, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("expected no value after reset, got %q", v)
	}
}

func TestBufferDeleteTombstonesOverCommittedValue(t *testing.T) {
	s := newTestStore(t)
	b := s.NewBatch()
	if err := b.Set(ColMeta, []byte("x"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := b.Commit(); err != nil {
		t.Fatal(err)
	}

	buf := NewBuffer(s)
	buf.Delete(ColMeta, []byte("x"))
	v, err := buf.Get(ColMeta, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("expected tombstoned read to return nil, got %q", v)
	}

	if err := buf.Flush(); err != nil {
		t.Fatal(err)
	}
	v, err = s.Get(ColMeta, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("expected deleted key to be gone after flush, got %q", v)
	}
}
