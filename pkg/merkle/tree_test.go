package merkle

import (
	"testing"

	dbm "github.com/cometbft/cometbft-db"

	"github.com/stakechain/chaincore/pkg/kv"
)

func keyFor(b byte) Hash {
	var h Hash
	h[0] = b
	h[31] = b
	return h
}

func newTestTree(t *testing.T) (*Tree, *kv.Store) {
	t.Helper()
	store := kv.NewStore(dbm.NewMemDB())
	return New(NewStoreReader(store)), store
}

func TestTreeRoundTripAcrossVersions(t *testing.T) {
	tree, store := newTestTree(t)

	for v := Version(0); v < 10; v++ {
		batch := []KV{{Key: keyFor(byte(v)), Blob: []byte{byte(v), byte(v)}}}
		roots, wb, err := tree.PutBlobSets([][]KV{batch}, v)
		if err != nil {
			t.Fatalf("version %d: %v", v, err)
		}
		if err := ApplyWriteBatch(store, wb); err != nil {
			t.Fatalf("version %d apply: %v", v, err)
		}
		if roots[0] == ZeroHash {
			t.Fatalf("version %d: expected non-zero root", v)
		}
	}

	for v := Version(0); v < 10; v++ {
		got, err := tree.Get(keyFor(byte(v)), 9)
		if err != nil {
			t.Fatalf("get key %d at v9: %v", v, err)
		}
		if len(got) != 2 || got[0] != byte(v) {
			t.Fatalf("key %d at v9: got %v", v, got)
		}

		// A key written at version v must not be visible at any earlier
		// version: later writes never retroactively affect prior roots.
		if v > 0 {
			got, err := tree.Get(keyFor(byte(v)), v-1)
			if err != nil {
				t.Fatalf("get key %d at v%d: %v", v, v-1, err)
			}
			if got != nil {
				t.Fatalf("key %d unexpectedly visible at version %d", v, v-1)
			}
		}
	}
}

func TestTreeInclusionAndExclusionProofsVerify(t *testing.T) {
	tree, store := newTestTree(t)

	batch := []KV{
		{Key: keyFor(1), Blob: []byte("one")},
		{Key: keyFor(2), Blob: []byte("two")},
		{Key: keyFor(3), Blob: []byte("three")},
	}
	roots, wb, err := tree.PutBlobSets([][]KV{batch}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyWriteBatch(store, wb); err != nil {
		t.Fatal(err)
	}
	root := roots[0]

	value, proof, err := tree.GetWithProof(keyFor(1), 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(value) != "one" {
		t.Fatalf("got %q", value)
	}
	if !Verify(proof, root, keyFor(1), value) {
		t.Fatal("inclusion proof for key 1 failed to verify")
	}

	absentKey := keyFor(9)
	value, proof, err = tree.GetWithProof(absentKey, 0)
	if err != nil {
		t.Fatal(err)
	}
	if value != nil {
		t.Fatalf("expected absent key, got %q", value)
	}
	if !Verify(proof, root, absentKey, nil) {
		t.Fatal("exclusion proof for absent key failed to verify")
	}

	// A forged proof claiming inclusion of a value never written must not
	// verify.
	if Verify(proof, root, absentKey, []byte("forged")) {
		t.Fatal("exclusion proof must not verify a fabricated inclusion")
	}
}

func TestTreeOverwritePreservesOldVersionValue(t *testing.T) {
	tree, store := newTestTree(t)

	roots0, wb, err := tree.PutBlobSets([][]KV{{{Key: keyFor(5), Blob: []byte("v0")}}}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyWriteBatch(store, wb); err != nil {
		t.Fatal(err)
	}

	roots1, wb, err := tree.PutBlobSets([][]KV{{{Key: keyFor(5), Blob: []byte("v1")}}}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyWriteBatch(store, wb); err != nil {
		t.Fatal(err)
	}

	if roots0[0] == roots1[0] {
		t.Fatal("expected distinct roots after overwrite")
	}

	old, err := tree.Get(keyFor(5), 0)
	if err != nil {
		t.Fatal(err)
	}
	if string(old) != "v0" {
		t.Fatalf("expected old version unaffected, got %q", old)
	}

	fresh, err := tree.Get(keyFor(5), 1)
	if err != nil {
		t.Fatal(err)
	}
	if string(fresh) != "v1" {
		t.Fatalf("got %q", fresh)
	}
}

func TestStaleGCPrunesOnlySupersededNodes(t *testing.T) {
	tree, store := newTestTree(t)

	batches := make([][]KV, 10)
	for v := 0; v < 10; v++ {
		batches[v] = []KV{{Key: keyFor(byte(v)), Blob: []byte{byte(v)}}}
	}
	roots, wb, err := tree.PutBlobSets(batches, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyWriteBatch(store, wb); err != nil {
		t.Fatal(err)
	}
	rootAt9 := roots[9]

	// Overwrite key 0's value at version 10: this makes every node on the
	// path from the root down to key 0's leaf stale as of version 10.
	roots10, wb, err := tree.PutBlobSets([][]KV{{{Key: keyFor(0), Blob: []byte("overwritten")}}}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if err := ApplyWriteBatch(store, wb); err != nil {
		t.Fatal(err)
	}

	// Watermark 9: prune only nodes that stopped being referenced at or
	// before version 9, so version 9 itself stays fully readable. The nodes
	// the version-10 overwrite just superseded (stale since 10) still serve
	// version 9 and must not be touched.
	stale, err := CollectStale(store, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) == 0 {
		t.Fatal("expected at least one stale entry at watermark 9")
	}

	if err := Prune(store, stale); err != nil {
		t.Fatal(err)
	}

	remaining, err := CollectStale(store, 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected no stale entries left after prune, got %d", len(remaining))
	}

	// Proofs and reads for every key at version 9 must still verify: none of
	// version 9's nodes were among the pruned set.
	for v := Version(0); v < 10; v++ {
		got, proof, err := tree.GetWithProof(keyFor(byte(v)), 9)
		if err != nil {
			t.Fatalf("version 9, key %d: %v", v, err)
		}
		if !Verify(proof, rootAt9, keyFor(byte(v)), got) {
			t.Fatalf("proof for key %d at version 9 failed after prune", v)
		}
	}

	got, err := tree.Get(keyFor(0), 10)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "overwritten" {
		t.Fatalf("got %q", got)
	}
	_ = roots10
}
