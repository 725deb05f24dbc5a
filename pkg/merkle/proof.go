package merkle

// LeafWitness is the leaf actually found at the end of a proof's path: either
// the requested key itself (inclusion) or a different key occupying that
// slot (exclusion).
type LeafWitness struct {
	Key      Hash
	BlobHash Hash
}

// Proof is a membership or non-membership proof for one key against one
// version's root hash. Siblings are ordered root-to-leaf: index 0 is the
// sibling of the root's child on the path, the last entry is the sibling
// immediately above the terminal leaf (or above the point the path ran out
// of stored structure).
type Proof struct {
	Siblings []Hash
	Leaf     *LeafWitness
}

// Verify checks proof against rootHash for key, asserting that value (nil
// for "key absent") is the data the tree actually holds. It folds the
// sibling list bottom-up, so it walks it in reverse.
func Verify(proof *Proof, rootHash Hash, key Hash, value []byte) bool {
	var cur Hash
	depth := len(proof.Siblings)

	switch {
	case value != nil:
		if proof.Leaf == nil || proof.Leaf.Key != key {
			return false
		}
		if proof.Leaf.BlobHash != HashBlob(value) {
			return false
		}
		cur = leafNodeHash(proof.Leaf.Key, proof.Leaf.BlobHash)
	case proof.Leaf != nil:
		// Exclusion via a differing leaf occupying the key's slot.
		if proof.Leaf.Key == key {
			return false
		}
		for i := 0; i < depth; i++ {
			if bit(proof.Leaf.Key, i) != bit(key, i) {
				// The witness leaf doesn't actually share the path down to this
				// depth, so it cannot be the node occupying key's slot.
				return false
			}
		}
		cur = leafNodeHash(proof.Leaf.Key, proof.Leaf.BlobHash)
	default:
		// Exclusion via an empty subtree at the end of the recorded path.
		cur = placeholderHash
	}

	for i := depth - 1; i >= 0; i-- {
		sibling := proof.Siblings[i]
		if bit(key, i) == 0 {
			cur = internalNodeHash(cur, sibling)
		} else {
			cur = internalNodeHash(sibling, cur)
		}
	}
	return cur == rootHash
}
