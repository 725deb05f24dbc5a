package merkle

import "fmt"

// MaxDepth is the number of bits in a key; the tree never recurses deeper
// than this.
const MaxDepth = 256

// NodeReader resolves a NodeKey to its stored Node. Implementations may
// consult an in-memory write buffer before falling back to committed
// storage, mirroring the KV store's buffered-read semantics.
type NodeReader interface {
	GetNode(key NodeKey) (Node, bool, error)
}

// KV is a key/value pair to write into the tree, keyed by its already-hashed
// 256-bit tree key (staking address padded to 32 bytes, or Blake3(txid||idx)
// for UTxOs; key derivation is the caller's job).
type KV struct {
	Key  Hash
	Blob []byte
}

// NodeWrite is one (key, node) pair produced by a write; the caller persists
// these under kv.ColTrieNode keyed by NodeWrite.Key.Encode().
type NodeWrite struct {
	Key  NodeKey
	Node Node
}

// StaleNodeIndex records that a node became obsolete starting at a given
// version.
type StaleNodeIndex struct {
	StaleSinceVersion Version
	NodeKey           NodeKey
}

// WriteBatch is everything a single PutBlobSets call produced, not yet
// applied to storage.
type WriteBatch struct {
	Nodes []NodeWrite
	Stale []StaleNodeIndex
}

// Tree is a versioned sparse Merkle tree. It holds no mutable state itself;
// all version history lives in the NodeReader's backing store.
type Tree struct {
	reader NodeReader
}

// New wraps a NodeReader in tree operations.
func New(reader NodeReader) *Tree {
	return &Tree{reader: reader}
}

func (t *Tree) getNode(key NodeKey) (Node, bool, error) {
	return t.reader.GetNode(key)
}

// RootHash returns the hash of the tree at version, or ZeroHash if no root
// node is stored at exactly that version.
func (t *Tree) RootHash(version Version) (Hash, error) {
	root, ok, err := t.getNode(NodeKey{Version: version, Path: rootPath()})
	if err != nil {
		return Hash{}, err
	}
	if !ok {
		return ZeroHash, nil
	}
	return root.Hash(), nil
}

// Get returns the value stored at key as of version, or nil if absent.
func (t *Tree) Get(key Hash, version Version) ([]byte, error) {
	value, _, err := t.GetWithProof(key, version)
	return value, err
}

// GetWithProof returns the value at key as of version (nil if absent) and a
// proof verifiable against that version's root hash.
func (t *Tree) GetWithProof(key Hash, version Version) ([]byte, *Proof, error) {
	cur := NodeKey{Version: version, Path: rootPath()}
	node, ok, err := t.getNode(cur)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, &Proof{}, nil
	}

	var siblings []Hash
	depth := 0
	for {
		switch n := node.(type) {
		case *LeafNode:
			if n.Key == key {
				return n.Blob, &Proof{Siblings: siblings, Leaf: &LeafWitness{Key: n.Key, BlobHash: n.BlobHash}}, nil
			}
			// A different leaf occupies this slot: the target key is absent.
			return nil, &Proof{Siblings: siblings, Leaf: &LeafWitness{Key: n.Key, BlobHash: n.BlobHash}}, nil
		case *InternalNode:
			b := bit(key, depth)
			var childKey *NodeKey
			var siblingHash Hash
			if b == 0 {
				childKey = n.Left
				siblingHash = n.RightHash
			} else {
				childKey = n.Right
				siblingHash = n.LeftHash
			}
			siblings = append(siblings, siblingHash)
			if childKey == nil {
				return nil, &Proof{Siblings: siblings}, nil
			}
			child, ok, err := t.getNode(*childKey)
			if err != nil {
				return nil, nil, err
			}
			if !ok {
				return nil, nil, fmt.Errorf("merkle: dangling node reference %s", childKey)
			}
			node = child
			depth++
		default:
			return nil, nil, fmt.Errorf("merkle: unknown node type %T", node)
		}
	}
}

// PutBlobSets applies an ordered list of per-version batches starting at
// baseVersion (batches[i] is written at version baseVersion+i) and returns
// the resulting root hashes plus the combined set of node writes and
// stale-node entries, not yet applied to storage.
func (t *Tree) PutBlobSets(batches [][]KV, baseVersion Version) ([]Hash, *WriteBatch, error) {
	result := &WriteBatch{}
	roots := make([]Hash, 0, len(batches))

	// overlay lets each successive batch in this call see the nodes written
	// by earlier batches in the same call, before anything is flushed to the
	// backing store.
	overlay := &overlayReader{base: t.reader, nodes: map[string]Node{}}
	tree := &Tree{reader: overlay}

	var prevRootVersion Version
	havePrev := false
	if baseVersion > 0 {
		rk := NodeKey{Version: baseVersion - 1, Path: rootPath()}
		if _, ok, err := tree.getNode(rk); err != nil {
			return nil, nil, err
		} else if ok {
			prevRootVersion = baseVersion - 1
			havePrev = true
		}
	}

	for i, batch := range batches {
		version := baseVersion + Version(i)
		var oldRoot *NodeKey
		if havePrev {
			rk := NodeKey{Version: prevRootVersion, Path: rootPath()}
			oldRoot = &rk
		}

		newRootKey, err := tree.putVersion(oldRoot, version, batch, result, overlay)
		if err != nil {
			return nil, nil, err
		}
		if newRootKey == nil {
			roots = append(roots, ZeroHash)
			havePrev = false
			continue
		}
		root, ok, err := tree.getNode(*newRootKey)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("merkle: missing freshly written root")
		}
		roots = append(roots, root.Hash())
		prevRootVersion = version
		havePrev = true
	}
	return roots, result, nil
}

// overlayReader serves freshly-written-but-not-yet-flushed nodes before
// falling back to the real backing reader, so a multi-batch PutBlobSets call
// sees its own earlier writes.
type overlayReader struct {
	base  NodeReader
	nodes map[string]Node
}

func (o *overlayReader) GetNode(key NodeKey) (Node, bool, error) {
	if n, ok := o.nodes[string(key.Encode())]; ok {
		return n, true, nil
	}
	return o.base.GetNode(key)
}

// putVersion applies one batch of (key,blob) writes on top of oldRoot
// (which may be nil for an empty tree), producing the new root's NodeKey.
// If the batch is empty, the previous root is re-stamped at the new version
// (a single node write) so every committed version owns a distinct root
// node key, keeping GetWithProof's lookup uniform.
func (t *Tree) putVersion(oldRoot *NodeKey, version Version, batch []KV, out *WriteBatch, overlay *overlayReader) (*NodeKey, error) {
	if len(batch) == 0 {
		if oldRoot == nil {
			// Nothing to write and nothing existed before: an empty tree at
			// this version is represented by the absence of a root node,
			// consistent with RootHash returning ZeroHash when none is found.
			return nil, nil
		}
		node, ok, err := t.getNode(*oldRoot)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("merkle: missing old root %s", oldRoot)
		}
		newKey := NodeKey{Version: version, Path: rootPath()}
		out.Nodes = append(out.Nodes, NodeWrite{Key: newKey, Node: node})
		overlay.nodes[string(newKey.Encode())] = node
		out.Stale = append(out.Stale, StaleNodeIndex{StaleSinceVersion: version, NodeKey: *oldRoot})
		return &newKey, nil
	}

	newKey, err := t.insertSubtree(oldRoot, rootPath(), version, batch, out, overlay)
	if err != nil {
		return nil, err
	}
	return newKey, nil
}

// insertSubtree applies batch (every key of which shares path as a prefix)
// on top of the subtree rooted at oldKey (nil meaning empty), returning the
// NodeKey of the replacement subtree root.
func (t *Tree) insertSubtree(oldKey *NodeKey, path BitPath, version Version, batch []KV, out *WriteBatch, overlay *overlayReader) (*NodeKey, error) {
	if oldKey == nil {
		return t.buildFresh(path, version, batch, out, overlay)
	}

	old, ok, err := t.getNode(*oldKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("merkle: missing node %s", oldKey)
	}

	switch n := old.(type) {
	case *LeafNode:
		merged := mergeLeafIntoBatch(n, batch)
		newKey, err := t.buildFresh(path, version, merged, out, overlay)
		if err != nil {
			return nil, err
		}
		out.Stale = append(out.Stale, StaleNodeIndex{StaleSinceVersion: version, NodeKey: *oldKey})
		return newKey, nil
	case *InternalNode:
		leftBatch, rightBatch := partition(batch, path.Len)
		newLeft := n.Left
		newLeftHash := n.LeftHash
		if len(leftBatch) > 0 {
			k, err := t.insertSubtree(n.Left, path.extend(0), version, leftBatch, out, overlay)
			if err != nil {
				return nil, err
			}
			newLeft = k
			node, _, err := t.getNode(*k)
			if err != nil {
				return nil, err
			}
			newLeftHash = node.Hash()
		}
		newRight := n.Right
		newRightHash := n.RightHash
		if len(rightBatch) > 0 {
			k, err := t.insertSubtree(n.Right, path.extend(1), version, rightBatch, out, overlay)
			if err != nil {
				return nil, err
			}
			newRight = k
			node, _, err := t.getNode(*k)
			if err != nil {
				return nil, err
			}
			newRightHash = node.Hash()
		}
		newNode := &InternalNode{Left: newLeft, Right: newRight, LeftHash: newLeftHash, RightHash: newRightHash}
		newKey := NodeKey{Version: version, Path: path}
		out.Nodes = append(out.Nodes, NodeWrite{Key: newKey, Node: newNode})
		overlay.nodes[string(newKey.Encode())] = newNode
		out.Stale = append(out.Stale, StaleNodeIndex{StaleSinceVersion: version, NodeKey: *oldKey})
		return &newKey, nil
	default:
		return nil, fmt.Errorf("merkle: unknown node type %T", old)
	}
}

// mergeLeafIntoBatch folds an existing leaf into a batch destined for the
// same subtree: an exact key match overwrites it, otherwise both co-exist.
func mergeLeafIntoBatch(leaf *LeafNode, batch []KV) []KV {
	for _, kv := range batch {
		if kv.Key == leaf.Key {
			return batch
		}
	}
	out := make([]KV, 0, len(batch)+1)
	out = append(out, batch...)
	out = append(out, KV{Key: leaf.Key, Blob: leaf.Blob})
	return out
}

// buildFresh constructs a brand-new subtree (no prior node at this path)
// holding exactly batch's entries, splitting into internal nodes until each
// leaf is alone in its slot.
func (t *Tree) buildFresh(path BitPath, version Version, batch []KV, out *WriteBatch, overlay *overlayReader) (*NodeKey, error) {
	if len(batch) == 1 {
		kv := batch[0]
		node := &LeafNode{Key: kv.Key, BlobHash: HashBlob(kv.Blob), Blob: kv.Blob}
		key := NodeKey{Version: version, Path: path}
		out.Nodes = append(out.Nodes, NodeWrite{Key: key, Node: node})
		overlay.nodes[string(key.Encode())] = node
		return &key, nil
	}
	if path.Len >= MaxDepth {
		return nil, fmt.Errorf("merkle: key collision at max depth")
	}

	leftBatch, rightBatch := partition(batch, path.Len)
	var left, right *NodeKey
	var leftHash, rightHash Hash
	if len(leftBatch) > 0 {
		k, err := t.buildFresh(path.extend(0), version, leftBatch, out, overlay)
		if err != nil {
			return nil, err
		}
		left = k
		node, _, _ := t.getNode(*k)
		leftHash = node.Hash()
	} else {
		leftHash = placeholderHash
	}
	if len(rightBatch) > 0 {
		k, err := t.buildFresh(path.extend(1), version, rightBatch, out, overlay)
		if err != nil {
			return nil, err
		}
		right = k
		node, _, _ := t.getNode(*k)
		rightHash = node.Hash()
	} else {
		rightHash = placeholderHash
	}

	node := &InternalNode{Left: left, Right: right, LeftHash: leftHash, RightHash: rightHash}
	key := NodeKey{Version: version, Path: path}
	out.Nodes = append(out.Nodes, NodeWrite{Key: key, Node: node})
	overlay.nodes[string(key.Encode())] = node
	return &key, nil
}

// partition splits batch by the bit at depth, preserving relative order.
func partition(batch []KV, depth int) (left, right []KV) {
	for _, kv := range batch {
		if bit(kv.Key, depth) == 0 {
			left = append(left, kv)
		} else {
			right = append(right, kv)
		}
	}
	return left, right
}
