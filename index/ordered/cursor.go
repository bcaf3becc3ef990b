package ordered

import "github.com/sharedcode/oltpcore/txn"

// RangeScan implements spec.md §4.3's range scan: visits every committed,
// non-deleted key in [begin, end) — or this transaction's own pending
// value for a key it has itself written — calling callback(key, value)
// for each. A nil begin starts from the smallest key; a nil end runs to
// the largest. reverse delivers keys in descending order instead.
//
// The callback receives the index's own byte-encoded key representation,
// not the original typed key passed to InsertRow/SelectRow: keyBytes is a
// one-way encoder with no caller-supplied inverse, grounded on the same
// "caller decides key shape" contract NewIndex already uses.
//
// callback returning false stops the scan early. Invalid (another
// transaction's uncommitted insert) and deleted entries are skipped
// rather than aborting the whole scan, per spec.md §4.3's scan semantics
// — a single stale entry in a wide range should not fail every reader.
// Visiting a leaf registers an internode observation for it, so a
// concurrent structural change to any leaf this scan crossed still
// invalidates the scanning transaction at commit.
func (t *Index) RangeScan(d *txn.Descriptor, begin, end any, callback func(key []byte, value any) bool, reverse bool) error {
	var beginBytes, endBytes []byte
	if begin != nil {
		beginBytes = t.keyBytes(begin)
	}
	if end != nil {
		endBytes = t.keyBytes(end)
	}

	leaves := t.collectLeaves()

	visit := func(leaf *Node) {
		d.Observe(t.internodeKey(leaf), leaf.version.Snapshot())
	}

	resolve := func(leaf *Node, e *entry) (value any, ok bool) {
		if op, has := t.findPendingOp(d, leaf, e); has {
			if op.flags&txn.FlagDelete != 0 {
				return nil, false
			}
			return op.value, true
		}
		if e.invalid.Load() || e.deleted.Load() {
			return nil, false
		}
		return e.Value(), true
	}

	if !reverse {
		for _, leaf := range leaves {
			visit(leaf)
			for _, e := range leaf.entrySlice() {
				if endBytes != nil && t.cmp(e.key, endBytes) >= 0 {
					return nil
				}
				if beginBytes != nil && t.cmp(e.key, beginBytes) < 0 {
					continue
				}
				value, ok := resolve(leaf, e)
				if !ok {
					continue
				}
				if !callback(e.key, value) {
					return nil
				}
			}
		}
		return nil
	}

	for li := len(leaves) - 1; li >= 0; li-- {
		leaf := leaves[li]
		visit(leaf)
		entries := leaf.entrySlice()
		for ei := len(entries) - 1; ei >= 0; ei-- {
			e := entries[ei]
			if endBytes != nil && t.cmp(e.key, endBytes) >= 0 {
				continue
			}
			if beginBytes != nil && t.cmp(e.key, beginBytes) < 0 {
				return nil
			}
			value, ok := resolve(leaf, e)
			if !ok {
				continue
			}
			if !callback(e.key, value) {
				return nil
			}
		}
	}
	return nil
}

// collectLeaves returns every leaf in key order: a single atomic load of
// the interior directory's current snapshot (safe regardless of
// concurrent structural mutation, since linkSibling only ever publishes a
// whole new directory), chasing each child's rightSibling chain to pick
// up a leaf that split after the directory snapshot was taken but before
// this scan ran.
func (t *Index) collectLeaves() []*Node {
	root := t.root.Load()
	if root.kind == leafKind {
		return chaseSiblings(root, nil)
	}

	var leaves []*Node
	children := root.directory().children
	for i, c := range children {
		var stop *Node
		if i+1 < len(children) {
			stop = children[i+1]
		}
		leaves = append(leaves, chaseSiblings(c, stop)...)
	}
	return leaves
}

// chaseSiblings returns leaf followed by its rightSibling chain, ending
// before stop (the next leaf the directory already lists) or at the end
// of the chain.
func chaseSiblings(leaf, stop *Node) []*Node {
	leaves := []*Node{leaf}
	for {
		sib := leaf.rightSibling.Load()
		if sib == nil || sib == stop {
			return leaves
		}
		leaves = append(leaves, sib)
		leaf = sib
	}
}
