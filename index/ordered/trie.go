package ordered

import (
	"bytes"
	"sync/atomic"

	"github.com/sharedcode/oltpcore/txn"
)

// DefaultFanout bounds the number of entries a leaf holds before it
// splits (spec.md §4.3: "leaves carry a fan-out-limited key-sorted
// array").
const DefaultFanout = 32

// pendingOp is one transaction's staged mutation of a single entry within
// a leaf. Because spec.md §4.3 versions the whole node rather than each
// record, this implementation collapses every write this transaction
// makes within one leaf into a single write item (keyed by the leaf
// itself) carrying a slice of pendingOp — avoiding the self-contention a
// naive per-entry item would cause when Lock tries to acquire the same
// leaf's word twice in one commit.
type pendingOp struct {
	entry *entry
	value any
	flags txn.Flag
}

// Handle is returned by SelectRow(..., true) and consumed by UpdateRow;
// it names the specific entry within a leaf this transaction may later
// overwrite.
type Handle struct {
	leaf  *Node
	entry *entry
}

// Index is a transactional ordered index: a fan-out-limited trie with a
// single growing interior directory (spec.md §4.3).
type Index struct {
	rank     int
	fanout   int
	keyBytes func(key any) []byte
	cmp      func(a, b []byte) int
	root     atomic.Pointer[Node]
}

// NewIndex constructs an index with the given fan-out and key encoding.
// rank is the Owner.Rank this index reports for cross-owner commit lock
// ordering (spec.md §4.4 step 1).
func NewIndex(rank, fanout int, keyBytes func(key any) []byte) *Index {
	if fanout <= 1 {
		fanout = DefaultFanout
	}
	t := &Index{rank: rank, fanout: fanout, keyBytes: keyBytes, cmp: bytes.Compare}
	t.root.Store(newLeaf())
	return t
}

func (t *Index) recordKey(leaf *Node) txn.ItemKey {
	return txn.ItemKey{Owner: t, Kind: txn.RecordKind, Raw: leaf}
}

func (t *Index) internodeKey(leaf *Node) txn.ItemKey {
	return txn.ItemKey{Owner: t, Kind: txn.InternodeKind, Raw: leaf}
}

// leafFor descends the directory to the leaf responsible for key — a
// single atomic load of the directory's current snapshot, safe against
// concurrent structural mutation since linkSibling only ever publishes a
// new directory wholesale, never edits one in place — then chases any
// already-split-off right sibling until it reaches the leaf that would
// actually hold key.
func (t *Index) leafFor(key []byte) *Node {
	root := t.root.Load()
	var leaf *Node
	if root.kind == leafKind {
		leaf = root
	} else {
		d := root.directory()
		leaf = d.children[childFor(d, key, t.cmp)]
	}
	for {
		sib := leaf.rightSibling.Load()
		if sib == nil {
			return leaf
		}
		sibEntries := sib.entrySlice()
		if len(sibEntries) == 0 || t.cmp(key, sibEntries[0].key) < 0 {
			return leaf
		}
		leaf = sib
	}
}

func (t *Index) findPendingOp(d *txn.Descriptor, leaf *Node, e *entry) (*pendingOp, bool) {
	item, ok := d.GetItem(t.recordKey(leaf))
	if !ok {
		return nil, false
	}
	ops := item.Value.([]pendingOp)
	for i := range ops {
		if ops[i].entry == e {
			return &ops[i], true
		}
	}
	return nil, false
}

func (t *Index) stageOp(d *txn.Descriptor, leaf *Node, e *entry, value any, flags txn.Flag) *Handle {
	key := t.recordKey(leaf)
	if existing, ok := d.GetItem(key); ok && existing.HasWrite {
		ops := existing.Value.([]pendingOp)
		for i := range ops {
			if ops[i].entry == e {
				ops[i].value = value
				ops[i].flags |= flags
				d.Stage(key, flags, ops)
				return &Handle{leaf: leaf, entry: e}
			}
		}
		ops = append(ops, pendingOp{entry: e, value: value, flags: flags})
		d.Stage(key, flags, ops)
		return &Handle{leaf: leaf, entry: e}
	}
	d.Stage(key, flags, []pendingOp{{entry: e, value: value, flags: flags}})
	return &Handle{leaf: leaf, entry: e}
}

// SelectRow implements spec.md §4.3's select_row (mirroring §4.2's
// contract per "public contract mirrors 4.2"). forUpdate stages the entry
// as a write item immediately (deferring the actual leaf lock to commit,
// the same design decision index/unordered makes for its for_update path)
// and returns a Handle for a later UpdateRow.
func (t *Index) SelectRow(d *txn.Descriptor, key any, forUpdate bool) (value any, found bool, handle *Handle, err error) {
	kb := t.keyBytes(key)
	leaf := t.leafFor(kb)
	entries := leaf.entrySlice()
	idx, ok := findEntry(entries, kb, t.cmp)
	if !ok {
		d.Observe(t.internodeKey(leaf), leaf.version.Snapshot())
		return nil, false, nil, nil
	}
	e := entries[idx]

	if op, hasOp := t.findPendingOp(d, leaf, e); hasOp {
		if op.flags&txn.FlagDelete != 0 {
			return nil, false, nil, nil
		}
		if forUpdate {
			return op.value, true, &Handle{leaf: leaf, entry: e}, nil
		}
		return op.value, true, nil, nil
	}

	if e.invalid.Load() {
		d.Abandon()
		return nil, false, nil, txn.NewError(txn.Phantom, nil, "ordered: select_row observed another transaction's uncommitted insert")
	}
	if e.deleted.Load() {
		d.Observe(t.internodeKey(leaf), leaf.version.Snapshot())
		return nil, false, nil, nil
	}

	if forUpdate {
		// Record the leaf version seen right now against the record item
		// (not internodeKey, which this index uses for read-only
		// observations) before staging the write, so Lock() at commit validates against
		// the value this transaction actually read rather than a fresh
		// re-snapshot — without this a concurrent split or update committed
		// between this select and our own commit would go undetected.
		d.Observe(t.recordKey(leaf), leaf.version.Snapshot())
		h := t.stageOp(d, leaf, e, e.Value(), 0)
		return e.Value(), true, h, nil
	}
	d.Observe(t.internodeKey(leaf), leaf.version.Snapshot())
	return e.Value(), true, nil, nil
}

// InsertRow implements spec.md §4.3's transactional insert: splice in an
// INVALID entry and split the leaf synchronously if it now exceeds
// fan-out. It adds no read item of its own for the leaf's previous→next
// version transition; it only moves this transaction's existing internode
// observation of the leaf, if there is one, to the post-insert counter.
// The write item it stages locks against the leaf's live version at
// commit, so another transaction's change to the leaf between this insert
// and commit does not by itself fail the commit. Like index/unordered's insert_row, the splice and any
// split are immediately visible (not deferred to commit) so a concurrent
// transaction's select_row sees the INVALID marker for phantom
// protection; Cleanup unlinks the entry again if this transaction aborts.
func (t *Index) InsertRow(d *txn.Descriptor, key, value any, overwrite bool) (found bool, err error) {
	kb := t.keyBytes(key)
	leaf := t.leafFor(kb)
	snap := spinLock(leaf)

	entries := leaf.entrySlice()
	if idx, ok := findEntry(entries, kb, t.cmp); ok {
		e := entries[idx]
		leaf.version.UnlockInstall(snap.Counter)

		if op, hasOp := t.findPendingOp(d, leaf, e); hasOp && op.flags&txn.FlagDelete != 0 {
			op.flags &^= txn.FlagDelete
			op.value = value
			return false, nil
		}
		if !overwrite {
			return true, nil
		}
		t.stageOp(d, leaf, e, value, 0)
		return true, nil
	}

	idx, _ := findEntry(entries, kb, t.cmp)
	e := newEntry(kb, value, true)
	next := make([]*entry, len(entries)+1)
	copy(next, entries[:idx])
	next[idx] = e
	copy(next[idx+1:], entries[idx:])
	leaf.entries.Store(&next)

	leaf.version.UnlockInstall(snap.Counter + 1)

	if len(next) > t.fanout {
		t.split(leaf)
	}

	// Correct this transaction's own prior absence-observation (if any) on
	// leaf to the counter it actually ended up at, which may have been
	// bumped a second time by the split above — otherwise this
	// transaction's own insert (and any split it triggered) would make its
	// own earlier "not found" observation fail validation at commit.
	if existing, ok := d.GetItem(t.internodeKey(leaf)); ok {
		existing.Observed.Counter = leaf.version.Snapshot().Counter
	}

	t.stageOp(d, leaf, e, value, txn.FlagInsert)
	return false, nil
}

// split halves an overflowing leaf, re-checking the overflow condition
// under its own lock in case a concurrent InsertRow already split it.
func (t *Index) split(leaf *Node) {
	snap := spinLock(leaf)
	entries := leaf.entrySlice()
	if len(entries) <= t.fanout {
		leaf.version.UnlockInstall(snap.Counter)
		return
	}

	mid := len(entries) / 2
	sibling := newLeaf()
	siblingEntries := append([]*entry{}, entries[mid:]...)
	sibling.entries.Store(&siblingEntries)
	boundaryKey := siblingEntries[0].key

	sibling.rightSibling.Store(leaf.rightSibling.Load())
	leftEntries := entries[:mid]
	leaf.entries.Store(&leftEntries)
	leaf.rightSibling.Store(sibling)
	leaf.version.UnlockInstall(snap.Counter + 1)

	t.linkSibling(boundaryKey, sibling)
}

// linkSibling inserts sibling into the interior directory under
// boundaryKey, promoting a bare leaf root to a one-level interior on the
// very first split. A directory is never edited in place: every insertion
// builds a brand new boundaries/children pair and publishes it with a
// single CompareAndSwap, so a concurrent leafFor always observes either
// the old directory or the new one, never a partially-built one.
func (t *Index) linkSibling(boundaryKey []byte, sibling *Node) {
	root := t.root.Load()
	if root.kind == leafKind {
		interior := newInterior()
		interior.dir.Store(&directory{
			boundaries: [][]byte{nil, boundaryKey},
			children:   []*Node{root, sibling},
		})
		t.root.Store(interior)
		return
	}

	for {
		cur := root.directory()
		at := childFor(cur, boundaryKey, t.cmp) + 1

		nb := make([][]byte, len(cur.boundaries)+1)
		copy(nb, cur.boundaries[:at])
		nb[at] = boundaryKey
		copy(nb[at+1:], cur.boundaries[at:])

		nc := make([]*Node, len(cur.children)+1)
		copy(nc, cur.children[:at])
		nc[at] = sibling
		copy(nc[at+1:], cur.children[at:])

		next := &directory{boundaries: nb, children: nc}
		if root.dir.CompareAndSwap(cur, next) {
			return
		}
	}
}

// DeleteRow implements spec.md §4.3's delete_row, mirroring
// index/unordered's delete_row: stage the DELETE flag now, physically
// remove the entry from the leaf only in Cleanup after a successful
// commit.
func (t *Index) DeleteRow(d *txn.Descriptor, key any) (found bool, err error) {
	kb := t.keyBytes(key)
	leaf := t.leafFor(kb)
	entries := leaf.entrySlice()
	idx, ok := findEntry(entries, kb, t.cmp)
	if !ok {
		d.Observe(t.internodeKey(leaf), leaf.version.Snapshot())
		return false, nil
	}
	e := entries[idx]

	d.Observe(t.recordKey(leaf), leaf.version.Snapshot())
	t.stageOp(d, leaf, e, nil, 0)
	if e.deleted.Load() {
		d.Abandon()
		return false, txn.NewError(txn.Validation, nil, "ordered: delete_row target already deleted by a committed transaction")
	}
	op, _ := t.findPendingOp(d, leaf, e)
	op.flags |= txn.FlagDelete
	return true, nil
}

// UpdateRow implements spec.md §4.3's update_row. handle must be the
// Handle SelectRow(..., true) returned in this same transaction, since
// the pending op it names lives inside d's write-set item for handle's
// leaf.
func (t *Index) UpdateRow(d *txn.Descriptor, handle *Handle, newValue any) error {
	if handle == nil {
		return txn.NewError(txn.InvariantViolation, nil, "ordered: update_row handle was not obtained from select_row(..., for_update=true)")
	}
	op, ok := t.findPendingOp(d, handle.leaf, handle.entry)
	if !ok {
		return txn.NewError(txn.InvariantViolation, nil, "ordered: update_row handle is not staged in this transaction")
	}
	op.value = newValue
	return nil
}

// NontransGet reads a value without a transaction descriptor, racing with
// concurrent structural mutation exactly as index/unordered's NontransGet
// does; never called by the transactional path.
func (t *Index) NontransGet(key any) (value any, ok bool) {
	kb := t.keyBytes(key)
	leaf := t.leafFor(kb)
	entries := leaf.entrySlice()
	idx, found := findEntry(entries, kb, t.cmp)
	if !found {
		return nil, false
	}
	e := entries[idx]
	if e.invalid.Load() || e.deleted.Load() {
		return nil, false
	}
	return e.Value(), true
}
