// Package ordered implements the fan-out-limited trie of spec.md §4.3: a
// single interior directory node routing by key boundary to leaves, each
// leaf a sorted array of (key, value) entries. Unlike the unordered
// index, versioning here is per-node (spec.md §3's Trie node N), not
// per-record: a leaf's own version word guards every key inside it.
package ordered

import (
	"sync/atomic"

	"github.com/sharedcode/oltpcore/version"
)

type nodeKind int

const (
	leafKind nodeKind = iota
	interiorKind
)

// entry is one (key, value) slot in a leaf's sorted array. key is set
// once before the entry is published into a leaf and never mutated
// again, so it needs no atomic; value, invalid and deleted are all
// mutated by Install after publication while concurrent readers may be
// inspecting the same entry without the leaf's lock, so each gets its own
// atomic field, mirroring index/unordered's Record exactly (invalid
// marks a speculative insert not yet committed, deleted a committed
// tombstone).
type entry struct {
	key []byte

	value   atomic.Value
	invalid atomic.Bool
	deleted atomic.Bool
}

// entryValueBox gives atomic.Value a single concrete type to store
// regardless of what the caller's value actually is (including nil),
// mirroring index/unordered's valueBox.
type entryValueBox struct{ v any }

func newEntry(key []byte, value any, invalid bool) *entry {
	e := &entry{key: key}
	e.value.Store(entryValueBox{value})
	e.invalid.Store(invalid)
	return e
}

func (e *entry) Value() any { return e.value.Load().(entryValueBox).v }

func (e *entry) setValue(v any) { e.value.Store(entryValueBox{v}) }

// directory is the (single, never-split) interior node's boundary/child
// arrays, replaced wholesale on every structural change rather than
// mutated in place: boundaries and children are published together
// behind one atomic.Pointer so a lock-free reader always sees a
// consistent pair, never a torn append mid-insertion. children[i] holds
// every key >= boundaries[i] and < boundaries[i+1] (or unbounded above,
// for the last child).
type directory struct {
	boundaries [][]byte
	children   []*Node
}

// Node is a trie node. A leaf carries entries sorted by key, published
// through an atomic.Pointer so a structural mutation (splice, split,
// removal) is a single copy-on-write swap rather than an in-place edit a
// concurrent lock-free reader could observe half-done. Per spec.md §4.3,
// only leaves are fan-out-limited and split; the interior directory
// grows without bound as leaves split.
type Node struct {
	id      version.NodeID
	kind    nodeKind
	version *version.Word

	entries atomic.Pointer[[]*entry]

	// rightSibling is set once, at split time (B-link-tree style), so a
	// reader that arrives at a leaf mid-split — before the interior
	// directory has been updated to route around it — can still chase the
	// key it is looking for into the sibling it was moved to. This closes
	// the routing race a flat, non-atomically-swapped directory would
	// otherwise leave open during a split.
	rightSibling atomic.Pointer[Node]

	dir atomic.Pointer[directory]
}

func newLeaf() *Node {
	// A leaf's word is lock-coupled for its write side: Owner.Lock acquires
	// it once for every pendingOp this transaction staged against the leaf
	// (stageOp coalesces them into a single write item), and every
	// subsequent Check against that same item sees the lock as self-held
	// until commit installs the new counter. Pure absence/internode reads
	// against the same word still validate by plain counter comparison,
	// which LockCoupled carries unchanged from the unlocked branch.
	n := &Node{id: version.NewNodeID(), kind: leafKind, version: version.New(version.LockCoupled)}
	empty := []*entry{}
	n.entries.Store(&empty)
	return n
}

func newInterior() *Node {
	n := &Node{id: version.NewNodeID(), kind: interiorKind, version: version.New(version.NonOpaque)}
	n.dir.Store(&directory{})
	return n
}

// ID returns the node's identity, assigned once at allocation and never
// reused by a later split or structural rewrite of the same slot.
func (n *Node) ID() version.NodeID { return n.id }

// entrySlice returns a stable snapshot of n's current entries: safe to
// range over or index into without any further synchronization, since
// mutators never edit a published slice in place, only swap in a new
// one.
func (n *Node) entrySlice() []*entry {
	return *n.entries.Load()
}

func (n *Node) directory() *directory {
	return n.dir.Load()
}

// spinLock busy-waits until it acquires n's version word, mirroring
// index/unordered's bucket spinlock: short-held, no separate mutex.
func spinLock(n *Node) version.Snapshot {
	for {
		s := n.version.Snapshot()
		if !s.Locked && n.version.TryLock(s) {
			return s
		}
	}
}

// findEntry returns the index of key in a sorted leaf-entries snapshot
// and true, or the index key would be inserted at and false if absent.
func findEntry(entries []*entry, key []byte, cmp func(a, b []byte) int) (int, bool) {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(entries[mid].key, key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(entries) && cmp(entries[lo].key, key) == 0 {
		return lo, true
	}
	return lo, false
}

// childFor returns the index into a directory snapshot's children
// responsible for key: the rightmost boundary <= key.
func childFor(d *directory, key []byte, cmp func(a, b []byte) int) int {
	lo, hi := 0, len(d.boundaries)
	for lo < hi {
		mid := (lo + hi) / 2
		if cmp(d.boundaries[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == 0 {
		return 0
	}
	return lo - 1
}
