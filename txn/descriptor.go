package txn

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/sharedcode/oltpcore/version"
)

// State is the transaction lifecycle of spec.md §4.4:
// ACTIVE → COMMITTING → {COMMITTED, ABORTED}.
type State int

const (
	// Active accepts new read/write items.
	Active State = iota
	// Committing is entered once Commit begins; no further items may be
	// added.
	Committing
	// Committed is the terminal success state.
	Committed
	// Aborted is the terminal failure state.
	Aborted
)

// Descriptor is the per-thread transaction descriptor D of spec.md §3: an
// ordered write set, an unordered read set, an item-lookup index, and the
// commit-time state machine.
type Descriptor struct {
	ThreadID [16]byte
	Epoch    uint64

	state State

	readSet  map[ItemKey]*Item
	writeSet []*Item
	index    map[ItemKey]*Item

	commitTID     uint64
	deferrer      Deferrer
	lastCommitTID *atomic.Uint64
	logger        *zap.Logger

	onCommitHooks []func()
}

// NewDescriptor creates an ACTIVE descriptor. pinnedEpoch is the epoch the
// owning thread pinned at Begin time (spec.md §5: records unlinked by this
// transaction are enqueued against that epoch). lastCommitTID is shared
// across every descriptor this thread creates, implementing spec.md §4.4
// step 2's "larger of the thread's last commit tid + 1".
func NewDescriptor(threadID [16]byte, pinnedEpoch uint64, deferrer Deferrer, lastCommitTID *atomic.Uint64) *Descriptor {
	return &Descriptor{
		ThreadID:      threadID,
		Epoch:         pinnedEpoch,
		state:         Active,
		readSet:       make(map[ItemKey]*Item),
		index:         make(map[ItemKey]*Item),
		deferrer:      deferrer,
		lastCommitTID: lastCommitTID,
		logger:        zap.NewNop(),
	}
}

// SetLogger attaches a logger Commit/Abort report commit/abort events
// against. Unset, a Descriptor logs nothing.
func (d *Descriptor) SetLogger(l *zap.Logger) {
	if l != nil {
		d.logger = l
	}
}

// State returns the descriptor's current lifecycle state.
func (d *Descriptor) State() State { return d.state }

// CommitTID returns the commit tid allocated during Commit; valid only
// once State() is Committed.
func (d *Descriptor) CommitTID() uint64 { return d.commitTID }

// GetItem returns the existing item for key, if any (read-my-writes
// lookup).
func (d *Descriptor) GetItem(key ItemKey) (*Item, bool) {
	it, ok := d.index[key]
	return it, ok
}

// Observe records a read-set observation for key. If an item already
// exists for key (read or write), the existing item is returned unchanged:
// a transaction's own pending write always takes precedence over a fresh
// observation, which is exactly read-my-writes semantics (spec.md
// Glossary).
func (d *Descriptor) Observe(key ItemKey, observed version.Snapshot) *Item {
	if it, ok := d.index[key]; ok {
		return it
	}
	it := &Item{Key: key, HasRead: true, Observed: observed}
	d.index[key] = it
	d.readSet[key] = it
	return it
}

// Stage records a write-set item for key, creating or upgrading the
// existing item (e.g. a record observation that select_row(for_update) or
// delete_row then turns into a write). flags are OR'd into any existing
// flags so e.g. an insert followed by a delete in the same transaction
// accumulates both bits for the container's algorithm to interpret.
func (d *Descriptor) Stage(key ItemKey, flags Flag, value any) *Item {
	if it, ok := d.index[key]; ok {
		if !it.HasWrite {
			it.HasWrite = true
			d.writeSet = append(d.writeSet, it)
		}
		it.Flags |= flags
		it.Value = value
		return it
	}
	it := &Item{Key: key, HasWrite: true, Flags: flags, Value: value}
	d.index[key] = it
	d.writeSet = append(d.writeSet, it)
	return it
}

// ReadSet returns the unordered read-set items.
func (d *Descriptor) ReadSet() map[ItemKey]*Item { return d.readSet }

// WriteSet returns the ordered write-set items, in the order they were
// first staged.
func (d *Descriptor) WriteSet() []*Item { return d.writeSet }

// OnCommit registers a callback to run after a successful commit,
// mirroring the teacher's sop.Transaction.OnCommit hook.
func (d *Descriptor) OnCommit(fn func()) {
	d.onCommitHooks = append(d.onCommitHooks, fn)
}

// Abandon marks the descriptor ABORTED without running the commit
// machinery, used when a container operation itself detects a phantom or
// invariant violation before Commit is ever called.
func (d *Descriptor) Abandon() {
	d.state = Aborted
}
