// Package unordered implements the chained hash table of spec.md §4.2: a
// fixed-size array of buckets, each an intrusive singly linked chain of
// records guarded by its own version word, plus the four STM callbacks
// (Lock/Check/Install/Cleanup) that let a transaction descriptor drive a
// commit without knowing the table's internal layout.
package unordered

import (
	"github.com/cespare/xxhash/v2"

	"github.com/sharedcode/oltpcore/txn"
	"github.com/sharedcode/oltpcore/version"
)

// HashTable is a transactional chained hash table. Keys must be
// comparable with Go's == operator (the chain walk compares them
// directly); KeyBytes turns a key into the byte string xxhash hashes into
// a bucket index and that the commit-time lock order sorts by.
type HashTable struct {
	rank     int
	buckets  []bucketSlot
	keyBytes func(key any) []byte
}

// NewHashTable constructs a table with numBuckets buckets. rank is the
// Owner.Rank this table reports for cross-owner commit lock ordering
// (spec.md §4.4 step 1); callers running more than one container in the
// same process should assign each a distinct rank. keyBytes must produce a
// stable byte encoding of any key this table will be asked to store.
func NewHashTable(rank, numBuckets int, keyBytes func(key any) []byte) *HashTable {
	if numBuckets <= 0 {
		numBuckets = 1
	}
	h := &HashTable{rank: rank, buckets: make([]bucketSlot, numBuckets), keyBytes: keyBytes}
	for i := range h.buckets {
		// Bucket words are never locked through Owner.Lock/Install (only
		// RecordKind items are); the only discipline they need is on the
		// read side, where a miss observes the bucket's counter to catch a
		// later concurrent insert. Opaque is the right policy for that: a
		// select_row/delete_row that lands mid-splice aborts immediately
		// via CheckedSnapshot instead of racing to observe a torn state.
		h.buckets[i].version = version.New(version.Opaque)
	}
	return h
}

func (h *HashTable) bucketIndex(key any) int {
	sum := xxhash.Sum64(h.keyBytes(key))
	return int(sum % uint64(len(h.buckets)))
}

func (h *HashTable) find(b *bucketSlot, key any) *Record {
	for r := b.head.Load(); r != nil; r = r.next.Load() {
		if r.key == key {
			return r
		}
	}
	return nil
}

func (h *HashTable) recordKey(r *Record) txn.ItemKey {
	return txn.ItemKey{Owner: h, Kind: txn.RecordKind, Raw: r}
}

func (h *HashTable) bucketKey(idx int) txn.ItemKey {
	return txn.ItemKey{Owner: h, Kind: txn.BucketKind, Raw: idx}
}

// SelectRow implements spec.md §4.2's select_row. forUpdate defers the
// record's lock acquisition to commit time (this implementation resolves
// the spec's "or acquire it under for_update" by always acquiring through
// the single commit-time Lock callback, rather than a separate eager
// acquire path — see DESIGN.md), but still records an observation of the
// version seen right now, so Lock() at commit validates against the value
// this transaction actually read rather than re-snapshotting live state —
// without this, a concurrent writer's commit between this select and our
// own commit would go undetected and its update would be silently lost.
// Returns the staged item as handle so UpdateRow can later supply the new
// value. err carries a Phantom code when the row is another transaction's
// uncommitted insert.
func (h *HashTable) SelectRow(d *txn.Descriptor, key any, forUpdate bool) (value any, found bool, handle *txn.Item, err error) {
	idx := h.bucketIndex(key)
	b := &h.buckets[idx]
	rec := h.find(b, key)
	if rec == nil {
		bucketSnap, ok := b.version.CheckedSnapshot()
		if !ok {
			d.Abandon()
			return nil, false, nil, txn.NewError(txn.Contention, nil, "unordered: select_row observed the bucket locked by a concurrent insert")
		}
		d.Observe(h.bucketKey(idx), bucketSnap)
		return nil, false, nil, nil
	}

	itemKey := h.recordKey(rec)
	existing, hasExisting := d.GetItem(itemKey)

	if rec.invalid.Load() {
		if !hasExisting || !existing.HasWrite {
			d.Abandon()
			return nil, false, nil, txn.NewError(txn.Phantom, nil, "unordered: select_row observed another transaction's uncommitted insert")
		}
		if existing.HasFlag(txn.FlagDelete) {
			return nil, false, existing, nil
		}
		return existing.Value, true, existing, nil
	}

	if hasExisting && existing.HasWrite {
		if existing.HasFlag(txn.FlagDelete) {
			return nil, false, existing, nil
		}
		return existing.Value, true, existing, nil
	}

	value = rec.Value()
	d.Observe(itemKey, rec.version.Snapshot())
	if forUpdate {
		it := d.Stage(itemKey, 0, value)
		return value, true, it, nil
	}
	return value, true, nil, nil
}

// InsertRow implements spec.md §4.2's insert_row. The bucket's chain
// splice and version bump happen synchronously here, not deferred to
// commit: a concurrent transaction's later select_row must see the
// INVALID marker immediately for phantom protection to work, and Cleanup
// undoes the splice if this transaction ultimately aborts.
func (h *HashTable) InsertRow(d *txn.Descriptor, key, value any, overwrite bool) (found bool, err error) {
	idx := h.bucketIndex(key)
	b := &h.buckets[idx]
	snap := spinLock(b.version)

	rec := h.find(b, key)
	if rec != nil {
		itemKey := h.recordKey(rec)
		if existing, ok := d.GetItem(itemKey); ok && existing.HasFlag(txn.FlagDelete) {
			existing.ClearFlag(txn.FlagDelete)
			existing.Value = value
			b.version.UnlockInstall(snap.Counter)
			return false, nil
		}
		b.version.UnlockInstall(snap.Counter)
		if !overwrite {
			return true, nil
		}
		d.Stage(itemKey, 0, value)
		return true, nil
	}

	rec = newRecord(key, value, idx)
	rec.next.Store(b.head.Load())
	b.head.Store(rec)
	nextCounter := snap.Counter + 1
	b.version.UnlockInstall(nextCounter)

	if existing, ok := d.GetItem(h.bucketKey(idx)); ok {
		existing.Observed.Counter = nextCounter
	}

	d.Stage(h.recordKey(rec), txn.FlagInsert, value)
	return false, nil
}

// DeleteRow implements spec.md §4.2's delete_row: stages a DELETE-flagged
// write item without physically unlinking the record, which Cleanup does
// after a successful commit.
func (h *HashTable) DeleteRow(d *txn.Descriptor, key any) (found bool, err error) {
	idx := h.bucketIndex(key)
	b := &h.buckets[idx]
	rec := h.find(b, key)
	if rec == nil {
		bucketSnap, ok := b.version.CheckedSnapshot()
		if !ok {
			d.Abandon()
			return false, txn.NewError(txn.Contention, nil, "unordered: delete_row observed the bucket locked by a concurrent insert")
		}
		d.Observe(h.bucketKey(idx), bucketSnap)
		return false, nil
	}

	itemKey := h.recordKey(rec)
	d.Observe(itemKey, rec.version.Snapshot())
	d.Stage(itemKey, 0, nil)
	if rec.deleted.Load() {
		d.Abandon()
		return false, txn.NewError(txn.Validation, nil, "unordered: delete_row target already deleted by a committed transaction")
	}
	it, _ := d.GetItem(itemKey)
	it.SetFlag(txn.FlagDelete)
	return true, nil
}

// UpdateRow implements spec.md §4.2's update_row. handle must be the item
// SelectRow(..., true) returned in the same transaction.
func (h *HashTable) UpdateRow(handle *txn.Item, newValue any) error {
	if handle == nil || handle.Key.Kind != txn.RecordKind || !handle.HasWrite {
		return txn.NewError(txn.InvariantViolation, nil, "unordered: update_row handle was not obtained from select_row(..., for_update=true) in this transaction")
	}
	handle.Value = newValue
	return nil
}

// NontransGet reads a value without a transaction descriptor or the
// bucket lock. It races with a concurrent insert_row/delete_row splicing
// the same chain and is never called by the transactional path — the
// supplement this module's DESIGN.md credits to original_source's
// nontrans_get, including its documented unsafety under concurrent
// writers.
func (h *HashTable) NontransGet(key any) (value any, ok bool) {
	idx := h.bucketIndex(key)
	rec := h.find(&h.buckets[idx], key)
	if rec == nil || rec.invalid.Load() || rec.deleted.Load() {
		return nil, false
	}
	return rec.Value(), true
}
