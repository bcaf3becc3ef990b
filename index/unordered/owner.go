package unordered

import (
	"context"
	"encoding/binary"

	"github.com/sharedcode/oltpcore/txn"
	"github.com/sharedcode/oltpcore/version"
)

// Rank implements txn.Owner: a process-wide ordering key supplied at
// construction, used to total-order commit-phase locking across owners.
func (h *HashTable) Rank() int { return h.rank }

// KeyBytes implements txn.Owner. A record item sorts by its own key's
// byte encoding; a bucket item sorts by its big-endian index.
func (h *HashTable) KeyBytes(key txn.ItemKey) []byte {
	if key.Kind == txn.BucketKind {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(key.Raw.(int)))
		return buf
	}
	rec := key.Raw.(*Record)
	return h.keyBytes(rec.key)
}

// Lock implements txn.Owner: try_lock the record's version word. A write
// item with a prior observation (select_row for_update, delete_row) locks
// against the snapshot it observed then; one without (a fresh insert, or
// an overwriting insert_row) locks against the record's current snapshot.
func (h *HashTable) Lock(_ context.Context, it *txn.Item) error {
	if it.Key.Kind != txn.RecordKind {
		return txn.NewError(txn.InvariantViolation, nil, "unordered: Lock called on a non-record item")
	}
	rec := it.Key.Raw.(*Record)
	snap := rec.version.Snapshot()
	if it.HasRead {
		snap = it.Observed
	}
	if !rec.version.TryLock(snap) {
		return txn.NewError(txn.Contention, nil, "unordered: record lock contended")
	}
	return nil
}

// Unlock implements txn.Owner: release a lock acquired by Lock without
// installing a new counter, used on the abort path.
func (h *HashTable) Unlock(it *txn.Item) {
	if it.Key.Kind != txn.RecordKind {
		return
	}
	rec := it.Key.Raw.(*Record)
	rec.version.UnlockInstall(rec.version.Snapshot().Counter)
}

// Check implements txn.Owner: validates a read-set item's observation
// against whichever word it protects.
func (h *HashTable) Check(it *txn.Item) bool {
	var w *version.Word
	switch it.Key.Kind {
	case txn.BucketKind:
		w = h.buckets[it.Key.Raw.(int)].version
	case txn.RecordKind:
		w = &it.Key.Raw.(*Record).version
	default:
		return false
	}
	return w.Check(it.Observed, it.Locked())
}

// Install implements txn.Owner's record-level install (spec.md §4.4 step
// 4 / §4.2): a DELETE item publishes deleted=true under the new counter; an
// INSERT or plain update copies the new value, clears INVALID for an
// insert, and — for an insert — promotes the bucket's provisional
// non-opaque counter to commitTID so readers ordered after this commit see
// a counter at least as large as commitTID.
func (h *HashTable) Install(it *txn.Item, commitTID uint64) error {
	if it.Key.Kind != txn.RecordKind {
		return txn.NewError(txn.InvariantViolation, nil, "unordered: Install called on a non-record item")
	}
	rec := it.Key.Raw.(*Record)

	if it.HasFlag(txn.FlagDelete) {
		rec.deleted.Store(true)
		rec.version.UnlockInstall(commitTID)
		return nil
	}

	rec.setValue(it.Value)
	if it.HasFlag(txn.FlagInsert) {
		rec.invalid.Store(false)
	}
	rec.version.UnlockInstall(commitTID)

	if it.HasFlag(txn.FlagInsert) {
		h.promoteBucketVersion(rec, commitTID)
	}
	return nil
}

func (h *HashTable) promoteBucketVersion(rec *Record, commitTID uint64) {
	b := &h.buckets[rec.bucketIdx]
	for {
		snap := b.version.Snapshot()
		if snap.Counter >= commitTID {
			return
		}
		if b.version.TryLock(snap) {
			b.version.UnlockInstall(commitTID)
			return
		}
	}
}

// Cleanup implements txn.Owner (spec.md §4.4 step 5 / §4.2): a committed
// DELETE or an aborted INSERT physically unlinks the record from its
// bucket and defers its reclamation through the calling thread's RCU set;
// every other combination has nothing to reclaim.
func (h *HashTable) Cleanup(it *txn.Item, committed bool) (fn func(arg any), arg any, ok bool) {
	if it.Key.Kind != txn.RecordKind {
		return nil, nil, false
	}
	rec := it.Key.Raw.(*Record)
	switch {
	case committed && it.HasFlag(txn.FlagDelete):
		h.unlink(rec)
		return reclaimRecord, rec, true
	case !committed && it.HasFlag(txn.FlagInsert):
		h.unlink(rec)
		return reclaimRecord, rec, true
	default:
		return nil, nil, false
	}
}

func (h *HashTable) unlink(rec *Record) {
	b := &h.buckets[rec.bucketIdx]
	snap := spinLock(b.version)

	if cur := b.head.Load(); cur == rec {
		b.head.Store(rec.next.Load())
	} else {
		for cur != nil {
			nxt := cur.next.Load()
			if nxt == rec {
				cur.next.Store(rec.next.Load())
				break
			}
			cur = nxt
		}
	}
	b.version.UnlockInstall(snap.Counter + 1)
}

func reclaimRecord(arg any) {
	rec := arg.(*Record)
	rec.next.Store(nil)
}
