package txn

import (
	"context"
	"sort"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"

	"github.com/sharedcode/oltpcore/syncutil"
)

// commitOrderMu serializes the sort-then-lock sequence across concurrently
// committing descriptors. It is not required for correctness — each word's
// own TryLock CAS is what actually prevents double-acquisition — but it
// gives the go-deadlock build tag a single, consistently-ordered critical
// section to audit for invariant 5 (deadlock freedom, spec.md §8).
var commitOrderMu syncutil.Mutex

// maxLockAttempts bounds the internal spin spec.md §5 allows ("an
// operation either completes, retries with a bounded internal spin, or
// returns an abort").
const maxLockAttempts = 8

// Commit runs the five-step commit state machine of spec.md §4.4:
// lock, allocate commit_tid, validate, install, cleanup. On any failure it
// aborts (releasing whatever it locked) and returns a *Error whose Code
// indicates why; Retryable(err) tells the enclosing retry scope whether to
// re-enter.
func (d *Descriptor) Commit(ctx context.Context) error {
	if d.state != Active {
		return NewError(InvariantViolation, nil, "commit called on a descriptor not in ACTIVE state")
	}
	d.state = Committing

	if err := d.lock(ctx); err != nil {
		d.abort(err)
		return err
	}

	d.allocateCommitTID()

	if err := d.validate(); err != nil {
		d.abort(err)
		return err
	}

	if err := d.install(); err != nil {
		d.abort(err)
		return err
	}

	d.cleanup(true, false)
	d.state = Committed
	d.logger.Debug("transaction committed",
		zap.Uint64("commit_tid", d.commitTID),
		zap.Int("write_set", len(d.writeSet)),
		zap.Int("read_set", len(d.readSet)))
	for _, hook := range d.onCommitHooks {
		hook()
	}
	return nil
}

// lock sorts the write set by (owner rank, key bytes) to total-order
// acquisition across threads (spec.md §4.4 step 1, §5's deadlock-avoidance
// ordering) and acquires each item's lock in that order, bounded by
// maxLockAttempts retries with a short backoff before giving up as
// Contention.
func (d *Descriptor) lock(ctx context.Context) error {
	sorted := make([]*Item, len(d.writeSet))
	copy(sorted, d.writeSet)
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Key.Owner.Rank() != b.Key.Owner.Rank() {
			return a.Key.Owner.Rank() < b.Key.Owner.Rank()
		}
		ab := a.Key.Owner.KeyBytes(a.Key)
		bb := b.Key.Owner.KeyBytes(b.Key)
		for k := 0; k < len(ab) && k < len(bb); k++ {
			if ab[k] != bb[k] {
				return ab[k] < bb[k]
			}
		}
		return len(ab) < len(bb)
	})

	commitOrderMu.Lock()
	defer commitOrderMu.Unlock()

	for _, it := range sorted {
		backoff := retry.NewFibonacci(time.Microsecond)
		backoff = retry.WithMaxRetries(uint64(maxLockAttempts), backoff)
		err := retry.Do(ctx, backoff, func(ctx context.Context) error {
			lockErr := it.Key.Owner.Lock(ctx, it)
			if lockErr != nil {
				return retry.RetryableError(lockErr)
			}
			it.locked = true
			return nil
		})
		if err != nil {
			return NewError(Contention, err, "failed to acquire lock for item")
		}
	}
	return nil
}

// allocateCommitTID implements spec.md §4.4 step 2: the larger of the
// thread's last commit tid + 1, and one greater than the max observed
// version across the read and write sets.
func (d *Descriptor) allocateCommitTID() {
	var maxObserved uint64
	for _, it := range d.readSet {
		if it.Observed.Counter > maxObserved {
			maxObserved = it.Observed.Counter
		}
	}
	for _, it := range d.writeSet {
		if it.HasRead && it.Observed.Counter > maxObserved {
			maxObserved = it.Observed.Counter
		}
	}

	for {
		last := d.lastCommitTID.Load()
		candidate := last + 1
		if maxObserved+1 > candidate {
			candidate = maxObserved + 1
		}
		if d.lastCommitTID.CompareAndSwap(last, candidate) {
			d.commitTID = candidate
			return
		}
	}
}

// validate calls Check on every read-set item; a single failure aborts the
// whole transaction (spec.md §4.4 step 3). A write item that was reached
// via an earlier Observe (e.g. the record observation select_row(for_update)
// or delete_row makes before staging its write) stays linked in the read set, so it is validated here too —
// Item.Locked reports true for it since lock() already acquired it, which
// is exactly the "non-opaque: lock held by caller" escape Word.Check
// grants its own writer.
func (d *Descriptor) validate() error {
	for _, it := range d.readSet {
		if !it.Key.Owner.Check(it) {
			return NewError(Validation, nil, "read-set validation failed")
		}
	}
	return nil
}

// install publishes every write item under the allocated commit tid
// (spec.md §4.4 step 4). Install itself calls the item's version word's
// UnlockInstall, so the item's lock is released as a side effect of a
// successful call; the descriptor clears its own bookkeeping of the lock
// immediately afterward so a later failure does not attempt a double
// unlock.
func (d *Descriptor) install() error {
	for _, it := range d.writeSet {
		if err := it.Key.Owner.Install(it, d.commitTID); err != nil {
			return NewError(InvariantViolation, err, "install failed after successful validation")
		}
		it.locked = false
	}
	return nil
}

// cleanup runs Owner.Cleanup for every write item and defers any returned
// reclamation callback against the transaction's pinned epoch (spec.md
// §4.4 step 5, §4.5). reverse walks the write set back-to-front, which the
// Abort path (spec.md §4.4: "walk the write set reverse order, call owner
// cleanup with committed=false") requires but the successful-commit path
// does not.
func (d *Descriptor) cleanup(committed, reverse bool) {
	if !reverse {
		for _, it := range d.writeSet {
			fn, arg, ok := it.Key.Owner.Cleanup(it, committed)
			if ok && d.deferrer != nil {
				d.deferrer.Defer(d.Epoch, fn, arg)
			}
		}
		return
	}
	for i := len(d.writeSet) - 1; i >= 0; i-- {
		it := d.writeSet[i]
		fn, arg, ok := it.Key.Owner.Cleanup(it, committed)
		if ok && d.deferrer != nil {
			d.deferrer.Defer(d.Epoch, fn, arg)
		}
	}
}

// abort releases any locks this descriptor still holds and runs Cleanup
// with committed=false for every write item, per spec.md §4.4's Abort path:
// "walk the write set reverse order, call owner cleanup with
// committed=false, release any acquired locks." Items whose lock was
// already released by a successful Install are skipped via it.locked.
// cause is nil when the caller aborted voluntarily (Abort(), no commit
// machinery ever ran) rather than because a commit step failed.
func (d *Descriptor) abort(cause error) {
	for i := len(d.writeSet) - 1; i >= 0; i-- {
		it := d.writeSet[i]
		if it.locked {
			it.Key.Owner.Unlock(it)
			it.locked = false
		}
	}
	d.cleanup(false, true)
	d.state = Aborted
	if cause != nil {
		d.logger.Debug("transaction aborted", zap.Error(cause), zap.Int("write_set", len(d.writeSet)))
	} else {
		d.logger.Debug("transaction aborted", zap.Int("write_set", len(d.writeSet)))
	}
}

// Abort is the public entry point for the application-driven rollback
// path: the caller decided not to commit at all (no locks were ever taken).
func (d *Descriptor) Abort() {
	if d.state == Committed || d.state == Aborted {
		return
	}
	d.abort(nil)
}
