package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWordPolicyBits(t *testing.T) {
	o := New(Opaque)
	s := o.Snapshot()
	assert.True(t, s.Opaque)
	assert.False(t, s.NonOpaque)
	assert.False(t, s.Locked)
	assert.Equal(t, uint64(0), s.Counter)

	n := New(NonOpaque)
	s = n.Snapshot()
	assert.True(t, s.NonOpaque)
	assert.False(t, s.Opaque)

	lc := New(LockCoupled)
	s = lc.Snapshot()
	assert.False(t, s.Opaque)
	assert.False(t, s.NonOpaque)
}

func TestTryLockSucceedsOnlyWhenCounterMatches(t *testing.T) {
	w := New(Opaque)
	snap := w.Snapshot()

	require.True(t, w.TryLock(snap))
	assert.True(t, w.Snapshot().Locked)

	// A second TryLock from a stale snapshot must fail: already locked.
	assert.False(t, w.TryLock(snap))
}

func TestTryLockFailsAfterCounterMoves(t *testing.T) {
	w := New(Opaque)
	stale := w.Snapshot()

	w2 := New(Opaque)
	require.True(t, w2.TryLock(w2.Snapshot()))
	w2.UnlockInstall(1)

	// Simulate: stale snapshot no longer matches current counter.
	require.True(t, w.TryLock(w.Snapshot()))
	w.UnlockInstall(5)
	assert.False(t, w.TryLock(stale))
}

func TestUnlockInstallPublishesCounterAndClearsLock(t *testing.T) {
	w := New(Opaque)
	require.True(t, w.TryLock(w.Snapshot()))
	w.UnlockInstall(42)

	s := w.Snapshot()
	assert.False(t, s.Locked)
	assert.Equal(t, uint64(42), s.Counter)
}

func TestCheckUnlockedRequiresCounterMatch(t *testing.T) {
	w := New(Opaque)
	observed := w.Snapshot()
	assert.True(t, w.Check(observed, false))

	require.True(t, w.TryLock(w.Snapshot()))
	w.UnlockInstall(1)
	assert.False(t, w.Check(observed, false))
}

func TestCheckLockedPassesOnlyForCallerOwnedLock(t *testing.T) {
	w := New(NonOpaque)
	observed := w.Snapshot()
	require.True(t, w.TryLock(observed))

	// Another transaction (not the lock owner) must fail the check while
	// locked, regardless of discipline.
	assert.False(t, w.Check(observed, false))
	// The lock owner itself is allowed to proceed mid-install.
	assert.True(t, w.Check(observed, true))
}

func TestCheckLockedFailsForOpaqueEvenWhenCallerHoldsTheLock(t *testing.T) {
	w := New(Opaque)
	observed := w.Snapshot()
	require.True(t, w.TryLock(observed))

	// Opaque grants no self-held exception: a locked opaque word never
	// validates, unlike NonOpaque/LockCoupled.
	assert.False(t, w.Check(observed, true))
	assert.False(t, w.Check(observed, false))
}

func TestCheckedSnapshotAbortsImmediatelyForLockedOpaqueWord(t *testing.T) {
	w := New(Opaque)
	_, ok := w.CheckedSnapshot()
	assert.True(t, ok)

	require.True(t, w.TryLock(w.Snapshot()))
	_, ok = w.CheckedSnapshot()
	assert.False(t, ok)
}

func TestCheckedSnapshotNeverAbortsForNonOpaqueOrLockCoupled(t *testing.T) {
	for _, p := range []Policy{NonOpaque, LockCoupled} {
		w := New(p)
		require.True(t, w.TryLock(w.Snapshot()))
		_, ok := w.CheckedSnapshot()
		assert.True(t, ok, "policy %v", p)
	}
}

func TestIncNonOpaqueRequiresLockHeld(t *testing.T) {
	w := New(NonOpaque)
	assert.Panics(t, func() { w.IncNonOpaque() })

	require.True(t, w.TryLock(w.Snapshot()))
	w.IncNonOpaque()
	s := w.Snapshot()
	assert.True(t, s.Locked)
	assert.Equal(t, uint64(1), s.Counter)
}

func TestSetUserBitIndependentOfLockAndCounter(t *testing.T) {
	w := New(Opaque)
	w.SetUser(true)
	_, _, _, user, _ := w.Bits()
	assert.True(t, user)

	require.True(t, w.TryLock(w.Snapshot()))
	w.UnlockInstall(3)
	_, _, _, user, counter := w.Bits()
	assert.True(t, user)
	assert.Equal(t, uint64(3), counter)
}

// Inserting into an empty bucket must bump the bucket version exactly once
// (spec.md §8 boundary behavior), exercised here directly against a bare
// non-opaque word bumped with IncNonOpaque.
func TestBumpExactlyOnceOnStructuralChange(t *testing.T) {
	w := New(NonOpaque)
	before := w.Snapshot()
	require.True(t, w.TryLock(before))
	w.IncNonOpaque()
	w.UnlockInstall(w.Snapshot().Counter)
	after := w.Snapshot()
	assert.Equal(t, before.Counter+1, after.Counter)
}
