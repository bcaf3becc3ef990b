// Package version implements the packed atomic version word described in
// spec.md §4.1: a 64-bit atomic field carrying a lock bit, an opacity bit, a
// non-opacity bit, a user-defined bit, and a monotonically increasing
// counter. It is the hot-path synchronization primitive for every record,
// bucket, and trie node in this module.
package version

import "sync/atomic"

// Bit layout, low to high: LOCK | OPAQUE | NONOPAQUE | USER | COUNTER(60).
const (
	lockBit      uint64 = 1 << 0
	opaqueBit    uint64 = 1 << 1
	nonOpaqueBit uint64 = 1 << 2
	userBit      uint64 = 1 << 3

	counterShift = 4
	flagsMask    = lockBit | opaqueBit | nonOpaqueBit | userBit
)

// Policy names the three validation disciplines spec.md §4.1 describes.
// It does not change the Word's bit layout; it selects which helper below a
// container calls at observation/validation time.
type Policy int

const (
	// Opaque forbids observing a locked word: a reader that sees LOCK set
	// must abort immediately.
	Opaque Policy = iota
	// NonOpaque permits observing a locked-by-other word, deferring the
	// contradiction to a later revalidation (at commit).
	NonOpaque
	// LockCoupled acquires the word's lock at the first write and holds it
	// until commit; subsequent checks by the same transaction always see
	// the lock as self-held.
	LockCoupled
)

// Word is a 64-bit atomic version word. The zero value is a valid unlocked,
// non-user-flagged word with counter 0 and neither opacity bit set (the
// same bits New(LockCoupled) produces).
type Word struct {
	raw atomic.Uint64
}

// Snapshot is the decoded state of a Word at one instant.
type Snapshot struct {
	Locked    bool
	Opaque    bool
	NonOpaque bool
	User      bool
	Counter   uint64
}

func decode(raw uint64) Snapshot {
	return Snapshot{
		Locked:    raw&lockBit != 0,
		Opaque:    raw&opaqueBit != 0,
		NonOpaque: raw&nonOpaqueBit != 0,
		User:      raw&userBit != 0,
		Counter:   raw >> counterShift,
	}
}

func encode(s Snapshot) uint64 {
	raw := s.Counter << counterShift
	if s.Locked {
		raw |= lockBit
	}
	if s.Opaque {
		raw |= opaqueBit
	}
	if s.NonOpaque {
		raw |= nonOpaqueBit
	}
	if s.User {
		raw |= userBit
	}
	return raw
}

// New creates a Word already tagged with the given policy's opacity bits,
// counter 0, unlocked.
func New(p Policy) *Word {
	w := &Word{}
	s := Snapshot{}
	switch p {
	case Opaque:
		s.Opaque = true
	case NonOpaque:
		s.NonOpaque = true
	case LockCoupled:
		// LockCoupled carries neither flag; its discipline lives in the
		// caller's lock-then-check sequencing, not in a bit.
	}
	w.raw.Store(encode(s))
	return w
}

// Snapshot performs an acquire-ordered load of the current value, including
// flag bits. Go's atomic.Uint64.Load is always acquire-ordered on all
// supported architectures, matching spec.md §5's ordering requirement.
func (w *Word) Snapshot() Snapshot {
	return decode(w.raw.Load())
}

// TryLock attempts to set the lock bit via CAS, requiring the counter to
// still equal current's counter. It fails (returns false) on contention
// (someone else holds the lock) or on a counter change since current was
// observed — both are reported identically per spec.md §4.1.
func (w *Word) TryLock(current Snapshot) bool {
	before := encode(Snapshot{
		Locked:    false,
		Opaque:    current.Opaque,
		NonOpaque: current.NonOpaque,
		User:      current.User,
		Counter:   current.Counter,
	})
	after := before | lockBit
	return w.raw.CompareAndSwap(before, after)
}

// UnlockInstall releases the lock bit with a release-ordered store and
// publishes newCounter. The caller must already own the lock (have
// succeeded a prior TryLock). newCounter is not compared with the current
// counter: passing the counter the lock was acquired under releases the
// lock with no version change, and keeping the counter monotonic (spec.md
// §3) is left to the caller.
func (w *Word) UnlockInstall(newCounter uint64) {
	for {
		raw := w.raw.Load()
		cur := decode(raw)
		next := cur
		next.Locked = false
		next.Counter = newCounter
		if w.raw.CompareAndSwap(raw, encode(next)) {
			return
		}
	}
}

// Check returns true iff the current snapshot has the same counter as
// observed and is unlocked, or — for non-opaque/lock-coupled discipline —
// the lock is currently held by the calling transaction itself
// (heldByCaller), in which case the counter is allowed to differ because
// the caller is mid-install and will publish the final counter itself.
// Opaque words never extend that leniency: an opaque reader that observes
// the word still locked at validation time fails regardless of who holds
// the lock, since opaque discipline already should have turned a locked
// word into an immediate abort back at CheckedSnapshot time.
func (w *Word) Check(observed Snapshot, heldByCaller bool) bool {
	cur := w.Snapshot()
	if !cur.Locked {
		return cur.Counter == observed.Counter
	}
	if cur.Opaque {
		return false
	}
	return heldByCaller
}

// CheckedSnapshot loads the current snapshot and, for an opaque word,
// refuses to return it if the word is currently locked — spec.md §4.1's
// "forbid observing a locked word" discipline. Non-opaque and lock-coupled
// words always succeed, deferring any contradiction to a later Check.
func (w *Word) CheckedSnapshot() (Snapshot, bool) {
	s := w.Snapshot()
	if s.Opaque && s.Locked {
		return s, false
	}
	return s, true
}

// IncNonOpaque bumps the counter while the word remains locked, for a
// structural change that must be visible to concurrent non-opaque readers
// before the lock is released (spec.md §4.1). The indexes in this module
// do not call it: they publish the locked counter plus one through
// UnlockInstall instead.
func (w *Word) IncNonOpaque() {
	for {
		raw := w.raw.Load()
		cur := decode(raw)
		if !cur.Locked {
			panic("version: IncNonOpaque called without holding the lock")
		}
		next := cur
		next.Counter++
		if w.raw.CompareAndSwap(raw, encode(next)) {
			return
		}
	}
}

// SetUser sets or clears the application-defined USER bit without touching
// the lock or counter.
func (w *Word) SetUser(v bool) {
	for {
		raw := w.raw.Load()
		cur := decode(raw)
		next := cur
		next.User = v
		if w.raw.CompareAndSwap(raw, encode(next)) {
			return
		}
	}
}

// Bits exposes the decoded fields for debugging and tests, mirroring the
// bit accessors the original C++ unit tests (test_meme.cc) use on the
// equivalent packed word.
func (w *Word) Bits() (lock, opaque, nonOpaque, user bool, counter uint64) {
	s := w.Snapshot()
	return s.Locked, s.Opaque, s.NonOpaque, s.User, s.Counter
}
