package unordered

import (
	"sync/atomic"

	"github.com/sharedcode/oltpcore/version"
)

// bucketSlot is a hash bucket: an intrusive chain head plus the version
// word spec.md §4.2 says guards any structural change to the chain
// (insertion/removal of a node, as opposed to a value update in place).
type bucketSlot struct {
	version *version.Word
	head    atomic.Pointer[Record]
}

// spinLock busy-waits until it acquires w's lock bit, re-reading the live
// snapshot on every attempt, and returns the snapshot the lock was
// acquired under. spec.md §5 describes bucket/record/node locks as short
// spinlocks encoded directly in the version word; there is no separate
// mutex.
func spinLock(w *version.Word) version.Snapshot {
	for {
		s := w.Snapshot()
		if !s.Locked && w.TryLock(s) {
			return s
		}
	}
}
