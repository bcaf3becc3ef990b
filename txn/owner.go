package txn

import "context"

// Owner is the "container-to-STM glue" of spec.md §4: the four commit-time
// callbacks a container (the unordered hash table or the ordered trie)
// implements so the transaction descriptor can drive its commit state
// machine without knowing the container's internal layout.
type Owner interface {
	// Rank returns a stable, process-wide ordering key for this owner
	// instance, used together with KeyBytes to total-order commit-phase
	// lock acquisition across owners (spec.md §4.4 step 1).
	Rank() int

	// KeyBytes returns a byte-comparable representation of key.Raw, used
	// only to order write items within the same owner at lock time.
	KeyBytes(key ItemKey) []byte

	// Lock attempts to acquire the version word backing it for writing.
	Lock(ctx context.Context, it *Item) error

	// Unlock releases a lock acquired by Lock without installing,
	// used on the abort path when an earlier item's lock succeeded but a
	// later one failed.
	Unlock(it *Item)

	// Check validates a read-set item against the live version word.
	Check(it *Item) bool

	// Install publishes a write item's staged mutation under commitTID
	// and releases its lock (the word's UnlockInstall call happens
	// inside Install).
	Install(it *Item, commitTID uint64) error

	// Cleanup runs after Install (committed=true) or after Abort
	// (committed=false) for every write item. It may return a reclaim
	// callback plus its argument, which the descriptor defers through
	// the calling thread's RCU set; ok=false means there is nothing to
	// reclaim.
	Cleanup(it *Item, committed bool) (fn func(arg any), arg any, ok bool)
}

// Deferrer is the minimal surface of epoch.RCUSet the commit machinery
// needs: enqueue fn(arg) against the transaction's pinned epoch.
type Deferrer interface {
	Defer(epoch uint64, fn func(arg any), arg any)
}
