//go:build !deadlock

// Package syncutil provides Mutex/RWMutex types that are drop-in
// replacements for sync.Mutex/sync.RWMutex in the default build, and
// become deadlock-detecting locks (github.com/sasha-s/go-deadlock) when
// built with the `deadlock` tag. The mutexes in this module (the epoch
// clock's pin table, the RCU set, and txn's commit-order lock) use these
// types instead of sync.Mutex directly; the hash table's and trie's locks
// are spinlocks in their version words and do not use them. This is so that invariant 5 (deadlock freedom,
// spec.md §8) can be audited under the `deadlock` build tag without any
// cost in the default build.
package syncutil

import "sync"

// DeadlockEnabled is true when built with the `deadlock` tag.
const DeadlockEnabled = false

// Mutex is a mutual exclusion lock.
type Mutex struct {
	sync.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock.
type RWMutex struct {
	sync.RWMutex
}
