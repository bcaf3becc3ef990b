//go:build deadlock

package syncutil

import "github.com/sasha-s/go-deadlock"

// DeadlockEnabled is true when built with the `deadlock` tag.
const DeadlockEnabled = true

// Mutex is a mutual exclusion lock instrumented for deadlock detection.
type Mutex struct {
	deadlock.Mutex
}

// RWMutex is a reader/writer mutual exclusion lock instrumented for
// deadlock detection.
type RWMutex struct {
	deadlock.RWMutex
}
