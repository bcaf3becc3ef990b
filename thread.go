package oltpcore

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sharedcode/oltpcore/epoch"
	"github.com/sharedcode/oltpcore/txn"
)

// UUID is a thin wrapper over github.com/google/uuid.UUID identifying a
// registered thread; see Register.
type UUID [16]byte

// NewUUID returns a new randomly generated UUID. It makes up to 10
// attempts, sleeping 1ms after each generation error, and panics if all
// fail; generating an identity for a
// freshly registered thread must not fail in practice.
func NewUUID() UUID {
	var err error
	for i := 0; i < 10; i++ {
		var id uuid.UUID
		id, err = uuid.NewRandom()
		if err == nil {
			return UUID(id)
		}
		time.Sleep(time.Millisecond)
	}
	panic(err)
}

func (id UUID) String() string { return uuid.UUID(id).String() }

// Thread groups everything spec.md §9's "thread-local globals → explicit
// context" guidance asks for: the per-thread transaction descriptor slot,
// the thread's registration with the global epoch clock, and its private
// RCU deferral set. Library globals vanish; a caller passes the descriptor
// its Thread's Begin returns into container operations instead.
type Thread struct {
	ID     UUID
	Clock  *epoch.Clock[UUID]
	RCU    *epoch.RCUSet
	Logger *zap.Logger

	// lastCommitTID is shared by every descriptor this thread creates,
	// implementing spec.md §4.4 step 2's "larger of the thread's last
	// commit tid + 1".
	lastCommitTID atomic.Uint64

	// Current is the active transaction descriptor, nil between
	// transactions.
	Current *txn.Descriptor
}

// Register performs the one-time per-thread setup spec.md §6 requires
// before any container operation may be invoked from this goroutine: it
// assigns a thread id, joins the epoch clock, and installs a private RCU
// set. logger may be nil, in which case a no-op logger is installed.
func Register(clock *epoch.Clock[UUID], logger *zap.Logger) *Thread {
	if logger == nil {
		logger = zap.NewNop()
	}
	id := NewUUID()
	clock.Join(id)
	logger.Debug("thread registered", zap.Stringer("thread_id", id))
	return &Thread{
		ID:     id,
		Clock:  clock,
		RCU:    epoch.NewRCUSet(epoch.WithLogger(logger)),
		Logger: logger,
	}
}

// Deregister drains the thread's RCU set and leaves the epoch clock. Per
// spec.md §6: "De-registration drains the RCU set."
func (t *Thread) Deregister() {
	t.RCU.CleanUntil(^uint64(0))
	t.Clock.Leave(t.ID)
}

// Begin pins the thread at the current global epoch and starts a new
// transaction descriptor bound to that pin, replacing any previous
// (already committed/aborted) descriptor. The pin is held until End is
// called, per spec.md §5: a transaction's
// epoch bounds which deferred reclamations are safe to run while it is
// still able to hold references into the containers.
func (t *Thread) Begin() *txn.Descriptor {
	pinned := t.Clock.Pin(t.ID)
	t.Current = txn.NewDescriptor([16]byte(t.ID), pinned, t.RCU, &t.lastCommitTID)
	t.Current.SetLogger(t.Logger)
	return t.Current
}

// End unpins the thread once its current descriptor has reached a
// terminal state (Committed or Aborted), letting Safe advance past this
// transaction's epoch again.
func (t *Thread) End() {
	t.Clock.Unpin(t.ID)
	t.Current = nil
}
