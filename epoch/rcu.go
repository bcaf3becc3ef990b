package epoch

import (
	"go.uber.org/zap"

	"github.com/sharedcode/oltpcore/syncutil"
)

// DefaultGroupCapacity is the number of entries a newly allocated group can
// hold before a sibling group is linked in.
const DefaultGroupCapacity = 64

type entry struct {
	marker bool
	epoch  uint64
	fn     func(arg any)
	arg    any
}

// group is a fixed-capacity ring of deferred entries. head is the index of
// the next entry CleanUntil has not yet consumed; entries before head are
// logically gone.
type group struct {
	entries []entry
	head    int
	next    *group
}

// RCUSet is a thread-local chain of groups holding deferred callbacks keyed
// by epoch, per spec.md §4.5. Epoch markers (fn=nil) are written only when
// the most recently deferred epoch changes, compressing consecutive
// same-epoch deferrals to one tag followed by N action entries.
type RCUSet struct {
	mu           syncutil.Mutex
	head         *group
	tail         *group
	capacity     int
	tailEpoch    uint64
	hasTailEpoch bool
	logger       *zap.Logger
}

// Option configures an RCUSet at construction.
type Option func(*RCUSet)

// WithGroupCapacity overrides DefaultGroupCapacity.
func WithGroupCapacity(n int) Option {
	return func(s *RCUSet) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// WithLogger attaches a logger that CleanUntil reports each drain against.
// Unset, an RCUSet logs nothing.
func WithLogger(l *zap.Logger) Option {
	return func(s *RCUSet) {
		s.logger = l
	}
}

// NewRCUSet constructs an empty RCUSet.
func NewRCUSet(opts ...Option) *RCUSet {
	s := &RCUSet{capacity: DefaultGroupCapacity, logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	g := &group{entries: make([]entry, 0, s.capacity)}
	s.head = g
	s.tail = g
	return s
}

// Defer enqueues fn(arg) to run at the first CleanUntil whose maxEpoch is
// at or above epoch.
// fn must not be nil: per spec.md §9's third Open Question, the group
// drain path executes action entries unconditionally, so a nil callback
// would panic deep inside CleanUntil; Defer refuses to enqueue one at all.
func (s *RCUSet) Defer(epoch uint64, fn func(arg any), arg any) {
	if fn == nil {
		panic("epoch: Defer called with a nil callback")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.hasTailEpoch || s.tailEpoch != epoch {
		s.appendLocked(entry{marker: true, epoch: epoch})
		s.tailEpoch = epoch
		s.hasTailEpoch = true
	}
	s.appendLocked(entry{fn: fn, arg: arg})
}

func (s *RCUSet) appendLocked(e entry) {
	if len(s.tail.entries) >= s.capacity {
		ng := &group{entries: make([]entry, 0, s.capacity)}
		s.tail.next = ng
		s.tail = ng
	}
	s.tail.entries = append(s.tail.entries, e)
}

// CleanUntil fires every deferred callback whose epoch is <= maxEpoch, in
// FIFO order, walking groups from the head. It stops at the first marker
// exceeding maxEpoch and frees exhausted groups as it goes. Draining an
// empty queue is a no-op and never advances any internal epoch tracking.
func (s *RCUSet) CleanUntil(maxEpoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var currentEpoch uint64
	haveEpoch := false
	fired := 0
	defer func() {
		if fired > 0 {
			s.logger.Debug("rcu drain", zap.Uint64("safe_epoch", maxEpoch), zap.Int("reclaimed", fired))
		}
	}()

	for s.head != nil {
		g := s.head
		stop := false
		for g.head < len(g.entries) {
			e := g.entries[g.head]
			if e.marker {
				if e.epoch > maxEpoch {
					stop = true
					break
				}
				currentEpoch = e.epoch
				haveEpoch = true
				g.head++
				continue
			}
			if !haveEpoch || currentEpoch > maxEpoch {
				stop = true
				break
			}
			e.fn(e.arg)
			fired++
			g.head++
		}
		if stop {
			return
		}
		if g.head < len(g.entries) {
			return
		}
		// Group fully drained.
		if g.next == nil {
			// Last group: reset in place instead of freeing, so Defer can
			// keep appending without reallocating.
			g.entries = g.entries[:0]
			g.head = 0
			if s.tail == g {
				s.hasTailEpoch = false
			}
			return
		}
		s.head = g.next
	}
}
