package epoch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RCU drain ordering: defer(e=5,f,x); defer(e=7,g,y); clean_until(6).
// Only f(x) fires; g(y) remains queued (spec.md §8, scenario 5).
func TestCleanUntilOnlyFiresEpochsAtOrBelowBound(t *testing.T) {
	s := NewRCUSet()
	var fired []string

	s.Defer(5, func(arg any) { fired = append(fired, arg.(string)) }, "f")
	s.Defer(7, func(arg any) { fired = append(fired, arg.(string)) }, "g")

	s.CleanUntil(6)
	assert.Equal(t, []string{"f"}, fired)

	s.CleanUntil(7)
	assert.Equal(t, []string{"f", "g"}, fired)
}

func TestCleanUntilOnEmptyQueueIsNoop(t *testing.T) {
	s := NewRCUSet()
	assert.NotPanics(t, func() { s.CleanUntil(100) })
	// Still usable afterwards.
	var fired bool
	s.Defer(1, func(arg any) { fired = true }, nil)
	s.CleanUntil(1)
	assert.True(t, fired)
}

func TestDeferNilCallbackPanics(t *testing.T) {
	s := NewRCUSet()
	assert.Panics(t, func() { s.Defer(1, nil, nil) })
}

func TestSameEpochDeferralsCompressToOneMarker(t *testing.T) {
	s := NewRCUSet(WithGroupCapacity(4))
	var count int
	for i := 0; i < 3; i++ {
		s.Defer(2, func(arg any) { count++ }, nil)
	}
	// 3 action entries + 1 marker = 4 entries, fitting exactly one group.
	assert.Equal(t, 4, len(s.head.entries))
	s.CleanUntil(2)
	assert.Equal(t, 3, count)
}

func TestGroupGrowsWhenCapacityExceeded(t *testing.T) {
	s := NewRCUSet(WithGroupCapacity(2))
	for i := 0; i < 10; i++ {
		s.Defer(uint64(i), func(arg any) {}, nil)
	}
	require.NotNil(t, s.head.next)

	var fired int
	s.Defer(10, func(arg any) { fired++ }, nil)
	s.CleanUntil(10)
	assert.Equal(t, 1, fired)
}

func TestCleanUntilIsResumable(t *testing.T) {
	s := NewRCUSet()
	order := []int{}
	for i := 1; i <= 5; i++ {
		i := i
		s.Defer(uint64(i), func(arg any) { order = append(order, i) }, nil)
	}
	s.CleanUntil(2)
	assert.Equal(t, []int{1, 2}, order)
	s.CleanUntil(2)
	assert.Equal(t, []int{1, 2}, order, "re-draining the same bound must not refire")
	s.CleanUntil(5)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}
