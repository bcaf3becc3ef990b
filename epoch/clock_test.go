package epoch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeWithNoLiveThreadsIsGlobal(t *testing.T) {
	c := NewClock[int]()
	c.Advance()
	c.Advance()
	assert.Equal(t, uint64(2), c.Safe(context.Background()))
}

func TestSafeIsMinOfPinnedThreads(t *testing.T) {
	c := NewClock[int]()
	c.Join(1)
	c.Join(2)

	require.Equal(t, uint64(0), c.Pin(1))
	c.Advance()
	require.Equal(t, uint64(1), c.Pin(2))
	c.Advance()

	// Thread 1 is still pinned at epoch 0, so it bounds the safe epoch even
	// though the global epoch has advanced to 2.
	assert.Equal(t, uint64(0), c.Safe(context.Background()))

	c.Unpin(1)
	assert.Equal(t, uint64(1), c.Safe(context.Background()))
}

func TestLeaveRemovesThreadFromSafeComputation(t *testing.T) {
	c := NewClock[int]()
	c.Join(1)
	c.Pin(1)
	c.Advance()
	c.Advance()

	assert.Equal(t, uint64(0), c.Safe(context.Background()))
	c.Leave(1)
	assert.Equal(t, uint64(2), c.Safe(context.Background()))
}

func TestPinOfUnregisteredThreadPanics(t *testing.T) {
	c := NewClock[int]()
	assert.Panics(t, func() { c.Pin(99) })
}
