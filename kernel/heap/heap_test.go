package heap

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateZeroSizeReturnsNil(t *testing.T) {
	h := New(0x1000)
	assert.Nil(t, h.Allocate(0))
}

func TestAllocateExhaustion(t *testing.T) {
	h := New(64)
	require.NotNil(t, h.Allocate(16))
	assert.Nil(t, h.Allocate(1<<20))
}

// TestSplitAndCoalesce allocates three equal blocks, frees them out of
// order and confirms the arena collapses back to a single free block of
// (almost) the original size.
func TestSplitAndCoalesce(t *testing.T) {
	const arenaSize = 0x8000
	h := New(arenaSize)

	a := h.Allocate(16)
	b := h.Allocate(16)
	c := h.Allocate(16)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)

	stats := h.Stats()
	assert.EqualValues(t, 4, stats.NumBlocks) // 3 used + 1 trailing free
	assert.EqualValues(t, 3*16, stats.Allocated)

	h.Free(b)
	stats = h.Stats()
	assert.EqualValues(t, 4, stats.NumBlocks) // b stays its own free block

	h.Free(a)
	stats = h.Stats()
	assert.EqualValues(t, 3, stats.NumBlocks) // a+b merged

	h.Free(c)
	stats = h.Stats()
	assert.EqualValues(t, 1, stats.NumBlocks)
	assert.EqualValues(t, 0, stats.Allocated)
	assert.EqualValues(t, 0, stats.NumAllocations)
	assert.EqualValues(t, arenaSize-stats.BlockOverhead, h.head.payload())
}

func TestDoubleFreePanics(t *testing.T) {
	h := New(0x1000)
	p := h.Allocate(16)
	require.NotNil(t, p)

	h.Free(p)
	assert.Panics(t, func() { h.Free(p) })
}

func TestFreeNilIsNoOp(t *testing.T) {
	h := New(0x1000)
	assert.NotPanics(t, func() { h.Free(nil) })
}

func TestAllocatedMemoryIsZeroed(t *testing.T) {
	h := New(0x1000)
	p := h.Allocate(32)
	require.NotNil(t, p)

	buf := unsafe.Slice((*byte)(p), 32)
	for i, b := range buf {
		buf[i] = 0xff
		_ = b
	}

	h.Free(p)
	p2 := h.Allocate(32)
	require.NotNil(t, p2)
	buf2 := unsafe.Slice((*byte)(p2), 32)
	for _, b := range buf2 {
		assert.Equal(t, byte(0), b)
	}
}

func TestCallocOverflow(t *testing.T) {
	h := New(0x1000)
	assert.Nil(t, h.Calloc(^uintptr(0), 2))
}

func TestCallocZero(t *testing.T) {
	h := New(0x1000)
	assert.Nil(t, h.Calloc(0, 16))
	assert.Nil(t, h.Calloc(16, 0))
}

func TestLastFitWrap(t *testing.T) {
	const arenaSize = 0x2000
	h := New(arenaSize)

	a := h.Allocate(64)
	require.NotNil(t, a)

	// Consume the rest of the arena in one exact-fit allocation so that a
	// forward scan starting at 'last' finds no free block before the end
	// of the list, forcing the wrap-around back to the head.
	remaining := h.Stats().Total - h.Stats().BlockOverhead*2 - 64
	big := h.Allocate(remaining)
	require.NotNil(t, big)
	require.EqualValues(t, 2, h.Stats().NumBlocks)

	h.Free(a) // 'last' still points at big; a is only reachable via wrap

	c := h.Allocate(64)
	require.NotNil(t, c)
	assert.Equal(t, a, c, "expected last-fit-with-wrap to reuse the freed block")
}

func TestStatsAreConsistentWithArenaSize(t *testing.T) {
	const arenaSize = 4096
	h := New(arenaSize)

	var ptrs []unsafe.Pointer
	for i := 0; i < 8; i++ {
		p := h.Allocate(32)
		require.NotNil(t, p)
		ptrs = append(ptrs, p)
	}
	for _, p := range ptrs {
		h.Free(p)
	}

	stats := h.Stats()
	assert.EqualValues(t, 1, stats.NumBlocks)
	assert.EqualValues(t, 0, stats.NumAllocations)
	assert.EqualValues(t, arenaSize, stats.Total)
}
