package memory

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/mcr229/executorch/status"
)

func TestAllocator(t *testing.T) {
	a := NewAllocator("test", make([]byte, 64))
	require.Equal(t, 64, a.Capacity())

	first, err := a.Allocate(10, 0)
	require.NoError(t, err)
	require.Len(t, first, 10)
	require.Equal(t, 10, a.Used())

	// Next allocation is aligned up.
	second, err := a.Allocate(8, 16)
	require.NoError(t, err)
	require.Len(t, second, 8)
	require.Equal(t, 24, a.Used())

	_, err = a.Allocate(64, 0)
	require.Equal(t, status.MemoryAllocationFailed, status.CodeOf(err))

	a.Reset()
	require.Equal(t, 0, a.Used())
	_, err = a.Allocate(64, 0)
	require.NoError(t, err)
}

func TestHierarchicalAllocator(t *testing.T) {
	h := NewHierarchicalAllocator([][]byte{make([]byte, 32), make([]byte, 8)})
	require.Equal(t, 2, h.NumSegments())
	require.Equal(t, int64(32), h.SegmentSize(0))
	require.Equal(t, int64(8), h.SegmentSize(1))
	require.Equal(t, int64(0), h.SegmentSize(5))

	buf, err := h.OffsetAddress(0, 16, 16)
	require.NoError(t, err)
	require.Len(t, buf, 16)

	_, err = h.OffsetAddress(0, 24, 16)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
	_, err = h.OffsetAddress(2, 0, 1)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
	_, err = h.OffsetAddress(1, -1, 4)
	require.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestManagerTempFallback(t *testing.T) {
	m := NewManager(NewHierarchicalAllocator(nil), nil, nil)
	require.Nil(t, m.MethodAllocator())

	temp := m.TempAllocator()
	buf, err := temp.Allocate(128, 0)
	require.NoError(t, err)
	require.Len(t, buf, 128)
	temp.Reset()
}

func TestHeapTempHonorsAlignment(t *testing.T) {
	m := NewManager(NewHierarchicalAllocator(nil), nil, nil)
	for _, alignment := range []int{8, 16, 64} {
		buf, err := m.TempAllocator().Allocate(24, alignment)
		require.NoError(t, err)
		require.Len(t, buf, 24)
		require.Zero(t, uintptr(unsafe.Pointer(&buf[0]))%uintptr(alignment),
			"allocation not aligned to %d bytes", alignment)
	}
}

func TestManagerWithArenaTemp(t *testing.T) {
	temp := NewAllocator("temp", make([]byte, 32))
	m := NewManager(NewHierarchicalAllocator(nil), nil, temp)

	_, err := m.TempAllocator().Allocate(32, 0)
	require.NoError(t, err)
	_, err = m.TempAllocator().Allocate(1, 0)
	require.Equal(t, status.MemoryAllocationFailed, status.CodeOf(err))

	// Scratch is reclaimed wholesale between calls.
	m.TempAllocator().Reset()
	_, err = m.TempAllocator().Allocate(32, 0)
	require.NoError(t, err)
}
