package soft

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/utils"
)

func openHeap(t *testing.T, size int) *Heap {
	t.Helper()
	h := New(size)
	require.NoError(t, h.Open())
	t.Cleanup(func() { _ = h.Close() })
	return h
}

func TestAllocFree(t *testing.T) {
	t.Parallel()
	h := openHeap(t, 8*alignment)

	a, err := h.Alloc(100)
	require.NoError(t, err)
	require.Equal(t, 100, a.Len())
	require.Equal(t, gocedar.DeviceOwned, a.Owner)
	require.Equal(t, PhysBase, a.Phys)
	require.Equal(t, a.Phys, h.PhysAddr(a))

	b, err := h.Alloc(3 * alignment)
	require.NoError(t, err)
	require.Equal(t, PhysBase+alignment, b.Phys)

	require.NoError(t, h.Free(a))
	require.Error(t, h.Free(a))
	require.NoError(t, h.Free(b))
	require.Zero(t, h.Live())

	// Coalesced back into one span.
	c, err := h.Alloc(8 * alignment)
	require.NoError(t, err)
	require.NoError(t, h.Free(c))
}

func TestAllocExhausted(t *testing.T) {
	t.Parallel()
	h := openHeap(t, 2*alignment)

	r, err := h.Alloc(2 * alignment)
	require.NoError(t, err)

	_, err = h.Alloc(1)
	var allocErr *utils.AllocationError
	require.ErrorAs(t, err, &allocErr)
	require.NoError(t, h.Free(r))
}

func TestFlushMovesCPUWrites(t *testing.T) {
	t.Parallel()
	h := openHeap(t, 4*alignment)

	r, err := h.Alloc(64)
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Free(r)) }()

	copy(r.Data, []byte("hello"))
	dev, err := h.DeviceView(r)
	require.NoError(t, err)
	require.NotEqual(t, []byte("hello"), dev[:5], "device must not see unflushed writes")

	require.NoError(t, h.FlushCache(r, r.Len()))
	require.Equal(t, []byte("hello"), dev[:5])
	require.EqualValues(t, 1, h.Flushes())
}

func TestFlushMovesDeviceWrites(t *testing.T) {
	t.Parallel()
	h := openHeap(t, 4*alignment)

	r, err := h.Alloc(64)
	require.NoError(t, err)
	defer func() { require.NoError(t, h.Free(r)) }()

	dev, err := h.DeviceView(r)
	require.NoError(t, err)
	copy(dev, []byte("frame"))
	h.DeviceWrote(r)
	require.NotEqual(t, []byte("frame"), r.Data[:5])

	require.NoError(t, h.FlushCache(r, r.Len()))
	require.Equal(t, []byte("frame"), r.Data[:5])
}

func TestCloseWithLiveAllocations(t *testing.T) {
	t.Parallel()
	h := New(alignment)
	require.NoError(t, h.Open())

	r, err := h.Alloc(10)
	require.NoError(t, err)
	require.True(t, utils.IsInvalidState(h.Close()))
	require.NoError(t, h.Free(r))
	require.NoError(t, h.Close())

	_, err = h.Alloc(10)
	require.True(t, utils.IsInvalidState(err))
}

func TestFlushForeignMemory(t *testing.T) {
	t.Parallel()
	h := openHeap(t, alignment)

	err := h.FlushCache(gocedar.Region{Data: make([]byte, 10)}, 10)
	require.True(t, utils.IsInvalidState(err))
	require.Zero(t, h.PhysAddr(gocedar.Region{Data: make([]byte, 10)}))
}
