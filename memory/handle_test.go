package memory

import (
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ugparu/gocedar/memory/soft"
	"github.com/ugparu/gocedar/utils"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	os.Exit(m.Run())
}

func TestHandleLifecycle(t *testing.T) {
	t.Parallel()

	heap := soft.New(4096)
	h, err := Open(heap)
	require.NoError(t, err)

	r, err := heap.Alloc(32)
	require.NoError(t, err)
	require.Equal(t, soft.PhysBase, h.PhysAddr(r))

	copy(r.Data, "abc")
	require.NoError(t, h.Flush(r))
	require.EqualValues(t, 1, heap.Flushes())

	var small *utils.BufferTooSmallError
	require.ErrorAs(t, h.FlushRange(r, 64), &small)

	require.NoError(t, heap.Free(r))
	h.Close()
	require.True(t, h.Closed())
	require.NoError(t, h.Err())

	require.True(t, utils.IsInvalidState(h.Flush(r)))
	require.Zero(t, h.PhysAddr(r))
}

func TestHandleCloseReportsLeaks(t *testing.T) {
	t.Parallel()

	heap := soft.New(4096)
	h, err := Open(heap)
	require.NoError(t, err)

	r, err := heap.Alloc(32)
	require.NoError(t, err)
	h.Close()
	require.True(t, utils.IsInvalidState(h.Err()))

	require.NoError(t, heap.Free(r))
	require.NoError(t, heap.Close())
}

func TestOpenTwice(t *testing.T) {
	t.Parallel()

	heap := soft.New(4096)
	h, err := Open(heap)
	require.NoError(t, err)
	defer h.Close()

	_, err = Open(heap)
	require.Error(t, err)
}
