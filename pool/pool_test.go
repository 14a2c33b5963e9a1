package pool

import (
	"errors"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/utils"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	os.Exit(m.Run())
}

type fakeAllocator struct {
	fail  error
	freed int
}

func (a *fakeAllocator) Allocate(sizes []int, count int) ([]Slot, error) {
	if a.fail != nil {
		return nil, a.fail
	}
	slots := make([]Slot, count)
	for i := range slots {
		for _, sz := range sizes {
			slots[i].Planes = append(slots[i].Planes, gocedar.Region{Data: make([]byte, sz), Owner: gocedar.DeviceOwned})
		}
		slots[i].Token = i
	}
	return slots, nil
}

func (a *fakeAllocator) Free(Slot) error {
	a.freed++
	return nil
}

func newPool(t *testing.T, count int) (*Pool, *fakeAllocator) {
	t.Helper()
	alloc := &fakeAllocator{}
	p := New("input", RoleInputLuma, RoleInputChroma)
	require.NoError(t, p.Allocate(alloc, []int{64, 32}, count))
	return p, alloc
}

func requireInvariant(t *testing.T, p *Pool, count int) {
	t.Helper()
	require.Equal(t, count, p.Stats().Total())
}

func TestBufferLifecycle(t *testing.T) {
	t.Parallel()
	p, alloc := newPool(t, 2)

	buf, err := p.Acquire()
	require.NoError(t, err)
	require.Equal(t, Acquired, buf.State())
	require.Equal(t, 2, buf.Planes())
	require.Equal(t, RoleInputChroma, buf.Role(1))
	require.Len(t, buf.Plane(0).Data, 64)
	requireInvariant(t, p, 2)

	require.NoError(t, p.Fill(buf, true))
	requireInvariant(t, p, 2)
	require.NoError(t, p.Submit(buf))
	requireInvariant(t, p, 2)
	require.NoError(t, p.Return(buf))
	requireInvariant(t, p, 2)
	require.NoError(t, p.Release(buf))
	require.Equal(t, Stats{Free: 2}, p.Stats())

	require.NoError(t, p.Close())
	require.Equal(t, 2, alloc.freed)
}

func TestAcquireExhausted(t *testing.T) {
	t.Parallel()
	p, _ := newPool(t, 1)

	_, err := p.Acquire()
	require.NoError(t, err)

	_, err = p.Acquire()
	var exhausted *utils.PoolExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.True(t, utils.IsRecoverable(err))
}

func TestReleaseSubmittedBuffer(t *testing.T) {
	t.Parallel()
	p, _ := newPool(t, 2)

	buf, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Fill(buf, true))
	require.NoError(t, p.Submit(buf))

	before := p.Stats()
	err = p.Release(buf)
	require.True(t, utils.IsInvalidState(err))
	require.Equal(t, before, p.Stats())
	require.Equal(t, 1, p.Stats().Free)
	require.Equal(t, Submitted, buf.State())
}

func TestIllegalTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		prep func(p *Pool, b *Buffer)
		op   func(p *Pool, b *Buffer) error
	}{
		{
			name: "release free",
			prep: func(p *Pool, b *Buffer) { _ = p.Release(b) },
			op:   (*Pool).Release,
		},
		{
			name: "submit acquired",
			prep: func(*Pool, *Buffer) {},
			op:   (*Pool).Submit,
		},
		{
			name: "return filled",
			prep: func(p *Pool, b *Buffer) { _ = p.Fill(b, true) },
			op:   (*Pool).Return,
		},
		{
			name: "fill unflushed",
			prep: func(*Pool, *Buffer) {},
			op:   func(p *Pool, b *Buffer) error { return p.Fill(b, false) },
		},
		{
			name: "fill submitted",
			prep: func(p *Pool, b *Buffer) { _ = p.Fill(b, true); _ = p.Submit(b) },
			op:   func(p *Pool, b *Buffer) error { return p.Fill(b, true) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			p, _ := newPool(t, 3)
			buf, err := p.Acquire()
			require.NoError(t, err)
			tt.prep(p, buf)

			before := p.Stats()
			require.True(t, utils.IsInvalidState(tt.op(p, buf)))
			require.Equal(t, before, p.Stats())
			requireInvariant(t, p, 3)
		})
	}
}

func TestReleaseFromFilled(t *testing.T) {
	t.Parallel()
	p, _ := newPool(t, 1)

	buf, err := p.Acquire()
	require.NoError(t, err)
	require.NoError(t, p.Fill(buf, true))
	require.NoError(t, p.Release(buf))
	require.Equal(t, Free, buf.State())
}

func TestForeignBuffer(t *testing.T) {
	t.Parallel()
	a, _ := newPool(t, 1)
	b, _ := newPool(t, 1)

	buf, err := a.Acquire()
	require.NoError(t, err)
	require.True(t, utils.IsInvalidState(b.Release(buf)))
	require.True(t, utils.IsInvalidState(b.Release(nil)))
}

func TestAllocateTwice(t *testing.T) {
	t.Parallel()
	p, alloc := newPool(t, 1)

	err := p.Allocate(alloc, []int{64, 32}, 1)
	require.True(t, utils.IsInvalidState(err))
}

func TestAllocateFailure(t *testing.T) {
	t.Parallel()

	p := New("input", RoleInputLuma)
	err := p.Allocate(&fakeAllocator{fail: errors.New("heap exhausted")}, []int{1 << 20}, 4)
	var allocErr *utils.AllocationError
	require.ErrorAs(t, err, &allocErr)
	require.Equal(t, 4, allocErr.Count)

	_, err = p.Acquire()
	require.True(t, utils.IsInvalidState(err))
}

func TestCloseReleasesEveryState(t *testing.T) {
	t.Parallel()
	p, alloc := newPool(t, 3)

	a, _ := p.Acquire()
	b, _ := p.Acquire()
	require.NoError(t, p.Fill(b, true))
	require.NoError(t, p.Submit(b))
	_ = a

	require.NoError(t, p.Close())
	require.Equal(t, 3, alloc.freed)
	requireInvariant(t, p, 3)
	require.Equal(t, 3, p.Stats().Free)
	require.NoError(t, p.Close())
	require.Equal(t, 3, alloc.freed)

	_, err := p.Acquire()
	require.True(t, utils.IsInvalidState(err))
}

func TestStatsConcurrentRead(t *testing.T) {
	t.Parallel()
	p, _ := newPool(t, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for range 100 {
			_ = p.Stats()
		}
	}()
	for range 100 {
		buf, err := p.Acquire()
		require.NoError(t, err)
		require.NoError(t, p.Release(buf))
	}
	<-done
	requireInvariant(t, p, 4)
}
