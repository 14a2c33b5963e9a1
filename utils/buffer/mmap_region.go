package buffer

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ErrRegionOutOfBounds is returned by View for ranges outside the mapping.
var ErrRegionOutOfBounds = errors.New("mmap region: view out of bounds")

// MmapRegion is a shared memory mapping with reference counted views.
type MmapRegion struct {
	data []byte
	refs atomic.Int32
}

// NewMmapRegion maps a file descriptor read-only. Initial reference count is 1.
func NewMmapRegion(fd uintptr, size int) (*MmapRegion, error) {
	data, err := unix.Mmap(int(fd), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, err
	}
	return newRegion(data), nil
}

// NewAnonymousRegion maps size bytes of zeroed read-write memory not backed by a file.
// Initial reference count is 1.
func NewAnonymousRegion(size int) (*MmapRegion, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	return newRegion(data), nil
}

func newRegion(data []byte) *MmapRegion {
	r := &MmapRegion{data: data}
	r.refs.Store(1)
	return r
}

// Bytes returns the whole mapping. The slice is valid until the last reference is released.
func (r *MmapRegion) Bytes() []byte {
	return r.data
}

// Len returns the mapping size.
func (r *MmapRegion) Len() int {
	return len(r.data)
}

// View returns a PooledBuffer over a subrange of the mapping.
// Each view holds a reference that is dropped on Release.
func (r *MmapRegion) View(offset, length int) (PooledBuffer, error) {
	if offset < 0 || length < 0 || offset+length > len(r.data) {
		return nil, ErrRegionOutOfBounds
	}

	r.refs.Add(1)

	return &mmapViewBuffer{
		region: r,
		buf:    r.data[offset : offset+length : offset+length],
	}, nil
}

// Release drops one reference and unmaps when none are left.
func (r *MmapRegion) Release() {
	if r.refs.Add(-1) == 0 && r.data != nil {
		_ = unix.Munmap(r.data)
		r.data = nil
	}
}

type mmapViewBuffer struct {
	region *MmapRegion
	buf    []byte
}

func (b *mmapViewBuffer) Data() []byte {
	return b.buf
}

func (b *mmapViewBuffer) Len() int {
	return len(b.buf)
}

func (b *mmapViewBuffer) Cap() int {
	return cap(b.buf)
}

func (b *mmapViewBuffer) Resize(_ int) {
	panic("mmapViewBuffer: Resize is not supported for memory-mapped buffers")
}

func (b *mmapViewBuffer) Release() {
	if b.region != nil {
		b.region.Release()
		b.region = nil
		b.buf = nil
	}
}
