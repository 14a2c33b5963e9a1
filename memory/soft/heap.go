// Package soft is a software device memory adapter. It keeps a CPU view and a
// device view of the same heap in two separate mappings; only FlushCache moves
// bytes between them, so a missing flush corrupts data the same way it does
// on a cache-incoherent VPU.
package soft

import (
	"fmt"
	"sort"
	"sync"
	"unsafe"

	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/buffer"
	"github.com/ugparu/gocedar/utils/logger"
)

const (
	// DefaultSize is the heap size used by the simulator.
	DefaultSize = 64 * 1024 * 1024
	// PhysBase is the device address of the first heap byte.
	PhysBase uintptr = 0x4000_0000

	alignment = 1024
)

type span struct {
	off, size int
}

type allocation struct {
	span
	deviceDirty bool // Device wrote the range since the last flush.
}

// Heap is a first-fit allocator over an anonymous mapping.
type Heap struct {
	mu      sync.Mutex
	size    int
	cpu     *buffer.MmapRegion
	dev     *buffer.MmapRegion
	free    []span
	allocs  map[int]*allocation
	flushes atomic.Uint64
}

// New returns a closed heap of size bytes.
func New(size int) *Heap {
	if size <= 0 {
		size = DefaultSize
	}
	return &Heap{size: size}
}

// Open maps both views of the heap.
func (h *Heap) Open() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cpu != nil {
		return &utils.InvalidStateError{Object: h.String(), From: "open"}
	}

	cpu, err := buffer.NewAnonymousRegion(h.size)
	if err != nil {
		return fmt.Errorf("can not map cpu view: %w", err)
	}
	dev, err := buffer.NewAnonymousRegion(h.size)
	if err != nil {
		cpu.Release()
		return fmt.Errorf("can not map device view: %w", err)
	}

	h.cpu, h.dev = cpu, dev
	h.free = []span{{off: 0, size: h.size}}
	h.allocs = make(map[int]*allocation)
	logger.Debugf(h, "Mapped %s heap", humanize.IBytes(uint64(h.size))) //nolint:gosec
	return nil
}

// Close unmaps the heap. It refuses while allocations are still live.
func (h *Heap) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cpu == nil {
		return nil
	}
	if len(h.allocs) > 0 {
		return &utils.InvalidStateError{Object: h.String(), From: fmt.Sprintf("%d live allocations", len(h.allocs))}
	}
	h.cpu.Release()
	h.dev.Release()
	h.cpu, h.dev = nil, nil
	h.free = nil
	return nil
}

// Alloc reserves size bytes of device memory.
func (h *Heap) Alloc(size int) (gocedar.Region, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cpu == nil {
		return gocedar.Region{}, &utils.InvalidStateError{Object: h.String(), From: "closed"}
	}
	if size <= 0 {
		return gocedar.Region{}, &utils.AllocationError{Size: size, Count: 1}
	}

	need := (size + alignment - 1) / alignment * alignment
	for i, s := range h.free {
		if s.size < need {
			continue
		}
		if s.size == need {
			h.free = append(h.free[:i], h.free[i+1:]...)
		} else {
			h.free[i] = span{off: s.off + need, size: s.size - need}
		}
		h.allocs[s.off] = &allocation{span: span{off: s.off, size: need}}
		return gocedar.Region{
			Data:  h.cpu.Bytes()[s.off : s.off+size : s.off+size],
			Phys:  PhysBase + uintptr(s.off),
			Owner: gocedar.DeviceOwned,
			Token: s.off,
		}, nil
	}
	return gocedar.Region{}, &utils.AllocationError{Size: size, Count: 1, Err: fmt.Errorf("heap %s exhausted", h)}
}

// Free hands a region returned by Alloc back to the heap.
func (h *Heap) Free(r gocedar.Region) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	off, ok := r.Token.(int)
	if !ok || h.cpu == nil {
		return &utils.InvalidStateError{Object: h.String(), From: "foreign region"}
	}
	a, ok := h.allocs[off]
	if !ok {
		return &utils.InvalidStateError{Object: h.String(), From: "double free"}
	}
	delete(h.allocs, off)
	h.insertFree(a.span)
	return nil
}

func (h *Heap) insertFree(s span) {
	i := sort.Search(len(h.free), func(i int) bool { return h.free[i].off > s.off })
	h.free = append(h.free, span{})
	copy(h.free[i+1:], h.free[i:])
	h.free[i] = s

	// Coalesce with neighbours.
	if i+1 < len(h.free) && h.free[i].off+h.free[i].size == h.free[i+1].off {
		h.free[i].size += h.free[i+1].size
		h.free = append(h.free[:i+1], h.free[i+2:]...)
	}
	if i > 0 && h.free[i-1].off+h.free[i-1].size == h.free[i].off {
		h.free[i-1].size += h.free[i].size
		h.free = append(h.free[:i], h.free[i+1:]...)
	}
}

// offset returns the heap offset of the first byte of data or -1.
func (h *Heap) offset(data []byte) int {
	if h.cpu == nil || len(data) == 0 {
		return -1
	}
	base := uintptr(unsafe.Pointer(&h.cpu.Bytes()[0]))
	p := uintptr(unsafe.Pointer(&data[0]))
	if p < base || p+uintptr(len(data)) > base+uintptr(h.size) {
		return -1
	}
	return int(p - base) //nolint:gosec
}

func (h *Heap) owner(off int) *allocation {
	for _, a := range h.allocs {
		if off >= a.off && off < a.off+a.size {
			return a
		}
	}
	return nil
}

// PhysAddr returns the device address of r, zero for memory outside the heap.
func (h *Heap) PhysAddr(r gocedar.Region) uintptr {
	h.mu.Lock()
	defer h.mu.Unlock()
	off := h.offset(r.Data)
	if off < 0 {
		return 0
	}
	return PhysBase + uintptr(off)
}

// FlushCache synchronizes the first size bytes of r between the two views.
// Ranges written by the device are copied to the CPU view, all others are
// written back to the device view.
func (h *Heap) FlushCache(r gocedar.Region, size int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	off := h.offset(r.Data)
	if off < 0 {
		return &utils.InvalidStateError{Object: h.String(), From: "flush outside heap"}
	}
	if size > r.Len() {
		size = r.Len()
	}

	cpu := h.cpu.Bytes()[off : off+size]
	dev := h.dev.Bytes()[off : off+size]
	if a := h.owner(off); a != nil && a.deviceDirty {
		copy(cpu, dev)
		a.deviceDirty = false
	} else {
		copy(dev, cpu)
	}
	h.flushes.Inc()
	return nil
}

// DeviceView returns the bytes the device sees for r.
func (h *Heap) DeviceView(r gocedar.Region) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	off := h.offset(r.Data)
	if off < 0 {
		return nil, &utils.InvalidStateError{Object: h.String(), From: "region outside heap"}
	}
	return h.dev.Bytes()[off : off+r.Len()], nil
}

// DeviceWrote marks r as written by the device. The CPU sees the new bytes after the next flush.
func (h *Heap) DeviceWrote(r gocedar.Region) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if a := h.owner(h.offset(r.Data)); a != nil {
		a.deviceDirty = true
	}
}

// Flushes returns the number of FlushCache calls.
func (h *Heap) Flushes() uint64 {
	return h.flushes.Load()
}

// Live returns the number of outstanding allocations.
func (h *Heap) Live() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.allocs)
}

// String returns a string representation of the heap.
func (h *Heap) String() string {
	return fmt.Sprintf("SOFT_HEAP sz=%s", humanize.IBytes(uint64(h.size))) //nolint:gosec
}
