// Package pool tracks a fixed set of device buffers through
// Free, Acquired, Filled, Submitted and Returned.
package pool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/lifecycle"
	"github.com/ugparu/gocedar/utils/logger"
)

// Slot is one allocated device buffer as handed out by an Allocator.
type Slot struct {
	Planes []gocedar.Region
	Token  any
}

// Allocator reserves and frees device buffers for a pool.
type Allocator interface {
	Allocate(sizes []int, count int) ([]Slot, error)
	Free(slot Slot) error
}

// Buffer is a device buffer handed out by a Pool.
// Its state changes only through the pool.
type Buffer struct {
	id      int
	pool    *Pool
	slot    Slot
	machine *lifecycle.Machine[State]
}

// ID returns the buffer index inside its pool.
func (b *Buffer) ID() int {
	return b.id
}

// Plane returns plane i of the buffer.
func (b *Buffer) Plane(i int) gocedar.Region {
	return b.slot.Planes[i]
}

// Planes returns the number of planes.
func (b *Buffer) Planes() int {
	return len(b.slot.Planes)
}

// Role returns the role of plane i.
func (b *Buffer) Role(i int) Role {
	return b.pool.roles[i]
}

// Token returns the allocator handle of the buffer.
func (b *Buffer) Token() any {
	return b.slot.Token
}

// State returns the current state of the buffer.
func (b *Buffer) State() State {
	b.pool.mu.Lock()
	defer b.pool.mu.Unlock()
	return b.machine.Current()
}

// String returns a string representation of the buffer.
func (b *Buffer) String() string {
	return fmt.Sprintf("%s#%d", b.pool.name, b.id)
}

// Stats holds the number of buffers per state.
type Stats struct {
	Free      int `json:"free"`
	Acquired  int `json:"acquired"`
	Filled    int `json:"filled"`
	Submitted int `json:"submitted"`
	Returned  int `json:"returned"`
}

// Total returns the sum over all states.
func (s Stats) Total() int {
	return s.Free + s.Acquired + s.Filled + s.Submitted + s.Returned
}

func (s Stats) String() string {
	return fmt.Sprintf("free=%d acquired=%d filled=%d submitted=%d returned=%d",
		s.Free, s.Acquired, s.Filled, s.Submitted, s.Returned)
}

// Pool is the single owner of a set of device buffers.
type Pool struct {
	name      string
	roles     []Role
	mu        sync.Mutex
	alloc     Allocator
	buffers   []*Buffer
	allocated bool
	closed    bool
}

// New returns an empty pool whose buffers have one plane per role.
func New(name string, roles ...Role) *Pool {
	return &Pool{
		name:  name,
		roles: roles,
	}
}

// Allocate reserves count buffers with the given per-plane sizes.
// It may be called once per pool.
func (p *Pool) Allocate(alloc Allocator, sizes []int, count int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.allocated || p.closed {
		return &utils.InvalidStateError{Object: p.name, From: "allocated", To: "allocated"}
	}
	if len(sizes) != len(p.roles) {
		return fmt.Errorf("%s: %d plane sizes for %d roles", p.name, len(sizes), len(p.roles))
	}
	if count <= 0 {
		return &utils.AllocationError{Size: sum(sizes), Count: count, Err: errors.New("non positive count")}
	}

	slots, err := alloc.Allocate(sizes, count)
	if err != nil {
		var allocErr *utils.AllocationError
		if errors.As(err, &allocErr) {
			return err
		}
		return &utils.AllocationError{Size: sum(sizes), Count: count, Err: err}
	}
	if len(slots) != count {
		for _, s := range slots {
			_ = alloc.Free(s)
		}
		return &utils.AllocationError{Size: sum(sizes), Count: count, Err: fmt.Errorf("allocator returned %d buffers", len(slots))}
	}

	p.alloc = alloc
	p.allocated = true
	p.buffers = make([]*Buffer, count)
	for i, s := range slots {
		b := &Buffer{id: i, pool: p, slot: s}
		b.machine = lifecycle.NewMachine(b.String(), Free, transitions)
		p.buffers[i] = b
	}
	logger.Debugf(p, "Allocated %d buffers of %s", count, humanize.IBytes(uint64(sum(sizes)))) //nolint:gosec
	return nil
}

func sum(sizes []int) (n int) {
	for _, s := range sizes {
		n += s
	}
	return n
}

func (p *Pool) owns(buf *Buffer) error {
	if buf == nil || buf.pool != p {
		return &utils.InvalidStateError{Object: p.name, From: "foreign buffer"}
	}
	if p.closed {
		return &utils.InvalidStateError{Object: p.name, From: "closed"}
	}
	return nil
}

func (p *Pool) transition(buf *Buffer, to State) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.owns(buf); err != nil {
		return err
	}
	if err := buf.machine.Transition(to); err != nil {
		return err
	}
	logger.Tracef(buf, "-> %v", to)
	return nil
}

// Acquire hands out a free buffer.
func (p *Pool) Acquire() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.allocated || p.closed {
		return nil, &utils.InvalidStateError{Object: p.name, From: "unallocated"}
	}
	for _, b := range p.buffers {
		if b.machine.Current() == Free {
			_ = b.machine.Transition(Acquired)
			return b, nil
		}
	}
	return nil, &utils.PoolExhaustedError{Pool: p.name}
}

// Fill marks an acquired buffer as written. The caller must have flushed the
// CPU cache over every plane; unflushed buffers are refused.
func (p *Pool) Fill(buf *Buffer, flushed bool) error {
	if !flushed {
		return &utils.InvalidStateError{Object: p.name, From: "unflushed", To: Filled.String()}
	}
	return p.transition(buf, Filled)
}

// Submit hands a filled buffer to the device.
func (p *Pool) Submit(buf *Buffer) error {
	return p.transition(buf, Submitted)
}

// Return takes a buffer back from the device.
func (p *Pool) Return(buf *Buffer) error {
	return p.transition(buf, Returned)
}

// Release makes an acquired, filled or returned buffer free again.
// Submitted and free buffers are refused without any bookkeeping change.
func (p *Pool) Release(buf *Buffer) error {
	return p.transition(buf, Free)
}

// Stats returns the number of buffers per state.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	var st Stats
	for _, b := range p.buffers {
		switch b.machine.Current() {
		case Free:
			st.Free++
		case Acquired:
			st.Acquired++
		case Filled:
			st.Filled++
		case Submitted:
			st.Submitted++
		case Returned:
			st.Returned++
		}
	}
	return st
}

// Buffer returns buffer i in any state, nil when out of range.
func (p *Pool) Buffer(i int) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.buffers) {
		return nil
	}
	return p.buffers[i]
}

// Count returns the number of allocated buffers.
func (p *Pool) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.buffers)
}

// Close hands every buffer back to the allocator regardless of its state.
// Buffers that were not free are reported in the log. Stats keeps counting
// the closed buffers as free.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, b := range p.buffers {
		if st := b.machine.Current(); st != Free {
			logger.Warningf(b, "Closing buffer in state %v", st)
		}
		b.machine.Force(Free)
		if err := p.alloc.Free(b.slot); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", b, err))
		}
	}
	return errors.Join(errs...)
}

// String returns the pool name.
func (p *Pool) String() string {
	return p.name
}
