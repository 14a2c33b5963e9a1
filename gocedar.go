// Package gocedar drives Cedar class hardware video codecs: buffer lifecycle
// around a cache-incoherent device and conversion of device tiled pictures
// into linear planar formats.
package gocedar

import (
	"errors"
	"fmt"
	"time"
)

// Ownership tells who is responsible for releasing a memory region.
type Ownership uint8

const (
	HostOwned   Ownership = iota // Heap memory, released by the holder.
	DeviceOwned                  // Device memory, handed back through the device return call only.
)

// String returns the human-readable ownership name.
func (o Ownership) String() string {
	if o == DeviceOwned {
		return "device"
	}
	return "host"
}

// Region is a span of memory seen by the CPU and, for device memory, by the codec.
type Region struct {
	Data  []byte    // CPU view of the region.
	Phys  uintptr   // Device address, zero for host memory.
	Owner Ownership // Who releases the region.
	Token any       // Backend handle needed to release the region.
}

// Len returns the region size in bytes.
func (r Region) Len() int {
	return len(r.Data)
}

// String returns a string representation of the region.
func (r Region) String() string {
	return fmt.Sprintf("REGION owner=%v sz=%d phys=%#x", r.Owner, len(r.Data), r.Phys)
}

// Geometry describes the pixel layout of frames entering or leaving the device.
type Geometry struct {
	Width  int
	Height int
	Stride int // Luma row pitch in bytes, defaults to Width.
	Format PixelFormat
}

// Validate checks that the geometry is usable.
func (g Geometry) Validate() error {
	if g.Width <= 0 || g.Height <= 0 {
		return fmt.Errorf("invalid geometry %dx%d", g.Width, g.Height)
	}
	if g.Stride != 0 && g.Stride < g.Width {
		return fmt.Errorf("stride %d is smaller than width %d", g.Stride, g.Width)
	}
	if _, err := g.Format.Layout(); err != nil {
		return err
	}
	return nil
}

// Pitch returns Stride or Width when no stride was given.
func (g Geometry) Pitch() int {
	if g.Stride > 0 {
		return g.Stride
	}
	return g.Width
}

// PlaneSizes returns luma and chroma plane sizes for a linear buffer with this geometry.
func (g Geometry) PlaneSizes() (luma, chroma int, err error) {
	l, err := g.Format.Layout()
	if err != nil {
		return 0, 0, err
	}
	return l.LumaSize(g.Pitch(), g.Height), l.ChromaSize(g.Pitch(), g.Height), nil
}

// String returns a string representation of the geometry.
func (g Geometry) String() string {
	return fmt.Sprintf("%dx%d/%d %v", g.Width, g.Height, g.Pitch(), g.Format)
}

// Frame is raw picture content written by a FrameSource into caller provided planes.
type Frame struct {
	Luma      []byte
	Chroma    []byte
	Width     int
	Height    int
	Stride    int
	Timestamp time.Duration
}

// FrameSource produces raw frame content into the planes of frm.
type FrameSource interface {
	ReadFrame(frm *Frame) error
}

// Picture is a decoded or converted picture descriptor.
type Picture struct {
	Format    PixelFormat
	Width     int
	Height    int
	Luma      Region
	Chroma    Region
	Index     int // Device stream index, -1 for host pictures.
	Timestamp time.Duration
}

// ErrMixedOwnership is returned for pictures whose planes disagree on ownership.
var ErrMixedOwnership = errors.New("picture planes have different owners")

// Owner returns the ownership of the picture planes.
func (p *Picture) Owner() (Ownership, error) {
	if p.Luma.Owner != p.Chroma.Owner {
		return p.Luma.Owner, ErrMixedOwnership
	}
	return p.Luma.Owner, nil
}

// IsDeviceOwned reports whether any plane of the picture belongs to the device.
func (p *Picture) IsDeviceOwned() bool {
	return p.Luma.Owner == DeviceOwned || p.Chroma.Owner == DeviceOwned
}

// String returns a string representation of the picture.
func (p *Picture) String() string {
	if p == nil {
		return "EMPTY_PICTURE"
	}
	return fmt.Sprintf("PICTURE %dx%d fmt=%v idx=%d owner=%v", p.Width, p.Height, p.Format, p.Index, p.Luma.Owner)
}
