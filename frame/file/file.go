// Package file maps input files read-only: a compressed bitstream for the
// decoder, or raw NV12 frames for the encoder.
package file

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/utils/buffer"
	"github.com/ugparu/gocedar/utils/logger"
)

// ErrEmpty is returned for zero length files, which can not be mapped.
var ErrEmpty = errors.New("input file is empty")

// Mapped is a read-only mapping of a whole file.
type Mapped struct {
	path   string
	region *buffer.MmapRegion
	closed atomic.Bool
}

// Open maps path. Close releases the mapping and the file.
func Open(path string) (*Mapped, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	if st.Size() == 0 {
		_ = f.Close()
		return nil, ErrEmpty
	}

	region, err := buffer.NewMmapRegion(f.Fd(), int(st.Size()))
	// The mapping stays valid without the descriptor.
	if cerr := f.Close(); err == nil && cerr != nil {
		region.Release()
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("can not map %s: %w", path, err)
	}
	m := &Mapped{path: path, region: region}
	logger.Debugf(m, "Mapped %s", humanize.IBytes(uint64(region.Len()))) //nolint:gosec
	return m, nil
}

// Bytes returns the file content. It is valid until Close.
func (m *Mapped) Bytes() []byte {
	return m.region.Bytes()
}

// Len returns the file size.
func (m *Mapped) Len() int {
	return m.region.Len()
}

// View returns a reference counted view of length bytes at offset. The
// mapping stays valid until both the view and the file are released.
func (m *Mapped) View(offset, length int) (buffer.PooledBuffer, error) {
	return m.region.View(offset, length)
}

// Close drops the reference taken by Open. It is safe to call more than once.
func (m *Mapped) Close() {
	if m.closed.CompareAndSwap(false, true) {
		m.region.Release()
	}
}

func (m *Mapped) String() string {
	return "FILE " + m.path
}

// RawSource is a FrameSource reading consecutive NV12 frames from a mapped file.
type RawSource struct {
	*Mapped
	FrameDuration time.Duration
	frame         int
}

// OpenRaw maps a raw NV12 file.
func OpenRaw(path string, fps uint) (*RawSource, error) {
	m, err := Open(path)
	if err != nil {
		return nil, err
	}
	src := &RawSource{Mapped: m}
	if fps > 0 {
		src.FrameDuration = time.Second / time.Duration(fps)
	}
	return src, nil
}

// ReadFrame copies the next frame into the planes of frm. It returns io.EOF
// after the last complete frame.
func (src *RawSource) ReadFrame(frm *gocedar.Frame) error {
	l, _ := gocedar.NV12.Layout()
	lumaSize, chromaSize := l.LumaSize(frm.Width, frm.Height), l.ChromaSize(frm.Width, frm.Height)
	view, err := src.View(src.frame*(lumaSize+chromaSize), lumaSize+chromaSize)
	if errors.Is(err, buffer.ErrRegionOutOfBounds) {
		return io.EOF
	}
	if err != nil {
		return err
	}
	defer view.Release()

	stride := frm.Stride
	if stride == 0 {
		stride = frm.Width
	}
	chromaStride := 2 * l.ChromaWidth(stride)
	if len(frm.Luma) < (frm.Height-1)*stride+frm.Width || len(frm.Chroma) < (l.ChromaHeight(frm.Height)-1)*chromaStride+2*l.ChromaWidth(frm.Width) {
		return fmt.Errorf("frame planes too small for %dx%d/%d", frm.Width, frm.Height, stride)
	}

	data := view.Data()
	luma, chroma := data[:lumaSize], data[lumaSize:]
	for y := range frm.Height {
		copy(frm.Luma[y*stride:y*stride+frm.Width], luma[y*frm.Width:])
	}
	cw := 2 * l.ChromaWidth(frm.Width)
	for y := range l.ChromaHeight(frm.Height) {
		copy(frm.Chroma[y*chromaStride:y*chromaStride+cw], chroma[y*cw:])
	}
	frm.Timestamp = time.Duration(src.frame) * src.FrameDuration
	src.frame++
	return nil
}
