// Package yuv converts device pictures into linear semi-planar host pictures
// and exposes them as images.
package yuv

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/frame/mb32"
	"github.com/ugparu/gocedar/memory"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/buffer"
	"github.com/ugparu/gocedar/utils/logger"
)

// Converter turns device owned pictures into host owned NV12, NV16 or NV24
// pictures. Converted pictures do not depend on the decoder session.
type Converter struct {
	mem  *memory.Handle
	mu   sync.Mutex
	live map[*gocedar.Picture]buffer.PooledBuffer
}

// NewConverter returns a converter flushing source pictures through mem.
func NewConverter(mem *memory.Handle) *Converter {
	return &Converter{
		mem:  mem,
		live: make(map[*gocedar.Picture]buffer.PooledBuffer),
	}
}

// Convert copies src into a new host owned semi-planar picture.
func (c *Converter) Convert(src *gocedar.Picture) (*gocedar.Picture, error) {
	if src == nil {
		return nil, errors.New("nil picture")
	}
	owner, err := src.Owner()
	if err != nil {
		return nil, &utils.InvalidStateError{Object: src.String(), From: err.Error()}
	}
	if owner != gocedar.DeviceOwned {
		return nil, &utils.InvalidStateError{Object: src.String(), From: "host owned source"}
	}
	if src.Width <= 0 || src.Height <= 0 {
		return nil, fmt.Errorf("invalid picture size %dx%d", src.Width, src.Height)
	}

	inLayout, err := src.Format.Layout()
	if err != nil {
		return nil, err
	}
	outFormat, err := src.Format.SemiPlanar()
	if err != nil {
		return nil, err
	}
	outLayout, _ := outFormat.Layout()

	w, h := src.Width, src.Height
	srcLuma, srcChroma := inLayout.LumaSize(w, h), inLayout.ChromaSize(w, h)
	if src.Luma.Len() < srcLuma {
		return nil, &utils.BufferTooSmallError{Have: src.Luma.Len(), Need: srcLuma}
	}
	if src.Chroma.Len() < srcChroma {
		return nil, &utils.BufferTooSmallError{Have: src.Chroma.Len(), Need: srcChroma}
	}

	if err = c.mem.FlushRange(src.Luma, srcLuma); err != nil {
		return nil, fmt.Errorf("can not flush luma: %w", err)
	}
	if err = c.mem.FlushRange(src.Chroma, srcChroma); err != nil {
		return nil, fmt.Errorf("can not flush chroma: %w", err)
	}

	lumaSize, chromaSize := outLayout.LumaSize(w, h), outLayout.ChromaSize(w, h)
	buf := buffer.Get(lumaSize + chromaSize)
	data := buf.Data()
	luma, chroma := data[:lumaSize:lumaSize], data[lumaSize:]

	if err = rearrange(luma, chroma, src, inLayout); err != nil {
		buf.Release()
		return nil, err
	}

	dst := &gocedar.Picture{
		Format:    outFormat,
		Width:     w,
		Height:    h,
		Luma:      gocedar.Region{Data: luma, Owner: gocedar.HostOwned},
		Chroma:    gocedar.Region{Data: chroma, Owner: gocedar.HostOwned},
		Index:     -1,
		Timestamp: src.Timestamp,
	}
	c.mu.Lock()
	c.live[dst] = buf
	c.mu.Unlock()
	logger.Tracef(c, "Converted %v -> %v", src, dst)
	return dst, nil
}

func rearrange(luma, chroma []byte, src *gocedar.Picture, l gocedar.Layout) error {
	w, h := src.Width, src.Height
	cw, ch := l.ChromaWidth(w), l.ChromaHeight(h)

	switch {
	case l.Tiled():
		if err := mb32.Untile(luma, w, src.Luma.Data, w, h); err != nil {
			return err
		}
		return mb32.Untile(chroma, 2*cw, src.Chroma.Data, 2*cw, ch)
	case l.Interleaved:
		copy(luma, src.Luma.Data)
		copy(chroma, src.Chroma.Data)
	default:
		copy(luma, src.Luma.Data)
		u := src.Chroma.Data[: cw*ch : cw*ch]
		v := src.Chroma.Data[cw*ch : 2*cw*ch]
		for i := range u {
			chroma[2*i] = u[i]
			chroma[2*i+1] = v[i]
		}
	}
	return nil
}

// Release frees a picture returned by Convert. Device pictures are refused:
// they go back through the decoder.
func (c *Converter) Release(pic *gocedar.Picture) error {
	if pic == nil {
		return errors.New("nil picture")
	}
	if pic.IsDeviceOwned() {
		return &utils.InvalidStateError{Object: pic.String(), From: "device owned", To: "released"}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	buf, ok := c.live[pic]
	if !ok {
		return &utils.InvalidStateError{Object: pic.String(), From: "not converted here or released"}
	}
	delete(c.live, pic)
	buf.Release()
	pic.Luma.Data, pic.Chroma.Data = nil, nil
	return nil
}

// Live returns the number of converted pictures not yet released.
func (c *Converter) Live() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.live)
}

func (c *Converter) String() string {
	return "YUV_CONVERTER"
}

// WritePicture writes the luma plane followed by the chroma plane, with no header.
// The planes must have exactly the sizes the picture format prescribes.
func WritePicture(w io.Writer, pic *gocedar.Picture) (int64, error) {
	l, err := pic.Format.Layout()
	if err != nil {
		return 0, err
	}
	lumaSize, chromaSize := l.LumaSize(pic.Width, pic.Height), l.ChromaSize(pic.Width, pic.Height)
	if pic.Luma.Len() != lumaSize || pic.Chroma.Len() != chromaSize {
		return 0, fmt.Errorf("picture planes %d+%d bytes do not match %v %dx%d (%d+%d)",
			pic.Luma.Len(), pic.Chroma.Len(), pic.Format, pic.Width, pic.Height, lumaSize, chromaSize)
	}

	n, err := w.Write(pic.Luma.Data)
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(pic.Chroma.Data)
	return int64(n + m), err
}
