package encoder

import (
	"errors"
	"fmt"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/pool"
)

// inputAllocator backs an input pool with device encoder input buffers.
type inputAllocator struct {
	dev device.Encoder
}

func (a inputAllocator) Allocate(sizes []int, count int) ([]pool.Slot, error) {
	if len(sizes) != 2 { //nolint:mnd // luma and chroma
		return nil, fmt.Errorf("input buffers have 2 planes, got %d sizes", len(sizes))
	}
	if err := a.dev.AllocInputBuffers(sizes[0], sizes[1], count); err != nil {
		return nil, err
	}

	slots := make([]pool.Slot, 0, count)
	for range count {
		buf, err := a.dev.GetInputBuffer()
		if err != nil {
			for _, s := range slots {
				err = errors.Join(err, a.Free(s))
			}
			return nil, err
		}
		slots = append(slots, pool.Slot{
			Planes: []gocedar.Region{buf.Luma, buf.Chroma},
			Token:  buf,
		})
	}
	return slots, nil
}

func (a inputAllocator) Free(slot pool.Slot) error {
	buf, ok := slot.Token.(*device.InputBuffer)
	if !ok {
		return fmt.Errorf("unexpected input token %T", slot.Token)
	}
	return a.dev.ReturnInputBuffer(buf)
}
