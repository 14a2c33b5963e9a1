package decoder

import (
	"fmt"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/pool"
)

// DefaultPictureSlots is the number of output pictures the caller may hold at once.
const DefaultPictureSlots = 8

// streamAllocator backs a stream pool with the device input and ring regions.
// The regions stay device owned: the device reclaims them on the next request
// or on Destroy, so Free has nothing to do.
type streamAllocator struct {
	dev  device.Decoder
	last device.StreamBuffer
}

func (a *streamAllocator) Allocate(sizes []int, count int) ([]pool.Slot, error) {
	if len(sizes) != 2 || count != 1 { //nolint:mnd // input and ring
		return nil, fmt.Errorf("stream buffers are one input and ring pair, got %d sizes x %d", len(sizes), count)
	}
	sb, err := a.dev.RequestStreamBuffer(sizes[0])
	if err != nil {
		return nil, err
	}
	a.last = sb
	return []pool.Slot{{Planes: []gocedar.Region{sb.Input, sb.Ring}, Token: sb}}, nil
}

func (a *streamAllocator) Free(pool.Slot) error {
	return nil
}

// pictureSlots backs a pool of output picture slots. A slot carries no memory
// of its own; the device picture held in it does.
type pictureSlots struct{}

func (pictureSlots) Allocate(sizes []int, count int) ([]pool.Slot, error) {
	slots := make([]pool.Slot, count)
	for i := range slots {
		slots[i].Planes = make([]gocedar.Region, len(sizes))
		for j := range slots[i].Planes {
			slots[i].Planes[j].Owner = gocedar.DeviceOwned
		}
	}
	return slots, nil
}

func (pictureSlots) Free(pool.Slot) error {
	return nil
}

// heldPicture links a device picture to the slot accounting for it.
type heldPicture struct {
	pic  *gocedar.Picture
	slot *pool.Buffer
}
