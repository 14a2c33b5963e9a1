//go:build linux && arm && cgo

package cedar

//#cgo LDFLAGS: -lvencoder -lvdecoder -lMemAdapter -lcdc_base
//#include "cedar_native.h"
import "C"
import (
	"errors"
	"fmt"
	"sync"
	"unsafe"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/logger"
)

// memoryAdapter is the process-wide libcedarc memory adapter.
type memoryAdapter struct {
	mu   sync.Mutex
	open bool
}

func (m *memoryAdapter) Open() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.open {
		return &utils.InvalidStateError{Object: m.String(), From: "open", To: "open"}
	}
	if ret := C.MemAdapterOpen(); ret < 0 {
		return fmt.Errorf("can not open memory adapter: %d", int(ret))
	}
	m.open = true
	return nil
}

func (m *memoryAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return nil
	}
	C.MemAdapterClose()
	m.open = false
	return nil
}

func (m *memoryAdapter) PhysAddr(r gocedar.Region) uintptr {
	if len(r.Data) == 0 {
		return 0
	}
	return uintptr(C.MemAdapterGetPhysicAddress(unsafe.Pointer(&r.Data[0])))
}

func (m *memoryAdapter) FlushCache(r gocedar.Region, size int) error {
	if size > len(r.Data) {
		return &utils.BufferTooSmallError{Have: len(r.Data), Need: size}
	}
	if size == 0 {
		return nil
	}
	C.MemAdapterFlushCache(unsafe.Pointer(&r.Data[0]), C.int(size))
	return nil
}

func (m *memoryAdapter) String() string {
	return "CEDAR_MEMORY"
}

// region wraps device memory allocated by libcedarc.
func region(ptr unsafe.Pointer, size int, token any) gocedar.Region {
	if ptr == nil || size <= 0 {
		return gocedar.Region{Owner: gocedar.DeviceOwned, Token: token}
	}
	return gocedar.Region{
		Data:  unsafe.Slice((*byte)(ptr), size),
		Phys:  uintptr(C.MemAdapterGetPhysicAddress(ptr)),
		Owner: gocedar.DeviceOwned,
		Token: token,
	}
}

// Backend creates libcedarc encoders and decoders.
type Backend struct {
	mem *memoryAdapter
}

// New returns the hardware backend.
func New() (device.Backend, error) {
	return &Backend{mem: &memoryAdapter{}}, nil
}

// Memory returns the libcedarc memory adapter.
func (b *Backend) Memory() device.MemoryAdapter {
	return b.mem
}

// NewEncoder creates a hardware encoder for codecType.
func (b *Backend) NewEncoder(codecType gocedar.CodecType) (device.Encoder, error) {
	var id C.VENC_CODEC_TYPE
	switch codecType {
	case gocedar.H264:
		id = C.VENC_CODEC_H264
	case gocedar.MJPEG:
		id = C.VENC_CODEC_JPEG
	default:
		return nil, fmt.Errorf("unsupported codec %v", codecType)
	}
	enc := C.VideoEncCreate(id)
	if enc == nil {
		return nil, errors.New("can not create video encoder")
	}
	logger.Debugf(b, "Created %v encoder", codecType)
	return &encoder{enc: enc, codec: codecType}, nil
}

// NewDecoder creates a hardware decoder.
func (b *Backend) NewDecoder() (device.Decoder, error) {
	dec := C.CreateVideoDecoder()
	if dec == nil {
		return nil, errors.New("can not create video decoder")
	}
	return &decoder{dec: dec}, nil
}

// String returns a string representation of the backend.
func (b *Backend) String() string {
	return "CEDAR_BACKEND"
}
