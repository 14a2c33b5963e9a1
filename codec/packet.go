package codec

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/utils/buffer"
)

// sharedBuffer holds the bitstream bytes and a reference count shared between clones.
type sharedBuffer struct {
	buf buffer.PooledBuffer
	ref atomic.Int32
}

// Packet is one encoded bitstream frame copied out of device memory.
type Packet struct {
	Codec     gocedar.CodecType
	Timestamp time.Duration
	Duration  time.Duration
	KeyFrame  bool
	shared    *sharedBuffer
}

// NewPacket copies data into a pooled buffer.
func NewPacket(codecType gocedar.CodecType, data []byte, ts, dur time.Duration, key bool) *Packet {
	buf := buffer.Get(len(data))
	copy(buf.Data(), data)
	shared := &sharedBuffer{buf: buf}
	shared.ref.Store(1)
	return &Packet{
		Codec:     codecType,
		Timestamp: ts,
		Duration:  dur,
		KeyFrame:  key,
		shared:    shared,
	}
}

// Clone returns a packet sharing or copying the payload.
func (pkt *Packet) Clone(copyData bool) *Packet {
	if copyData {
		return NewPacket(pkt.Codec, pkt.Data(), pkt.Timestamp, pkt.Duration, pkt.KeyFrame)
	}
	pkt.shared.ref.Add(1)
	clone := *pkt
	return &clone
}

// Data returns the payload. It is valid until the last reference is closed.
func (pkt *Packet) Data() []byte {
	if pkt == nil || pkt.shared == nil {
		return nil
	}
	return pkt.shared.buf.Data()
}

// Len returns the payload size.
func (pkt *Packet) Len() int {
	return len(pkt.Data())
}

// Close drops one reference and releases the payload when none are left.
func (pkt *Packet) Close() {
	if pkt.shared == nil {
		return
	}
	count := pkt.shared.ref.Add(-1)
	if count == 0 {
		pkt.shared.buf.Release()
	} else if count < 0 {
		panic("packet reference count is negative")
	}
	pkt.shared = nil
}

func (pkt *Packet) String() string {
	if pkt == nil || pkt.shared == nil {
		return "EMPTY_PACKET"
	}
	return fmt.Sprintf("PACKET %v sz=%d ts=%v key=%t", pkt.Codec, pkt.Len(), pkt.Timestamp, pkt.KeyFrame)
}
