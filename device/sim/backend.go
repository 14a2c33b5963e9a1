// Package sim is a software model of a Cedar VPU. Encoder and decoder read and
// write the device view of a soft heap, so they only see what was flushed.
// It encodes and decodes MJPEG only.
package sim

import (
	"fmt"
	"time"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/memory/soft"
)

const (
	defaultFrameBuffers     = 2
	defaultStreamBufferSize = 4 * 1024 * 1024
	ringBufferSize          = 256 * 1024
)

// Option configures a Backend.
type Option func(*Backend)

// WithHeapSize sets the size of the soft heap.
func WithHeapSize(size int) Option {
	return func(b *Backend) {
		b.heapSize = size
	}
}

// WithFrameBuffers sets the number of decoder output pictures.
func WithFrameBuffers(n int) Option {
	return func(b *Backend) {
		b.frameBuffers = n
	}
}

// WithStreamBufferSize caps the decoder input region. Requests above it get a smaller region.
func WithStreamBufferSize(size int) Option {
	return func(b *Backend) {
		b.streamBufferSize = size
	}
}

// WithLatency makes every blocking device call take at least d.
func WithLatency(d time.Duration) Option {
	return func(b *Backend) {
		b.latency = d
	}
}

// Backend creates simulated encoders and decoders over one soft heap.
type Backend struct {
	heap             *soft.Heap
	heapSize         int
	frameBuffers     int
	streamBufferSize int
	latency          time.Duration
}

// New returns a simulated backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		heapSize:         soft.DefaultSize,
		frameBuffers:     defaultFrameBuffers,
		streamBufferSize: defaultStreamBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	b.heap = soft.New(b.heapSize)
	return b
}

// Memory returns the soft heap adapter.
func (b *Backend) Memory() device.MemoryAdapter {
	return b.heap
}

// Heap returns the soft heap for inspection.
func (b *Backend) Heap() *soft.Heap {
	return b.heap
}

// NewEncoder returns a simulated encoder. Only MJPEG passes Init.
func (b *Backend) NewEncoder(codecType gocedar.CodecType) (device.Encoder, error) {
	if !codecType.Valid() {
		return nil, fmt.Errorf("unknown codec %v", codecType)
	}
	return &encoder{
		heap:    b.heap,
		codec:   codecType,
		latency: b.latency,
	}, nil
}

// NewDecoder returns a simulated decoder.
func (b *Backend) NewDecoder() (device.Decoder, error) {
	return &decoder{
		heap:             b.heap,
		latency:          b.latency,
		frameBuffers:     b.frameBuffers,
		streamBufferSize: b.streamBufferSize,
	}, nil
}

func (b *Backend) String() string {
	return "SIM_BACKEND"
}
