// Package device declares the codec device and memory adapter surface the
// sessions drive. Backends live in sub-packages: sim (software model) and
// cedar (libcedarc binding).
package device

import (
	"time"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec"
)

// Encoder result codes (VENC_RESULT_*).
const (
	EncodeResultError         = -1
	EncodeResultOK            = 0
	EncodeResultNoFrameBuffer = 1
	EncodeResultBitstreamFull = 2
	EncodeResultIllegalParam  = 3
)

// Decoder result codes (VDECODE_RESULT_*).
const (
	DecodeResultUnsupported      = -1
	DecodeResultOK               = 0
	DecodeResultFrameDecoded     = 1
	DecodeResultContinue         = 2
	DecodeResultKeyframeDecoded  = 3
	DecodeResultNoFrameBuffer    = 4
	DecodeResultNoBitstream      = 5
	DecodeResultResolutionChange = 6
)

// MemoryAdapter is the process-wide device memory subsystem.
type MemoryAdapter interface {
	Open() error                                 // Must precede any device allocation.
	Close() error                                // Only after every session is destroyed.
	PhysAddr(r gocedar.Region) uintptr           // Device address of a region.
	FlushCache(r gocedar.Region, size int) error // Clean and invalidate the CPU cache over the first size bytes.
	String() string
}

// InputBuffer is one device allocated encoder input buffer.
type InputBuffer struct {
	Luma   gocedar.Region
	Chroma gocedar.Region
	Token  any // Backend handle.
}

// Bitstream is one encoded frame still held in device memory.
// The device ring may wrap, so the payload can come in two parts.
type Bitstream struct {
	Parts     [][]byte
	Timestamp time.Duration
	KeyFrame  bool
	Token     any
}

// Size returns the total payload size.
func (bs *Bitstream) Size() int {
	n := 0
	for _, p := range bs.Parts {
		n += len(p)
	}
	return n
}

// Encoder is a stateful hardware encoder instance.
type Encoder interface {
	SetParameters(par codec.Params) error                     // Applies codec parameters before Init.
	Init(par codec.Params) error                              // Binds input and target geometry.
	AllocInputBuffers(lumaSize, chromaSize, count int) error  // Reserves count input buffers.
	GetInputBuffer() (*InputBuffer, error)                    // Takes one allocated input buffer.
	ReturnInputBuffer(buf *InputBuffer) error                 // Gives an input buffer back to the device list.
	AddInputBuffer(buf *InputBuffer, pts time.Duration) error // Queues a filled buffer for encoding.
	EncodeOneFrame() int                                      // Blocking encode, returns an EncodeResult code.
	AlreadyUsedInputBuffer() (*InputBuffer, error)            // Dequeues the buffer consumed by the last encode.
	Bitstream() (*Bitstream, error)                           // Next encoded frame.
	FreeBitstream(bs *Bitstream) error                        // Releases a frame returned by Bitstream.
	Header() ([]byte, error)                                  // Stream header (SPS/PPS for H.264), may be empty.
	Destroy()
	String() string
}

// StreamInfo describes the compressed stream given to a decoder.
type StreamInfo struct {
	Codec        gocedar.CodecType
	Width        int
	Height       int
	OutputFormat gocedar.PixelFormat
}

// StreamBuffer is the device scratch memory for compressed input.
type StreamBuffer struct {
	Input gocedar.Region
	Ring  gocedar.Region
}

// Decoder is a stateful hardware decoder instance.
type Decoder interface {
	Init(info StreamInfo) error
	RequestStreamBuffer(minSize int) (StreamBuffer, error)
	SubmitStreamData(buf StreamBuffer, length int, first, last bool, pts time.Duration) error
	DecodeStep() int                                          // Blocking decode, returns a DecodeResult code.
	RequestPicture(streamIndex int) (*gocedar.Picture, error) // Nil picture when none is ready.
	ReturnPicture(pic *gocedar.Picture) error
	Destroy()
	String() string
}

// Backend creates devices sharing one memory adapter.
type Backend interface {
	Memory() MemoryAdapter
	NewEncoder(codecType gocedar.CodecType) (Encoder, error)
	NewDecoder() (Decoder, error)
	String() string
}
