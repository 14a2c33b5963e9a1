package sim

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/frame/mb32"
	"github.com/ugparu/gocedar/memory/soft"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/logger"
)

type slotState uint8

const (
	slotFree slotState = iota
	slotReady
	slotHeld
)

type frameSlot struct {
	state slotState
	pic   *gocedar.Picture
}

type pendingFrame struct {
	data []byte
	pts  time.Duration
}

type decoder struct {
	heap             *soft.Heap
	latency          time.Duration
	frameBuffers     int
	streamBufferSize int

	mu      sync.Mutex
	info    device.StreamInfo
	ready   bool
	stream  *device.StreamBuffer
	partial []byte
	partPTS time.Duration
	pending []pendingFrame
	slots   []*frameSlot
	decoded int
}

func (dec *decoder) Init(info device.StreamInfo) error {
	sleep(dec.latency)
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if info.Codec != gocedar.MJPEG {
		return &utils.InitError{Code: device.DecodeResultUnsupported, Err: fmt.Errorf("%v is not supported by the simulator", info.Codec)}
	}
	switch info.OutputFormat {
	case gocedar.YUVMB32420, gocedar.YUVMB32422, gocedar.YUVMB32444,
		gocedar.YUVPlanar420, gocedar.YUVPlanar422, gocedar.YUVPlanar444:
	default:
		return &utils.InitError{Code: device.DecodeResultUnsupported, Err: &utils.UnsupportedFormatError{Format: info.OutputFormat.String()}}
	}
	dec.info = info
	dec.slots = make([]*frameSlot, dec.frameBuffers)
	for i := range dec.slots {
		dec.slots[i] = &frameSlot{}
	}
	dec.ready = true
	return nil
}

func (dec *decoder) RequestStreamBuffer(minSize int) (device.StreamBuffer, error) {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if !dec.ready {
		return device.StreamBuffer{}, errors.New("decoder not initialized")
	}
	dec.freeStream()

	size := min(minSize, dec.streamBufferSize)
	input, err := dec.heap.Alloc(max(size, 1))
	if err != nil {
		return device.StreamBuffer{}, err
	}
	ring, err := dec.heap.Alloc(ringBufferSize)
	if err != nil {
		_ = dec.heap.Free(input)
		return device.StreamBuffer{}, err
	}
	dec.stream = &device.StreamBuffer{Input: input, Ring: ring}
	return *dec.stream, nil
}

func (dec *decoder) freeStream() {
	if dec.stream == nil {
		return
	}
	_ = dec.heap.Free(dec.stream.Input)
	_ = dec.heap.Free(dec.stream.Ring)
	dec.stream = nil
}

func (dec *decoder) SubmitStreamData(buf device.StreamBuffer, length int, first, last bool, pts time.Duration) error {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if dec.stream == nil || buf.Input.Phys != dec.stream.Input.Phys {
		return errors.New("stream buffer not owned by decoder")
	}
	if length > buf.Input.Len() {
		return &utils.BufferTooSmallError{Have: buf.Input.Len(), Need: length}
	}
	view, err := dec.heap.DeviceView(buf.Input)
	if err != nil {
		return err
	}
	if first {
		dec.partial = dec.partial[:0]
		dec.partPTS = pts
	}
	dec.partial = append(dec.partial, view[:length]...)
	if last {
		dec.pending = append(dec.pending, pendingFrame{data: bytes.Clone(dec.partial), pts: dec.partPTS})
		dec.partial = dec.partial[:0]
	}
	return nil
}

func (dec *decoder) DecodeStep() int {
	sleep(dec.latency)
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if !dec.ready {
		return device.DecodeResultUnsupported
	}
	if len(dec.pending) == 0 {
		if len(dec.partial) > 0 {
			return device.DecodeResultOK
		}
		return device.DecodeResultNoBitstream
	}

	var slot *frameSlot
	for _, s := range dec.slots {
		if s.state == slotFree {
			slot = s
			break
		}
	}
	if slot == nil {
		return device.DecodeResultNoFrameBuffer
	}

	frm := dec.pending[0]
	dec.pending = dec.pending[1:]
	img, err := jpeg.Decode(bytes.NewReader(frm.data))
	if err != nil {
		logger.Warningf(dec, "Can not decode frame: %v", err)
		return device.DecodeResultUnsupported
	}
	if err = dec.render(slot, img); err != nil {
		logger.Warningf(dec, "Can not render frame: %v", err)
		return device.DecodeResultUnsupported
	}
	slot.pic.Timestamp = frm.pts
	slot.state = slotReady
	dec.decoded++
	return device.DecodeResultKeyframeDecoded
}

// render writes img into the device view of slot in the configured output layout.
func (dec *decoder) render(slot *frameSlot, img image.Image) error {
	ycc, ok := img.(*image.YCbCr)
	if !ok {
		gray, isGray := img.(*image.Gray)
		if !isGray {
			return fmt.Errorf("unsupported jpeg color model %T", img)
		}
		ycc = grayToYCbCr(gray)
	}

	format, err := outputFormat(dec.info.OutputFormat, ycc.SubsampleRatio)
	if err != nil {
		return err
	}
	layout, _ := format.Layout()
	w, h := ycc.Rect.Dx(), ycc.Rect.Dy()
	lumaSize, chromaSize := layout.LumaSize(w, h), layout.ChromaSize(w, h)

	if err = dec.ensureRegions(slot, lumaSize, chromaSize); err != nil {
		return err
	}
	luma, err := dec.heap.DeviceView(slot.pic.Luma)
	if err != nil {
		return err
	}
	chroma, err := dec.heap.DeviceView(slot.pic.Chroma)
	if err != nil {
		return err
	}

	cw, ch := layout.ChromaWidth(w), layout.ChromaHeight(h)
	if layout.Tiled() {
		if err = mb32.Tile(luma, ycc.Y, ycc.YStride, w, h); err != nil {
			return err
		}
		cbcr := make([]byte, 2*cw*ch)
		for y := range ch {
			for x := range cw {
				cbcr[y*2*cw+2*x] = ycc.Cb[y*ycc.CStride+x]
				cbcr[y*2*cw+2*x+1] = ycc.Cr[y*ycc.CStride+x]
			}
		}
		if err = mb32.Tile(chroma, cbcr, 2*cw, 2*cw, ch); err != nil {
			return err
		}
	} else {
		for y := range h {
			copy(luma[y*w:(y+1)*w], ycc.Y[y*ycc.YStride:])
		}
		for y := range ch {
			copy(chroma[y*cw:(y+1)*cw], ycc.Cb[y*ycc.CStride:])
			copy(chroma[cw*ch+y*cw:cw*ch+(y+1)*cw], ycc.Cr[y*ycc.CStride:])
		}
	}
	dec.heap.DeviceWrote(slot.pic.Luma)
	dec.heap.DeviceWrote(slot.pic.Chroma)

	slot.pic.Format = format
	slot.pic.Width = w
	slot.pic.Height = h
	return nil
}

func (dec *decoder) ensureRegions(slot *frameSlot, lumaSize, chromaSize int) error {
	if slot.pic != nil && slot.pic.Luma.Len() == lumaSize && slot.pic.Chroma.Len() == chromaSize {
		return nil
	}
	dec.freeSlot(slot)

	luma, err := dec.heap.Alloc(lumaSize)
	if err != nil {
		return err
	}
	chroma, err := dec.heap.Alloc(chromaSize)
	if err != nil {
		_ = dec.heap.Free(luma)
		return err
	}
	index := 0
	for i, s := range dec.slots {
		if s == slot {
			index = i
		}
	}
	slot.pic = &gocedar.Picture{Luma: luma, Chroma: chroma, Index: index}
	return nil
}

func (dec *decoder) freeSlot(slot *frameSlot) {
	if slot.pic == nil {
		return
	}
	_ = dec.heap.Free(slot.pic.Luma)
	_ = dec.heap.Free(slot.pic.Chroma)
	slot.pic = nil
}

func outputFormat(requested gocedar.PixelFormat, ratio image.YCbCrSubsampleRatio) (gocedar.PixelFormat, error) {
	tiled := requested.Tiled()
	switch ratio {
	case image.YCbCrSubsampleRatio420:
		if tiled {
			return gocedar.YUVMB32420, nil
		}
		return gocedar.YUVPlanar420, nil
	case image.YCbCrSubsampleRatio422:
		if tiled {
			return gocedar.YUVMB32422, nil
		}
		return gocedar.YUVPlanar422, nil
	case image.YCbCrSubsampleRatio444:
		if tiled {
			return gocedar.YUVMB32444, nil
		}
		return gocedar.YUVPlanar444, nil
	}
	return gocedar.PixelFormatUnknown, fmt.Errorf("unsupported chroma subsampling %v", ratio)
}

func grayToYCbCr(gray *image.Gray) *image.YCbCr {
	ycc := image.NewYCbCr(gray.Rect, image.YCbCrSubsampleRatio420)
	for y := range gray.Rect.Dy() {
		copy(ycc.Y[y*ycc.YStride:], gray.Pix[y*gray.Stride:y*gray.Stride+gray.Rect.Dx()])
	}
	for i := range ycc.Cb {
		ycc.Cb[i] = 128
		ycc.Cr[i] = 128
	}
	return ycc
}

// RequestPicture hands out the oldest decoded picture.
func (dec *decoder) RequestPicture(streamIndex int) (*gocedar.Picture, error) {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if streamIndex != 0 {
		return nil, fmt.Errorf("stream %d does not exist", streamIndex)
	}
	var next *frameSlot
	for _, s := range dec.slots {
		if s.state == slotReady && (next == nil || s.pic.Timestamp < next.pic.Timestamp) {
			next = s
		}
	}
	if next == nil {
		return nil, nil //nolint:nilnil // no picture ready
	}
	next.state = slotHeld
	pic := *next.pic
	return &pic, nil
}

func (dec *decoder) ReturnPicture(pic *gocedar.Picture) error {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if pic == nil || pic.Index < 0 || pic.Index >= len(dec.slots) {
		return errors.New("picture not owned by decoder")
	}
	slot := dec.slots[pic.Index]
	if slot.state != slotHeld || slot.pic == nil || slot.pic.Luma.Phys != pic.Luma.Phys {
		return fmt.Errorf("picture %d is not held", pic.Index)
	}
	slot.state = slotFree
	return nil
}

func (dec *decoder) Destroy() {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	for _, s := range dec.slots {
		dec.freeSlot(s)
	}
	dec.freeStream()
	dec.slots, dec.pending, dec.partial = nil, nil, nil
	dec.ready = false
	logger.Debugf(dec, "Destroyed after %d pictures", dec.decoded)
}

func (dec *decoder) String() string {
	return "SIM_DECODER"
}
