package sim

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"slices"
	"sync"
	"time"

	"golang.org/x/image/draw"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec"
	"github.com/ugparu/gocedar/codec/mjpeg"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/memory/soft"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/logger"
)

var errNoInput = errors.New("no input buffer available")

type queuedInput struct {
	buf *device.InputBuffer
	pts time.Duration
}

type encoder struct {
	heap    *soft.Heap
	codec   gocedar.CodecType
	latency time.Duration

	mu         sync.Mutex // Timed out calls may still run next to Destroy.
	par        codec.Params
	configured bool
	ready      bool
	all        []*device.InputBuffer
	free       []*device.InputBuffer
	queue      []queuedInput
	used       []*device.InputBuffer
	out        []*device.Bitstream
	frames     int
}

func (enc *encoder) SetParameters(par codec.Params) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if par.Codec != enc.codec {
		return fmt.Errorf("parameters for %v on a %v encoder", par.Codec, enc.codec)
	}
	enc.par = par
	enc.configured = true
	return nil
}

func (enc *encoder) Init(par codec.Params) error {
	sleep(enc.latency)
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if !enc.configured {
		return &utils.InitError{Code: device.EncodeResultIllegalParam, Err: errors.New("parameters not set")}
	}
	if enc.codec != gocedar.MJPEG {
		return &utils.InitError{Code: device.EncodeResultError, Err: fmt.Errorf("%v is not supported by the simulator", enc.codec)}
	}
	switch par.Input.Format {
	case gocedar.NV12, gocedar.YUVPlanar420:
	default:
		return &utils.InitError{Code: device.EncodeResultIllegalParam, Err: &utils.UnsupportedFormatError{Format: par.Input.Format.String()}}
	}
	enc.par = par
	enc.ready = true
	logger.Debugf(enc, "Initialized %v -> %v", par.Input, par.TargetGeometry())
	return nil
}

func (enc *encoder) AllocInputBuffers(lumaSize, chromaSize, count int) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if !enc.ready {
		return errors.New("encoder not initialized")
	}
	for range count {
		luma, err := enc.heap.Alloc(lumaSize)
		if err != nil {
			return err
		}
		chroma, err := enc.heap.Alloc(chromaSize)
		if err != nil {
			_ = enc.heap.Free(luma)
			return err
		}
		buf := &device.InputBuffer{Luma: luma, Chroma: chroma}
		enc.all = append(enc.all, buf)
		enc.free = append(enc.free, buf)
	}
	return nil
}

func (enc *encoder) GetInputBuffer() (*device.InputBuffer, error) {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if len(enc.free) == 0 {
		return nil, errNoInput
	}
	buf := enc.free[0]
	enc.free = enc.free[1:]
	return buf, nil
}

func (enc *encoder) ReturnInputBuffer(buf *device.InputBuffer) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if !slices.Contains(enc.all, buf) || slices.Contains(enc.free, buf) {
		return errors.New("input buffer not owned by encoder")
	}
	enc.free = append(enc.free, buf)
	return nil
}

func (enc *encoder) AddInputBuffer(buf *device.InputBuffer, pts time.Duration) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if !slices.Contains(enc.all, buf) {
		return errors.New("input buffer not owned by encoder")
	}
	enc.queue = append(enc.queue, queuedInput{buf: buf, pts: pts})
	return nil
}

func (enc *encoder) EncodeOneFrame() int {
	sleep(enc.latency)
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if !enc.ready || len(enc.queue) == 0 {
		return device.EncodeResultError
	}
	in := enc.queue[0]
	enc.queue = enc.queue[1:]
	enc.used = append(enc.used, in.buf)

	img, err := enc.image(in.buf)
	if err != nil {
		logger.Errorf(enc, "Can not read input: %v", err)
		return device.EncodeResultError
	}

	var out bytes.Buffer
	quality := enc.par.JPEGQuality
	if quality == 0 {
		quality = mjpeg.DefaultQuality
	}
	if err = jpeg.Encode(&out, img, &jpeg.Options{Quality: quality}); err != nil {
		logger.Errorf(enc, "Can not encode: %v", err)
		return device.EncodeResultError
	}
	enc.out = append(enc.out, &device.Bitstream{
		Parts:     [][]byte{out.Bytes()},
		Timestamp: in.pts,
		KeyFrame:  true,
	})
	enc.frames++
	return device.EncodeResultOK
}

// image builds the picture from the device view of the input planes.
func (enc *encoder) image(buf *device.InputBuffer) (image.Image, error) {
	in := enc.par.Input
	luma, err := enc.heap.DeviceView(buf.Luma)
	if err != nil {
		return nil, err
	}
	chroma, err := enc.heap.DeviceView(buf.Chroma)
	if err != nil {
		return nil, err
	}

	pitch := in.Pitch()
	img := image.NewYCbCr(image.Rect(0, 0, in.Width, in.Height), image.YCbCrSubsampleRatio420)
	for y := range in.Height {
		copy(img.Y[y*img.YStride:y*img.YStride+in.Width], luma[y*pitch:])
	}

	cw, ch := (pitch+1)/2, (in.Height+1)/2
	iw, ih := (in.Width+1)/2, (in.Height+1)/2
	for y := range ih {
		for x := range iw {
			var cb, cr byte
			if in.Format == gocedar.NV12 {
				cb, cr = chroma[y*2*cw+2*x], chroma[y*2*cw+2*x+1]
			} else {
				cb, cr = chroma[y*cw+x], chroma[cw*ch+y*cw+x]
			}
			img.Cb[y*img.CStride+x] = cb
			img.Cr[y*img.CStride+x] = cr
		}
	}

	target := enc.par.TargetGeometry()
	if target.Width == in.Width && target.Height == in.Height {
		return img, nil
	}
	scaled := image.NewRGBA(image.Rect(0, 0, target.Width, target.Height))
	draw.ApproxBiLinear.Scale(scaled, scaled.Bounds(), img, img.Bounds(), draw.Src, nil)
	return scaled, nil
}

func (enc *encoder) AlreadyUsedInputBuffer() (*device.InputBuffer, error) {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if len(enc.used) == 0 {
		return nil, errNoInput
	}
	buf := enc.used[0]
	enc.used = enc.used[1:]
	return buf, nil
}

func (enc *encoder) Bitstream() (*device.Bitstream, error) {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if len(enc.out) == 0 {
		return nil, errors.New("no bitstream frame")
	}
	return enc.out[0], nil
}

func (enc *encoder) FreeBitstream(bs *device.Bitstream) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	if len(enc.out) == 0 || enc.out[0] != bs {
		return errors.New("bitstream frame out of order")
	}
	enc.out = enc.out[1:]
	return nil
}

func (enc *encoder) Header() ([]byte, error) {
	return nil, nil
}

func (enc *encoder) Destroy() {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	for _, buf := range enc.all {
		_ = enc.heap.Free(buf.Luma)
		_ = enc.heap.Free(buf.Chroma)
	}
	enc.all, enc.free, enc.queue, enc.used, enc.out = nil, nil, nil, nil, nil
	enc.ready = false
	logger.Debugf(enc, "Destroyed after %d frames", enc.frames)
}

func (enc *encoder) String() string {
	return fmt.Sprintf("SIM_ENCODER %v", enc.codec)
}

func sleep(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}
