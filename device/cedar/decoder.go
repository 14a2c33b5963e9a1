//go:build linux && arm && cgo

package cedar

//#include "cedar_native.h"
import "C"
import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/utils"
)

var pixelFormats = map[C.int]gocedar.PixelFormat{
	C.PIXEL_FORMAT_YUV_PLANER_420: gocedar.YUVPlanar420,
	C.PIXEL_FORMAT_YUV_PLANER_422: gocedar.YUVPlanar422,
	C.PIXEL_FORMAT_YUV_PLANER_444: gocedar.YUVPlanar444,
	C.PIXEL_FORMAT_YUV_MB32_420:   gocedar.YUVMB32420,
	C.PIXEL_FORMAT_YUV_MB32_422:   gocedar.YUVMB32422,
	C.PIXEL_FORMAT_YUV_MB32_444:   gocedar.YUVMB32444,
	C.PIXEL_FORMAT_NV12:           gocedar.NV12,
}

func nativeFormat(pf gocedar.PixelFormat) (C.int, error) {
	for n, f := range pixelFormats {
		if f == pf {
			return n, nil
		}
	}
	return 0, &utils.UnsupportedFormatError{Format: pf.String()}
}

type decoder struct {
	dec *C.VideoDecoder
}

func (dec *decoder) Init(info device.StreamInfo) error {
	var codecID C.int
	switch info.Codec {
	case gocedar.MJPEG:
		codecID = C.VIDEO_CODEC_FORMAT_MJPEG
	case gocedar.H264:
		codecID = C.VIDEO_CODEC_FORMAT_H264
	default:
		return &utils.InitError{Code: device.DecodeResultUnsupported, Err: fmt.Errorf("unsupported codec %v", info.Codec)}
	}
	format, err := nativeFormat(info.OutputFormat)
	if err != nil {
		return &utils.InitError{Code: device.DecodeResultUnsupported, Err: err}
	}
	if ret := C.cedar_dec_init(dec.dec, codecID, C.int(info.Width), C.int(info.Height), format); ret != 0 {
		return &utils.InitError{Code: int(ret)}
	}
	return nil
}

func (dec *decoder) RequestStreamBuffer(minSize int) (device.StreamBuffer, error) {
	var (
		input, ring         *C.char
		inputSize, ringSize C.int
	)
	ret := C.RequestVideoStreamBuffer(dec.dec, C.int(minSize), &input, &inputSize, &ring, &ringSize, 0)
	if ret != 0 {
		return device.StreamBuffer{}, fmt.Errorf("RequestVideoStreamBuffer failed: %d", int(ret))
	}
	return device.StreamBuffer{
		Input: region(unsafe.Pointer(input), int(inputSize), nil),
		Ring:  region(unsafe.Pointer(ring), int(ringSize), nil),
	}, nil
}

func (dec *decoder) SubmitStreamData(buf device.StreamBuffer, length int, first, last bool, pts time.Duration) error {
	if length > buf.Input.Len() {
		return &utils.BufferTooSmallError{Have: buf.Input.Len(), Need: length}
	}
	if length == 0 {
		return errors.New("empty stream data")
	}
	ret := C.cedar_dec_submit(dec.dec, (*C.char)(unsafe.Pointer(&buf.Input.Data[0])), C.int(length),
		cBool(first), cBool(last), C.longlong(pts.Microseconds()))
	if ret != 0 {
		return fmt.Errorf("SubmitVideoStreamData failed: %d", int(ret))
	}
	return nil
}

func (dec *decoder) DecodeStep() int {
	return int(C.cedar_dec_step(dec.dec))
}

func (dec *decoder) RequestPicture(streamIndex int) (*gocedar.Picture, error) {
	vp := C.RequestPicture(dec.dec, C.int(streamIndex))
	if vp == nil {
		return nil, nil //nolint:nilnil // no picture ready
	}
	format, ok := pixelFormats[C.int(vp.ePixelFormat)]
	if !ok {
		_ = C.ReturnPicture(dec.dec, vp)
		return nil, &utils.UnsupportedFormatError{Format: fmt.Sprintf("cedar(%d)", int(vp.ePixelFormat))}
	}
	layout, err := format.Layout()
	if err != nil {
		_ = C.ReturnPicture(dec.dec, vp)
		return nil, err
	}
	w, h := int(vp.nWidth), int(vp.nHeight)
	return &gocedar.Picture{
		Format:    format,
		Width:     w,
		Height:    h,
		Luma:      region(unsafe.Pointer(vp.pData0), layout.LumaSize(w, h), vp),
		Chroma:    region(unsafe.Pointer(vp.pData1), layout.ChromaSize(w, h), vp),
		Index:     streamIndex,
		Timestamp: time.Duration(vp.nPts) * time.Microsecond,
	}, nil
}

func (dec *decoder) ReturnPicture(pic *gocedar.Picture) error {
	vp, ok := pic.Luma.Token.(*C.VideoPicture)
	if !ok {
		return &utils.InvalidStateError{Object: pic.String(), From: "not a cedar picture"}
	}
	if ret := C.ReturnPicture(dec.dec, vp); ret != 0 {
		return fmt.Errorf("ReturnPicture failed: %d", int(ret))
	}
	return nil
}

func (dec *decoder) Destroy() {
	if dec.dec == nil {
		return
	}
	C.DestroyVideoDecoder(dec.dec)
	dec.dec = nil
}

func (dec *decoder) String() string {
	return "CEDAR_DECODER"
}
