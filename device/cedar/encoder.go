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
	"github.com/ugparu/gocedar/codec"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/utils"
)

type encoder struct {
	enc        *C.VideoEncoder
	codec      gocedar.CodecType
	lumaSize   int
	chromaSize int
	inputs     map[C.ulong]*device.InputBuffer
}

func (enc *encoder) SetParameters(par codec.Params) error {
	var ret C.int
	switch par.Codec {
	case gocedar.H264:
		ret = C.cedar_enc_set_h264(enc.enc, C.int(par.Bitrate), C.int(par.Framerate), C.int(par.KeyInterval),
			C.int(par.Profile), C.int(par.Level), C.int(par.QPMin), C.int(par.QPMax),
			cBool(par.CABAC), cBool(par.LongRef))
	case gocedar.MJPEG:
		ret = C.cedar_enc_set_jpeg_quality(enc.enc, C.int(par.JPEGQuality))
	}
	if ret != 0 {
		return &utils.InitError{Code: int(ret), Err: errors.New("parameters rejected")}
	}
	if par.VBVSize > 0 {
		if ret = C.cedar_enc_set_vbv(enc.enc, C.uint(par.VBVSize)); ret != 0 {
			return &utils.InitError{Code: int(ret), Err: errors.New("vbv size rejected")}
		}
	}
	return nil
}

func (enc *encoder) Init(par codec.Params) error {
	var format C.int
	switch par.Input.Format {
	case gocedar.NV12:
		format = C.VENC_PIXEL_YUV420SP
	case gocedar.YUVPlanar420:
		format = C.VENC_PIXEL_YUV420P
	default:
		return &utils.InitError{
			Code: device.EncodeResultIllegalParam,
			Err:  &utils.UnsupportedFormatError{Format: par.Input.Format.String()},
		}
	}
	target := par.TargetGeometry()
	ret := C.cedar_enc_init(enc.enc, format, C.int(par.Input.Width), C.int(par.Input.Height),
		C.int(par.Input.Pitch()), C.int(target.Width), C.int(target.Height))
	if ret != 0 {
		return &utils.InitError{Code: int(ret)}
	}
	return nil
}

func (enc *encoder) AllocInputBuffers(lumaSize, chromaSize, count int) error {
	if ret := C.cedar_enc_alloc(enc.enc, C.int(lumaSize), C.int(chromaSize), C.int(count)); ret != 0 {
		return fmt.Errorf("AllocInputBuffer failed: %d", int(ret))
	}
	enc.lumaSize, enc.chromaSize = lumaSize, chromaSize
	enc.inputs = make(map[C.ulong]*device.InputBuffer, count)
	return nil
}

func (enc *encoder) wrap(in *C.VencInputBuffer) *device.InputBuffer {
	if buf, ok := enc.inputs[in.nID]; ok {
		return buf
	}
	buf := &device.InputBuffer{
		Luma:   region(unsafe.Pointer(in.pAddrVirY), enc.lumaSize, nil),
		Chroma: region(unsafe.Pointer(in.pAddrVirC), enc.chromaSize, nil),
		Token:  in,
	}
	enc.inputs[in.nID] = buf
	return buf
}

func (enc *encoder) GetInputBuffer() (*device.InputBuffer, error) {
	in := new(C.VencInputBuffer)
	if ret := C.GetOneAllocInputBuffer(enc.enc, in); ret != 0 {
		return nil, fmt.Errorf("GetOneAllocInputBuffer failed: %d", int(ret))
	}
	return enc.wrap(in), nil
}

func native(buf *device.InputBuffer) (*C.VencInputBuffer, error) {
	in, ok := buf.Token.(*C.VencInputBuffer)
	if !ok {
		return nil, errors.New("input buffer not allocated by cedar")
	}
	return in, nil
}

func (enc *encoder) ReturnInputBuffer(buf *device.InputBuffer) error {
	in, err := native(buf)
	if err != nil {
		return err
	}
	if ret := C.ReturnOneAllocInputBuffer(enc.enc, in); ret != 0 {
		return fmt.Errorf("ReturnOneAllocInputBuffer failed: %d", int(ret))
	}
	return nil
}

func (enc *encoder) AddInputBuffer(buf *device.InputBuffer, pts time.Duration) error {
	in, err := native(buf)
	if err != nil {
		return err
	}
	in.nPts = C.longlong(pts.Milliseconds())
	if ret := C.AddOneInputBuffer(enc.enc, in); ret != 0 {
		return fmt.Errorf("AddOneInputBuffer failed: %d", int(ret))
	}
	return nil
}

func (enc *encoder) EncodeOneFrame() int {
	return int(C.VideoEncodeOneFrame(enc.enc))
}

func (enc *encoder) AlreadyUsedInputBuffer() (*device.InputBuffer, error) {
	var in C.VencInputBuffer
	if ret := C.AlreadyUsedInputBuffer(enc.enc, &in); ret != 0 {
		return nil, fmt.Errorf("AlreadyUsedInputBuffer failed: %d", int(ret))
	}
	buf, ok := enc.inputs[in.nID]
	if !ok {
		return nil, fmt.Errorf("unknown input buffer id %d", int(in.nID))
	}
	return buf, nil
}

func (enc *encoder) Bitstream() (*device.Bitstream, error) {
	out := new(C.VencOutputBuffer)
	if ret := C.GetOneBitstreamFrame(enc.enc, out); ret != 0 {
		return nil, fmt.Errorf("GetOneBitstreamFrame failed: %d", int(ret))
	}
	bs := &device.Bitstream{
		Parts:     [][]byte{unsafe.Slice((*byte)(unsafe.Pointer(out.pData0)), int(out.nSize0))},
		Timestamp: time.Duration(out.nPts) * time.Millisecond,
		KeyFrame:  out.nFlag&C.VENC_BUFFERFLAG_KEYFRAME != 0,
		Token:     out,
	}
	if out.nSize1 > 0 {
		bs.Parts = append(bs.Parts, unsafe.Slice((*byte)(unsafe.Pointer(out.pData1)), int(out.nSize1)))
	}
	return bs, nil
}

func (enc *encoder) FreeBitstream(bs *device.Bitstream) error {
	out, ok := bs.Token.(*C.VencOutputBuffer)
	if !ok {
		return errors.New("bitstream not produced by cedar")
	}
	if ret := C.FreeOneBitStreamFrame(enc.enc, out); ret != 0 {
		return fmt.Errorf("FreeOneBitStreamFrame failed: %d", int(ret))
	}
	return nil
}

func (enc *encoder) Header() ([]byte, error) {
	if enc.codec != gocedar.H264 {
		return nil, nil
	}
	var (
		data   *C.uchar
		length C.int
	)
	if ret := C.cedar_enc_header(enc.enc, &data, &length); ret != 0 {
		return nil, fmt.Errorf("can not get sps/pps: %d", int(ret))
	}
	return C.GoBytes(unsafe.Pointer(data), length), nil
}

func (enc *encoder) Destroy() {
	if enc.enc == nil {
		return
	}
	C.VideoEncDestroy(enc.enc)
	enc.enc = nil
	enc.inputs = nil
}

func (enc *encoder) String() string {
	return fmt.Sprintf("CEDAR_ENCODER %v", enc.codec)
}

func cBool(b bool) C.int {
	if b {
		return 1
	}
	return 0
}
