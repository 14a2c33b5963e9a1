package yuv

import (
	"bytes"
	"image/color"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/frame/mb32"
	"github.com/ugparu/gocedar/memory"
	"github.com/ugparu/gocedar/memory/soft"
	"github.com/ugparu/gocedar/utils"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	os.Exit(m.Run())
}

type fixture struct {
	heap *soft.Heap
	mem  *memory.Handle
	conv *Converter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	heap := soft.New(8 * 1024 * 1024)
	mem, err := memory.Open(heap)
	require.NoError(t, err)
	t.Cleanup(mem.Close)
	return &fixture{heap: heap, mem: mem, conv: NewConverter(mem)}
}

// reference holds a linear picture: luma, Cb and Cr planes.
type reference struct {
	w, h   int
	luma   []byte
	cb, cr []byte
	cw, ch int
}

func newReference(w, h, subX, subY int) *reference {
	ref := &reference{w: w, h: h, cw: (w + subX - 1) / subX, ch: (h + subY - 1) / subY}
	ref.luma = make([]byte, w*h)
	for i := range ref.luma {
		ref.luma[i] = byte(i*13 + i/w)
	}
	ref.cb = make([]byte, ref.cw*ref.ch)
	ref.cr = make([]byte, ref.cw*ref.ch)
	for i := range ref.cb {
		ref.cb[i] = byte(i * 7)
		ref.cr[i] = byte(255 - i*3)
	}
	return ref
}

func (ref *reference) interleaved() []byte {
	out := make([]byte, 0, 2*len(ref.cb))
	for i := range ref.cb {
		out = append(out, ref.cb[i], ref.cr[i])
	}
	return out
}

// devicePicture lays ref out in format f in device memory, as a decoder would.
func (f *fixture) devicePicture(t *testing.T, ref *reference, format gocedar.PixelFormat) *gocedar.Picture {
	t.Helper()
	l, err := format.Layout()
	require.NoError(t, err)

	luma, err := f.heap.Alloc(l.LumaSize(ref.w, ref.h))
	require.NoError(t, err)
	chroma, err := f.heap.Alloc(l.ChromaSize(ref.w, ref.h))
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = f.heap.Free(luma)
		_ = f.heap.Free(chroma)
	})

	dl, err := f.heap.DeviceView(luma)
	require.NoError(t, err)
	dc, err := f.heap.DeviceView(chroma)
	require.NoError(t, err)

	switch {
	case l.Tiled():
		require.NoError(t, mb32.Tile(dl, ref.luma, ref.w, ref.w, ref.h))
		require.NoError(t, mb32.Tile(dc, ref.interleaved(), 2*ref.cw, 2*ref.cw, ref.ch))
	case l.Interleaved:
		copy(dl, ref.luma)
		copy(dc, ref.interleaved())
	default:
		copy(dl, ref.luma)
		copy(dc, ref.cb)
		copy(dc[len(ref.cb):], ref.cr)
	}
	f.heap.DeviceWrote(luma)
	f.heap.DeviceWrote(chroma)

	return &gocedar.Picture{Format: format, Width: ref.w, Height: ref.h, Luma: luma, Chroma: chroma}
}

func TestConvertFormats(t *testing.T) {
	t.Parallel()

	tests := []struct {
		format     gocedar.PixelFormat
		out        gocedar.PixelFormat
		subX, subY int
	}{
		{gocedar.YUVMB32420, gocedar.NV12, 2, 2},
		{gocedar.YUVMB32422, gocedar.NV16, 2, 1},
		{gocedar.YUVMB32444, gocedar.NV24, 1, 1},
		{gocedar.YUVPlanar420, gocedar.NV12, 2, 2},
		{gocedar.YUVPlanar422, gocedar.NV16, 2, 1},
		{gocedar.YUVPlanar444, gocedar.NV24, 1, 1},
		{gocedar.NV12, gocedar.NV12, 2, 2},
	}
	for _, tt := range tests {
		t.Run(tt.format.String(), func(t *testing.T) {
			t.Parallel()
			f := newFixture(t)

			for _, sz := range [][2]int{{64, 64}, {80, 36}, {33, 17}} {
				ref := newReference(sz[0], sz[1], tt.subX, tt.subY)
				src := f.devicePicture(t, ref, tt.format)

				out, err := f.conv.Convert(src)
				require.NoError(t, err)
				require.Equal(t, tt.out, out.Format)
				require.False(t, out.IsDeviceOwned())
				require.Equal(t, ref.luma, out.Luma.Data)
				require.Equal(t, ref.interleaved(), out.Chroma.Data)
				require.NoError(t, f.conv.Release(out))
			}
			require.Zero(t, f.conv.Live())
		})
	}
}

func TestConvertDeterministic(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	src := f.devicePicture(t, newReference(96, 64, 2, 2), gocedar.YUVMB32420)
	a, err := f.conv.Convert(src)
	require.NoError(t, err)
	b, err := f.conv.Convert(src)
	require.NoError(t, err)

	var wa, wb bytes.Buffer
	_, err = WritePicture(&wa, a)
	require.NoError(t, err)
	_, err = WritePicture(&wb, b)
	require.NoError(t, err)
	require.Equal(t, wa.Bytes(), wb.Bytes())

	require.NoError(t, f.conv.Release(a))
	require.NoError(t, f.conv.Release(b))
}

func TestConvertSizeInvariant(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	for _, format := range []gocedar.PixelFormat{gocedar.YUVMB32420, gocedar.YUVPlanar420, gocedar.NV12} {
		for _, sz := range [][2]int{{1280, 720}, {64, 48}, {320, 240}} {
			w, h := sz[0], sz[1]
			src := f.devicePicture(t, newReference(w, h, 2, 2), format)
			out, err := f.conv.Convert(src)
			require.NoError(t, err)

			var buf bytes.Buffer
			n, err := WritePicture(&buf, out)
			require.NoError(t, err)
			require.EqualValues(t, w*h+w*h/2, n)
			require.Equal(t, w*h+w*h/2, buf.Len())
			require.NoError(t, f.conv.Release(out))
		}
	}
}

func TestConvertNeedsFlush(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	src := f.devicePicture(t, newReference(32, 32, 2, 2), gocedar.YUVMB32420)
	flushes := f.heap.Flushes()
	out, err := f.conv.Convert(src)
	require.NoError(t, err)
	require.Equal(t, flushes+2, f.heap.Flushes())
	require.NoError(t, f.conv.Release(out))
}

func TestConvertRejects(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	src := f.devicePicture(t, newReference(32, 32, 2, 2), gocedar.YUVMB32420)

	unknown := *src
	unknown.Format = gocedar.PixelFormatUnknown
	_, err := f.conv.Convert(&unknown)
	var unsupported *utils.UnsupportedFormatError
	require.ErrorAs(t, err, &unsupported)

	host := &gocedar.Picture{
		Format: gocedar.NV12, Width: 32, Height: 32,
		Luma:   gocedar.Region{Data: make([]byte, 32*32)},
		Chroma: gocedar.Region{Data: make([]byte, 32*16)},
	}
	_, err = f.conv.Convert(host)
	require.True(t, utils.IsInvalidState(err))

	mixed := *src
	mixed.Chroma.Owner = gocedar.HostOwned
	_, err = f.conv.Convert(&mixed)
	require.True(t, utils.IsInvalidState(err))

	short := *src
	short.Width = 64
	_, err = f.conv.Convert(&short)
	var small *utils.BufferTooSmallError
	require.ErrorAs(t, err, &small)
}

func TestReleaseOwnership(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	src := f.devicePicture(t, newReference(32, 32, 2, 2), gocedar.YUVMB32420)
	require.True(t, utils.IsInvalidState(f.conv.Release(src)))

	out, err := f.conv.Convert(src)
	require.NoError(t, err)
	require.NoError(t, f.conv.Release(out))
	require.True(t, utils.IsInvalidState(f.conv.Release(out)))
}

func TestWritePictureRejectsTruncatedPlanes(t *testing.T) {
	t.Parallel()

	pic := &gocedar.Picture{
		Format: gocedar.NV12, Width: 32, Height: 32,
		Luma:   gocedar.Region{Data: make([]byte, 32*32)},
		Chroma: gocedar.Region{Data: make([]byte, 10)},
	}
	_, err := WritePicture(&bytes.Buffer{}, pic)
	require.Error(t, err)
}

func TestSemiPlanarImage(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	ref := newReference(40, 20, 2, 2)
	out, err := f.conv.Convert(f.devicePicture(t, ref, gocedar.YUVMB32420))
	require.NoError(t, err)
	defer func() { require.NoError(t, f.conv.Release(out)) }()

	img, err := NewImage(out)
	require.NoError(t, err)
	require.Equal(t, 40, img.Bounds().Dx())

	c, ok := img.At(5, 7).(color.YCbCr)
	require.True(t, ok)
	require.Equal(t, ref.luma[7*40+5], c.Y)
	require.Equal(t, ref.cb[3*ref.cw+2], c.Cb)
	require.Equal(t, ref.cr[3*ref.cw+2], c.Cr)

	ycc := img.ToYCbCr()
	require.Equal(t, ref.luma[7*40:8*40], ycc.Y[7*ycc.YStride:7*ycc.YStride+40])
	require.Equal(t, ref.cb[:ref.cw], ycc.Cb[:ref.cw])
	require.Equal(t, ref.cr[ref.cw:2*ref.cw], ycc.Cr[ycc.CStride:ycc.CStride+ref.cw])

	_, err = NewImage(&gocedar.Picture{Format: gocedar.YUVMB32420, Width: 2, Height: 2})
	require.Error(t, err)
}
