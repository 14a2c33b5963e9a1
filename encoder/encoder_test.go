package encoder

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec"
	"github.com/ugparu/gocedar/codec/mjpeg"
	"github.com/ugparu/gocedar/device/sim"
	"github.com/ugparu/gocedar/frame/pattern"
	"github.com/ugparu/gocedar/memory"
	"github.com/ugparu/gocedar/pool"
	"github.com/ugparu/gocedar/utils"
)

const testWidth, testHeight = 128, 96

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	os.Exit(m.Run())
}

type fixture struct {
	enc     *Encoder
	backend *sim.Backend
	mem     *memory.Handle
}

func newFixture(t *testing.T, codecType gocedar.CodecType, simOpts []sim.Option, opts ...Option) *fixture {
	t.Helper()
	backend := sim.New(append([]sim.Option{sim.WithHeapSize(8 * 1024 * 1024)}, simOpts...)...)
	mem, err := memory.Open(backend.Memory())
	require.NoError(t, err)

	dev, err := backend.NewEncoder(codecType)
	require.NoError(t, err)
	enc := New(dev, mem, opts...)

	t.Cleanup(func() {
		require.NoError(t, enc.Destroy())
		mem.Close()
		require.NoError(t, mem.Err())
	})
	return &fixture{enc: enc, backend: backend, mem: mem}
}

func testParams() codec.Params {
	return codec.Params{
		Codec:       gocedar.MJPEG,
		Bitrate:     512000,
		Framerate:   25,
		KeyInterval: 15,
		QPMin:       10,
		QPMax:       50,
		JPEGQuality: 90,
		Input:       gocedar.Geometry{Width: testWidth, Height: testHeight, Format: gocedar.NV12},
	}
}

func (f *fixture) start(t *testing.T, count int) {
	t.Helper()
	require.NoError(t, f.enc.Configure(testParams()))
	require.NoError(t, f.enc.Init(context.Background()))
	require.NoError(t, f.enc.AllocateInputs(count))
}

func TestEncodeFrames(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gocedar.MJPEG, nil)
	f.start(t, 1)
	require.Equal(t, gocedar.SessionInitialized, f.enc.State())

	src := pattern.NewSource(25)
	for i := range 3 {
		buf, err := f.enc.Acquire()
		require.NoError(t, err)

		flushes := f.backend.Heap().Flushes()
		require.NoError(t, f.enc.FillInput(buf, src))
		require.Equal(t, flushes+2, f.backend.Heap().Flushes())
		require.Equal(t, pool.Filled, buf.State())

		ts := time.Duration(i) * 40 * time.Millisecond
		pkt, err := f.enc.SubmitAndEncode(context.Background(), buf, ts)
		require.NoError(t, err)
		require.Equal(t, pool.Returned, buf.State())
		require.Equal(t, gocedar.SessionRunning, f.enc.State())

		require.True(t, pkt.KeyFrame)
		require.Equal(t, ts, pkt.Timestamp)
		require.True(t, mjpeg.Complete(pkt.Data()))
		par, err := mjpeg.Probe(pkt.Data())
		require.NoError(t, err)
		require.Equal(t, testWidth, par.Width)

		img, err := jpeg.Decode(bytes.NewReader(pkt.Data()))
		require.NoError(t, err)
		ycc, ok := img.(*image.YCbCr)
		require.True(t, ok)
		// Below the band, first bar.
		require.InDelta(t, int(pattern.Palette[0].Y), int(ycc.Y[ycc.YOffset(4, testHeight-4)]), 4)
		pkt.Close()

		require.NoError(t, f.enc.Release(buf))
		require.Equal(t, pool.Stats{Free: 1}, f.enc.Inputs().Stats())
	}

	st := f.enc.Stats()
	require.EqualValues(t, 3, st.Frames)
	require.EqualValues(t, 3, st.KeyFrames)
	require.NotZero(t, st.Bytes)
}

func TestLifecycleErrors(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gocedar.MJPEG, nil)

	require.True(t, utils.IsInvalidState(f.enc.Init(context.Background())))
	_, err := f.enc.Acquire()
	require.True(t, utils.IsInvalidState(err))
	require.True(t, utils.IsInvalidState(f.enc.AllocateInputs(1)))

	bad := testParams()
	bad.Bitrate = 0
	require.Error(t, f.enc.Configure(bad))
	require.Equal(t, gocedar.SessionCreated, f.enc.State())

	require.NoError(t, f.enc.Configure(testParams()))
	require.NoError(t, f.enc.Configure(testParams()))
	require.NoError(t, f.enc.Init(context.Background()))
	require.True(t, utils.IsInvalidState(f.enc.Configure(testParams())))

	_, err = f.enc.Acquire()
	require.True(t, utils.IsInvalidState(err), "inputs are not allocated yet")
	require.NoError(t, f.enc.AllocateInputs(2))
	require.True(t, utils.IsInvalidState(f.enc.AllocateInputs(2)))
}

func TestSubmitRequiresFilledBuffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gocedar.MJPEG, nil)
	f.start(t, 2)

	buf, err := f.enc.Acquire()
	require.NoError(t, err)
	_, err = f.enc.SubmitAndEncode(context.Background(), buf, 0)
	require.True(t, utils.IsInvalidState(err))
	require.Equal(t, pool.Acquired, buf.State())

	require.NoError(t, f.enc.FillInput(buf, pattern.NewSource(25)))
	require.True(t, utils.IsInvalidState(f.enc.FillInput(buf, pattern.NewSource(25))))
}

func TestNilBufferIsInvalidState(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gocedar.MJPEG, nil)
	f.start(t, 1)

	require.True(t, utils.IsInvalidState(f.enc.FillInput(nil, pattern.NewSource(25))))
	pkt, err := f.enc.SubmitAndEncode(context.Background(), nil, 0)
	require.Nil(t, pkt)
	require.True(t, utils.IsInvalidState(err))
	require.True(t, utils.IsInvalidState(f.enc.Release(nil)))
	require.Equal(t, 1, f.enc.Inputs().Stats().Free)
}

func TestReleaseSubmittedBuffer(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gocedar.MJPEG, []sim.Option{sim.WithLatency(50 * time.Millisecond)}, WithTimeout(0))
	f.start(t, 2)

	buf, err := f.enc.Acquire()
	require.NoError(t, err)
	require.NoError(t, f.enc.FillInput(buf, pattern.NewSource(25)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	_, err = f.enc.SubmitAndEncode(ctx, buf, 0)
	var timeout *utils.TimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, pool.Submitted, buf.State())

	// The session is poisoned until Destroy.
	_, err = f.enc.Acquire()
	require.ErrorAs(t, err, &timeout)

	before := f.enc.Inputs().Stats()
	require.Error(t, f.enc.Inputs().Release(buf))
	require.Equal(t, before, f.enc.Inputs().Stats())
	require.Equal(t, 1, before.Free)
}

func TestH264RejectedBySimulator(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gocedar.H264, nil)

	par := testParams()
	par.Codec = gocedar.H264
	require.NoError(t, f.enc.Configure(par))

	var initErr *utils.InitError
	require.ErrorAs(t, f.enc.Init(context.Background()), &initErr)
	require.Equal(t, gocedar.SessionConfigured, f.enc.State())
}

func TestDestroyIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, gocedar.MJPEG, nil)
	f.start(t, 3)

	_, err := f.enc.Acquire()
	require.NoError(t, err)
	require.NoError(t, f.enc.Destroy())
	require.NoError(t, f.enc.Destroy())
	require.Equal(t, gocedar.SessionDestroyed, f.enc.State())
	require.Zero(t, f.backend.Heap().Live())

	_, err = f.enc.Acquire()
	require.True(t, utils.IsInvalidState(err))
}
