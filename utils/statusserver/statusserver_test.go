package statusserver

import (
	"bytes"
	"encoding/json"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec"
	"github.com/ugparu/gocedar/utils/screenshoter"
)

func TestMain(m *testing.M) {
	logrus.SetLevel(logrus.ErrorLevel)
	os.Exit(m.Run())
}

type testStatus struct {
	Mode   string `json:"mode"`
	Frames uint64 `json:"frames"`
}

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestStatus(t *testing.T) {
	t.Parallel()
	s := New(":0", func() any { return testStatus{Mode: "encode", Frames: 3} }, nil)

	rec := get(t, s, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var st testStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	require.Equal(t, testStatus{Mode: "encode", Frames: 3}, st)
}

func TestPreviewFromPacket(t *testing.T) {
	t.Parallel()
	s := New(":0", func() any { return nil }, nil)
	require.Equal(t, http.StatusNotFound, get(t, s, "/preview.jpg").Code)

	payload := []byte{0xff, 0xd8, 0x01, 0x02, 0xff, 0xd9}
	pkt := codec.NewPacket(gocedar.MJPEG, payload, 0, 0, true)
	s.OnPacket(pkt)
	pkt.Close()

	rec := get(t, s, "/preview.jpg")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	require.Equal(t, payload, rec.Body.Bytes())

	// H.264 frames are not previews.
	s.OnPacket(codec.NewPacket(gocedar.H264, []byte{0, 0, 0, 1, 0x65}, 0, 0, true))
	require.Equal(t, payload, s.Preview())

	next := []byte{0xff, 0xd8, 0x03, 0xff, 0xd9}
	pkt = codec.NewPacket(gocedar.MJPEG, next, 0, 0, true)
	s.OnPacket(pkt)
	pkt.Close()
	require.Equal(t, next, s.Preview())

	s.Close()
	require.Nil(t, s.Preview())
}

func TestPreviewFromPicture(t *testing.T) {
	t.Parallel()
	s := New(":0", func() any { return nil }, screenshoter.NewScreenshoter(32, 80))

	w, h := 64, 48
	pic := &gocedar.Picture{
		Format: gocedar.NV12, Width: w, Height: h,
		Luma:   gocedar.Region{Data: bytes.Repeat([]byte{90}, w*h)},
		Chroma: gocedar.Region{Data: bytes.Repeat([]byte{128}, w*h/2)},
		Index:  -1,
	}
	s.OnPicture(pic)

	rec := get(t, s, "/preview.jpg")
	require.Equal(t, http.StatusOK, rec.Code)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	require.Equal(t, 32, cfg.Width)
	require.Equal(t, 24, cfg.Height)
}

func TestPprofRegistered(t *testing.T) {
	t.Parallel()
	s := New(":0", func() any { return nil }, nil)
	require.Equal(t, http.StatusOK, get(t, s, "/debug/pprof/cmdline").Code)
}

func TestStartAndClose(t *testing.T) {
	t.Parallel()
	s := New("127.0.0.1:0", func() any { return nil }, nil)
	go s.Start()
	s.Close()
	<-s.Dead()
}
