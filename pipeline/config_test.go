package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec/h264"
	"github.com/ugparu/gocedar/device/sim"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	par, err := cfg.EncodeParams()
	require.NoError(t, err)
	require.Equal(t, gocedar.MJPEG, par.Codec)
	require.EqualValues(t, 512000, par.Bitrate)
	require.EqualValues(t, 25, par.Framerate)
	require.EqualValues(t, 15, par.KeyInterval)
	require.Equal(t, h264.ProfileBaseline, par.Profile)
	require.Equal(t, h264.Level31, par.Level)
	require.EqualValues(t, 10, par.QPMin)
	require.EqualValues(t, 50, par.QPMax)
	require.True(t, par.CABAC)
	require.True(t, par.LongRef)
	require.EqualValues(t, 1<<20, par.VBVSize)
	require.Equal(t, gocedar.Geometry{Width: 1280, Height: 720, Format: gocedar.NV12}, par.Input)
	require.Equal(t, 40*time.Millisecond, par.FrameDuration())

	info, err := cfg.DecodeParams()
	require.NoError(t, err)
	require.Equal(t, gocedar.YUVMB32420, info.OutputFormat)
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "cedar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
codec: jpeg
width: 640
height: 480
jpeg_quality: 60
output_format: yuv420p
warmup_decodes: 0
timeout: 250ms
status_addr: ":8080"
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 640, cfg.Width)
	require.Equal(t, 480, cfg.Height)
	require.Equal(t, 60, cfg.JPEGQuality)
	require.Equal(t, 0, cfg.WarmupDecodes)
	require.Equal(t, 250*time.Millisecond, cfg.Timeout)
	require.Equal(t, ":8080", cfg.StatusAddr)
	// Unset keys keep their defaults.
	require.Equal(t, BackendSim, cfg.Backend)
	require.EqualValues(t, 512000, cfg.Bitrate)
	require.Equal(t, 1, cfg.Frames)

	info, err := cfg.DecodeParams()
	require.NoError(t, err)
	require.Equal(t, gocedar.YUVPlanar420, info.OutputFormat)
}

func TestLoadConfigErrors(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)

	tests := []struct {
		name string
		body string
	}{
		{"syntax", "width: [1"},
		{"backend", "backend: gpu"},
		{"qp", "qp_min: 40\nqp_max: 20"},
		{"frames", "frames: 0"},
		{"format", "input_format: rgb24"},
		{"profile", "profile: extended"},
		{"level", "level: \"9.9\""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.body), 0o600))
			_, err := LoadConfig(path)
			require.Error(t, err)
		})
	}
}

func TestNewBackend(t *testing.T) {
	t.Parallel()
	backend, err := NewBackend(DefaultConfig())
	require.NoError(t, err)
	require.IsType(t, &sim.Backend{}, backend)

	cfg := DefaultConfig()
	cfg.Backend = "gpu"
	_, err = NewBackend(cfg)
	require.Error(t, err)
}
