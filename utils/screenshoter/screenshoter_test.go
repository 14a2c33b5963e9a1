package screenshoter

import (
	"bytes"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ugparu/gocedar"
)

func nv12(w, h int) *gocedar.Picture {
	luma := make([]byte, w*h)
	for i := range luma {
		luma[i] = 120
	}
	chroma := make([]byte, ((w+1)/2)*((h+1)/2)*2)
	for i := range chroma {
		chroma[i] = 128
	}
	return &gocedar.Picture{
		Format: gocedar.NV12, Width: w, Height: h,
		Luma:   gocedar.Region{Data: luma},
		Chroma: gocedar.Region{Data: chroma},
		Index:  -1,
	}
}

func TestScreenshotScalesDown(t *testing.T) {
	t.Parallel()

	data, err := NewScreenshoter(320, 80).Screenshot(nv12(1280, 720))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 320, cfg.Width)
	require.Equal(t, 180, cfg.Height)
}

func TestScreenshotKeepsSmallPictures(t *testing.T) {
	t.Parallel()

	data, err := NewScreenshoter(0, 0).Screenshot(nv12(64, 48))
	require.NoError(t, err)
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, 64, cfg.Width)
}

func TestScreenshotRejectsTiled(t *testing.T) {
	t.Parallel()

	pic := nv12(64, 64)
	pic.Format = gocedar.YUVMB32420
	_, err := NewScreenshoter(0, 0).Screenshot(pic)
	require.Error(t, err)
}
