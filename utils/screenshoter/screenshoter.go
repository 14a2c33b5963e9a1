// Package screenshoter renders JPEG previews of converted pictures.
package screenshoter

import (
	"bytes"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/frame/yuv"
	"github.com/ugparu/gocedar/utils/logger"
)

// DefaultWidth is the preview width used when none is configured.
const DefaultWidth = 640

// Screenshoter turns a host owned semi-planar picture into a JPEG preview.
type Screenshoter interface {
	Screenshot(pic *gocedar.Picture) ([]byte, error)
}

// NewScreenshoter returns a screenshoter scaling pictures down to width, keeping the aspect ratio.
func NewScreenshoter(width int, quality int) Screenshoter {
	if width <= 0 {
		width = DefaultWidth
	}
	return &jpegScreenshoter{width: width, quality: quality}
}

type jpegScreenshoter struct {
	width   int
	quality int
}

// Screenshot scales pic and encodes it as JPEG. Pictures narrower than the
// preview width are encoded at their own size.
func (s *jpegScreenshoter) Screenshot(pic *gocedar.Picture) ([]byte, error) {
	src, err := yuv.NewImage(pic)
	if err != nil {
		return nil, err
	}

	var img image.Image = src.ToYCbCr()
	if pic.Width > s.width {
		height := max(pic.Height*s.width/pic.Width, 1)
		small := image.NewRGBA(image.Rect(0, 0, s.width, height))
		draw.ApproxBiLinear.Scale(small, small.Rect, img, img.Bounds(), draw.Src, nil)
		img = small
	}

	buf := new(bytes.Buffer)
	var opts *jpeg.Options
	if s.quality > 0 {
		opts = &jpeg.Options{Quality: s.quality}
	}
	if err = jpeg.Encode(buf, img, opts); err != nil {
		return nil, err
	}
	logger.Debugf(s, "Preview of %v: %d bytes", pic, buf.Len())
	return buf.Bytes(), nil
}

func (s *jpegScreenshoter) String() string {
	return "SCREENSHOTER"
}
