package yuv

import (
	"fmt"
	"image"
	"image/color"

	"github.com/ugparu/gocedar"
)

// SemiPlanar is an image.Image over a linear Y plane and an interleaved CbCr plane.
type SemiPlanar struct {
	Y       []byte
	CbCr    []byte
	YStride int
	CStride int // Bytes per chroma row, two per chroma sample.
	SubX    int
	SubY    int
	Rect    image.Rectangle
}

// NewImage wraps the planes of a semi-planar picture. The image shares the picture memory.
func NewImage(pic *gocedar.Picture) (*SemiPlanar, error) {
	l, err := pic.Format.Layout()
	if err != nil {
		return nil, err
	}
	if l.Tiled() || !l.Interleaved {
		return nil, fmt.Errorf("%v is not a linear semi-planar format", pic.Format)
	}
	if pic.Luma.Len() < l.LumaSize(pic.Width, pic.Height) || pic.Chroma.Len() < l.ChromaSize(pic.Width, pic.Height) {
		return nil, fmt.Errorf("planes too small for %v", pic)
	}
	return &SemiPlanar{
		Y:       pic.Luma.Data,
		CbCr:    pic.Chroma.Data,
		YStride: pic.Width,
		CStride: 2 * l.ChromaWidth(pic.Width), //nolint:mnd // Cb and Cr
		SubX:    l.SubX,
		SubY:    l.SubY,
		Rect:    image.Rect(0, 0, pic.Width, pic.Height),
	}, nil
}

// ColorModel returns color.YCbCrModel.
func (*SemiPlanar) ColorModel() color.Model {
	return color.YCbCrModel
}

// Bounds returns the rectangle of the image.
func (img *SemiPlanar) Bounds() image.Rectangle {
	return img.Rect
}

// YOffset returns the index of the luma sample of pixel (x, y).
func (img *SemiPlanar) YOffset(x, y int) int {
	return (y-img.Rect.Min.Y)*img.YStride + (x - img.Rect.Min.X)
}

// COffset returns the index of the Cb sample of pixel (x, y); Cr follows it.
func (img *SemiPlanar) COffset(x, y int) int {
	return (y-img.Rect.Min.Y)/img.SubY*img.CStride + (x-img.Rect.Min.X)/img.SubX*2
}

// At returns the color at pixel (x, y).
func (img *SemiPlanar) At(x, y int) color.Color {
	return img.YCbCrAt(x, y)
}

// YCbCrAt returns the color at pixel (x, y) without boxing.
func (img *SemiPlanar) YCbCrAt(x, y int) color.YCbCr {
	if !(image.Point{x, y}.In(img.Rect)) {
		return color.YCbCr{}
	}
	c := img.COffset(x, y)
	return color.YCbCr{Y: img.Y[img.YOffset(x, y)], Cb: img.CbCr[c], Cr: img.CbCr[c+1]}
}

// Opaque reports whether the image is opaque.
func (*SemiPlanar) Opaque() bool {
	return true
}

// SubImage returns the portion of the image inside r, sharing the pixels.
func (img *SemiPlanar) SubImage(r image.Rectangle) image.Image {
	r = r.Intersect(img.Rect)
	if r.Empty() {
		return &SemiPlanar{SubX: img.SubX, SubY: img.SubY}
	}
	sub := *img
	sub.Rect = r
	return &sub
}

// ToYCbCr copies the image into a planar image.YCbCr, which the stdlib
// encoders and x/image/draw handle on their fast paths.
func (img *SemiPlanar) ToYCbCr() *image.YCbCr {
	ratio := image.YCbCrSubsampleRatio444
	switch {
	case img.SubX == 2 && img.SubY == 2:
		ratio = image.YCbCrSubsampleRatio420
	case img.SubX == 2 && img.SubY == 1:
		ratio = image.YCbCrSubsampleRatio422
	}

	out := image.NewYCbCr(img.Rect, ratio)
	w, h := img.Rect.Dx(), img.Rect.Dy()
	for y := range h {
		copy(out.Y[y*out.YStride:y*out.YStride+w], img.Y[img.YOffset(img.Rect.Min.X, img.Rect.Min.Y+y):])
	}
	cw, ch := (w+img.SubX-1)/img.SubX, (h+img.SubY-1)/img.SubY
	for y := range ch {
		row := img.CbCr[img.COffset(img.Rect.Min.X, img.Rect.Min.Y+y*img.SubY):]
		for x := range cw {
			out.Cb[y*out.CStride+x] = row[2*x]
			out.Cr[y*out.CStride+x] = row[2*x+1]
		}
	}
	return out
}
