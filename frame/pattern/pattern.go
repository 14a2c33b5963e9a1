// Package pattern generates the NV12 color bar test pattern with a moving inverted band.
package pattern

import (
	"errors"
	"fmt"
	"time"

	"github.com/ugparu/gocedar"
)

// BandHeight is the height in rows of the inverted band.
const BandHeight = 50

// Color is one palette entry in YUV.
type Color struct {
	Y, U, V uint8
}

// Invert returns 255 - c for every component.
func (c Color) Invert() Color {
	return Color{Y: 255 - c.Y, U: 255 - c.U, V: 255 - c.V}
}

// Palette holds the bar colors from left to right.
var Palette = [...]Color{
	{104, 128, 128}, // 40% gray
	{180, 128, 128}, // 75% white
	{168, 44, 136},  // 75% cyan
	{133, 63, 52},   // 75% green
	{63, 193, 204},  // 75% magenta
	{51, 109, 212},  // 75% red
	{28, 212, 120},  // 75% blue
	{16, 128, 128},  // 75% black
}

// ErrTooShort is returned for pictures not taller than the band.
var ErrTooShort = fmt.Errorf("pattern height must exceed %d rows", BandHeight)

// BandOffset returns the first row of the band at step.
func BandOffset(height, step int) int {
	return (step * 2) % (height - BandHeight)
}

// ColumnColor returns the palette entry of column x.
func ColumnColor(width, x int) Color {
	colorWidth := max(width/len(Palette), 1)
	return Palette[min(x/colorWidth, len(Palette)-1)]
}

// ChromaSize returns the interleaved CbCr size of a w x h NV12 picture.
func ChromaSize(w, h int) int {
	return ((h + 1) / 2) * ((w + 1) / 2) * 2
}

// Generate fills packed NV12 planes of a width x height picture for step.
func Generate(width, height, step int, luma, chroma []byte) error {
	return GenerateStride(width, height, width, step, luma, chroma)
}

// GenerateStride is Generate for planes whose luma rows are stride bytes apart.
// Chroma rows are 2*ceil(stride/2) bytes apart.
func GenerateStride(width, height, stride, step int, luma, chroma []byte) error {
	if height <= BandHeight {
		return ErrTooShort
	}
	if width <= 0 || stride < width {
		return fmt.Errorf("invalid width %d for stride %d", width, stride)
	}
	chromaStride := 2 * ((stride + 1) / 2)
	if len(luma) < (height-1)*stride+width {
		return errors.New("luma plane too small")
	}
	if len(chroma) < ((height+1)/2-1)*chromaStride+2*((width+1)/2) {
		return errors.New("chroma plane too small")
	}

	bandY := BandOffset(height, step)
	for y := range height {
		inBand := y >= bandY && y < bandY+BandHeight
		row := luma[y*stride : y*stride+width]
		var crow []byte
		if y%2 == 0 {
			crow = chroma[(y/2)*chromaStride:]
		}
		for x := range width {
			c := ColumnColor(width, x)
			if inBand {
				c = c.Invert()
			}
			row[x] = c.Y
			if crow != nil && x%2 == 0 {
				crow[x] = c.U
				crow[x+1] = c.V
			}
		}
	}
	return nil
}

// Source is a FrameSource producing one pattern step per frame.
type Source struct {
	FrameDuration time.Duration
	step          int
}

// NewSource returns a source stamping frames at fps.
func NewSource(fps uint) *Source {
	src := &Source{}
	if fps > 0 {
		src.FrameDuration = time.Second / time.Duration(fps)
	}
	return src
}

// ReadFrame writes the next step into frm and advances.
func (src *Source) ReadFrame(frm *gocedar.Frame) error {
	stride := frm.Stride
	if stride == 0 {
		stride = frm.Width
	}
	if err := GenerateStride(frm.Width, frm.Height, stride, src.step, frm.Luma, frm.Chroma); err != nil {
		return err
	}
	frm.Timestamp = time.Duration(src.step) * src.FrameDuration
	src.step++
	return nil
}

// Step returns the index of the next frame.
func (src *Source) Step() int {
	return src.step
}
