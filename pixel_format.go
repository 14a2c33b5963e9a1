package gocedar

import (
	"fmt"
	"strings"

	"github.com/ugparu/gocedar/utils"
)

// PixelFormat tags the memory layout of a picture.
type PixelFormat uint8

// Pixel formats produced or consumed by the device and the converter.
const (
	PixelFormatUnknown PixelFormat = iota
	YUVPlanar420                   // Y plane, then U plane, then V plane.
	YUVPlanar422
	YUVPlanar444
	YUVMB32420 // 32x32 byte tiles, Y plane and interleaved CbCr plane.
	YUVMB32422
	YUVMB32444
	NV12 // Linear Y plane and interleaved CbCr plane, 4:2:0.
	NV16 // Same as NV12 with 4:2:2 chroma.
	NV24 // Same as NV12 with 4:4:4 chroma.
)

// MB32TileSize is the edge of a square MB32 tile in bytes.
const MB32TileSize = 32

// Layout holds the per-kind layout parameters of a PixelFormat.
type Layout struct {
	SubX, SubY  int  // Chroma subsampling divisors.
	Tile        int  // Tile edge in bytes, 0 for linear layouts.
	Interleaved bool // CbCr pairs share one plane.
}

// Layout returns the layout parameters of pf or an UnsupportedFormatError.
func (pf PixelFormat) Layout() (Layout, error) {
	switch pf {
	case YUVPlanar420:
		return Layout{SubX: 2, SubY: 2}, nil
	case YUVPlanar422:
		return Layout{SubX: 2, SubY: 1}, nil
	case YUVPlanar444:
		return Layout{SubX: 1, SubY: 1}, nil
	case YUVMB32420:
		return Layout{SubX: 2, SubY: 2, Tile: MB32TileSize, Interleaved: true}, nil
	case YUVMB32422:
		return Layout{SubX: 2, SubY: 1, Tile: MB32TileSize, Interleaved: true}, nil
	case YUVMB32444:
		return Layout{SubX: 1, SubY: 1, Tile: MB32TileSize, Interleaved: true}, nil
	case NV12:
		return Layout{SubX: 2, SubY: 2, Interleaved: true}, nil
	case NV16:
		return Layout{SubX: 2, SubY: 1, Interleaved: true}, nil
	case NV24:
		return Layout{SubX: 1, SubY: 1, Interleaved: true}, nil
	}
	return Layout{}, &utils.UnsupportedFormatError{Format: pf.String()}
}

// Tiled reports whether the layout is split into tiles.
func (l Layout) Tiled() bool {
	return l.Tile > 0
}

// ChromaWidth returns the number of chroma samples per row for a picture of width w.
func (l Layout) ChromaWidth(w int) int {
	return (w + l.SubX - 1) / l.SubX
}

// ChromaHeight returns the number of chroma rows for a picture of height h.
func (l Layout) ChromaHeight(h int) int {
	return (h + l.SubY - 1) / l.SubY
}

// LumaSize returns the luma plane size in bytes, including tile padding.
func (l Layout) LumaSize(w, h int) int {
	if l.Tiled() {
		return alignUp(w, l.Tile) * alignUp(h, l.Tile)
	}
	return w * h
}

// ChromaSize returns the size in bytes of both chroma components, including tile padding.
func (l Layout) ChromaSize(w, h int) int {
	rowBytes := 2 * l.ChromaWidth(w) //nolint:mnd // Cb and Cr
	rows := l.ChromaHeight(h)
	if l.Tiled() {
		return alignUp(rowBytes, l.Tile) * alignUp(rows, l.Tile)
	}
	return rowBytes * rows
}

// FrameSize returns the luma plus chroma size of a w x h picture in format pf.
func (pf PixelFormat) FrameSize(w, h int) (int, error) {
	l, err := pf.Layout()
	if err != nil {
		return 0, err
	}
	return l.LumaSize(w, h) + l.ChromaSize(w, h), nil
}

// Tiled reports whether pf is a device tiled format.
func (pf PixelFormat) Tiled() bool {
	l, err := pf.Layout()
	return err == nil && l.Tiled()
}

// SemiPlanar returns the linear semi-planar format with the same chroma subsampling as pf.
func (pf PixelFormat) SemiPlanar() (PixelFormat, error) {
	switch pf {
	case YUVPlanar420, YUVMB32420, NV12:
		return NV12, nil
	case YUVPlanar422, YUVMB32422, NV16:
		return NV16, nil
	case YUVPlanar444, YUVMB32444, NV24:
		return NV24, nil
	}
	return PixelFormatUnknown, &utils.UnsupportedFormatError{Format: pf.String()}
}

var pixelFormatNames = map[PixelFormat]string{
	YUVPlanar420: "yuv420p",
	YUVPlanar422: "yuv422p",
	YUVPlanar444: "yuv444p",
	YUVMB32420:   "mb32-420",
	YUVMB32422:   "mb32-422",
	YUVMB32444:   "mb32-444",
	NV12:         "nv12",
	NV16:         "nv16",
	NV24:         "nv24",
}

// String returns the short name of the pixel format.
func (pf PixelFormat) String() string {
	if name, ok := pixelFormatNames[pf]; ok {
		return name
	}
	return fmt.Sprintf("unknown(%d)", uint8(pf))
}

// ParsePixelFormat converts a short name produced by String back into a PixelFormat.
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for pf, name := range pixelFormatNames {
		if name == s {
			return pf, nil
		}
	}
	return PixelFormatUnknown, &utils.UnsupportedFormatError{Format: s}
}

func alignUp(v, a int) int {
	return (v + a - 1) / a * a
}
