// Package mb32 maps byte planes to and from the MB32 layout: 32x32 byte tiles
// stored tile row by tile row, each tile holding 32 rows of 32 bytes.
package mb32

import "fmt"

const (
	// TileSize is the tile edge in bytes.
	TileSize = 32
	tileArea = TileSize * TileSize
)

// AlignedSize returns the tiled size of a w x h byte plane.
func AlignedSize(w, h int) int {
	return align(w) * align(h)
}

func align(v int) int {
	return (v + TileSize - 1) / TileSize * TileSize
}

// Offset returns the position of byte (x, y) inside a tiled plane that is w bytes wide.
func Offset(x, y, w int) int {
	tilesPerRow := align(w) / TileSize
	tile := (y/TileSize)*tilesPerRow + x/TileSize
	return tile*tileArea + (y%TileSize)*TileSize + x%TileSize
}

func check(tiled []byte, linear []byte, stride, w, h int) error {
	if need := AlignedSize(w, h); len(tiled) < need {
		return fmt.Errorf("tiled plane has %d bytes, need %d", len(tiled), need)
	}
	if stride < w {
		return fmt.Errorf("stride %d is smaller than width %d", stride, w)
	}
	if h > 0 && len(linear) < (h-1)*stride+w {
		return fmt.Errorf("linear plane has %d bytes, need %d", len(linear), (h-1)*stride+w)
	}
	return nil
}

// Untile copies a w x h byte plane out of the tiled src into dst rows of dstStride bytes.
func Untile(dst []byte, dstStride int, src []byte, w, h int) error {
	if err := check(src, dst, dstStride, w, h); err != nil {
		return err
	}
	tilesPerRow := align(w) / TileSize
	for y := range h {
		rowBase := (y/TileSize)*tilesPerRow*tileArea + (y%TileSize)*TileSize
		line := dst[y*dstStride : y*dstStride+w]
		for tx := 0; tx*TileSize < w; tx++ {
			off := rowBase + tx*tileArea
			copy(line[tx*TileSize:], src[off:off+TileSize])
		}
	}
	return nil
}

// Tile writes the w x h byte plane src, with rows of srcStride bytes, into the tiled dst.
// Padding bytes of dst are left untouched.
func Tile(dst []byte, src []byte, srcStride, w, h int) error {
	if err := check(dst, src, srcStride, w, h); err != nil {
		return err
	}
	tilesPerRow := align(w) / TileSize
	for y := range h {
		rowBase := (y/TileSize)*tilesPerRow*tileArea + (y%TileSize)*TileSize
		line := src[y*srcStride : y*srcStride+w]
		for tx := 0; tx*TileSize < w; tx++ {
			off := rowBase + tx*tileArea
			copy(dst[off:off+TileSize], line[tx*TileSize:])
		}
	}
	return nil
}
