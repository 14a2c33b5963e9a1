// Package mjpeg holds the JPEG specifics of the codec sessions.
package mjpeg

import (
	"bytes"
	"errors"
	"fmt"
	"image/jpeg"
)

// DefaultQuality is the encoder quality used when none is configured.
const DefaultQuality = 85

var (
	soi = []byte{0xff, 0xd8}
	eoi = []byte{0xff, 0xd9}
)

// ErrNotJPEG is returned for payloads without a JPEG start-of-image marker.
var ErrNotJPEG = errors.New("payload is not a jpeg image")

// CodecParameters describes a single JPEG picture.
type CodecParameters struct {
	Width  int
	Height int
	Size   int // Compressed size in bytes.
}

// Probe reads the picture dimensions from the JPEG header without decoding it.
func Probe(data []byte) (*CodecParameters, error) {
	if !bytes.HasPrefix(data, soi) {
		return nil, ErrNotJPEG
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("can not parse jpeg header: %w", err)
	}
	return &CodecParameters{
		Width:  cfg.Width,
		Height: cfg.Height,
		Size:   len(data),
	}, nil
}

// Complete reports whether data starts with SOI and ends with EOI.
func Complete(data []byte) bool {
	return bytes.HasPrefix(data, soi) && bytes.HasSuffix(data, eoi)
}

func (par *CodecParameters) String() string {
	return fmt.Sprintf("MJPEG_PARAMETERS %dx%d sz=%d", par.Width, par.Height, par.Size)
}
