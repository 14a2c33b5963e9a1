package gocedar

import (
	"fmt"
	"strings"
)

// CodecType represents the compression format handled by a codec session.
type CodecType uint32

// codecTypeMagic keeps codec values away from zero so an unset field is never a valid codec.
const codecTypeMagic = 233333

// Supported codec types.
const (
	H264  CodecType = codecTypeMagic + 1 //nolint:mnd
	MJPEG CodecType = codecTypeMagic + 2 //nolint:mnd
)

// String returns the human-readable string representation of a CodecType.
func (ct CodecType) String() string {
	switch ct {
	case H264:
		return "H264"
	case MJPEG:
		return "MJPEG"
	}
	return "UNKNOWN"
}

// Valid reports whether ct is one of the supported codecs.
func (ct CodecType) Valid() bool {
	return ct == H264 || ct == MJPEG
}

// ParseCodecType converts a configuration string ("h264", "mjpeg", "jpeg") into a CodecType.
func ParseCodecType(s string) (CodecType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "h264", "avc":
		return H264, nil
	case "mjpeg", "jpeg", "jpg":
		return MJPEG, nil
	}
	return 0, fmt.Errorf("unknown codec %q", s)
}
