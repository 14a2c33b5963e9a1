package codec

import (
	"errors"
	"fmt"
	"time"

	"github.com/ugparu/gocedar"
)

// Params is the immutable configuration snapshot of an encode session.
// Changing any field requires a new session.
type Params struct {
	Codec       gocedar.CodecType
	Bitrate     uint // Target bitrate in bits per second.
	Framerate   uint // Frames per second.
	KeyInterval uint // Frames between two keyframes (GOP length).
	Profile     uint8
	Level       uint8
	QPMin       uint8
	QPMax       uint8
	CABAC       bool
	LongRef     bool
	VBVSize     uint // Bitstream buffer size in bytes, 0 leaves the device default.
	JPEGQuality int  // 1..100, MJPEG only.
	Input       gocedar.Geometry
	Target      gocedar.Geometry // Zero width/height means same as Input.
}

// Validate checks the parameter ranges.
func (par Params) Validate() error {
	var errs []error
	if !par.Codec.Valid() {
		errs = append(errs, fmt.Errorf("unsupported codec %v", par.Codec))
	}
	if par.Bitrate == 0 {
		errs = append(errs, errors.New("bitrate must be positive"))
	}
	if par.Framerate == 0 {
		errs = append(errs, errors.New("framerate must be positive"))
	}
	if par.QPMin > par.QPMax {
		errs = append(errs, fmt.Errorf("qp min %d is greater than qp max %d", par.QPMin, par.QPMax))
	}
	if par.Codec == gocedar.MJPEG && (par.JPEGQuality < 1 || par.JPEGQuality > 100) {
		errs = append(errs, fmt.Errorf("jpeg quality %d out of range 1..100", par.JPEGQuality))
	}
	if err := par.Input.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("input: %w", err))
	}
	if par.Target.Width < 0 || par.Target.Height < 0 {
		errs = append(errs, fmt.Errorf("invalid target %dx%d", par.Target.Width, par.Target.Height))
	}
	if len(errs) != 0 {
		return fmt.Errorf("invalid codec parameters: %w", errors.Join(errs...))
	}
	return nil
}

// TargetGeometry returns the encoded picture geometry.
func (par Params) TargetGeometry() gocedar.Geometry {
	if par.Target.Width == 0 || par.Target.Height == 0 {
		return gocedar.Geometry{Width: par.Input.Width, Height: par.Input.Height, Format: par.Input.Format}
	}
	return par.Target
}

// FrameDuration is the presentation step between two frames.
func (par Params) FrameDuration() time.Duration {
	if par.Framerate == 0 {
		return 0
	}
	return time.Second / time.Duration(par.Framerate)
}

func (par Params) String() string {
	return fmt.Sprintf("CODEC_PARAMETERS codec=%v br=%d fps=%d gop=%d qp=%d..%d in=%v", par.Codec,
		par.Bitrate, par.Framerate, par.KeyInterval, par.QPMin, par.QPMax, par.Input)
}
