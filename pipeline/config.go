package pipeline

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec"
	"github.com/ugparu/gocedar/codec/h264"
	"github.com/ugparu/gocedar/codec/mjpeg"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/device/cedar"
	"github.com/ugparu/gocedar/device/sim"
)

// Backend names accepted by Config.Backend.
const (
	BackendSim   = "sim"
	BackendCedar = "cedar"
)

// Config describes one encode or decode run.
type Config struct {
	Backend string `yaml:"backend"`
	Codec   string `yaml:"codec"`

	Width       int    `yaml:"width"`
	Height      int    `yaml:"height"`
	Stride      int    `yaml:"stride"`
	Bitrate     uint   `yaml:"bitrate"`
	Framerate   uint   `yaml:"framerate"`
	KeyInterval uint   `yaml:"key_interval"`
	Profile     string `yaml:"profile"`
	Level       string `yaml:"level"`
	QPMin       uint8  `yaml:"qp_min"`
	QPMax       uint8  `yaml:"qp_max"`
	CABAC       bool   `yaml:"cabac"`
	LongRef     bool   `yaml:"long_ref"`
	VBVSize     uint   `yaml:"vbv_size"`
	JPEGQuality int    `yaml:"jpeg_quality"`

	InputFormat  string `yaml:"input_format"`
	OutputFormat string `yaml:"output_format"`

	Frames        int           `yaml:"frames"`
	InputBuffers  int           `yaml:"input_buffers"`
	WarmupDecodes int           `yaml:"warmup_decodes"`
	Timeout       time.Duration `yaml:"timeout"`

	Input      string `yaml:"input"`
	Output     string `yaml:"output"`
	Preview    string `yaml:"preview"`
	StatusAddr string `yaml:"status_addr"`
	LogLevel   string `yaml:"log_level"`
}

// DefaultConfig returns the reference board configuration.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendSim,
		Codec:         "mjpeg",
		Width:         1280, //nolint:mnd
		Height:        720,  //nolint:mnd
		Bitrate:       512000,
		Framerate:     25, //nolint:mnd
		KeyInterval:   15, //nolint:mnd
		Profile:       "baseline",
		Level:         "3.1",
		QPMin:         10, //nolint:mnd
		QPMax:         50, //nolint:mnd
		CABAC:         true,
		LongRef:       true,
		VBVSize:       1 << 20, //nolint:mnd
		JPEGQuality:   mjpeg.DefaultQuality,
		InputFormat:   gocedar.NV12.String(),
		OutputFormat:  gocedar.YUVMB32420.String(),
		Frames:        1,
		InputBuffers:  1,
		WarmupDecodes: 1,
		Timeout:       5 * time.Second, //nolint:mnd
		LogLevel:      "info",
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("can not read config: %w", err)
	}
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("can not parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks the run settings and both parameter conversions.
func (cfg Config) Validate() error {
	var errs []error
	if cfg.Backend != BackendSim && cfg.Backend != BackendCedar {
		errs = append(errs, fmt.Errorf("unknown backend %q", cfg.Backend))
	}
	if cfg.Frames < 1 {
		errs = append(errs, fmt.Errorf("frames must be positive, got %d", cfg.Frames))
	}
	if cfg.InputBuffers < 1 {
		errs = append(errs, fmt.Errorf("input buffers must be positive, got %d", cfg.InputBuffers))
	}
	if cfg.WarmupDecodes < 0 {
		errs = append(errs, fmt.Errorf("warmup decodes must not be negative, got %d", cfg.WarmupDecodes))
	}
	if cfg.Timeout < 0 {
		errs = append(errs, fmt.Errorf("negative timeout %v", cfg.Timeout))
	}
	if _, err := cfg.EncodeParams(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cfg.DecodeParams(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) != 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EncodeParams converts the encoder fields into a validated parameter snapshot.
func (cfg Config) EncodeParams() (codec.Params, error) {
	codecType, err := gocedar.ParseCodecType(cfg.Codec)
	if err != nil {
		return codec.Params{}, err
	}
	format, err := gocedar.ParsePixelFormat(cfg.InputFormat)
	if err != nil {
		return codec.Params{}, err
	}
	profile, err := h264.ParseProfile(cfg.Profile)
	if err != nil {
		return codec.Params{}, err
	}
	level, err := h264.ParseLevel(cfg.Level)
	if err != nil {
		return codec.Params{}, err
	}
	par := codec.Params{
		Codec:       codecType,
		Bitrate:     cfg.Bitrate,
		Framerate:   cfg.Framerate,
		KeyInterval: cfg.KeyInterval,
		Profile:     profile,
		Level:       level,
		QPMin:       cfg.QPMin,
		QPMax:       cfg.QPMax,
		CABAC:       cfg.CABAC,
		LongRef:     cfg.LongRef,
		VBVSize:     cfg.VBVSize,
		JPEGQuality: cfg.JPEGQuality,
		Input: gocedar.Geometry{
			Width:  cfg.Width,
			Height: cfg.Height,
			Stride: cfg.Stride,
			Format: format,
		},
	}
	return par, par.Validate()
}

// DecodeParams converts the decoder fields into stream parameters.
func (cfg Config) DecodeParams() (device.StreamInfo, error) {
	codecType, err := gocedar.ParseCodecType(cfg.Codec)
	if err != nil {
		return device.StreamInfo{}, err
	}
	format, err := gocedar.ParsePixelFormat(cfg.OutputFormat)
	if err != nil {
		return device.StreamInfo{}, err
	}
	return device.StreamInfo{
		Codec:        codecType,
		Width:        cfg.Width,
		Height:       cfg.Height,
		OutputFormat: format,
	}, nil
}

// NewBackend opens the device backend named by cfg.Backend.
func NewBackend(cfg Config) (device.Backend, error) {
	switch cfg.Backend {
	case BackendSim:
		return sim.New(), nil
	case BackendCedar:
		return cedar.New()
	}
	return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
