package pipeline

import (
	"errors"
	"io"
	"os"

	"github.com/spf13/pflag"
)

// InputEnv names the environment variable used when no input is given.
const InputEnv = "CEDAR_INPUT"

// BindFlags registers one flag per field on fs, using the current values as defaults.
func (cfg *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "device backend: sim or cedar")
	fs.StringVar(&cfg.Codec, "codec", cfg.Codec, "codec: mjpeg or h264")
	fs.IntVar(&cfg.Width, "width", cfg.Width, "picture width")
	fs.IntVar(&cfg.Height, "height", cfg.Height, "picture height")
	fs.IntVar(&cfg.Stride, "stride", cfg.Stride, "input luma stride, 0 for width")
	fs.UintVar(&cfg.Bitrate, "bitrate", cfg.Bitrate, "target bitrate in bits per second")
	fs.UintVar(&cfg.Framerate, "framerate", cfg.Framerate, "frames per second")
	fs.UintVar(&cfg.KeyInterval, "key-interval", cfg.KeyInterval, "frames between keyframes")
	fs.StringVar(&cfg.Profile, "profile", cfg.Profile, "h264 profile: baseline, main or high")
	fs.StringVar(&cfg.Level, "level", cfg.Level, "h264 level")
	fs.Uint8Var(&cfg.QPMin, "qp-min", cfg.QPMin, "minimum quantizer")
	fs.Uint8Var(&cfg.QPMax, "qp-max", cfg.QPMax, "maximum quantizer")
	fs.BoolVar(&cfg.CABAC, "cabac", cfg.CABAC, "h264 CABAC entropy coding")
	fs.BoolVar(&cfg.LongRef, "long-ref", cfg.LongRef, "h264 long term reference")
	fs.UintVar(&cfg.VBVSize, "vbv-size", cfg.VBVSize, "bitstream buffer size in bytes")
	fs.IntVar(&cfg.JPEGQuality, "jpeg-quality", cfg.JPEGQuality, "jpeg quality 1..100")
	fs.StringVar(&cfg.InputFormat, "input-format", cfg.InputFormat, "encoder input pixel format")
	fs.StringVar(&cfg.OutputFormat, "output-format", cfg.OutputFormat, "decoder output pixel format")
	fs.IntVar(&cfg.Frames, "frames", cfg.Frames, "frames to encode")
	fs.IntVar(&cfg.InputBuffers, "input-buffers", cfg.InputBuffers, "encoder input buffers")
	fs.IntVar(&cfg.WarmupDecodes, "warmup-decodes", cfg.WarmupDecodes, "decodes discarded before the output picture")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "deadline of every blocking device call, 0 disables it")
	fs.StringVarP(&cfg.Input, "input", "i", cfg.Input, "input file (can also use "+InputEnv+" env var)")
	fs.StringVarP(&cfg.Output, "output", "o", cfg.Output, "output file")
	fs.StringVar(&cfg.Preview, "preview", cfg.Preview, "preview jpeg file")
	fs.StringVar(&cfg.StatusAddr, "status-addr", cfg.StatusAddr, "status server listen address")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "log level")
}

// ParseFlags builds a Config from the YAML file named by --config, then the
// command line flags. CEDAR_INPUT fills the input when neither sets it.
func ParseFlags(name string, args []string) (Config, error) {
	pre := pflag.NewFlagSet(name, pflag.ContinueOnError)
	pre.ParseErrorsWhitelist.UnknownFlags = true
	pre.Usage = func() {}
	pre.SetOutput(io.Discard)
	path := pre.StringP("config", "c", "", "")
	if err := pre.Parse(args); err != nil && !errors.Is(err, pflag.ErrHelp) {
		return Config{}, err
	}

	cfg := DefaultConfig()
	if *path != "" {
		var err error
		if cfg, err = LoadConfig(*path); err != nil {
			return cfg, err
		}
	}

	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringP("config", "c", *path, "YAML configuration file")
	cfg.BindFlags(fs)
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if cfg.Input == "" {
		cfg.Input = os.Getenv(InputEnv)
	}
	return cfg, cfg.Validate()
}
