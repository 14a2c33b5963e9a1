// Package pipeline sequences a full encode or decode run over one device
// backend: memory adapter, session, buffers, conversion and teardown.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/atomic"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec"
	"github.com/ugparu/gocedar/codec/mjpeg"
	"github.com/ugparu/gocedar/decoder"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/encoder"
	"github.com/ugparu/gocedar/frame/yuv"
	"github.com/ugparu/gocedar/memory"
	"github.com/ugparu/gocedar/pool"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/logger"
)

// maxDecodeSteps bounds the decode calls spent on one submitted picture.
const maxDecodeSteps = 8

// Driver modes reported by Status.
const (
	ModeIdle   = "idle"
	ModeEncode = "encode"
	ModeDecode = "decode"
)

// Observer is notified of every encoded packet and every converted picture.
// Neither may be retained after the call returns.
type Observer interface {
	OnPacket(pkt *codec.Packet)
	OnPicture(pic *gocedar.Picture)
}

// Option configures a Driver.
type Option func(*Driver)

// WithObserver adds an observer.
func WithObserver(o Observer) Option {
	return func(d *Driver) {
		d.observers = append(d.observers, o)
	}
}

// Driver runs encode and decode sessions one at a time. Status may be called
// concurrently with a run.
type Driver struct {
	cfg       Config
	backend   device.Backend
	observers []Observer

	mode     atomic.String
	encoder  atomic.Pointer[encoder.Encoder]
	decoder  atomic.Pointer[decoder.Decoder]
	frames   atomic.Uint64
	pictures atomic.Uint64
	bytes    atomic.Uint64
	errors   atomic.Uint64
}

// New returns a driver for cfg over backend.
func New(cfg Config, backend device.Backend, opts ...Option) *Driver {
	d := &Driver{
		cfg:     cfg,
		backend: backend,
	}
	d.mode.Store(ModeIdle)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Config returns the driver configuration.
func (d *Driver) Config() Config {
	return d.cfg
}

// teardown destroys the session and closes the memory adapter, in that order.
func (d *Driver) teardown(destroy func() error, mem *memory.Handle) error {
	err := destroy()
	mem.Close()
	if err = errors.Join(err, mem.Err()); err != nil {
		logger.Errorf(d, "Teardown: %v", err)
	}
	d.mode.Store(ModeIdle)
	return err
}

func (d *Driver) fail(err error) error {
	if err != nil {
		d.errors.Inc()
	}
	return err
}

// Encode encodes up to cfg.Frames frames from src and writes the stream header
// followed by every bitstream frame to w. A source returning io.EOF ends the
// run early without error.
func (d *Driver) Encode(ctx context.Context, src gocedar.FrameSource, w io.Writer) (err error) {
	par, err := d.cfg.EncodeParams()
	if err != nil {
		return err
	}
	mem, err := memory.Open(d.backend.Memory())
	if err != nil {
		return d.fail(err)
	}
	dev, err := d.backend.NewEncoder(par.Codec)
	if err != nil {
		mem.Close()
		return d.fail(errors.Join(err, mem.Err()))
	}

	enc := encoder.New(dev, mem, encoder.WithTimeout(d.cfg.Timeout))
	d.encoder.Store(enc)
	d.mode.Store(ModeEncode)
	defer func() {
		err = d.fail(errors.Join(err, d.teardown(enc.Destroy, mem)))
	}()

	if err = enc.Configure(par); err != nil {
		return err
	}
	if err = enc.Init(ctx); err != nil {
		return err
	}
	if err = enc.AllocateInputs(d.cfg.InputBuffers); err != nil {
		return err
	}
	if hdr := enc.Header(); len(hdr) > 0 {
		if _, err = w.Write(hdr); err != nil {
			return fmt.Errorf("can not write stream header: %w", err)
		}
	}

	start := time.Now()
	frames := 0
	for ; frames < d.cfg.Frames; frames++ {
		ts := time.Duration(frames) * par.FrameDuration()
		if err = d.encodeFrame(ctx, enc, src, w, ts); err != nil {
			if errors.Is(err, io.EOF) {
				logger.Infof(d, "Source exhausted after %d frames", frames)
				err = nil
				break
			}
			return err
		}
	}
	logger.Infof(d, "Encoded %d frames in %v", frames, time.Since(start))
	return nil
}

func (d *Driver) encodeFrame(ctx context.Context, enc *encoder.Encoder, src gocedar.FrameSource,
	w io.Writer, ts time.Duration) error {
	buf, err := enc.Acquire()
	if err != nil {
		return err
	}
	if err = enc.FillInput(buf, src); err != nil {
		return errors.Join(err, enc.Release(buf))
	}

	pkt, err := enc.SubmitAndEncode(ctx, buf, ts)
	// A buffer left submitted by a timed out call is reclaimed by Destroy.
	if buf.State() != pool.Submitted {
		err = errors.Join(err, enc.Release(buf))
	}
	if err != nil {
		if pkt != nil {
			pkt.Close()
		}
		return err
	}
	defer pkt.Close()

	if _, err = w.Write(pkt.Data()); err != nil {
		return fmt.Errorf("can not write %v: %w", pkt, err)
	}
	for _, o := range d.observers {
		o.OnPacket(pkt)
	}
	d.frames.Inc()
	d.bytes.Add(uint64(pkt.Len())) //nolint:gosec
	return nil
}

// Decode submits data and decodes it cfg.WarmupDecodes+1 times. Warm-up
// pictures go straight back to the device; the last one is converted to its
// semi-planar layout and written to w as luma then chroma.
func (d *Driver) Decode(ctx context.Context, data []byte, w io.Writer) (err error) {
	info, err := d.cfg.DecodeParams()
	if err != nil {
		return err
	}
	if info, err = d.probe(info, data); err != nil {
		return d.fail(err)
	}
	mem, err := memory.Open(d.backend.Memory())
	if err != nil {
		return d.fail(err)
	}
	dev, err := d.backend.NewDecoder()
	if err != nil {
		mem.Close()
		return d.fail(errors.Join(err, mem.Err()))
	}

	dec := decoder.New(dev, mem, decoder.WithTimeout(d.cfg.Timeout))
	conv := yuv.NewConverter(mem)
	d.decoder.Store(dec)
	d.mode.Store(ModeDecode)
	defer func() {
		err = d.fail(errors.Join(err, d.teardown(dec.Destroy, mem)))
	}()

	if err = dec.Configure(info); err != nil {
		return err
	}
	if err = dec.Init(ctx); err != nil {
		return err
	}
	if _, err = dec.RequestStreamBuffers(len(data)); err != nil {
		return err
	}

	for i := range d.cfg.WarmupDecodes {
		pic, derr := d.decodePicture(ctx, dec, data)
		if derr != nil {
			return fmt.Errorf("warm-up decode %d: %w", i+1, derr)
		}
		if err = dec.ReturnPicture(pic); err != nil {
			return err
		}
	}

	pic, err := d.decodePicture(ctx, dec, data)
	if err != nil {
		return err
	}
	start := time.Now()
	host, err := conv.Convert(pic)
	err = errors.Join(err, dec.ReturnPicture(pic))
	if err != nil {
		if host != nil {
			err = errors.Join(err, conv.Release(host))
		}
		return err
	}
	defer func() {
		err = errors.Join(err, conv.Release(host))
	}()
	logger.Debugf(d, "Converted %v in %v", host, time.Since(start))

	n, err := yuv.WritePicture(w, host)
	if err != nil {
		return err
	}
	for _, o := range d.observers {
		o.OnPicture(host)
	}
	d.pictures.Inc()
	d.bytes.Add(uint64(n)) //nolint:gosec
	logger.Infof(d, "Wrote %v, %d bytes", host, n)
	return nil
}

// probe checks the input before any device call. JPEG input takes its
// picture size from the frame header.
func (d *Driver) probe(info device.StreamInfo, data []byte) (device.StreamInfo, error) {
	if info.Codec != gocedar.MJPEG {
		return info, nil
	}
	par, err := mjpeg.Probe(data)
	if err != nil {
		return info, fmt.Errorf("%w: %w", &utils.DecodeError{Code: device.DecodeResultUnsupported}, err)
	}
	if !mjpeg.Complete(data) {
		logger.Warningf(d, "Input has no end of image marker, %v may be truncated", par)
	}
	if par.Width != info.Width || par.Height != info.Height {
		logger.Debugf(d, "Stream size %dx%d from %v", par.Width, par.Height, par)
	}
	info.Width, info.Height = par.Width, par.Height
	return info, nil
}

// decodePicture submits data as a single chunk and decodes until the device
// hands out a picture. Held pictures are returned when the device runs out of
// frame buffers.
func (d *Driver) decodePicture(ctx context.Context, dec *decoder.Decoder, data []byte) (*gocedar.Picture, error) {
	if err := dec.Submit(data, true, true); err != nil {
		return nil, err
	}
	for range maxDecodeSteps {
		outcome, err := dec.DecodeOne(ctx)
		var noFrame utils.NoFrameBufferError
		switch {
		case errors.As(err, &noFrame):
			if dec.Held() == 0 {
				return nil, err
			}
			logger.Debugf(d, "Returning %d held pictures", dec.Held())
			if err = dec.ReturnAll(); err != nil {
				return nil, err
			}
			continue
		case err != nil:
			return nil, err
		}

		pic, err := dec.RequestPicture(0)
		if errors.Is(err, decoder.ErrNoPicture) && !outcome.HasPicture() {
			if err = dec.Submit(data, true, true); err != nil {
				return nil, err
			}
			continue
		}
		return pic, err
	}
	return nil, fmt.Errorf("no picture after %d decode steps", maxDecodeSteps)
}

// Status is a snapshot of the driver and its current session.
type Status struct {
	Backend  string         `json:"backend"`
	Mode     string         `json:"mode"`
	Frames   uint64         `json:"frames"`
	Pictures uint64         `json:"pictures"`
	Bytes    uint64         `json:"bytes"`
	Errors   uint64         `json:"errors"`
	Session  string         `json:"session,omitempty"`
	State    string         `json:"state,omitempty"`
	Encoder  *encoder.Stats `json:"encoder,omitempty"`
	Inputs   *pool.Stats    `json:"inputs,omitempty"`
	Decoder  *decoder.Stats `json:"decoder,omitempty"`
	Stream   *pool.Stats    `json:"stream,omitempty"`
	Slots    *pool.Stats    `json:"picture_slots,omitempty"`
	Held     int            `json:"held_pictures"`
}

// Status returns the current counters. The last session stays visible after a run.
func (d *Driver) Status() Status {
	st := Status{
		Backend:  d.backend.String(),
		Mode:     d.mode.Load(),
		Frames:   d.frames.Load(),
		Pictures: d.pictures.Load(),
		Bytes:    d.bytes.Load(),
		Errors:   d.errors.Load(),
	}
	if enc := d.encoder.Load(); enc != nil && st.Mode != ModeDecode {
		encStats := enc.Stats()
		st.Session, st.State, st.Encoder = enc.ID().String(), enc.State().String(), &encStats
		if p := enc.Inputs(); p != nil {
			poolStats := p.Stats()
			st.Inputs = &poolStats
		}
	}
	if dec := d.decoder.Load(); dec != nil && st.Mode != ModeEncode {
		decStats := dec.Stats()
		st.Session, st.State, st.Decoder = dec.ID().String(), dec.State().String(), &decStats
		st.Held = dec.Held()
		if p := dec.Stream(); p != nil {
			streamStats := p.Stats()
			st.Stream = &streamStats
		}
		if p := dec.Pictures(); p != nil {
			slotStats := p.Stats()
			st.Slots = &slotStats
		}
	}
	return st
}

// String returns a string representation of the driver.
func (d *Driver) String() string {
	return fmt.Sprintf("PIPELINE %s", d.backend)
}
