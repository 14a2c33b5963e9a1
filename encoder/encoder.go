// Package encoder drives one hardware encoder instance through configure,
// init, input buffer allocation and the fill, submit and encode cycle.
package encoder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/codec"
	"github.com/ugparu/gocedar/codec/h264"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/memory"
	"github.com/ugparu/gocedar/pool"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/lifecycle"
	"github.com/ugparu/gocedar/utils/logger"
)

// DefaultTimeout bounds every blocking device call.
const DefaultTimeout = 5 * time.Second

// Option configures an Encoder.
type Option func(*Encoder)

// WithTimeout sets the deadline of blocking device calls. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(enc *Encoder) {
		enc.timeout = d
	}
}

// Encoder is an encode session over a device.Encoder.
type Encoder struct {
	id      uuid.UUID
	dev     device.Encoder
	mem     *memory.Handle
	timeout time.Duration

	mu         sync.Mutex
	machine    *lifecycle.Machine[gocedar.SessionState]
	params     codec.Params
	header     []byte
	inputs     *pool.Pool
	lumaSize   int
	chromaSize int
	failure    error // Set by a timed out device call.
	stats      stats
}

// New returns a session in the created state. The session owns dev.
func New(dev device.Encoder, mem *memory.Handle, opts ...Option) *Encoder {
	enc := &Encoder{
		id:      uuid.New(),
		dev:     dev,
		mem:     mem,
		timeout: DefaultTimeout,
	}
	enc.machine = gocedar.NewSessionMachine(enc.String())
	for _, opt := range opts {
		opt(enc)
	}
	return enc
}

// ID returns the session identifier.
func (enc *Encoder) ID() uuid.UUID {
	return enc.id
}

// State returns the session state.
func (enc *Encoder) State() gocedar.SessionState {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	return enc.machine.Current()
}

// Configure validates and stores par. It may be repeated until Init.
func (enc *Encoder) Configure(par codec.Params) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	if err := enc.machine.Require(gocedar.SessionCreated, gocedar.SessionConfigured); err != nil {
		return err
	}
	if err := par.Validate(); err != nil {
		return err
	}
	if _, _, err := par.Input.PlaneSizes(); err != nil {
		return err
	}
	if err := enc.machine.Transition(gocedar.SessionConfigured); err != nil {
		return err
	}
	enc.params = par
	logger.Debugf(enc, "Configured %v", par)
	return nil
}

// Init applies the parameters to the device and binds the input and target geometry.
func (enc *Encoder) Init(ctx context.Context) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	if err := enc.machine.Require(gocedar.SessionConfigured); err != nil {
		return err
	}

	par := enc.params
	if err := enc.dev.SetParameters(par); err != nil {
		return &utils.InitError{Code: device.EncodeResultIllegalParam, Err: err}
	}
	if err := device.CallErr(ctx, enc.timeout, "encoder init", func() error {
		return enc.dev.Init(par)
	}); err != nil {
		if enc.poison(err) {
			return err
		}
		var initErr *utils.InitError
		if errors.As(err, &initErr) {
			return err
		}
		return &utils.InitError{Code: device.EncodeResultError, Err: err}
	}

	header, err := enc.dev.Header()
	if err != nil {
		return &utils.InitError{Code: device.EncodeResultError, Err: fmt.Errorf("can not read stream header: %w", err)}
	}
	enc.header = append([]byte(nil), header...)
	if par.Codec == gocedar.H264 {
		sps, pps := h264.ParameterSets(enc.header)
		logger.Debugf(enc, "Stream header %d bytes, %d sps, %d pps", len(enc.header), len(sps), len(pps))
	}

	enc.lumaSize, enc.chromaSize, _ = par.Input.PlaneSizes()
	if err = enc.machine.Transition(gocedar.SessionInitialized); err != nil {
		return err
	}
	logger.Infof(enc, "Initialized %v input=%v target=%v", par.Codec, par.Input, par.TargetGeometry())
	return nil
}

// poison records a timed out device call. Every later call fails until Destroy.
func (enc *Encoder) poison(err error) bool {
	var timeout *utils.TimeoutError
	if !errors.As(err, &timeout) {
		return false
	}
	enc.failure = err
	enc.stats.errors.Inc()
	logger.Errorf(enc, "Device call timed out: %v", err)
	return true
}

func (enc *Encoder) requireBuffers() error {
	if enc.failure != nil {
		return enc.failure
	}
	if !enc.machine.Current().BuffersValid() {
		return &utils.InvalidStateError{Object: enc.String(), From: enc.machine.Current().String()}
	}
	return nil
}

// Header returns the stream header fetched by Init.
func (enc *Encoder) Header() []byte {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	return enc.header
}

// Params returns the configured parameters.
func (enc *Encoder) Params() codec.Params {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	return enc.params
}

// AllocateInputs reserves count device input buffers sized for the input geometry.
func (enc *Encoder) AllocateInputs(count int) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	if err := enc.requireBuffers(); err != nil {
		return err
	}
	if enc.inputs != nil {
		return &utils.InvalidStateError{Object: enc.String(), From: "inputs allocated", To: "inputs allocated"}
	}

	inputs := pool.New(fmt.Sprintf("%s/input", enc), pool.RoleInputLuma, pool.RoleInputChroma)
	if err := inputs.Allocate(inputAllocator{dev: enc.dev}, []int{enc.lumaSize, enc.chromaSize}, count); err != nil {
		return err
	}
	enc.inputs = inputs
	return nil
}

// Inputs returns the input buffer pool, nil before AllocateInputs.
func (enc *Encoder) Inputs() *pool.Pool {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	return enc.inputs
}

func (enc *Encoder) inputPool() (*pool.Pool, error) {
	if err := enc.requireBuffers(); err != nil {
		return nil, err
	}
	if enc.inputs == nil {
		return nil, &utils.InvalidStateError{Object: enc.String(), From: "inputs not allocated"}
	}
	return enc.inputs, nil
}

// Acquire takes a free input buffer.
func (enc *Encoder) Acquire() (*pool.Buffer, error) {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	p, err := enc.inputPool()
	if err != nil {
		return nil, err
	}
	return p.Acquire()
}

// Release gives an input buffer back to the pool.
func (enc *Encoder) Release(buf *pool.Buffer) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()
	p, err := enc.inputPool()
	if err != nil {
		return err
	}
	return p.Release(buf)
}

func errNilBuffer(enc *Encoder) error {
	return &utils.InvalidStateError{Object: enc.String(), From: "nil buffer"}
}

// FillInput lets src write one frame into the CPU view of an acquired buffer,
// flushes both planes and marks the buffer filled.
func (enc *Encoder) FillInput(buf *pool.Buffer, src gocedar.FrameSource) error {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	p, err := enc.inputPool()
	if err != nil {
		return err
	}
	if buf == nil {
		return errNilBuffer(enc)
	}
	if st := buf.State(); st != pool.Acquired {
		return &utils.InvalidStateError{Object: buf.String(), From: st.String(), To: pool.Filled.String()}
	}

	in := enc.params.Input
	frm := gocedar.Frame{
		Luma:   buf.Plane(0).Data,
		Chroma: buf.Plane(1).Data,
		Width:  in.Width,
		Height: in.Height,
		Stride: in.Pitch(),
	}
	if err = src.ReadFrame(&frm); err != nil {
		return fmt.Errorf("can not read frame: %w", err)
	}

	for i := range buf.Planes() {
		if err = enc.mem.Flush(buf.Plane(i)); err != nil {
			return fmt.Errorf("can not flush %s: %w", buf.Role(i), err)
		}
	}
	return p.Fill(buf, true)
}

// SubmitAndEncode hands a filled buffer to the device, encodes it and returns
// the bitstream frame. The buffer ends up returned after a completed encode
// call whatever its result, so the caller releases it in both cases.
func (enc *Encoder) SubmitAndEncode(ctx context.Context, buf *pool.Buffer, ts time.Duration) (*codec.Packet, error) {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	p, err := enc.inputPool()
	if err != nil {
		return nil, err
	}
	if buf == nil {
		return nil, errNilBuffer(enc)
	}
	in, ok := buf.Token().(*device.InputBuffer)
	if !ok {
		return nil, &utils.InvalidStateError{Object: buf.String(), From: "foreign buffer"}
	}
	if err = p.Submit(buf); err != nil {
		return nil, err
	}
	if enc.machine.Current() == gocedar.SessionInitialized {
		if err = enc.machine.Transition(gocedar.SessionRunning); err != nil {
			return nil, err
		}
	}

	if err = enc.dev.AddInputBuffer(in, ts); err != nil {
		_ = p.Return(buf)
		enc.stats.errors.Inc()
		return nil, fmt.Errorf("can not queue %s: %w", buf, err)
	}

	code, err := device.Call(ctx, enc.timeout, "encode", enc.dev.EncodeOneFrame)
	if err != nil {
		// The device may still be reading the buffer; it stays submitted until Destroy.
		enc.poison(err)
		return nil, err
	}

	used, err := enc.dev.AlreadyUsedInputBuffer()
	if err != nil {
		logger.Warningf(enc, "Can not dequeue used input buffer: %v", err)
	} else if used != in {
		logger.Warningf(enc, "Device returned a different input buffer than %s", buf)
	}
	if err = p.Return(buf); err != nil {
		return nil, err
	}

	if code != device.EncodeResultOK {
		enc.stats.errors.Inc()
		return nil, &utils.EncodeError{Code: code}
	}

	bs, err := enc.dev.Bitstream()
	if err != nil {
		enc.stats.errors.Inc()
		return nil, fmt.Errorf("can not get bitstream: %w", err)
	}
	pkt := enc.packet(bs)
	if err = enc.dev.FreeBitstream(bs); err != nil {
		pkt.Close()
		return nil, fmt.Errorf("can not free bitstream: %w", err)
	}

	enc.stats.frames.Inc()
	enc.stats.bytes.Add(uint64(pkt.Len())) //nolint:gosec
	if pkt.KeyFrame {
		enc.stats.keyFrames.Inc()
	}
	logger.Tracef(enc, "Encoded %v", pkt)
	return pkt, nil
}

func (enc *Encoder) packet(bs *device.Bitstream) *codec.Packet {
	var data []byte
	if len(bs.Parts) == 1 {
		data = bs.Parts[0]
	} else {
		data = make([]byte, 0, bs.Size())
		for _, part := range bs.Parts {
			data = append(data, part...)
		}
	}

	key := true
	if enc.params.Codec == gocedar.H264 {
		key = bs.KeyFrame || h264.IsKeyFrame(data)
	}
	return codec.NewPacket(enc.params.Codec, data, bs.Timestamp, enc.params.FrameDuration(), key)
}

// Stats returns the session counters.
func (enc *Encoder) Stats() Stats {
	return enc.stats.snapshot()
}

// Destroy releases every input buffer and destroys the device instance.
// It is safe to call more than once.
func (enc *Encoder) Destroy() error {
	enc.mu.Lock()
	defer enc.mu.Unlock()

	if enc.machine.Current() == gocedar.SessionDestroyed {
		return nil
	}

	var errs []error
	if enc.inputs != nil {
		if err := enc.inputs.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	enc.dev.Destroy()
	enc.machine.Force(gocedar.SessionDestroyed)
	logger.Infof(enc, "Destroyed after %d frames", enc.stats.frames.Load())
	return errors.Join(errs...)
}

// String returns a string representation of the session.
func (enc *Encoder) String() string {
	return fmt.Sprintf("ENCODER %s", enc.id.String()[:8])
}
