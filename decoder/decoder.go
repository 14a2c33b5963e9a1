// Package decoder drives one hardware decoder instance: stream buffer
// requests, bitstream submission, decode steps and the device pictures held
// by the caller. Stream regions and picture slots are owned by pools.
package decoder

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ugparu/gocedar"
	"github.com/ugparu/gocedar/device"
	"github.com/ugparu/gocedar/memory"
	"github.com/ugparu/gocedar/pool"
	"github.com/ugparu/gocedar/utils"
	"github.com/ugparu/gocedar/utils/lifecycle"
	"github.com/ugparu/gocedar/utils/logger"
)

// DefaultTimeout bounds every blocking device call.
const DefaultTimeout = 5 * time.Second

// ErrNoPicture is returned by RequestPicture when the device has no decoded picture.
var ErrNoPicture = errors.New("no decoded picture available")

// Params describes the compressed stream and the requested device output layout.
type Params = device.StreamInfo

// Outcome is the result of one successful decode step.
type Outcome uint8

const (
	Ok              Outcome = iota // Step done, more bitstream is needed.
	FrameDecoded                   // A picture is ready.
	KeyframeDecoded                // A keyframe picture is ready.
	NoFrameBuffer                  // Every output picture is held; return one and retry.
)

// HasPicture reports whether RequestPicture should follow.
func (o Outcome) HasPicture() bool {
	return o == FrameDecoded || o == KeyframeDecoded
}

func (o Outcome) String() string {
	switch o {
	case Ok:
		return "ok"
	case FrameDecoded:
		return "frame-decoded"
	case KeyframeDecoded:
		return "keyframe-decoded"
	case NoFrameBuffer:
		return "no-frame-buffer"
	}
	return "unknown"
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithTimeout sets the deadline of blocking device calls. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(dec *Decoder) {
		dec.timeout = d
	}
}

// WithPictureSlots sets how many output pictures may be held at once.
func WithPictureSlots(n int) Option {
	return func(dec *Decoder) {
		dec.slots = n
	}
}

// Decoder is a decode session over a device.Decoder.
type Decoder struct {
	id      uuid.UUID
	dev     device.Decoder
	mem     *memory.Handle
	timeout time.Duration
	slots   int

	mu       sync.Mutex
	machine  *lifecycle.Machine[gocedar.SessionState]
	params   Params
	stream   *pool.Pool
	pictures *pool.Pool
	held     []heldPicture
	failure  error // Set by a timed out device call.
	stats    stats
}

// New returns a session in the created state. The session owns dev.
func New(dev device.Decoder, mem *memory.Handle, opts ...Option) *Decoder {
	dec := &Decoder{
		id:      uuid.New(),
		dev:     dev,
		mem:     mem,
		timeout: DefaultTimeout,
		slots:   DefaultPictureSlots,
	}
	dec.machine = gocedar.NewSessionMachine(dec.String())
	for _, opt := range opts {
		opt(dec)
	}
	return dec
}

// ID returns the session identifier.
func (dec *Decoder) ID() uuid.UUID {
	return dec.id
}

// State returns the session state.
func (dec *Decoder) State() gocedar.SessionState {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.machine.Current()
}

// Configure validates and stores par. It may be repeated until Init.
func (dec *Decoder) Configure(par Params) error {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if err := dec.machine.Require(gocedar.SessionCreated, gocedar.SessionConfigured); err != nil {
		return err
	}
	if !par.Codec.Valid() {
		return fmt.Errorf("unsupported codec %v", par.Codec)
	}
	if par.Width < 0 || par.Height < 0 {
		return fmt.Errorf("invalid stream size %dx%d", par.Width, par.Height)
	}
	if _, err := par.OutputFormat.Layout(); err != nil {
		return err
	}
	if err := dec.machine.Transition(gocedar.SessionConfigured); err != nil {
		return err
	}
	dec.params = par
	return nil
}

// Init creates the device decoder for the configured stream.
func (dec *Decoder) Init(ctx context.Context) error {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if err := dec.machine.Require(gocedar.SessionConfigured); err != nil {
		return err
	}
	par := dec.params
	if err := device.CallErr(ctx, dec.timeout, "decoder init", func() error {
		return dec.dev.Init(par)
	}); err != nil {
		if dec.poison(err) {
			return err
		}
		var initErr *utils.InitError
		if errors.As(err, &initErr) {
			return err
		}
		return &utils.InitError{Code: device.DecodeResultUnsupported, Err: err}
	}
	pictures := pool.New(fmt.Sprintf("%s/picture", dec), pool.RoleOutputPicture)
	if err := pictures.Allocate(pictureSlots{}, []int{0}, dec.slots); err != nil {
		return err
	}
	for range dec.slots {
		if _, err := queueSlot(pictures); err != nil {
			return errors.Join(err, pictures.Close())
		}
	}
	dec.pictures = pictures
	if err := dec.machine.Transition(gocedar.SessionInitialized); err != nil {
		return err
	}
	logger.Infof(dec, "Initialized %v %dx%d out=%v", par.Codec, par.Width, par.Height, par.OutputFormat)
	return nil
}

func (dec *Decoder) poison(err error) bool {
	var timeout *utils.TimeoutError
	if !errors.As(err, &timeout) {
		return false
	}
	dec.failure = err
	dec.stats.errors.Inc()
	logger.Errorf(dec, "Device call timed out: %v", err)
	return true
}

func (dec *Decoder) requireBuffers() error {
	if dec.failure != nil {
		return dec.failure
	}
	if !dec.machine.Current().BuffersValid() {
		return &utils.InvalidStateError{Object: dec.String(), From: dec.machine.Current().String()}
	}
	return nil
}

// queueSlot hands an empty output slot to the device.
func queueSlot(p *pool.Pool) (*pool.Buffer, error) {
	buf, err := p.Acquire()
	if err != nil {
		return nil, err
	}
	if err = p.Fill(buf, true); err != nil {
		return nil, err
	}
	return buf, p.Submit(buf)
}

// RequestStreamBuffers asks the device for input and ring regions able to hold
// inputSize bytes. When the input region is smaller the regions are still
// returned, together with a BufferTooSmallError, and Submit keeps refusing
// larger payloads. Regions still read by the device can not be replaced.
func (dec *Decoder) RequestStreamBuffers(inputSize int) (device.StreamBuffer, error) {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if err := dec.requireBuffers(); err != nil {
		return device.StreamBuffer{}, err
	}
	if dec.stream != nil {
		if st := dec.stream.Stats(); st.Submitted != 0 {
			return device.StreamBuffer{}, &utils.InvalidStateError{Object: dec.stream.String(), From: pool.Submitted.String()}
		}
		if err := dec.stream.Close(); err != nil {
			return device.StreamBuffer{}, err
		}
		dec.stream = nil
	}

	alloc := &streamAllocator{dev: dec.dev}
	stream := pool.New(fmt.Sprintf("%s/stream", dec), pool.RoleBitstream, pool.RoleBitstreamRing)
	if err := stream.Allocate(alloc, []int{inputSize, 0}, 1); err != nil {
		return device.StreamBuffer{}, err
	}
	dec.stream = stream
	sb := alloc.last
	logger.Debugf(dec, "Stream buffers input=%d ring=%d", sb.Input.Len(), sb.Ring.Len())

	if sb.Input.Len() < inputSize {
		return sb, &utils.BufferTooSmallError{Have: sb.Input.Len(), Need: inputSize}
	}
	return sb, nil
}

// Submit copies one chunk of compressed data into the input region and hands
// it to the device. The size is checked before anything is copied. The region
// stays submitted until a decode step consumes it.
func (dec *Decoder) Submit(data []byte, first, last bool) error {
	return dec.SubmitAt(0, data, first, last)
}

// SubmitAt is Submit with a presentation timestamp carried to the decoded picture.
func (dec *Decoder) SubmitAt(ts time.Duration, data []byte, first, last bool) error {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if err := dec.requireBuffers(); err != nil {
		return err
	}
	if dec.stream == nil {
		return &utils.InvalidStateError{Object: dec.String(), From: "no stream buffers"}
	}
	buf, err := dec.stream.Acquire()
	if err != nil {
		return err
	}
	sb, ok := buf.Token().(device.StreamBuffer)
	if !ok {
		return errors.Join(&utils.InvalidStateError{Object: buf.String(), From: "foreign buffer"}, dec.stream.Release(buf))
	}
	if len(data) > sb.Input.Len() {
		return errors.Join(&utils.BufferTooSmallError{Have: sb.Input.Len(), Need: len(data)}, dec.stream.Release(buf))
	}

	copy(sb.Input.Data, data)
	if err = dec.mem.FlushRange(sb.Input, len(data)); err != nil {
		return errors.Join(fmt.Errorf("can not flush stream buffer: %w", err), dec.stream.Release(buf))
	}
	if err = dec.stream.Fill(buf, true); err != nil {
		return errors.Join(err, dec.stream.Release(buf))
	}
	if err = dec.stream.Submit(buf); err != nil {
		return errors.Join(err, dec.stream.Release(buf))
	}
	if err = dec.dev.SubmitStreamData(sb, len(data), first, last, ts); err != nil {
		return errors.Join(fmt.Errorf("can not submit stream data: %w", err), dec.consumeStream())
	}
	if dec.machine.Current() == gocedar.SessionInitialized {
		if err = dec.machine.Transition(gocedar.SessionRunning); err != nil {
			return err
		}
	}
	dec.stats.bytes.Add(uint64(len(data))) //nolint:gosec
	return nil
}

// consumeStream takes a submitted stream region back from the device.
func (dec *Decoder) consumeStream() error {
	if dec.stream == nil {
		return nil
	}
	var errs []error
	for i := range dec.stream.Count() {
		buf := dec.stream.Buffer(i)
		if buf.State() != pool.Submitted {
			continue
		}
		if err := dec.stream.Return(buf); err != nil {
			errs = append(errs, err)
			continue
		}
		errs = append(errs, dec.stream.Release(buf))
	}
	return errors.Join(errs...)
}

// DecodeOne runs one blocking decode step. The submitted stream region is
// released once the step has consumed it; a step without a free frame buffer
// leaves it with the device.
func (dec *Decoder) DecodeOne(ctx context.Context) (Outcome, error) {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if err := dec.requireBuffers(); err != nil {
		return Ok, err
	}
	start := time.Now()
	code, err := device.Call(ctx, dec.timeout, "decode", dec.dev.DecodeStep)
	if err != nil {
		dec.poison(err)
		return Ok, err
	}
	if code != device.DecodeResultNoFrameBuffer {
		if err = dec.consumeStream(); err != nil {
			return Ok, err
		}
	}

	switch code {
	case device.DecodeResultKeyframeDecoded:
		dec.stats.decoded.Inc()
		dec.stats.keyFrames.Inc()
		logger.Debugf(dec, "Keyframe decoded in %v", time.Since(start))
		return KeyframeDecoded, nil
	case device.DecodeResultFrameDecoded:
		dec.stats.decoded.Inc()
		logger.Debugf(dec, "Frame decoded in %v", time.Since(start))
		return FrameDecoded, nil
	case device.DecodeResultOK:
		return Ok, nil
	case device.DecodeResultNoFrameBuffer:
		dec.stats.noFrameBuffer.Inc()
		logger.Debugf(dec, "No frame buffer, %d pictures held", len(dec.held))
		return NoFrameBuffer, utils.NoFrameBufferError{}
	}
	dec.stats.errors.Inc()
	return Ok, &utils.DecodeError{Code: code}
}

// RequestPicture takes the next decoded picture from the device. The picture
// stays device owned and its slot stays returned until ReturnPicture.
func (dec *Decoder) RequestPicture(index int) (*gocedar.Picture, error) {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if err := dec.requireBuffers(); err != nil {
		return nil, err
	}
	// A ready picture stays with the device until a slot can account for it.
	slot := dec.queuedSlot()
	if slot == nil {
		return nil, &utils.PoolExhaustedError{Pool: dec.pictures.String()}
	}
	pic, err := dec.dev.RequestPicture(index)
	if err != nil {
		return nil, fmt.Errorf("can not request picture: %w", err)
	}
	if pic == nil {
		return nil, ErrNoPicture
	}
	if owner, oerr := pic.Owner(); oerr != nil || owner != gocedar.DeviceOwned {
		_ = dec.dev.ReturnPicture(pic)
		return nil, &utils.InvalidStateError{Object: pic.String(), From: "host owned device picture"}
	}
	if err = dec.pictures.Return(slot); err != nil {
		_ = dec.dev.ReturnPicture(pic)
		return nil, err
	}
	dec.held = append(dec.held, heldPicture{pic: pic, slot: slot})
	logger.Tracef(dec, "Holding %v in %v", pic, slot)
	return pic, nil
}

func (dec *Decoder) queuedSlot() *pool.Buffer {
	for i := range dec.pictures.Count() {
		if buf := dec.pictures.Buffer(i); buf.State() == pool.Submitted {
			return buf
		}
	}
	return nil
}

// ReturnPicture gives a held picture back to the device.
func (dec *Decoder) ReturnPicture(pic *gocedar.Picture) error {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.returnPicture(pic)
}

func (dec *Decoder) returnPicture(pic *gocedar.Picture) error {
	i := slices.IndexFunc(dec.held, func(h heldPicture) bool { return h.pic == pic })
	if pic == nil || i < 0 {
		return &utils.InvalidStateError{Object: dec.String(), From: fmt.Sprintf("picture not held: %v", pic)}
	}
	h := dec.held[i]
	dec.held = slices.Delete(dec.held, i, i+1)

	var errs []error
	if err := dec.dev.ReturnPicture(pic); err != nil {
		errs = append(errs, fmt.Errorf("can not return %v: %w", pic, err))
	}
	if err := dec.pictures.Release(h.slot); err != nil {
		errs = append(errs, err)
	} else if _, err = queueSlot(dec.pictures); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ReturnAll gives every held picture back to the device.
func (dec *Decoder) ReturnAll() error {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.returnAll()
}

func (dec *Decoder) returnAll() error {
	var errs []error
	for len(dec.held) > 0 {
		if err := dec.returnPicture(dec.held[0].pic); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Held returns the number of pictures not yet returned.
func (dec *Decoder) Held() int {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return len(dec.held)
}

// Stream returns the stream buffer pool, nil before RequestStreamBuffers.
func (dec *Decoder) Stream() *pool.Pool {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.stream
}

// Pictures returns the output picture slot pool, nil before Init.
func (dec *Decoder) Pictures() *pool.Pool {
	dec.mu.Lock()
	defer dec.mu.Unlock()
	return dec.pictures
}

// Stats returns the session counters.
func (dec *Decoder) Stats() Stats {
	return dec.stats.snapshot()
}

// Destroy returns every held picture, closes both pools and destroys the
// device instance. It is safe to call more than once.
func (dec *Decoder) Destroy() error {
	dec.mu.Lock()
	defer dec.mu.Unlock()

	if dec.machine.Current() == gocedar.SessionDestroyed {
		return nil
	}
	var errs []error
	if dec.pictures != nil {
		errs = append(errs, dec.returnAll())
		for i := range dec.pictures.Count() {
			if buf := dec.pictures.Buffer(i); buf.State() == pool.Submitted {
				errs = append(errs, dec.pictures.Return(buf), dec.pictures.Release(buf))
			}
		}
		errs = append(errs, dec.pictures.Close())
	}
	if dec.stream != nil {
		errs = append(errs, dec.stream.Close())
	}
	dec.dev.Destroy()
	dec.machine.Force(gocedar.SessionDestroyed)
	logger.Infof(dec, "Destroyed after %d pictures", dec.stats.decoded.Load())
	return errors.Join(errs...)
}

// String returns a string representation of the session.
func (dec *Decoder) String() string {
	return fmt.Sprintf("DECODER %s", dec.id.String()[:8])
}
