package utils

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// AllocationError is returned when the device memory subsystem cannot satisfy a request.
// It is fatal for the session.
type AllocationError struct {
	Size  int // Requested bytes per buffer.
	Count int // Requested buffer count.
	Err   error
}

// Error returns the error message for AllocationError.
func (e *AllocationError) Error() string {
	msg := fmt.Sprintf("can not allocate %d device buffers of %s", e.Count, humanize.IBytes(uint64(e.Size))) //nolint:gosec
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AllocationError) Unwrap() error {
	return e.Err
}

// PoolExhaustedError is returned by acquire when no buffer is free.
type PoolExhaustedError struct {
	Pool string
}

// Error returns the error message for PoolExhaustedError.
func (e *PoolExhaustedError) Error() string {
	return fmt.Sprintf("pool %s exhausted", e.Pool)
}

// BufferTooSmallError indicates that a device region can not hold the caller payload.
type BufferTooSmallError struct {
	Have int
	Need int
}

// Error returns the error message for BufferTooSmallError.
func (e *BufferTooSmallError) Error() string {
	return fmt.Sprintf("buffer too small: have %d bytes, need %d", e.Have, e.Need)
}

// InvalidStateError is a contract violation: an operation was attempted
// from a state that does not allow it.
type InvalidStateError struct {
	Object string
	From   string
	To     string
}

// Error returns the error message for InvalidStateError.
func (e *InvalidStateError) Error() string {
	if e.To == "" {
		return fmt.Sprintf("%s: invalid state %s", e.Object, e.From)
	}
	return fmt.Sprintf("%s: invalid transition %s -> %s", e.Object, e.From, e.To)
}

// InitError is returned when the device rejects the configuration or geometry.
type InitError struct {
	Code int
	Err  error
}

// Error returns the error message for InitError.
func (e *InitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("device init failed: code=%d: %s", e.Code, e.Err)
	}
	return fmt.Sprintf("device init failed: code=%d", e.Code)
}

func (e *InitError) Unwrap() error {
	return e.Err
}

// EncodeError carries a device reported encode failure.
type EncodeError struct {
	Code int
}

// Error returns the error message for EncodeError.
func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode failed: code=%d", e.Code)
}

// DecodeError carries a device reported decode failure.
type DecodeError struct {
	Code int
}

// Error returns the error message for DecodeError.
func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode failed: code=%d", e.Code)
}

// NoFrameBufferError means the decoder has no free output picture.
// Return held pictures and retry the same step.
type NoFrameBufferError struct{}

// Error returns the error message for NoFrameBufferError.
func (NoFrameBufferError) Error() string {
	return "no free frame buffer"
}

// UnsupportedFormatError is returned when a pixel format can not be handled.
type UnsupportedFormatError struct {
	Format string
}

// Error returns the error message for UnsupportedFormatError.
func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("unsupported pixel format %s", e.Format)
}

// TimeoutError is returned when a blocking device call misses its deadline.
// The session must be torn down afterwards.
type TimeoutError struct {
	Op string
}

// Error returns the error message for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("device call %s timed out", e.Op)
}

// IsInvalidState reports whether err is an InvalidStateError.
func IsInvalidState(err error) bool {
	var target *InvalidStateError
	return errors.As(err, &target)
}

// IsRecoverable reports whether the caller may retry after adjusting sizes or releasing buffers.
func IsRecoverable(err error) bool {
	var (
		exhausted *PoolExhaustedError
		small     *BufferTooSmallError
		noFrame   NoFrameBufferError
	)
	return errors.As(err, &exhausted) || errors.As(err, &small) || errors.As(err, &noFrame)
}
