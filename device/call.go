package device

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ugparu/gocedar/utils"
)

// Call runs a blocking device call under ctx and timeout. A missed deadline
// returns a TimeoutError; the call itself keeps running on the device, so the
// caller must tear the session down. Zero timeout means no extra deadline.
func Call(ctx context.Context, timeout time.Duration, op string, fn func() int) (int, error) {
	if timeout <= 0 && ctx.Done() == nil {
		return fn(), nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan int, 1)
	go func() {
		done <- fn()
	}()

	select {
	case code := <-done:
		return code, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return 0, &utils.TimeoutError{Op: op}
		}
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	}
}

// CallErr is Call for device functions that report an error instead of a code.
func CallErr(ctx context.Context, timeout time.Duration, op string, fn func() error) error {
	var fnErr error
	if _, err := Call(ctx, timeout, op, func() int {
		fnErr = fn()
		return 0
	}); err != nil {
		return err
	}
	return fnErr
}
