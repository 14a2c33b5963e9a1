package device

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/ugparu/gocedar/utils"
)

func TestCallReturnsCode(t *testing.T) {
	t.Parallel()

	code, err := Call(context.Background(), 0, "encode", func() int { return 3 })
	require.NoError(t, err)
	require.Equal(t, 3, code)

	code, err = Call(context.Background(), time.Second, "encode", func() int { return 1 })
	require.NoError(t, err)
	require.Equal(t, 1, code)
}

func TestCallTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)

	_, err := Call(context.Background(), 10*time.Millisecond, "decode", func() int {
		<-release
		return 0
	})
	var timeout *utils.TimeoutError
	require.ErrorAs(t, err, &timeout)
	require.Equal(t, "decode", timeout.Op)
}

func TestCallCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	release := make(chan struct{})
	defer close(release)

	_, err := Call(ctx, 0, "init", func() int {
		<-release
		return 0
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestCallErr(t *testing.T) {
	t.Parallel()

	require.NoError(t, CallErr(context.Background(), time.Second, "init", func() error { return nil }))
	require.ErrorIs(t, CallErr(context.Background(), time.Second, "init", func() error { return context.Canceled }), context.Canceled)
}
