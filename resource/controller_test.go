package resource

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerSlots(t *testing.T) {
	c := NewController(Config{MaxBackgroundWorkers: 1})
	ctx := context.Background()

	require.NoError(t, c.AcquireWorker(ctx))
	assert.Equal(t, int64(1), c.InFlight())

	// A second acquire must block until release; an already-canceled context
	// makes it return an error instead of waiting.
	blocked, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, c.AcquireWorker(blocked))

	c.ReleaseWorker()
	assert.Equal(t, int64(0), c.InFlight())
	require.NoError(t, c.AcquireWorker(ctx))
	c.ReleaseWorker()
}

func TestNilControllerIsUnlimited(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	require.NoError(t, c.AcquireWorker(ctx))
	c.ReleaseWorker()
	require.NoError(t, c.WaitIO(ctx, 1<<30))
	assert.Equal(t, int64(0), c.InFlight())
}

func TestThrottledReader(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})
	ctx := context.Background()

	r := c.ThrottledReader(ctx, strings.NewReader("hello world"))
	buf := make([]byte, 5)
	n, err := r.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "hello", string(buf))
}

func TestUnlimitedIOPassthrough(t *testing.T) {
	c := NewController(Config{})
	ctx := context.Background()
	src := strings.NewReader("data")
	assert.Equal(t, src, c.ThrottledReader(ctx, src))
}
