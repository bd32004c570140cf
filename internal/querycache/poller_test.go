package querycache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/smartqueue-portal/internal/qmsapi"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

func TestPoller_RefreshesCache(t *testing.T) {
	c := New(Options{})
	p := NewPoller(c, PollerOptions{IdleTimeout: time.Minute, Logger: logging.Discard()})
	defer p.Close()

	var n atomic.Int32
	p.Ensure("sid:queue-status", "queue_status", 10*time.Millisecond, func(context.Context) (any, error) {
		return int(n.Add(1)), nil
	})

	require.Eventually(t, func() bool {
		v, ok := Peek[int](c, "sid:queue-status")
		return ok && v >= 2
	}, time.Second, 5*time.Millisecond)
	assert.True(t, p.Active("sid:queue-status"))
}

func TestPoller_EnsureIsIdempotent(t *testing.T) {
	c := New(Options{})
	p := NewPoller(c, PollerOptions{IdleTimeout: time.Minute, Logger: logging.Discard()})
	defer p.Close()

	var first, second atomic.Int32
	p.Ensure("sid:k", "k", 10*time.Millisecond, func(context.Context) (any, error) { first.Add(1); return 1, nil })
	p.Ensure("sid:k", "k", 10*time.Millisecond, func(context.Context) (any, error) { second.Add(1); return 2, nil })

	require.Eventually(t, func() bool { return first.Load() >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(0), second.Load())
}

func TestPoller_SlowFetchDoesNotBlockTicks(t *testing.T) {
	c := New(Options{})
	p := NewPoller(c, PollerOptions{IdleTimeout: time.Minute, Logger: logging.Discard()})

	release := make(chan struct{})
	var started atomic.Int32
	p.Ensure("sid:k", "k", 10*time.Millisecond, func(ctx context.Context) (any, error) {
		started.Add(1)
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})

	require.Eventually(t, func() bool { return started.Load() >= 3 }, time.Second, 5*time.Millisecond)
	close(release)
	p.Close()
}

func TestPoller_StopsWhenIdle(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	c := New(Options{})
	p := NewPoller(c, PollerOptions{IdleTimeout: time.Minute, Logger: logging.Discard(), Now: clk.Now})
	defer p.Close()

	p.Ensure("sid:k", "k", 5*time.Millisecond, func(context.Context) (any, error) { return 1, nil })
	require.True(t, p.Active("sid:k"))

	clk.Advance(2 * time.Minute)
	require.Eventually(t, func() bool { return !p.Active("sid:k") }, time.Second, 5*time.Millisecond)
}

func TestPoller_FailureKeepsPreviousAndExpiryStops(t *testing.T) {
	c := New(Options{})
	c.Set("sid:k", "previous")
	p := NewPoller(c, PollerOptions{IdleTimeout: time.Minute, Logger: logging.Discard()})
	defer p.Close()

	var calls atomic.Int32
	p.Ensure("sid:k", "k", 5*time.Millisecond, func(context.Context) (any, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("temporary")
		}
		return nil, fmt.Errorf("list: %w", qmsapi.ErrSessionExpired)
	})

	require.Eventually(t, func() bool { return !p.Active("sid:k") }, time.Second, 5*time.Millisecond)
	v, ok := Peek[string](c, "sid:k")
	require.True(t, ok)
	assert.Equal(t, "previous", v)
}

func TestPoller_StopPrefix(t *testing.T) {
	p := NewPoller(New(Options{}), PollerOptions{Logger: logging.Discard()})
	defer p.Close()
	noop := func(context.Context) (any, error) { return 0, nil }

	p.Ensure("a:1", "v", time.Hour, noop)
	p.Ensure("a:2", "v", time.Hour, noop)
	p.Ensure("b:1", "v", time.Hour, noop)
	p.StopPrefix("a:")

	assert.False(t, p.Active("a:1"))
	assert.False(t, p.Active("a:2"))
	assert.True(t, p.Active("b:1"))
}
