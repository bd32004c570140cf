package querycache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestLoad_FetchesAndServesFresh(t *testing.T) {
	clk := &clock{now: time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)}
	c := New(Options{FreshFor: 10 * time.Second, Now: clk.Now})
	var calls atomic.Int32
	fetch := func(context.Context) ([]string, error) {
		calls.Add(1)
		return []string{"a"}, nil
	}

	res := Load(context.Background(), c, "sid:k", fetch)
	require.True(t, res.Found)
	assert.Equal(t, []string{"a"}, res.Value)

	Load(context.Background(), c, "sid:k", fetch)
	assert.Equal(t, int32(1), calls.Load())

	clk.Advance(11 * time.Second)
	Load(context.Background(), c, "sid:k", fetch)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLoad_FailureKeepsPreviousValue(t *testing.T) {
	c := New(Options{})
	ctx := context.Background()
	Load(ctx, c, "sid:k", func(context.Context) (int, error) { return 7, nil })

	res := Load(ctx, c, "sid:k", func(context.Context) (int, error) { return 0, errors.New("backend down") })
	assert.True(t, res.Found)
	assert.True(t, res.Stale)
	assert.Equal(t, 7, res.Value)
	assert.Error(t, res.Err)
	assert.False(t, res.Failed())
}

func TestLoad_FailureWithoutValueIsErrorState(t *testing.T) {
	c := New(Options{})
	res := Load(context.Background(), c, "sid:k", func(context.Context) ([]int, error) { return nil, errors.New("boom") })
	assert.True(t, res.Failed())
	assert.False(t, res.Found)
}

func TestLoad_EmptyIsNotFailure(t *testing.T) {
	c := New(Options{})
	res := Load(context.Background(), c, "sid:k", func(context.Context) ([]int, error) { return []int{}, nil })
	assert.False(t, res.Failed())
	assert.True(t, res.Found)
	assert.Empty(t, res.Value)
}

func TestInvalidate_ForcesRefetch(t *testing.T) {
	c := New(Options{FreshFor: time.Hour})
	ctx := context.Background()
	var calls atomic.Int32
	fetch := func(context.Context) (int, error) { return int(calls.Add(1)), nil }

	Load(ctx, c, Key("sid", KeyMyAppointments), fetch)
	Load(ctx, c, Key("sid", KeyMyAppointments), fetch)
	require.Equal(t, int32(1), calls.Load())

	c.Invalidate(Key("sid", KeyMyAppointments), Key("sid", "absent"))
	res := Load(ctx, c, Key("sid", KeyMyAppointments), fetch)
	assert.Equal(t, 2, res.Value)

	c.InvalidatePrefix(SessionPrefix("sid"))
	res = Load(ctx, c, Key("sid", KeyMyAppointments), fetch)
	assert.Equal(t, 3, res.Value)
}

func TestUpdateAndPeek(t *testing.T) {
	c := New(Options{})
	c.Set("sid:contacts", []bool{false, true})

	ok := Update(c, "sid:contacts", func(v []bool) []bool {
		out := append([]bool(nil), v...)
		out[0] = !out[0]
		return out
	})
	require.True(t, ok)
	v, ok := Peek[[]bool](c, "sid:contacts")
	require.True(t, ok)
	assert.Equal(t, []bool{true, true}, v)

	assert.False(t, Update(c, "sid:contacts", func(v string) string { return v }))
	assert.False(t, Update(c, "missing", func(v []bool) []bool { return v }))

	c.Remove("sid:")
	_, ok = Peek[[]bool](c, "sid:contacts")
	assert.False(t, ok)
}
