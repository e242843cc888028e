package clock

import (
	"context"
	"testing"
	"time"

	"connectrpc.com/connect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManualClock(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	c := NewManual(t0, time.Second)
	assert.Equal(t, t0, c.Now())
	assert.Equal(t, int64(0), c.Step())

	for i := 0; i < 3; i++ {
		c.Tick()
	}
	assert.Equal(t, t0.Add(3*time.Second), c.Now())
	assert.Equal(t, int64(3), c.Step())

	c.Advance(3723 * time.Second)
	assert.Equal(t, "01:02:06", c.String())
	h, m, s := c.GetHourMinuteSecond()
	assert.Equal(t, 1, h)
	assert.Equal(t, 2, m)
	assert.InDelta(t, 6.0, s, 1e-9)
}

func TestWallClock(t *testing.T) {
	c := New(0.5)
	assert.Equal(t, 500*time.Millisecond, c.DT)
	before := time.Now()
	now := c.Tick()
	assert.False(t, now.Before(before))
	assert.Equal(t, int64(1), c.Step())
	// 墙钟不能被手动推进
	assert.Less(t, c.Advance(time.Hour).Sub(time.Now()), time.Minute)
}

func TestGetNow(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	c := NewManual(t0, time.Second)
	c.Tick()
	res, err := c.GetNow(context.Background(), connect.NewRequest(&NowRequest{}))
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Second), res.Msg.T)
	assert.Equal(t, int64(1), res.Msg.Step)
}
