package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Time{})
	var got []string
	c.AfterFunc(3*time.Second, func() { got = append(got, "c") })
	c.AfterFunc(1*time.Second, func() { got = append(got, "a") })
	c.AfterFunc(2*time.Second, func() { got = append(got, "b") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, got)

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, got)
	assert.Empty(t, c.Pending())
}

func TestFakeStopAndFire(t *testing.T) {
	c := NewFake(time.Time{})
	fired := 0
	tm := c.AfterFunc(time.Minute, func() { fired++ })
	require.True(t, tm.Stop())
	require.False(t, tm.Stop())
	c.Advance(time.Hour)
	assert.Equal(t, 0, fired)

	c.AfterFunc(time.Minute, func() { fired++ })
	p := c.Pending()
	require.Len(t, p, 1)
	require.True(t, p[0].Fire())
	require.False(t, p[0].Fire())
	assert.Equal(t, 1, fired)
}

func TestFakeCallbackMayArmTimers(t *testing.T) {
	c := NewFake(time.Time{})
	start := c.Now()
	var at []time.Duration
	c.AfterFunc(time.Second, func() {
		at = append(at, c.Now().Sub(start))
		c.AfterFunc(time.Second, func() { at = append(at, c.Now().Sub(start)) })
	})
	c.Advance(5 * time.Second)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, at)
	assert.Equal(t, 5*time.Second, c.Now().Sub(start))
}
