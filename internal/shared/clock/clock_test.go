package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeAdvanceRunsInDeadlineOrder(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var order []string

	c.AfterFunc(20*time.Millisecond, func() { order = append(order, "b") })
	c.AfterFunc(10*time.Millisecond, func() { order = append(order, "a") })
	c.AfterFunc(0, func() { order = append(order, "now") })

	c.Advance(15 * time.Millisecond)
	assert.Equal(t, []string{"now", "a"}, order)

	c.Advance(10 * time.Millisecond)
	assert.Equal(t, []string{"now", "a", "b"}, order)
	assert.Equal(t, time.Unix(0, 0).Add(25*time.Millisecond), c.Now())
}

func TestFakeStop(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(2 * time.Second)
	assert.False(t, fired)
	assert.Equal(t, 0, c.Pending())
}

func TestFakeNestedScheduling(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	var hits int

	c.AfterFunc(time.Second, func() {
		hits++
		c.AfterFunc(time.Second, func() { hits++ })
	})

	c.Advance(1500 * time.Millisecond)
	assert.Equal(t, 1, hits)

	c.Advance(time.Second)
	assert.Equal(t, 2, hits)
}
