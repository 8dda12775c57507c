package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := NewFake(epoch)
	var order []string

	c.AfterFunc(3*time.Second, func() { order = append(order, "third") })
	c.AfterFunc(1*time.Second, func() { order = append(order, "first") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "second") })

	c.Advance(time.Second)
	assert.Equal(t, []string{"first"}, order)

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"first", "second", "third"}, order)
	assert.Equal(t, epoch.Add(6*time.Second), c.Now())
	assert.Zero(t, c.Pending())
}

func TestFakeStopPreventsCallback(t *testing.T) {
	c := NewFake(epoch)
	fired := false

	timer := c.AfterFunc(time.Second, func() { fired = true })
	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeCallbackArmedDuringAdvance(t *testing.T) {
	c := NewFake(epoch)
	var seen []time.Time

	c.AfterFunc(time.Second, func() {
		seen = append(seen, c.Now())
		c.AfterFunc(time.Second, func() { seen = append(seen, c.Now()) })
	})

	c.Advance(10 * time.Second)
	assert.Equal(t, []time.Time{epoch.Add(time.Second), epoch.Add(2 * time.Second)}, seen)
}
