package gopub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMonotonicTimer(t *testing.T) {
	tm := NewTimer()
	assert.Zero(t, tm.Elapsed())

	tm.Start()
	time.Sleep(5 * time.Millisecond)
	e := tm.Elapsed()
	assert.GreaterOrEqual(t, e, 5*time.Millisecond)

	tm.Stop()
	stopped := tm.Elapsed()
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, stopped, tm.Elapsed(), "stopped timer advanced")

	tm.Reset()
	assert.Zero(t, tm.Elapsed())

	tm.Start()
	tm.Reset()
	assert.Less(t, tm.Elapsed(), 5*time.Millisecond)
}
