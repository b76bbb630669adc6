package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/jason-s-yu/chessd/internal/chessoracle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStartsWhiteRunning(t *testing.T) {
	c := New(5*time.Minute, nil)
	defer c.Stop()
	snap := c.Snapshot()
	assert.Equal(t, chessoracle.White, snap.RunningSide)
	assert.InDelta(t, 5*time.Minute, snap.WhiteRemaining, float64(50*time.Millisecond))
	assert.Equal(t, 5*time.Minute, snap.BlackRemaining)
}

func TestSwitchDebitsRunningSideOnly(t *testing.T) {
	c := New(5*time.Minute, nil)
	defer c.Stop()
	time.Sleep(30 * time.Millisecond)
	c.Switch()
	snap := c.Snapshot()
	assert.Equal(t, chessoracle.Black, snap.RunningSide)
	assert.Less(t, snap.WhiteRemaining, 5*time.Minute)
	assert.InDelta(t, 5*time.Minute, snap.BlackRemaining, float64(50*time.Millisecond))
}

func TestStopFreezesRemaining(t *testing.T) {
	c := New(5*time.Minute, nil)
	time.Sleep(20 * time.Millisecond)
	c.Stop()
	first := c.Snapshot()
	time.Sleep(20 * time.Millisecond)
	second := c.Snapshot()
	assert.Equal(t, first.WhiteRemaining, second.WhiteRemaining)
	assert.Equal(t, first.BlackRemaining, second.BlackRemaining)
}

func TestFlagFallFiresOnceWhenBudgetElapses(t *testing.T) {
	var fired int32
	var losingSide chessoracle.Side
	done := make(chan struct{})
	c := New(30*time.Millisecond, func(side chessoracle.Side) {
		atomic.AddInt32(&fired, 1)
		losingSide = side
		close(done)
	})
	defer c.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("flag fall never fired")
	}

	require.Equal(t, int32(1), atomic.LoadInt32(&fired))
	assert.Equal(t, chessoracle.White, losingSide)

	snap := c.Snapshot()
	assert.Equal(t, time.Duration(0), snap.WhiteRemaining)
}

func TestSwitchAfterStopIsNoop(t *testing.T) {
	c := New(5*time.Minute, nil)
	c.Stop()
	before := c.Snapshot()
	c.Switch()
	after := c.Snapshot()
	assert.Equal(t, before.RunningSide, after.RunningSide)
	assert.Equal(t, before.WhiteRemaining, after.WhiteRemaining)
	assert.Equal(t, before.BlackRemaining, after.BlackRemaining)
}
