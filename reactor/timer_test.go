package reactor

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimerOneShot(t *testing.T) {
	loop := newRunningLoop(t)

	fired := make(chan struct{})
	loop.Post(func() {
		tm := NewTimer(loop)
		require.NoError(t, tm.Open(20*time.Millisecond, false))
		tm.AddExpireCallback(func() bool {
			close(fired)
			return false
		})
	})

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("timer never fired")
	}
}

func TestTimerPeriodic(t *testing.T) {
	loop := newRunningLoop(t)

	var count int32
	done := make(chan struct{})
	loop.Post(func() {
		tm := NewTimer(loop)
		require.NoError(t, tm.Open(15*time.Millisecond, true))
		tm.AddExpireCallback(func() bool {
			if atomic.AddInt32(&count, 1) >= 3 {
				close(done)
				return false
			}
			return true
		})
	})

	select {
	case <-done:
		assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
	case <-time.After(2 * time.Second):
		t.Fatal("periodic timer did not fire 3 times")
	}
}

func TestTimerStateTransitions(t *testing.T) {
	loop := newRunningLoop(t)
	result := make(chan TimerState, 2)
	loop.Post(func() {
		tm := NewTimer(loop)
		result <- tm.State()
		require.NoError(t, tm.Open(time.Second, false))
		result <- tm.State()
		_ = tm.Close()
	})
	assert.Equal(t, TimerClosed, <-result)
	assert.Equal(t, TimerOpened, <-result)
}
