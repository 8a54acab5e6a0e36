package reactor

import (
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRunningLoop(t *testing.T) *EventLoop {
	t.Helper()
	loop, err := New()
	require.NoError(t, err)
	started := make(chan struct{})
	go func() {
		close(started)
		loop.Run()
	}()
	<-started
	time.Sleep(10 * time.Millisecond) // let ownerID settle
	t.Cleanup(func() {
		loop.Stop()
		time.Sleep(10 * time.Millisecond)
		_ = loop.Close()
	})
	return loop
}

func TestPostRunsOnLoopThread(t *testing.T) {
	loop := newRunningLoop(t)

	done := make(chan bool, 1)
	loop.Post(func() {
		done <- loop.IsInLoopThread()
	})

	select {
	case onLoop := <-done:
		assert.True(t, onLoop)
	case <-time.After(time.Second):
		t.Fatal("task never ran")
	}
}

func TestPostOrderingPerSubmitter(t *testing.T) {
	loop := newRunningLoop(t)

	var seq []int
	results := make(chan []int, 1)
	for i := 0; i < 50; i++ {
		i := i
		loop.Post(func() {
			seq = append(seq, i)
			if len(seq) == 50 {
				results <- seq
			}
		})
	}

	select {
	case got := <-results:
		for i, v := range got {
			assert.Equal(t, i, v)
		}
	case <-time.After(time.Second):
		t.Fatal("tasks never completed")
	}
}

func TestPostTimedFiresAfterDelay(t *testing.T) {
	loop := newRunningLoop(t)

	fired := make(chan time.Time, 1)
	start := time.Now()
	loop.PostTimed(func() time.Duration {
		fired <- time.Now()
		return 0
	}, 50*time.Millisecond)

	select {
	case when := <-fired:
		assert.GreaterOrEqual(t, when.Sub(start), 40*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("timed task never fired")
	}
}

func TestPostTimedRearms(t *testing.T) {
	loop := newRunningLoop(t)

	var count int32
	done := make(chan struct{})
	loop.PostTimed(func() time.Duration {
		n := atomic.AddInt32(&count, 1)
		if n >= 3 {
			close(done)
			return 0
		}
		return 10 * time.Millisecond
	}, 10*time.Millisecond)

	select {
	case <-done:
		assert.EqualValues(t, 3, atomic.LoadInt32(&count))
	case <-time.After(time.Second):
		t.Fatal("did not re-arm 3 times")
	}
}

func TestPostTimedCancel(t *testing.T) {
	loop := newRunningLoop(t)

	var fired int32
	cancel := loop.PostTimed(func() time.Duration {
		atomic.AddInt32(&fired, 1)
		return 0
	}, 100*time.Millisecond)
	cancel()

	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&fired))
}

func TestWatcherReadCallback(t *testing.T) {
	loop := newRunningLoop(t)

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	fired := make(chan []byte, 1)
	loop.Post(func() {
		watcher := NewWatcher(loop, int(r.Fd()))
		watcher.RegisterSelf()
		watcher.AddReadCallback(func() bool {
			buf := make([]byte, 64)
			n, _ := r.Read(buf)
			fired <- buf[:n]
			return false
		})
	})

	_, err = w.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case got := <-fired:
		assert.Equal(t, "hello", string(got))
	case <-time.After(time.Second):
		t.Fatal("read callback never fired")
	}
}
