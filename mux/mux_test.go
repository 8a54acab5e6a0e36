package mux

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactorq/reactorq/executor"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/socket"
)

func loopbackTCP(port int) netutil.Endpoint {
	return netutil.TCPEndpoint{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestMultiplexingRoundTrip(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	replier := NewMultiplexingReplier(loop, socket.DefaultConfig(), 0, func(request []byte, complete func(reply []byte)) {
		complete(append([]byte("reply:"), request...))
	})
	require.NoError(t, replier.Open(loopbackTCP(0)))
	defer replier.Close()
	local := replier.acc.Local().(netutil.TCPEndpoint)

	req := NewMultiplexingRequester(loop, socket.DefaultConfig(), 0, 0, 0, 0)
	defer req.Close()
	require.NoError(t, req.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	results := make(chan string, 3)
	for i := 0; i < 3; i++ {
		payload := []byte{byte('a' + i)}
		require.NoError(t, req.Send(payload, func(reply []byte, ok bool) {
			if !ok {
				results <- "CANCELLED"
				return
			}
			results <- string(reply)
		}, nil))
	}

	seen := make(map[string]bool)
	for i := 0; i < 3; i++ {
		select {
		case r := <-results:
			seen[r] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for reply %d", i)
		}
	}
	assert.True(t, seen["reply:a"])
	assert.True(t, seen["reply:b"])
	assert.True(t, seen["reply:c"])
}

func TestMultiplexingRequesterEvictsOldestWhenFull(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	// Replier that never completes, so requests stay pending and the
	// table-full eviction path is exercised deterministically.
	replier := NewMultiplexingReplier(loop, socket.DefaultConfig(), 0, func(request []byte, complete func(reply []byte)) {})
	require.NoError(t, replier.Open(loopbackTCP(0)))
	defer replier.Close()
	local := replier.acc.Local().(netutil.TCPEndpoint)

	req := NewMultiplexingRequester(loop, socket.DefaultConfig(), 0, 1, 0, 0)
	defer req.Close()
	require.NoError(t, req.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	firstCancelled := make(chan bool, 1)
	require.NoError(t, req.Send([]byte("first"), func(reply []byte, ok bool) {
		firstCancelled <- ok
	}, nil))

	time.Sleep(100 * time.Millisecond) // let the first request actually register

	secondReplies := make(chan bool, 1)
	require.NoError(t, req.Send([]byte("second"), func(reply []byte, ok bool) {
		secondReplies <- ok
	}, nil))

	select {
	case ok := <-firstCancelled:
		assert.False(t, ok, "first request should be evicted once the table (capacity 1) fills")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for eviction")
	}
}

func TestMultiplexingRequesterTimeout(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	replier := NewMultiplexingReplier(loop, socket.DefaultConfig(), 0, func(request []byte, complete func(reply []byte)) {})
	require.NoError(t, replier.Open(loopbackTCP(0)))
	defer replier.Close()
	local := replier.acc.Local().(netutil.TCPEndpoint)

	req := NewMultiplexingRequester(loop, socket.DefaultConfig(), 0, 0, 50*time.Millisecond, 0)
	defer req.Close()
	require.NoError(t, req.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	cancelled := make(chan bool, 1)
	require.NoError(t, req.Send([]byte("ping"), func(reply []byte, ok bool) {
		cancelled <- ok
	}, nil))

	select {
	case ok := <-cancelled:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for request timeout")
	}
}

func TestMultiplexingRoundTripConcurrentScale(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	replier := NewMultiplexingReplier(loop, socket.DefaultConfig(), 0, func(request []byte, complete func(reply []byte)) {
		complete(append([]byte("reply:"), request...))
	})
	require.NoError(t, replier.Open(loopbackTCP(0)))
	defer replier.Close()
	local := replier.acc.Local().(netutil.TCPEndpoint)

	const n = 1000
	req := NewMultiplexingRequester(loop, socket.DefaultConfig(), 0, n, 5*time.Second, 0)
	defer req.Close()
	require.NoError(t, req.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	results := make(chan string, n)
	for i := 0; i < n; i++ {
		payload := []byte(string(rune('a' + i%26)))
		require.NoError(t, req.Send(payload, func(reply []byte, ok bool) {
			if !ok {
				results <- "CANCELLED"
				return
			}
			results <- string(reply)
		}, nil))
	}

	ok := 0
	for i := 0; i < n; i++ {
		select {
		case r := <-results:
			if r != "CANCELLED" {
				ok++
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for reply %d/%d", i, n)
		}
	}
	assert.Equal(t, n, ok, "every one of 1000 in-flight requests should be answered, none evicted")
}

func TestMultiplexingRequesterExecutorOffload(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	pool := executor.NewThreadPool(1, 8)
	defer pool.Stop()

	replier := NewMultiplexingReplier(loop, socket.DefaultConfig(), 0, func(request []byte, complete func(reply []byte)) {
		complete(request)
	})
	require.NoError(t, replier.Open(loopbackTCP(0)))
	defer replier.Close()
	local := replier.acc.Local().(netutil.TCPEndpoint)

	req := NewMultiplexingRequester(loop, socket.DefaultConfig(), 0, 0, 0, 0)
	defer req.Close()
	require.NoError(t, req.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	done := make(chan struct{})
	require.NoError(t, req.Send([]byte("x"), func(reply []byte, ok bool) {
		defer close(done)
		assert.True(t, ok)
	}, pool))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for offloaded reply")
	}
}
