package rpc

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactorq/reactorq/mux"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/socket"
)

func loopbackTCP(port int) netutil.Endpoint {
	return netutil.TCPEndpoint{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func newTestServer(t *testing.T, loop *reactor.EventLoop) (*Server, netutil.TCPEndpoint) {
	t.Helper()
	srv := NewServer(loop, socket.DefaultConfig(), 0)
	srv.Register("echo", func(payload []byte) ([]byte, error) {
		return append([]byte("echo:"), payload...), nil
	}, nil)
	require.NoError(t, srv.Open(loopbackTCP(0)))
	return srv, srv.Local().(netutil.TCPEndpoint)
}

func TestRpcCallOk(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	srv, local := newTestServer(t, loop)
	defer srv.Close()

	client := NewClient(loop, socket.DefaultConfig(), 0, 0, 0, 0)
	defer client.Close()
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	done := make(chan struct{})
	require.NoError(t, client.Call("echo", []byte("hi"), func(result []byte, callErr error) {
		defer close(done)
		assert.NoError(t, callErr)
		assert.Equal(t, "echo:hi", string(result))
	}, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RPC reply")
	}
}

func TestRpcCallMethodNotFound(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	srv, local := newTestServer(t, loop)
	defer srv.Close()

	client := NewClient(loop, socket.DefaultConfig(), 0, 0, 0, 0)
	defer client.Close()
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	done := make(chan struct{})
	require.NoError(t, client.Call("does-not-exist", nil, func(result []byte, callErr error) {
		defer close(done)
		require.Error(t, callErr)
		rpcErr, ok := callErr.(*Error)
		require.True(t, ok)
		assert.Equal(t, StatusMethodNotFound, rpcErr.Code)
	}, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RPC reply")
	}
}

func TestRpcCallMethodNameTooLong(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	srv, local := newTestServer(t, loop)
	defer srv.Close()

	client := NewClient(loop, socket.DefaultConfig(), 0, 0, 0, 0)
	defer client.Close()
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	err = client.Call(strings.Repeat("x", 256), nil, func([]byte, error) {}, nil)
	assert.ErrorIs(t, err, ErrMethodNameTooLong)
}

func TestRpcCallTimeoutProducesCancelled(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	// A raw mux replier that never calls complete, so the request is
	// still pending when the client-side deadline fires — rpc.Server
	// always replies, so there's no way to reach this through it.
	replier := mux.NewMultiplexingReplier(loop, socket.DefaultConfig(), 0, func(request []byte, complete func(reply []byte)) {})
	require.NoError(t, replier.Open(loopbackTCP(0)))
	defer replier.Close()
	local := replier.Local().(netutil.TCPEndpoint)

	client := NewClient(loop, socket.DefaultConfig(), 0, 0, 50*time.Millisecond, 0)
	defer client.Close()
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	done := make(chan struct{})
	require.NoError(t, client.Call("does-not-matter", nil, func(result []byte, callErr error) {
		defer close(done)
		require.Error(t, callErr)
		rpcErr, ok := callErr.(*Error)
		require.True(t, ok)
		assert.Equal(t, StatusCancelled, rpcErr.Code)
	}, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RPC timeout")
	}
}

func TestRpcCallBadReplyOnShortWireReply(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	// A raw mux replier (not rpc.Server) that sends a zero-length reply:
	// the status byte decodeReply requires is simply absent on the wire.
	replier := mux.NewMultiplexingReplier(loop, socket.DefaultConfig(), 0, func(request []byte, complete func(reply []byte)) {
		complete(nil)
	})
	require.NoError(t, replier.Open(loopbackTCP(0)))
	defer replier.Close()
	local := replier.Local().(netutil.TCPEndpoint)

	client := NewClient(loop, socket.DefaultConfig(), 0, 0, 0, 0)
	defer client.Close()
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	done := make(chan struct{})
	require.NoError(t, client.Call("anything", nil, func(result []byte, callErr error) {
		defer close(done)
		require.Error(t, callErr)
		rpcErr, ok := callErr.(*Error)
		require.True(t, ok)
		assert.Equal(t, StatusBadReply, rpcErr.Code)
	}, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RPC reply")
	}
}

func TestRpcHandlerErrorProducesBadRequest(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	srv := NewServer(loop, socket.DefaultConfig(), 0)
	srv.Register("fails", func(payload []byte) ([]byte, error) {
		return nil, assert.AnError
	}, nil)
	require.NoError(t, srv.Open(loopbackTCP(0)))
	defer srv.Close()
	local := srv.Local().(netutil.TCPEndpoint)

	client := NewClient(loop, socket.DefaultConfig(), 0, 0, 0, 0)
	defer client.Close()
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	done := make(chan struct{})
	require.NoError(t, client.Call("fails", nil, func(result []byte, callErr error) {
		defer close(done)
		require.Error(t, callErr)
		rpcErr, ok := callErr.(*Error)
		require.True(t, ok)
		assert.Equal(t, StatusBadRequest, rpcErr.Code)
	}, nil))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for RPC reply")
	}
}
