package socket

import (
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
)

func loopbackTCP(port int) netutil.Endpoint {
	return netutil.TCPEndpoint{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func TestAcceptorAcceptsConnection(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	acc := NewAcceptor(loop, DefaultConfig())
	require.NoError(t, acc.Open(loopbackTCP(0)))
	require.Equal(t, Connected, acc.State())

	accepted := make(chan *Socket, 1)
	acc.OnAccept(func(conn *Socket, remote netutil.Endpoint) bool {
		accepted <- conn
		return true
	})

	local := acc.Local().(netutil.TCPEndpoint)

	client := NewSocket(loop, DefaultConfig())
	connected := make(chan error, 1)
	client.AddConnectCallback(func(err error) { connected <- err })
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	select {
	case err := <-connected:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for client connect")
	}

	select {
	case srv := <-accepted:
		assert.Equal(t, Connected, srv.State())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept")
	}
}

func TestAcceptorReplaceSemantics(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	acc := NewAcceptor(loop, DefaultConfig())
	require.NoError(t, acc.Open(loopbackTCP(0)))

	var calls int32
	acc.OnAccept(func(conn *Socket, remote netutil.Endpoint) bool {
		atomic.AddInt32(&calls, 1)
		return false
	})

	local := acc.Local().(netutil.TCPEndpoint)
	for i := 0; i < 2; i++ {
		client := NewSocket(loop, DefaultConfig())
		done := make(chan struct{})
		client.AddConnectCallback(func(err error) { close(done) })
		require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))
		<-done
	}

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "accept callback should be cleared after returning false")
}
