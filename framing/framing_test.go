package framing

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/socket"
)

func loopbackTCP(port int) netutil.Endpoint {
	return netutil.TCPEndpoint{IP: net.ParseIP("127.0.0.1"), Port: port}
}

func newFramingPair(t *testing.T, loop *reactor.EventLoop, maxMsg int) (client, server *FramingSocket) {
	t.Helper()
	acc := NewFramingAcceptor(loop, socket.DefaultConfig(), maxMsg)
	require.NoError(t, acc.Open(loopbackTCP(0)))
	defer acc.Close()

	accepted := make(chan *FramingSocket, 1)
	acc.OnAccept(func(conn *FramingSocket, remote netutil.Endpoint) bool {
		accepted <- conn
		return false
	})

	local := acc.Local().(netutil.TCPEndpoint)
	clientSock := socket.NewSocket(loop, socket.DefaultConfig())
	client = NewFramingSocket(clientSock, maxMsg)
	connected := make(chan error, 1)
	client.AddConnectCallback(func(err error) { connected <- err })
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))

	select {
	case err := <-connected:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out connecting")
	}
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out accepting")
	}
	return client, server
}

func TestFramingSocketRoundTrip(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	client, server := newFramingPair(t, loop, 0)

	received := make(chan []byte, 1)
	server.AddRecvCallback(func(msg []byte) {
		received <- append([]byte(nil), msg...)
	})

	require.NoError(t, client.Send([]byte("hello frame")))

	select {
	case got := <-received:
		assert.Equal(t, "hello frame", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestFramingSocketMultipleMessagesInOneRead(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	client, server := newFramingPair(t, loop, 0)

	received := make(chan []byte, 3)
	server.AddRecvCallback(func(msg []byte) {
		received <- append([]byte(nil), msg...)
	})

	require.NoError(t, client.Send([]byte("one")))
	require.NoError(t, client.Send([]byte("two")))
	require.NoError(t, client.Send([]byte("three")))

	got := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		select {
		case msg := <-received:
			got = append(got, string(msg))
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for message %d", i)
		}
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestFramingSocketOversizedMessageRejectedBySender(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	client, _ := newFramingPair(t, loop, 8)
	err = client.Send([]byte("this message is far too long"))
	assert.Error(t, err)
}

func TestLineSocketRoundTrip(t *testing.T) {
	loop, err := reactor.Background()
	require.NoError(t, err)
	defer loop.Close()
	defer loop.Stop()

	acc := NewLineAcceptor(loop, socket.DefaultConfig(), 0)
	require.NoError(t, acc.Open(loopbackTCP(0)))
	defer acc.Close()

	accepted := make(chan *LineSocket, 1)
	acc.OnAccept(func(conn *LineSocket, remote netutil.Endpoint) bool {
		accepted <- conn
		return false
	})

	local := acc.Local().(netutil.TCPEndpoint)
	clientSock := socket.NewSocket(loop, socket.DefaultConfig())
	client := NewLineSocket(clientSock, 0)
	connected := make(chan error, 1)
	client.AddConnectCallback(func(err error) { connected <- err })
	require.NoError(t, client.Open(netutil.TCPEndpoint{IP: local.IP, Port: local.Port}))
	require.NoError(t, <-connected)

	var server *LineSocket
	select {
	case server = <-accepted:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out accepting")
	}

	received := make(chan []byte, 1)
	server.AddRecvCallback(func(line []byte) { received <- append([]byte(nil), line...) })

	require.NoError(t, client.Send([]byte("PING")))

	select {
	case got := <-received:
		assert.Equal(t, "PING", string(got))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for line")
	}
}
