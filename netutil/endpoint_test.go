package netutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTCPv4(t *testing.T) {
	ep, err := Parse("tcp://127.0.0.1:9000")
	require.NoError(t, err)
	tcp, ok := ep.(TCPEndpoint)
	require.True(t, ok)
	assert.Equal(t, 9000, tcp.Port)
	assert.Equal(t, "127.0.0.1", tcp.IP.String())
	assert.Equal(t, "tcp://127.0.0.1:9000", ep.String())
}

func TestParseTCPv6WithZone(t *testing.T) {
	ep, err := Parse("tcp://[fe80::1%eth0]:9000")
	require.NoError(t, err)
	tcp, ok := ep.(TCPEndpoint)
	require.True(t, ok)
	assert.Equal(t, "eth0", tcp.Zone)
	assert.Equal(t, 9000, tcp.Port)
}

func TestParseUnixPath(t *testing.T) {
	ep, err := Parse("unix:///tmp/sock")
	require.NoError(t, err)
	u, ok := ep.(UnixEndpoint)
	require.True(t, ok)
	assert.Equal(t, "/tmp/sock", u.Path)
	assert.False(t, u.Abstract)
}

func TestParseUnixAbstract(t *testing.T) {
	ep, err := Parse("unix://@myname")
	require.NoError(t, err)
	u, ok := ep.(UnixEndpoint)
	require.True(t, ok)
	assert.Equal(t, "myname", u.Path)
	assert.True(t, u.Abstract)
}

func TestParseUnsupported(t *testing.T) {
	_, err := Parse("http://example.com")
	assert.Error(t, err)
}

func TestEquality(t *testing.T) {
	a, _ := Parse("tcp://127.0.0.1:9000")
	b, _ := Parse("tcp://127.0.0.1:9000")
	c, _ := Parse("tcp://127.0.0.1:9001")
	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))

	u1, _ := Parse("unix:///tmp/a")
	u2, _ := Parse("unix://@a")
	assert.False(t, u1.Equal(u2))
}
