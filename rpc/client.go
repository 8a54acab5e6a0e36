package rpc

import (
	"time"

	"github.com/pkg/errors"

	"github.com/reactorq/reactorq/executor"
	"github.com/reactorq/reactorq/mux"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/socket"
)

// ErrMethodNameTooLong is returned by Call when method exceeds the
// 255-byte name_len:uint8 wire limit (spec.md §4.9).
var ErrMethodNameTooLong = errors.New("rpc: method name exceeds 255 bytes")

// ResultCallback receives the method's return bytes on Ok, or a non-nil
// *Error for any other outcome (including Cancelled when the request
// was dropped without a reply ever arriving).
type ResultCallback func(result []byte, err error)

// Client owns a MultiplexingRequester and issues named-method calls, per
// spec.md §4.9.
type Client struct {
	req *mux.MultiplexingRequester
}

// NewClient constructs a Client. maxPending <= 0 means unbounded;
// requestTimeout <= 0 disables per-request timeouts; reconnectInterval
// > 0 enables auto-reconnect.
func NewClient(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength int, maxPending int, requestTimeout time.Duration, reconnectInterval time.Duration) *Client {
	return &Client{
		req: mux.NewMultiplexingRequester(loop, cfg, maxMessageLength, maxPending, requestTimeout, reconnectInterval),
	}
}

func (c *Client) Open(remote netutil.Endpoint) error { return c.req.Open(remote) }
func (c *Client) Close()                             { c.req.Close() }

// Call invokes method remotely with payload, running cb with a reply's
// result on exec (or inline on the loop thread if exec is nil). A
// Cancelled outcome runs cb directly on the goroutine that detects it,
// as described on mux.MultiplexingRequester.Send.
func (c *Client) Call(method string, payload []byte, cb ResultCallback, exec executor.Executor) error {
	if len(method) > maxMethodNameLength {
		return errors.Wrapf(ErrMethodNameTooLong, "method %q", method)
	}
	request := encodeRequest(method, payload)
	return c.req.Send(request, func(reply []byte, ok bool) {
		if !ok {
			cb(nil, &Error{Code: StatusCancelled})
			return
		}
		status, result, decodeOK := decodeReply(reply)
		if !decodeOK {
			cb(nil, &Error{Code: StatusBadReply})
			return
		}
		if status != StatusOk {
			cb(nil, &Error{Code: status})
			return
		}
		cb(result, nil)
	}, exec)
}

func encodeRequest(method string, payload []byte) []byte {
	request := make([]byte, 1+len(method)+len(payload))
	request[0] = byte(len(method))
	copy(request[1:], method)
	copy(request[1+len(method):], payload)
	return request
}

func decodeReply(reply []byte) (status StatusCode, result []byte, ok bool) {
	if len(reply) < 1 {
		return 0, nil, false
	}
	return StatusCode(reply[0]), reply[1:], true
}
