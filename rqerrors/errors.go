// Package rqerrors collects the sentinel error values named throughout
// spec.md's error taxonomy (§7) and the pkg/errors wrapping helpers used
// to add call-site context without losing errors.Is compatibility — the
// idiom xtaci-kcptun uses throughout client/main.go and server/main.go.
package rqerrors

import (
	"syscall"

	"github.com/pkg/errors"
)

// Sentinel errors surfaced to callers. Transport-level failures are
// reported as syscall.Errno values per spec.md §7 ("close callbacks
// receive the errno"); these sentinels cover conditions with no natural
// errno, or that the spec gives a name to directly.
var (
	// ErrClosed is returned by operations attempted on an already-closed
	// object.
	ErrClosed = errors.New("reactorq: object is closed")
	// ErrNotConnected is returned by Send when the Socket is not in the
	// Connected state.
	ErrNotConnected = syscall.ENOTCONN
	// ErrBufferFull is returned when a send would exceed the configured
	// send-buffer capacity.
	ErrBufferFull = syscall.ENOBUFS
	// ErrMessageTooLarge is returned when a frame exceeds
	// max_message_length, or is raised on the receiver when a peer sends
	// an oversized frame.
	ErrMessageTooLarge = syscall.EMSGSIZE
	// ErrTimeout covers idle-timeout closes and wait_for_connected
	// expiry.
	ErrTimeout = syscall.ETIMEDOUT
	// ErrCancelled names the outcome of a request dropped without a
	// reply. The mux and rpc layers do not return it: they report that
	// outcome as ok=false and as an rpc.Error with StatusCancelled.
	ErrCancelled = errors.New("reactorq: request cancelled")
	// ErrShortFrame names a multiplexed payload shorter than the 8-byte
	// request-id prefix. The mux layer logs and drops such frames with
	// its own message and does not use this value.
	ErrShortFrame = errors.New("reactorq: frame shorter than request-id prefix")
	// ErrUnknownRequestID names a reply whose request id has no pending
	// entry. The mux layer logs and drops such replies with its own
	// message and does not use this value.
	ErrUnknownRequestID = errors.New("reactorq: unknown request id")
	// ErrUnsupportedEndpoint is returned by netutil parsing for malformed
	// or unrecognized endpoint strings.
	ErrUnsupportedEndpoint = errors.New("reactorq: unsupported endpoint")
)

// Wrap annotates err with msg, preserving errors.Is/As compatibility with
// any sentinel wrapped along the way. A nil err returns nil.
func Wrap(err error, msg string) error {
	return errors.Wrap(err, msg)
}

// Wrapf is Wrap with Printf-style formatting.
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}
