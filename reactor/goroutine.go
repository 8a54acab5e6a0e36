package reactor

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID extracts the numeric id Go's runtime stamps on every
// goroutine stack trace. The event loop uses it only to implement
// IsInLoopThread's single-thread assertion (§3/§5's "loop thread"
// invariant). Once the loop has started, every Post and PostTimed call
// consults it, as do the ownership assertions on reactor state.
func goroutineID() uint64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]
	// "goroutine 123 [running]:\n..."
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseUint(string(buf), 10, 64)
	return id
}
