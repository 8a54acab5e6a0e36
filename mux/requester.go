// Package mux implements multiplexed request/reply atop
// framing.FramingSocket: an 8-byte little-endian request id is prepended
// to every payload in both directions, per spec.md §4.8.
package mux

import (
	"container/list"
	"encoding/binary"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/reactorq/reactorq/executor"
	"github.com/reactorq/reactorq/framing"
	"github.com/reactorq/reactorq/netutil"
	"github.com/reactorq/reactorq/reactor"
	"github.com/reactorq/reactorq/rqlog"
	"github.com/reactorq/reactorq/socket"
)

// ReplyCallback is invoked with the reply payload (the 8-byte request-id
// prefix already stripped), or with ok=false if the request was
// cancelled (evicted, timed out, or the connection closed) without a
// reply ever arriving.
type ReplyCallback func(payload []byte, ok bool)

var requestIDCounter uint64 // process-global monotonic counter

func nextRequestID() uint64 { return atomic.AddUint64(&requestIDCounter, 1) }

type pendingRequest struct {
	id       uint64
	cb       ReplyCallback
	exec     executor.Executor
	deadline time.Time
	elem     *list.Element // this entry's element in pending (insertion order)
	dlElem   *list.Element // this entry's element in the deadline list
}

// MultiplexingRequester owns one FramingSocket and multiplexes many
// concurrent requests over it via request ids, per spec.md §4.8.
type MultiplexingRequester struct {
	loop   *reactor.EventLoop
	sock   *socket.Socket
	fs     *framing.FramingSocket
	reconn time.Duration

	maxPending     int
	requestTimeout time.Duration

	mu       sync.Mutex
	byID     map[uint64]*pendingRequest
	order    *list.List // insertion order, for maxPending eviction
	deadline *list.List // absolute-deadline order, for timeout sweeps

	timerCancel func()
	log         *logrus.Entry
}

const requestIDSize = 8

// NewMultiplexingRequester constructs a requester. maxPending <= 0 means
// unbounded; requestTimeout <= 0 disables per-request timeouts.
func NewMultiplexingRequester(loop *reactor.EventLoop, cfg socket.Config, maxMessageLength int, maxPending int, requestTimeout time.Duration, reconnectInterval time.Duration) *MultiplexingRequester {
	sock := socket.NewSocket(loop, cfg)
	fs := framing.NewFramingSocket(sock, maxMessageLength)
	r := &MultiplexingRequester{
		loop:           loop,
		sock:           sock,
		fs:             fs,
		reconn:         reconnectInterval,
		maxPending:     maxPending,
		requestTimeout: requestTimeout,
		byID:           make(map[uint64]*pendingRequest),
		order:          list.New(),
		deadline:       list.New(),
		log:            rqlog.For("mux.requester"),
	}
	fs.AddRecvCallback(r.onRecv)
	fs.AddCloseCallback(func(err error, _ int) { r.cancelAll() })
	if requestTimeout > 0 {
		r.timerCancel = loop.PostTimed(r.sweepDeadlines, requestTimeout)
	}
	return r
}

// Open dials remote.
func (r *MultiplexingRequester) Open(remote netutil.Endpoint) error {
	if r.reconn > 0 {
		socket.WithReconnect(r.loop, r.sock, remote, r.reconn)
	}
	return r.fs.Open(remote)
}

// Close closes the underlying connection and cancels every pending
// request with ok=false.
func (r *MultiplexingRequester) Close() {
	if r.timerCancel != nil {
		r.timerCancel()
	}
	r.fs.Close(nil)
}

// Send submits payload, invoking cb with the reply once it arrives. If
// exec is non-nil, a reply is delivered to cb on exec; otherwise inline
// on the loop thread. A cancellation (ok=false) is not posted to exec:
// cb runs directly on the goroutine that detects it (the Send caller on
// eviction or send failure, the loop thread on timeout or close). If
// maxPending > 0 and the pending table is full, the oldest entry is
// evicted (cancelled) to make room.
func (r *MultiplexingRequester) Send(payload []byte, cb ReplyCallback, exec executor.Executor) error {
	id := nextRequestID()

	r.mu.Lock()
	var evicted *pendingRequest
	if r.maxPending > 0 && len(r.byID) >= r.maxPending {
		evicted = r.evictOldestLocked()
	}
	pr := &pendingRequest{id: id, cb: cb, exec: exec}
	if r.requestTimeout > 0 {
		pr.deadline = time.Now().Add(r.requestTimeout)
		pr.dlElem = r.deadline.PushBack(pr)
	}
	pr.elem = r.order.PushBack(pr)
	r.byID[id] = pr
	r.mu.Unlock()

	if evicted != nil {
		evicted.cb(nil, false)
	}

	var idBuf [requestIDSize]byte
	binary.LittleEndian.PutUint64(idBuf[:], id)
	if err := r.fs.SendV([][]byte{idBuf[:], payload}); err != nil {
		r.removeLocked(id, false)
		return err
	}
	return nil
}

// evictOldestLocked removes and returns the longest-pending entry, for
// the caller to invoke with ok=false after releasing r.mu. Caller holds
// r.mu.
func (r *MultiplexingRequester) evictOldestLocked() *pendingRequest {
	front := r.order.Front()
	if front == nil {
		return nil
	}
	pr := front.Value.(*pendingRequest)
	r.log.WithField("request_id", pr.id).Warn("mux requester: evicting oldest pending request, table full")
	r.removeEntryLocked(pr)
	return pr
}

func (r *MultiplexingRequester) removeEntryLocked(pr *pendingRequest) {
	delete(r.byID, pr.id)
	r.order.Remove(pr.elem)
	if pr.dlElem != nil {
		r.deadline.Remove(pr.dlElem)
	}
}

// removeLocked removes id if present and, when ok is false, invokes its
// callback with ok=false (cancellation); with ok=true the entry is only
// removed. Call sites that already hold r.mu use removeEntryLocked
// directly; this helper takes the lock itself.
func (r *MultiplexingRequester) removeLocked(id uint64, ok bool) {
	r.mu.Lock()
	pr, found := r.byID[id]
	if found {
		r.removeEntryLocked(pr)
	}
	r.mu.Unlock()
	if found && !ok {
		pr.cb(nil, false)
	}
}

func (r *MultiplexingRequester) onRecv(message []byte) {
	if len(message) < requestIDSize {
		r.log.Warn("mux requester: dropping reply shorter than request-id prefix")
		return
	}
	id := binary.LittleEndian.Uint64(message[:requestIDSize])
	payload := message[requestIDSize:]

	r.mu.Lock()
	pr, found := r.byID[id]
	if found {
		r.removeEntryLocked(pr)
	}
	r.mu.Unlock()

	if !found {
		r.log.WithField("request_id", id).Warn("mux requester: dropping reply for unknown request id")
		return
	}
	body := append([]byte(nil), payload...)
	if pr.exec != nil {
		pr.exec.Post(func() { pr.cb(body, true) })
	} else {
		pr.cb(body, true)
	}
}

// sweepDeadlines is posted periodically (every requestTimeout) and
// cancels every entry whose absolute deadline has passed.
func (r *MultiplexingRequester) sweepDeadlines() time.Duration {
	now := time.Now()
	var expired []*pendingRequest

	r.mu.Lock()
	for e := r.deadline.Front(); e != nil; {
		pr := e.Value.(*pendingRequest)
		next := e.Next()
		if pr.deadline.After(now) {
			break
		}
		r.log.WithField("request_id", pr.id).Warn("mux requester: request timed out")
		r.removeEntryLocked(pr)
		expired = append(expired, pr)
		e = next
	}
	r.mu.Unlock()

	for _, pr := range expired {
		pr.cb(nil, false)
	}
	return r.requestTimeout
}

// cancelAll drops every pending request with ok=false, used when the
// underlying connection closes.
func (r *MultiplexingRequester) cancelAll() {
	r.mu.Lock()
	all := make([]*pendingRequest, 0, len(r.byID))
	for _, pr := range r.byID {
		all = append(all, pr)
	}
	r.byID = make(map[uint64]*pendingRequest)
	r.order = list.New()
	r.deadline = list.New()
	r.mu.Unlock()

	for _, pr := range all {
		pr.cb(nil, false)
	}
}
