//go:build linux

package reactor

import (
	"golang.org/x/sys/unix"

	"github.com/reactorq/reactorq/rqerrors"
)

// Readiness bits the rest of the package works with, decoupled from the
// platform-specific epoll constants.
const (
	readable = uint32(1) << iota
	writable
)

// poller wraps a Linux epoll instance: the kernel demultiplexer the
// EventLoop blocks on. Grounded on socket515-gaio's direct epoll_*
// syscalls, using golang.org/x/sys/unix as the rest of the pack already
// depends on it (see DESIGN.md).
type poller struct {
	epfd int
}

func newPoller() (*poller, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, rqerrors.Wrap(err, "reactor: epoll_create1")
	}
	return &poller{epfd: epfd}, nil
}

func toEpollEvents(mask uint32) uint32 {
	var e uint32
	if mask&readable != 0 {
		e |= unix.EPOLLIN
	}
	if mask&writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func (p *poller) add(fd int, mask uint32) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, fd, &ev)
}

func (p *poller) modify(fd int, mask uint32) error {
	ev := unix.EpollEvent{Events: toEpollEvents(mask), Fd: int32(fd)}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, fd, &ev)
}

func (p *poller) remove(fd int) error {
	// Pre-4.5 kernels require a non-nil event pointer even for DEL.
	ev := unix.EpollEvent{}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, &ev)
}

// wait blocks (up to timeoutMillis, -1 = forever) for readiness events,
// writing results into events and returning the ready fd/mask pairs.
func (p *poller) wait(events []unix.EpollEvent, timeoutMillis int) ([]readyFD, error) {
	n, err := unix.EpollWait(p.epfd, events, timeoutMillis)
	if err != nil {
		if err == unix.EINTR {
			return nil, nil
		}
		return nil, rqerrors.Wrap(err, "reactor: epoll_wait")
	}
	out := make([]readyFD, 0, n)
	for i := 0; i < n; i++ {
		ev := events[i]
		var mask uint32
		if ev.Events&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
			mask |= readable
		}
		if ev.Events&(unix.EPOLLOUT|unix.EPOLLERR) != 0 {
			mask |= writable
		}
		out = append(out, readyFD{fd: int(ev.Fd), mask: mask})
	}
	return out, nil
}

func (p *poller) close() error {
	return unix.Close(p.epfd)
}

type readyFD struct {
	fd   int
	mask uint32
}

// newSelfWake creates an eventfd used to interrupt an in-progress
// epoll_wait from another goroutine (§4.1's self-wake handle).
func newSelfWake() (int, error) {
	fd, err := unix.Eventfd(0, unix.EFD_CLOEXEC|unix.EFD_NONBLOCK)
	if err != nil {
		return -1, rqerrors.Wrap(err, "reactor: eventfd")
	}
	return fd, nil
}

func signalSelfWake(fd int) {
	buf := [8]byte{0, 0, 0, 0, 0, 0, 0, 1}
	_, _ = unix.Write(fd, buf[:])
}

func drainSelfWake(fd int) {
	var buf [8]byte
	for {
		_, err := unix.Read(fd, buf[:])
		if err != nil {
			return
		}
	}
}

// newTimerFD creates a non-blocking kernel timer that is not yet armed;
// armTimerFD sets its initial delay and, if non-zero, its interval.
func newTimerFD() (int, error) {
	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return -1, rqerrors.Wrap(err, "reactor: timerfd_create")
	}
	return fd, nil
}

func armTimerFD(fd int, delay, interval int64) error {
	spec := unix.ItimerSpec{
		Value:    unix.NsecToTimespec(delay),
		Interval: unix.NsecToTimespec(interval),
	}
	if spec.Value.Sec == 0 && spec.Value.Nsec == 0 {
		// timerfd_settime treats an all-zero Value as "disarm"; nudge a
		// zero-delay one-shot to fire essentially immediately instead.
		spec.Value.Nsec = 1
	}
	return unix.TimerfdSettime(fd, 0, &spec, nil)
}

func drainTimerFD(fd int) (expirations uint64, err error) {
	var buf [8]byte
	n, err := unix.Read(fd, buf[:])
	if err != nil {
		return 0, err
	}
	if n != 8 {
		return 0, nil
	}
	expirations = uint64(buf[0]) | uint64(buf[1])<<8 | uint64(buf[2])<<16 | uint64(buf[3])<<24 |
		uint64(buf[4])<<32 | uint64(buf[5])<<40 | uint64(buf[6])<<48 | uint64(buf[7])<<56
	return expirations, nil
}

func closeFD(fd int) error {
	return unix.Close(fd)
}
