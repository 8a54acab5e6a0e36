//go:build linux

package socket

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func closeFD(fd int) error {
	return unix.Close(fd)
}

// writevNonBlocking issues a single non-blocking scatter write of parts
// via writev(2), returning the number of bytes actually written (which
// may be less than the total if the kernel send buffer fills).
func writevNonBlocking(fd int, parts [][]byte) (int, error) {
	iovecs := make([]unix.Iovec, 0, len(parts))
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		iov := unix.Iovec{Base: &p[0]}
		iov.SetLen(len(p))
		iovecs = append(iovecs, iov)
	}
	if len(iovecs) == 0 {
		return 0, nil
	}
	n, _, errno := unix.Syscall(unix.SYS_WRITEV, uintptr(fd), uintptr(unsafe.Pointer(&iovecs[0])), uintptr(len(iovecs)))
	if errno != 0 {
		return 0, errno
	}
	return int(n), nil
}
