//go:build linux || darwin || freebsd || netbsd || openbsd

package server

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// peerHungUp reports whether the other end of a Unix socket is fully closed.
// A peer that only shut down its sending side does not count. TCP cannot tell
// the two apart, so known is false there.
func peerHungUp(nc net.Conn) (hungUp, known bool) {
	if nc.LocalAddr().Network() != "unix" {
		return false, false
	}
	sc, ok := nc.(syscall.Conn)
	if !ok {
		return false, false
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return false, false
	}
	err = rc.Control(func(fd uintptr) {
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, perr := unix.Poll(fds, 0)
		hungUp = perr == nil && n > 0 && fds[0].Revents&(unix.POLLHUP|unix.POLLERR) != 0
	})
	return hungUp, err == nil
}
