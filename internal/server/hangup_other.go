//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package server

import "net"

func peerHungUp(net.Conn) (hungUp, known bool) { return false, false }
