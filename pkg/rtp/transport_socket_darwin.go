//go:build darwin

package rtp

import (
	"golang.org/x/sys/unix"
)

func setSockOptBuffers(fd uintptr, recv, send int) {
	unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recv)
	unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, send)
}

// setSockOptDSCP на macOS выставляется только IP_TOS
func setSockOptDSCP(fd uintptr, dscp int) {
	unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, dscp<<2)
}

// setSockOptVoicePriority macOS не поддерживает SO_PRIORITY
func setSockOptVoicePriority(fd uintptr) {}
