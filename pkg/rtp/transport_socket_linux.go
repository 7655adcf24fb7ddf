//go:build linux

package rtp

import (
	"golang.org/x/sys/unix"
)

// setSockOptBuffers устанавливает размеры буферов сокета
func setSockOptBuffers(fd uintptr, recv, send int) {
	unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, recv)
	unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, send)
}

// setSockOptDSCP устанавливает DSCP маркировку для QoS (Linux реализация)
func setSockOptDSCP(fd uintptr, dscp int) {
	// DSCP находится в старших 6 битах TOS поля
	tos := dscp << 2

	unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, tos)
	unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_TCLASS, tos)
}

// setSockOptVoicePriority выставляет приоритет 6 (интерактивное аудио)
func setSockOptVoicePriority(fd uintptr) {
	unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_PRIORITY, 6)
}
