// Настройка UDP сокетов медиа-потока
//
// Сокеты RTP создаются через net.ListenConfig: до bind выставляются буферы,
// DSCP маркировка и приоритет голосового трафика. Ошибки платформенных
// опций не критичны, контейнеры часто запрещают SO_PRIORITY.
package rtp

import (
	"context"
	"fmt"
	"net"
	"syscall"
	"time"
)

const (
	// DefaultBufferSize размер буфера чтения датаграммы (MTU Ethernet)
	DefaultBufferSize = 1500

	// DefaultReceiveTimeout таймаут чтения, после которого цикл приема
	// проверяет, жива ли сессия
	DefaultReceiveTimeout = 100 * time.Millisecond

	// VoiceOptimizedRecvBuffer ~3 секунды G.711 при 20ms пакетах
	VoiceOptimizedRecvBuffer = 65535
	// VoiceOptimizedSendBuffer буфер отправки
	VoiceOptimizedSendBuffer = 65535

	// DSCP значения для QoS классификации трафика согласно RFC 4594
	DSCPExpeditedForwarding = 46 // EF для интерактивного аудио
	DSCPBestEffort          = 0
)

// SocketConfig параметры UDP сокета медиа-потока
type SocketConfig struct {
	DSCP int // DSCP маркировка (0 = не выставлять)
}

// listenUDP открывает UDP сокет на ip:port с оптимизациями для голоса.
// port == 0 означает любой свободный порт.
func listenUDP(ip string, port int, cfg SocketConfig) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				applySockOptForVoice(fd, cfg)
			})
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp4", net.JoinHostPort(ip, fmt.Sprint(port)))
	if err != nil {
		return nil, err
	}

	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("неожиданный тип соединения %T", pc)
	}
	return conn, nil
}

// applySockOptForVoice применяет системные настройки сокета для голоса.
// Ошибки игнорируются: сокет остается рабочим и без них.
func applySockOptForVoice(fd uintptr, cfg SocketConfig) {
	setSockOptBuffers(fd, VoiceOptimizedRecvBuffer, VoiceOptimizedSendBuffer)

	if cfg.DSCP > 0 {
		setSockOptDSCP(fd, cfg.DSCP)
	}

	setSockOptVoicePriority(fd)
}
