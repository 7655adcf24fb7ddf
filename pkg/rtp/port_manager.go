package rtp

import (
	"fmt"
	"net"
	"sync"
)

// PortRange диапазон портов для RTP сокетов (включительно)
type PortRange struct {
	Min int
	Max int
}

// PortManager выделяет четные порты медиа-потоков из диапазона, нечетный
// сосед остается за RTCP. Если диапазон исчерпан, сокет открывается на
// любом свободном порту.
type PortManager struct {
	portRange PortRange
	bindIP    string
	socket    SocketConfig
	usedPorts map[int]bool
	mutex     sync.Mutex
}

// NewPortManager создает новый PortManager
func NewPortManager(portRange PortRange, bindIP string, socket SocketConfig) (*PortManager, error) {
	if portRange.Min <= 0 || portRange.Max <= 0 || portRange.Max > 65535 {
		return nil, fmt.Errorf("неверный диапазон портов: Min=%d, Max=%d", portRange.Min, portRange.Max)
	}
	if portRange.Min > portRange.Max {
		return nil, fmt.Errorf("минимальный порт больше максимального: Min=%d, Max=%d",
			portRange.Min, portRange.Max)
	}
	if firstEven(portRange.Min) > portRange.Max {
		return nil, fmt.Errorf("в диапазоне нет четного порта: Min=%d, Max=%d", portRange.Min, portRange.Max)
	}
	if bindIP == "" {
		bindIP = "0.0.0.0"
	}

	return &PortManager{
		portRange: portRange,
		bindIP:    bindIP,
		socket:    socket,
		usedPorts: make(map[int]bool),
	}, nil
}

// Allocate открывает UDP сокет на первом свободном четном порту диапазона.
// При исчерпании диапазона используется порт 0 (выбирает ядро).
func (pm *PortManager) Allocate() (*net.UDPConn, error) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	for port := firstEven(pm.portRange.Min); port <= pm.portRange.Max; port += 2 {
		if pm.usedPorts[port] {
			continue
		}
		conn, err := listenUDP(pm.bindIP, port, pm.socket)
		if err != nil {
			// порт занят другим процессом
			continue
		}
		pm.usedPorts[port] = true
		return conn, nil
	}

	conn, err := listenUDP(pm.bindIP, 0, pm.socket)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть RTP сокет: %w", err)
	}
	portFallbacks.Inc()
	return conn, nil
}

// Release освобождает порт. Порты вне диапазона не отслеживаются.
func (pm *PortManager) Release(port int) {
	if !pm.InRange(port) {
		return
	}
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	delete(pm.usedPorts, port)
}

// OpenStream выделяет порт и создает поток к remote. Порт освобождается
// при закрытии потока.
func (pm *PortManager) OpenStream(remote *net.UDPAddr, cfg StreamConfig) (*MediaStream, error) {
	conn, err := pm.Allocate()
	if err != nil {
		return nil, err
	}

	stream := NewMediaStream(conn, remote, cfg)
	port := stream.LocalPort()
	stream.onClose = func() { pm.Release(port) }
	return stream, nil
}

// InRange попадает ли порт в настроенный диапазон
func (pm *PortManager) InRange(port int) bool {
	return port >= pm.portRange.Min && port <= pm.portRange.Max
}

// UsedPorts количество занятых портов диапазона
func (pm *PortManager) UsedPorts() int {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()

	return len(pm.usedPorts)
}

// Range возвращает диапазон портов
func (pm *PortManager) Range() PortRange {
	return pm.portRange
}

func firstEven(port int) int {
	if port%2 != 0 {
		return port + 1
	}
	return port
}
