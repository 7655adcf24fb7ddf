package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"
)

// Параметры 20ms кадра G.711 при 8 кГц
const (
	ClockRate       = 8000
	FrameDuration   = 20 * time.Millisecond
	SamplesPerFrame = 160
)

var (
	// ErrTimeout чтение не дождалось пакета за ReceiveTimeout
	ErrTimeout = errors.New("rtp: receive timeout")
	// ErrStreamClosed поток закрыт
	ErrStreamClosed = errors.New("rtp: stream closed")
	// ErrNoRemote удаленная сторона не известна
	ErrNoRemote = errors.New("rtp: remote endpoint not set")
)

// StreamConfig конфигурация медиа-потока
type StreamConfig struct {
	PayloadType    uint8
	SSRC           uint32        // 0 = случайный SSRC
	RandomStart    bool          // случайные начальные sequence/timestamp (RFC 3550)
	ReceiveTimeout time.Duration // 0 = DefaultReceiveTimeout
}

// MediaStream транспортное состояние одного звонка: локальный сокет,
// удаленная точка из SDP предложения, sequence/timestamp и SSRC.
//
// Поток принадлежит одной сессии. Отправлять может только одна горутина
// в каждый момент (тон ожидания останавливается до начала воспроизведения),
// счетчики атомарные, чтобы Stop из реестра не создавал гонок.
type MediaStream struct {
	conn           *net.UDPConn
	remote         *net.UDPAddr
	payloadType    uint8
	ssrc           uint32
	receiveTimeout time.Duration

	sequenceNumber uint32 // atomic, в заголовок уходят младшие 16 бит
	timestamp      uint32 // atomic

	closed  atomic.Bool
	onClose func()
}

// NewMediaStream создает поток поверх открытого сокета
func NewMediaStream(conn *net.UDPConn, remote *net.UDPAddr, cfg StreamConfig) *MediaStream {
	s := &MediaStream{
		conn:           conn,
		remote:         remote,
		payloadType:    cfg.PayloadType,
		ssrc:           cfg.SSRC,
		receiveTimeout: cfg.ReceiveTimeout,
	}
	if s.ssrc == 0 {
		s.ssrc = generateSSRC()
	}
	if s.receiveTimeout <= 0 {
		s.receiveTimeout = DefaultReceiveTimeout
	}
	if cfg.RandomStart {
		s.sequenceNumber = uint32(uint16(randomUint32()))
		s.timestamp = randomUint32()
	}
	return s
}

// LocalPort локальный UDP порт потока
func (s *MediaStream) LocalPort() int {
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// RemoteAddr адрес, на который отправляются пакеты
func (s *MediaStream) RemoteAddr() *net.UDPAddr {
	return s.remote
}

// SSRC идентификатор источника, фиксированный на время жизни потока
func (s *MediaStream) SSRC() uint32 {
	return s.ssrc
}

// NextSequence sequence number следующего пакета
func (s *MediaStream) NextSequence() uint16 {
	return uint16(atomic.LoadUint32(&s.sequenceNumber))
}

// Send отправляет один 20ms кадр. Sequence растет на 1 (по модулю 2^16),
// timestamp на 160 (по модулю 2^32).
func (s *MediaStream) Send(payload []byte) error {
	if s.closed.Load() {
		return ErrStreamClosed
	}
	if s.remote == nil {
		return ErrNoRemote
	}

	seq := uint16(atomic.AddUint32(&s.sequenceNumber, 1) - 1)
	ts := atomic.AddUint32(&s.timestamp, SamplesPerFrame) - SamplesPerFrame

	data, err := BuildPacket(payload, s.payloadType, seq, ts, s.ssrc)
	if err != nil {
		return err
	}

	if _, err := s.conn.WriteToUDP(data, s.remote); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return ErrStreamClosed
		}
		return fmt.Errorf("rtp: send to %s: %w", s.remote, err)
	}

	packetsSent.Inc()
	bytesSent.Add(float64(len(payload)))
	return nil
}

// SendPCM кодирует кадр в μ-law и отправляет его
func (s *MediaStream) SendPCM(pcm []int16) error {
	return s.Send(EncodeMuLaw(pcm))
}

// Receive ждет пакет не дольше ReceiveTimeout. Payload ссылается на buf.
func (s *MediaStream) Receive(buf []byte) (Header, []byte, error) {
	if s.closed.Load() {
		return Header{}, nil, ErrStreamClosed
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(s.receiveTimeout)); err != nil {
		if errors.Is(err, net.ErrClosed) {
			return Header{}, nil, ErrStreamClosed
		}
		return Header{}, nil, fmt.Errorf("rtp: set deadline: %w", err)
	}

	n, _, err := s.conn.ReadFromUDP(buf)
	if err != nil {
		var netErr net.Error
		switch {
		case errors.As(err, &netErr) && netErr.Timeout():
			return Header{}, nil, ErrTimeout
		case errors.Is(err, net.ErrClosed) || s.closed.Load():
			return Header{}, nil, ErrStreamClosed
		default:
			return Header{}, nil, fmt.Errorf("rtp: receive: %w", err)
		}
	}

	h, payload, err := ParsePacket(buf[:n])
	if err != nil {
		malformedPackets.Inc()
		return Header{}, nil, err
	}

	packetsReceived.Inc()
	bytesReceived.Add(float64(len(payload)))
	return h, payload, nil
}

// Close закрывает сокет и освобождает порт. Повторный вызов ничего не делает.
func (s *MediaStream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := s.conn.Close()
	if s.onClose != nil {
		s.onClose()
	}
	return err
}

// IsClosed закрыт ли поток
func (s *MediaStream) IsClosed() bool {
	return s.closed.Load()
}

// generateSSRC генерирует случайный SSRC
func generateSSRC() uint32 {
	return randomUint32()
}

func randomUint32() uint32 {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint32(time.Now().UnixNano())
	}
	return binary.BigEndian.Uint32(b[:])
}
