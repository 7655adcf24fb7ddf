// Package rtp реализует медиа-транспорт моста: сборку и разбор RTP пакетов,
// G.711 μ-law кодек, медиа-поток с монотонными sequence/timestamp и
// выделение UDP портов из настроенного диапазона.
package rtp

import (
	"errors"
	"fmt"

	"github.com/pion/rtp"
)

// HeaderSize размер фиксированного RTP заголовка без CSRC и расширений
const HeaderSize = 12

// Payload types, которые мост объявляет в SDP ответе
const (
	PayloadTypePCMU           uint8 = 0
	PayloadTypePCMA           uint8 = 8
	PayloadTypeTelephoneEvent uint8 = 101
)

var (
	// ErrTooShort возвращается для датаграмм короче фиксированного заголовка
	ErrTooShort = errors.New("rtp: packet shorter than 12 bytes")
	// ErrMalformedPacket датаграмма не разбирается как RTP
	ErrMalformedPacket = errors.New("rtp: malformed packet")
	// ErrInvalidPayloadType payload type не помещается в 7 бит
	ErrInvalidPayloadType = errors.New("rtp: payload type exceeds 7 bits")
)

// Header поля RTP заголовка, которые использует мост
type Header struct {
	Version        uint8
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// BuildPacket собирает RTP пакет: 12 байт заголовка (V=2, без padding,
// extension и CSRC, marker сброшен) и полезная нагрузка.
func BuildPacket(payload []byte, payloadType uint8, seq uint16, timestamp, ssrc uint32) ([]byte, error) {
	if payloadType > 0x7F {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPayloadType, payloadType)
	}

	packet := rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    payloadType,
			SequenceNumber: seq,
			Timestamp:      timestamp,
			SSRC:           ssrc,
		},
		Payload: payload,
	}

	data, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("rtp: marshal packet: %w", err)
	}
	return data, nil
}

// ParsePacket разбирает датаграмму. Возвращаемый payload ссылается на raw.
func ParsePacket(raw []byte) (Header, []byte, error) {
	if len(raw) < HeaderSize {
		return Header{}, nil, ErrTooShort
	}

	var packet rtp.Packet
	if err := packet.Unmarshal(raw); err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	h := Header{
		Version:        packet.Version,
		Marker:         packet.Marker,
		PayloadType:    packet.PayloadType,
		SequenceNumber: packet.SequenceNumber,
		Timestamp:      packet.Timestamp,
		SSRC:           packet.SSRC,
	}
	return h, packet.Payload, nil
}
