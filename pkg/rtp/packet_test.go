package rtp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPacket_HeaderLayout(t *testing.T) {
	payload := []byte{0xAA, 0xBB, 0xCC}

	data, err := BuildPacket(payload, PayloadTypePCMU, 0x1234, 0xDEADBEEF, 0x01020304)
	require.NoError(t, err)
	require.Len(t, data, HeaderSize+len(payload))

	// V=2, P=0, X=0, CC=0
	assert.Equal(t, byte(0x80), data[0])
	// M=0, PT=0
	assert.Equal(t, byte(0x00), data[1])
	assert.Equal(t, []byte{0x12, 0x34}, data[2:4])
	assert.Equal(t, []byte{0xDE, 0xAD, 0xBE, 0xEF}, data[4:8])
	assert.Equal(t, []byte{0x01, 0x02, 0x03, 0x04}, data[8:12])
	assert.Equal(t, payload, data[12:])
}

func TestBuildParse_RoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		pt      uint8
		seq     uint16
		ts      uint32
		ssrc    uint32
		payload []byte
	}{
		{"PCMU кадр", PayloadTypePCMU, 1, 160, 42, make([]byte, 160)},
		{"PCMA максимальные значения", PayloadTypePCMA, 65535, 0xFFFFFFFF, 0xFFFFFFFF, []byte{1, 2, 3}},
		{"telephone-event", PayloadTypeTelephoneEvent, 0, 0, 1, []byte{0x05, 0x8A, 0x03, 0x20}},
		{"пустой payload", 127, 777, 123456, 99, []byte{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := BuildPacket(tt.payload, tt.pt, tt.seq, tt.ts, tt.ssrc)
			require.NoError(t, err)

			h, payload, err := ParsePacket(data)
			require.NoError(t, err)

			assert.Equal(t, uint8(2), h.Version)
			assert.False(t, h.Marker)
			assert.Equal(t, tt.pt, h.PayloadType)
			assert.Equal(t, tt.seq, h.SequenceNumber)
			assert.Equal(t, tt.ts, h.Timestamp)
			assert.Equal(t, tt.ssrc, h.SSRC)
			assert.Equal(t, len(tt.payload), len(payload))
			if len(tt.payload) > 0 {
				assert.Equal(t, tt.payload, payload)
			}
		})
	}
}

func TestBuildPacket_InvalidPayloadType(t *testing.T) {
	_, err := BuildPacket(nil, 128, 0, 0, 0)
	assert.ErrorIs(t, err, ErrInvalidPayloadType)
}

func TestParsePacket_TooShort(t *testing.T) {
	for _, n := range []int{0, 1, 11} {
		_, _, err := ParsePacket(make([]byte, n))
		assert.ErrorIs(t, err, ErrTooShort, "длина %d", n)
	}
}

func TestParsePacket_Malformed(t *testing.T) {
	raw := make([]byte, HeaderSize)
	raw[0] = 0x8F // V=2, CC=15 без места под CSRC

	_, _, err := ParsePacket(raw)
	assert.ErrorIs(t, err, ErrMalformedPacket)
}
