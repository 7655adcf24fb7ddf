package rtp

// G.711 μ-law (ITU-T G.711), 14-битный диапазон с bias 0x84
const (
	muLawBias = 0x84
	muLawClip = 32635
)

var muLawDecodeTable [256]int16

func init() {
	for i := range muLawDecodeTable {
		muLawDecodeTable[i] = decodeMuLawSample(byte(i))
	}
}

// EncodeMuLaw кодирует 16-битный линейный PCM в μ-law, один байт на отсчет
func EncodeMuLaw(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = encodeMuLawSample(s)
	}
	return out
}

// DecodeMuLaw декодирует μ-law в 16-битный линейный PCM
func DecodeMuLaw(data []byte) []int16 {
	out := make([]int16, len(data))
	for i, b := range data {
		out[i] = muLawDecodeTable[b]
	}
	return out
}

func encodeMuLawSample(s int16) byte {
	sample := int32(s)
	var sign byte
	if sample < 0 {
		sample = -sample
		sign = 0x80
	}
	if sample > muLawClip {
		sample = muLawClip
	}
	sample += muLawBias

	// Сегмент определяется старшим установленным битом (биты 7..14)
	exponent := byte(7)
	for mask := int32(0x4000); sample&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte(sample>>(exponent+3)) & 0x0F

	return ^(sign | exponent<<4 | mantissa)
}

func decodeMuLawSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F

	sample := ((int32(mantissa) << 3) + muLawBias) << exponent
	sample -= muLawBias
	if sign != 0 {
		return int16(-sample)
	}
	return int16(sample)
}
