package media

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// ErrEmptyAudio декодер не вернул ни одного сэмпла
var ErrEmptyAudio = errors.New("media: empty audio")

// DecodeMP3 декодирует MP3 в моно PCM с частотой targetRate
func DecodeMP3(data []byte, targetRate int) ([]int16, error) {
	if len(data) == 0 {
		return nil, ErrEmptyAudio
	}

	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("mp3 decoder: %w", err)
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("mp3 decode: %w", err)
	}

	mono := stereoToMono(raw)
	if len(mono) == 0 {
		return nil, ErrEmptyAudio
	}
	return Resample(mono, dec.SampleRate(), targetRate), nil
}

// stereoToMono go-mp3 всегда отдает стерео 16-bit little-endian
func stereoToMono(raw []byte) []int16 {
	frames := len(raw) / 4
	samples := make([]int16, frames*2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
	}
	return Downmix(samples, 2)
}
