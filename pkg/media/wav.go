package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	wavBitDepth = 16
	wavPCM      = 1
)

// ErrWriterClosed запись в закрытый файл
var ErrWriterClosed = errors.New("media: wav writer closed")

// EncodeWAV собирает моно 16-bit WAV в памяти
func EncodeWAV(samples []int16, sampleRate int) []byte {
	buf := &seekBuffer{}
	enc := wav.NewEncoder(buf, sampleRate, wavBitDepth, 1, wavPCM)
	// запись в память не возвращает ошибок
	_ = enc.Write(intBuffer(samples, sampleRate))
	_ = enc.Close()
	return buf.data
}

func intBuffer(samples []int16, sampleRate int) *audio.IntBuffer {
	data := make([]int, len(samples))
	for i, s := range samples {
		data[i] = int(s)
	}
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
}

// seekBuffer io.WriteSeeker в памяти для wav.Encoder
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if end := b.pos + len(p); end > len(b.data) {
		b.data = append(b.data, make([]byte, end-len(b.data))...)
	}
	n := copy(b.data[b.pos:], p)
	b.pos += n
	return n, nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = int64(b.pos) + offset
	case io.SeekEnd:
		pos = int64(len(b.data)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if pos < 0 {
		return 0, errors.New("seek: negative position")
	}
	b.pos = int(pos)
	return pos, nil
}

// WAVWriter пишет запись звонка по мере поступления звука.
// Размеры в заголовке исправляются при Close.
type WAVWriter struct {
	mu         sync.Mutex
	file       *os.File
	enc        *wav.Encoder
	path       string
	sampleRate int
	samples    int
	closed     bool
}

// CreateWAV создает файл записи
func CreateWAV(path string, sampleRate int) (*WAVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create recording: %w", err)
	}

	enc := wav.NewEncoder(f, sampleRate, wavBitDepth, 1, wavPCM)
	// пустой буфер пишет заголовок и начало блока data, пустая запись остается валидным WAV
	if err := enc.Write(intBuffer(nil, sampleRate)); err != nil {
		f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}

	return &WAVWriter{file: f, enc: enc, path: path, sampleRate: sampleRate}, nil
}

// Write дописывает сэмплы
func (w *WAVWriter) Write(samples []int16) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if err := w.enc.Write(intBuffer(samples, w.sampleRate)); err != nil {
		return fmt.Errorf("write samples: %w", err)
	}
	w.samples += len(samples)
	return nil
}

// Path путь к файлу записи
func (w *WAVWriter) Path() string {
	return w.path
}

// Samples количество записанных сэмплов
func (w *WAVWriter) Samples() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.samples
}

// Close исправляет заголовок и закрывает файл. Повторный вызов ничего не делает.
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if err := w.enc.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("finalize wav: %w", err)
	}
	return w.file.Close()
}
