package media

import (
	"sort"
	"time"
)

// DetectorConfig параметры детектора речи
type DetectorConfig struct {
	InitialThreshold    float64
	MinThreshold        float64
	MaxThreshold        float64
	CalibrationFrames   int
	PreSpeechFrames     int
	SpeechFramesToStart int
	SilenceTimeout      time.Duration
	SampleRate          int
}

// DefaultDetectorConfig возвращает параметры для телефонного канала 8 кГц
func DefaultDetectorConfig() DetectorConfig {
	return DetectorConfig{
		InitialThreshold:    150,
		MinThreshold:        150,
		MaxThreshold:        2000,
		CalibrationFrames:   150, // 3 секунды по 20ms
		PreSpeechFrames:     20,  // 400ms до начала речи
		SpeechFramesToStart: 3,
		SilenceTimeout:      1500 * time.Millisecond,
		SampleRate:          8000,
	}
}

// Utterance законченная фраза абонента
type Utterance struct {
	Samples    []int16
	SampleRate int
}

// Duration длительность фразы
func (u Utterance) Duration() time.Duration {
	if u.SampleRate == 0 {
		return 0
	}
	return time.Duration(len(u.Samples)) * time.Second / time.Duration(u.SampleRate)
}

// FrameResult результат обработки одного кадра
type FrameResult struct {
	RMS       float64
	Utterance *Utterance // не nil, когда фраза завершена
}

// Detector конечный автомат сегментации речи
type Detector struct {
	cfg DetectorConfig

	threshold   float64
	calibrated  bool
	calibration []float64

	ring   [][]int16
	buffer []int16

	recording   bool
	consecutive int
	lastSpeech  time.Time
	processing  bool
	muted       bool

	maxRMS float64
}

// NewDetector создает детектор. Нулевые поля конфигурации заменяются значениями по умолчанию.
func NewDetector(cfg DetectorConfig) *Detector {
	def := DefaultDetectorConfig()
	if cfg.InitialThreshold <= 0 {
		cfg.InitialThreshold = def.InitialThreshold
	}
	if cfg.MinThreshold <= 0 {
		cfg.MinThreshold = def.MinThreshold
	}
	if cfg.MaxThreshold <= 0 {
		cfg.MaxThreshold = def.MaxThreshold
	}
	if cfg.CalibrationFrames <= 0 {
		cfg.CalibrationFrames = def.CalibrationFrames
	}
	if cfg.PreSpeechFrames <= 0 {
		cfg.PreSpeechFrames = def.PreSpeechFrames
	}
	if cfg.SpeechFramesToStart <= 0 {
		cfg.SpeechFramesToStart = def.SpeechFramesToStart
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}

	return &Detector{
		cfg:         cfg,
		threshold:   cfg.InitialThreshold,
		calibration: make([]float64, 0, cfg.CalibrationFrames),
		ring:        make([][]int16, 0, cfg.PreSpeechFrames),
	}
}

// Feed обрабатывает кадр. В заглушенном состоянии считается только RMS.
func (d *Detector) Feed(frame []int16, now time.Time) FrameResult {
	level := RMS(frame)
	result := FrameResult{RMS: level}

	if d.muted {
		return result
	}

	if level > d.maxRMS {
		d.maxRMS = level
	}

	if !d.calibrated {
		d.calibration = append(d.calibration, level)
		if len(d.calibration) < d.cfg.CalibrationFrames {
			d.pushRing(frame)
			return result
		}
		d.finishCalibration()
	}

	d.pushRing(frame)

	if level > d.threshold {
		d.consecutive++
		if !d.recording && d.consecutive > d.cfg.SpeechFramesToStart {
			// Кольцо уже содержит текущий кадр
			d.recording = true
			for _, f := range d.ring {
				d.buffer = append(d.buffer, f...)
			}
			d.ring = d.ring[:0]
			d.lastSpeech = now
		} else if d.recording {
			d.buffer = append(d.buffer, frame...)
			d.lastSpeech = now
		}
	} else {
		d.consecutive = 0
		if d.recording {
			d.buffer = append(d.buffer, frame...)
		}
	}

	if d.recording && !d.processing && now.Sub(d.lastSpeech) >= d.cfg.SilenceTimeout {
		result.Utterance = &Utterance{Samples: d.buffer, SampleRate: d.cfg.SampleRate}
		d.buffer = nil
		d.recording = false
		d.consecutive = 0
		d.lastSpeech = time.Time{}
		d.processing = true
	}

	return result
}

func (d *Detector) pushRing(frame []int16) {
	if len(d.ring) == d.cfg.PreSpeechFrames {
		copy(d.ring, d.ring[1:])
		d.ring = d.ring[:len(d.ring)-1]
	}
	d.ring = append(d.ring, append([]int16(nil), frame...))
}

// finishCalibration вычисляет порог по собранному уровню шума
func (d *Detector) finishCalibration() {
	sorted := append([]float64(nil), d.calibration...)
	sort.Float64s(sorted)

	n := len(sorted)
	median := sorted[n/2]
	p75 := sorted[int(float64(n)*0.75)]

	threshold := median + 2.0*(p75-median)
	if threshold < d.cfg.MinThreshold {
		threshold = d.cfg.MinThreshold
	}
	if threshold > d.cfg.MaxThreshold {
		threshold = d.cfg.MaxThreshold
	}

	d.threshold = threshold
	d.calibrated = true
	d.calibration = d.calibration[:0]
}

// Done снимает флаг обработки после завершения конвейера фразы
func (d *Detector) Done() {
	d.processing = false
}

// Reset сбрасывает буфер фразы и состояние записи
func (d *Detector) Reset() {
	d.buffer = nil
	d.recording = false
	d.consecutive = 0
	d.lastSpeech = time.Time{}
}

// Recalibrate запускает калибровку заново
func (d *Detector) Recalibrate() {
	d.Reset()
	d.ring = d.ring[:0]
	d.calibration = d.calibration[:0]
	d.calibrated = false
	d.threshold = d.cfg.InitialThreshold
	d.maxRMS = 0
}

// SetMuted включает или выключает заглушение
func (d *Detector) SetMuted(muted bool) {
	d.muted = muted
}

// Muted сообщает, заглушен ли детектор
func (d *Detector) Muted() bool { return d.muted }

// Threshold текущий порог RMS
func (d *Detector) Threshold() float64 { return d.threshold }

// Calibrated сообщает, завершена ли калибровка
func (d *Detector) Calibrated() bool { return d.calibrated }

// Recording сообщает, идет ли запись фразы
func (d *Detector) Recording() bool { return d.recording }

// Processing сообщает, обрабатывается ли предыдущая фраза
func (d *Detector) Processing() bool { return d.processing }

// Buffered количество сэмплов в буфере фразы
func (d *Detector) Buffered() int { return len(d.buffer) }

// MaxRMS максимальный уровень с начала калибровки
func (d *Detector) MaxRMS() float64 { return d.maxRMS }
