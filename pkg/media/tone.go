package media

import (
	"math"
	"time"
)

// ToneConfig параметры тона ожидания
type ToneConfig struct {
	Frequency  float64
	Duration   time.Duration
	Fade       time.Duration
	Volume     float64 // доля полной шкалы
	Pause      time.Duration
	SampleRate int
}

// DefaultThinkingTone тихий сигнал 500 Гц, пока ассистент готовит ответ
func DefaultThinkingTone() ToneConfig {
	return ToneConfig{
		Frequency:  500,
		Duration:   300 * time.Millisecond,
		Fade:       50 * time.Millisecond,
		Volume:     0.05,
		Pause:      500 * time.Millisecond,
		SampleRate: 8000,
	}
}

// Beep генерирует один сигнал с плавным нарастанием и затуханием
func (c ToneConfig) Beep() []int16 {
	n := int(float64(c.SampleRate) * c.Duration.Seconds())
	if n <= 0 {
		return nil
	}
	fade := int(float64(c.SampleRate) * c.Fade.Seconds())
	if fade*2 > n {
		fade = n / 2
	}

	beep := make([]int16, n)
	step := 0.0
	if n > 1 {
		step = c.Duration.Seconds() / float64(n-1)
	}
	for i := range beep {
		t := float64(i) * step
		v := math.Sin(2 * math.Pi * c.Frequency * t)

		envelope := 1.0
		switch {
		case fade > 1 && i < fade:
			envelope = float64(i) / float64(fade-1)
		case fade > 1 && i >= n-fade:
			envelope = float64(n-1-i) / float64(fade-1)
		}

		beep[i] = int16(v * envelope * c.Volume * 32767)
	}
	return beep
}

// PauseFrames количество 20ms кадров тишины между сигналами
func (c ToneConfig) PauseFrames() int {
	return int(c.Pause / (20 * time.Millisecond))
}
