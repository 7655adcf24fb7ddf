package media

import "math"

// RMS среднеквадратичный уровень кадра
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Peak максимальная амплитуда по модулю
func Peak(samples []int16) int {
	peak := 0
	for _, s := range samples {
		v := int(s)
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	return peak
}

// Resample линейная интерполяция между частотами дискретизации
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate || len(samples) == 0 {
		return append([]int16(nil), samples...)
	}

	outLen := int(int64(len(samples)) * int64(toRate) / int64(fromRate))
	out := make([]int16, outLen)
	ratio := float64(fromRate) / float64(toRate)
	last := len(samples) - 1

	for i := range out {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			out[i] = samples[last]
			continue
		}
		frac := pos - float64(idx)
		v := float64(samples[idx])*(1-frac) + float64(samples[idx+1])*frac
		out[i] = clamp16(v)
	}
	return out
}

// Normalize масштабирует сигнал так, чтобы пик стал target долей полной шкалы
func Normalize(samples []int16, target float64) []int16 {
	out := append([]int16(nil), samples...)
	peak := Peak(samples)
	if peak == 0 {
		return out
	}
	factor := float64(int(32767*target)) / float64(peak)
	for i, s := range out {
		out[i] = clamp16(float64(s) * factor)
	}
	return out
}

// Downmix сводит чередующиеся каналы в моно
func Downmix(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return append([]int16(nil), samples...)
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// Frames делит сигнал на кадры по size сэмплов, последний кадр может быть короче
func Frames(samples []int16, size int) [][]int16 {
	if size <= 0 {
		return nil
	}
	frames := make([][]int16, 0, (len(samples)+size-1)/size)
	for i := 0; i < len(samples); i += size {
		end := i + size
		if end > len(samples) {
			end = len(samples)
		}
		frames = append(frames, samples[i:end])
	}
	return frames
}

func clamp16(v float64) int16 {
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(math.Round(v))
}
