package session

import (
	"context"
	"errors"
	"time"

	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/rtp"
)

// speak синтезирует текст и проигрывает его абоненту. Вход заглушен на время
// синтеза, воспроизведения и паузы после него. Если unmute, детектор
// сбрасывается и снова слушает абонента.
func (s *CallSession) speak(ctx context.Context, text string, unmute bool) {
	s.setMuted(true)
	if unmute {
		defer func() {
			if !s.active.Load() {
				return
			}
			s.mu.Lock()
			s.detector.Reset()
			s.detector.SetMuted(false)
			s.mu.Unlock()
			s.touch()
		}()
	}

	if s.deps.Synthesizer == nil || !s.active.Load() {
		return
	}

	start := time.Now()
	audio, err := s.deps.Synthesizer.Synthesize(ctx, text)
	stageDuration.WithLabelValues("tts").Observe(time.Since(start).Seconds())
	if err != nil {
		s.logger.WithError(err).Warn("Синтез речи недоступен")
		s.deps.Store.Log(ctx, "error", "tts_failed", err.Error(), s.callID)
		return
	}

	pcm, err := media.DecodeMP3(audio, rtp.ClockRate)
	if err != nil {
		s.logger.WithError(err).Warn("Не удалось декодировать ответ синтеза")
		return
	}
	if !s.active.Load() {
		return
	}

	s.mu.Lock()
	if s.recording != nil {
		_ = s.recording.Write(pcm)
	}
	s.mu.Unlock()

	sent := s.sendFrames(pcm)
	s.logger.WithFields(map[string]any{
		"frames":   sent,
		"duration": time.Duration(len(pcm)) * time.Second / rtp.ClockRate,
	}).Debug("Ответ воспроизведен")

	select {
	case <-time.After(s.cfg.SettleDelay):
	case <-s.ctx.Done():
	}
}

// sendFrames отправляет сигнал кадрами по 20ms с выдержкой темпа.
// Последний неполный кадр дополняется тишиной.
func (s *CallSession) sendFrames(pcm []int16) int {
	ticker := time.NewTicker(rtp.FrameDuration)
	defer ticker.Stop()

	sent := 0
	for _, frame := range media.Frames(pcm, rtp.SamplesPerFrame) {
		if !s.active.Load() {
			return sent
		}
		if err := s.stream.SendPCM(padFrame(frame)); err != nil {
			if errors.Is(err, rtp.ErrStreamClosed) {
				return sent
			}
			s.logger.WithError(err).Debug("Ошибка отправки RTP")
		}
		sent++

		select {
		case <-ticker.C:
		case <-s.ctx.Done():
			return sent
		}
	}
	return sent
}

// startTone запускает тон ожидания, пока готовится ответ
func (s *CallSession) startTone() {
	s.toneMu.Lock()
	defer s.toneMu.Unlock()

	if s.toneStop != nil || !s.active.Load() {
		return
	}
	s.toneStop = make(chan struct{})
	s.toneDone = make(chan struct{})
	go s.toneLoop(s.toneStop, s.toneDone)
}

// stopTone останавливает тон и ждет, пока горутина тона перестанет отправлять
func (s *CallSession) stopTone() {
	s.toneMu.Lock()
	stop, done := s.toneStop, s.toneDone
	s.toneStop, s.toneDone = nil, nil
	s.toneMu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

func (s *CallSession) toneLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	frames := media.Frames(s.cfg.Tone.Beep(), rtp.SamplesPerFrame)
	pause := s.cfg.Tone.PauseFrames()

	ticker := time.NewTicker(rtp.FrameDuration)
	defer ticker.Stop()

	wait := func() bool {
		select {
		case <-stop:
			return false
		case <-ticker.C:
			return s.active.Load()
		}
	}

	for {
		for _, frame := range frames {
			if err := s.stream.SendPCM(padFrame(frame)); errors.Is(err, rtp.ErrStreamClosed) {
				return
			}
			if !wait() {
				return
			}
		}
		for i := 0; i < pause; i++ {
			if !wait() {
				return
			}
		}
	}
}

func padFrame(frame []int16) []int16 {
	if len(frame) >= rtp.SamplesPerFrame {
		return frame
	}
	padded := make([]int16, rtp.SamplesPerFrame)
	copy(padded, frame)
	return padded
}
