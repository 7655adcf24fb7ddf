// Package session управляет звонками после установления медиа: сегментация
// речи абонента, конвейер распознавание → модель → синтез, воспроизведение
// ответа с заглушением входящего звука, реестр сессий и сверка зависших
// звонков с базой.
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/notify"
	"github.com/arzzra/voice_bridge/pkg/pipeline"
	"github.com/arzzra/voice_bridge/pkg/rtp"
	"github.com/arzzra/voice_bridge/pkg/sip/transaction"
)

const (
	receiveBufferSize = 1500
	stopTimeout       = 5 * time.Second
	inactivityMessage = "Call ended (inactivity)"
)

// CallSession аудио сессия одного звонка. Создается, когда ACK подтверждает
// медиа, и живет до BYE, ошибки сокета или явной остановки.
type CallSession struct {
	callID    string
	callerID  string
	startedAt time.Time
	cfg       Config
	deps      Deps
	stream    *rtp.MediaStream
	logger    *logrus.Entry

	// mu защищает детектор и запись
	mu        sync.Mutex
	detector  *media.Detector
	recording *media.WAVWriter

	ctx    context.Context
	cancel context.CancelFunc

	active     atomic.Bool
	stopOnce   sync.Once
	stopReason string
	done       chan struct{}
	onStop     func(*CallSession)

	toneMu   sync.Mutex
	toneStop chan struct{}
	toneDone chan struct{}

	lastActivity atomic.Int64 // unix nano
}

func newCallSession(ctx context.Context, info transaction.DialogInfo, stream *rtp.MediaStream, cfg Config, deps Deps, onStop func(*CallSession)) *CallSession {
	ctx, cancel := context.WithCancel(ctx)

	s := &CallSession{
		callID:    info.CallID,
		callerID:  info.CallerID,
		startedAt: time.Now(),
		cfg:       cfg,
		deps:      deps,
		stream:    stream,
		detector:  media.NewDetector(cfg.Detector),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
		onStop:    onStop,
		logger: deps.Logger.WithFields(logrus.Fields{
			"call_id": info.CallID,
			"caller":  info.CallerID,
		}),
	}
	s.active.Store(true)
	s.touch()
	return s
}

// CallID идентификатор звонка
func (s *CallSession) CallID() string { return s.callID }

// CallerID номер абонента
func (s *CallSession) CallerID() string { return s.callerID }

// StartedAt время создания сессии
func (s *CallSession) StartedAt() time.Time { return s.startedAt }

// Active сессия еще не остановлена
func (s *CallSession) Active() bool { return s.active.Load() }

// Done закрывается после завершения Stop
func (s *CallSession) Done() <-chan struct{} { return s.done }

// Muted входящий звук сейчас не анализируется
func (s *CallSession) Muted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.detector.Muted()
}

// RecordingPath путь к записи звонка, пусто если запись не ведется
func (s *CallSession) RecordingPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording == nil {
		return ""
	}
	return s.recording.Path()
}

// run последовательность начала звонка: запись в базе, приветствие при
// заглушенном входе, калибровка детектора, запись WAV, снятие заглушения
func (s *CallSession) run() {
	defer s.recoverPanic("run")
	ctx := s.ctx

	if _, err := s.deps.Store.CreateCall(ctx, s.callID, s.callerID); err != nil {
		s.logger.WithError(err).Error("Не удалось создать запись звонка")
	}
	s.deps.Store.Log(ctx, "info", "call_started", "Caller: "+s.callerID, s.callID)
	s.deps.Notifier.CallStatus(notify.StatusConnected, s.callID, s.callerID)

	s.setMuted(true)
	go s.receiveLoop()

	if s.cfg.Welcome != "" {
		s.speak(ctx, s.cfg.Welcome, false)
	}
	if !s.active.Load() {
		return
	}

	if err := s.deps.Store.MarkAnswered(ctx, s.callID); err != nil {
		s.logger.WithError(err).Warn("Не удалось отметить ответ на звонок")
	}

	s.mu.Lock()
	s.detector.Reset()
	s.detector.Recalibrate()
	s.mu.Unlock()

	s.openRecording()
	s.touch()
	s.setMuted(false)

	s.logger.Info("Сессия готова, калибровка шума")
}

func (s *CallSession) openRecording() {
	if s.cfg.RecordingsDir == "" {
		return
	}
	if err := os.MkdirAll(s.cfg.RecordingsDir, 0o755); err != nil {
		s.logger.WithError(err).Warn("Не удалось создать каталог записей")
		return
	}

	name := fmt.Sprintf("call_%s_%s.wav", time.Now().Format("20060102_150405"), sanitizeFileName(s.callID))
	rec, err := media.CreateWAV(filepath.Join(s.cfg.RecordingsDir, name), rtp.ClockRate)
	if err != nil {
		s.logger.WithError(err).Warn("Не удалось начать запись")
		return
	}

	s.mu.Lock()
	if !s.active.Load() {
		s.mu.Unlock()
		_ = rec.Close()
		return
	}
	s.recording = rec
	s.mu.Unlock()

	s.logger.WithField("path", rec.Path()).Info("Запись звонка начата")
}

func (s *CallSession) receiveLoop() {
	defer s.recoverPanic("receive")

	buf := make([]byte, receiveBufferSize)
	packets := 0

	for s.active.Load() {
		_, payload, err := s.stream.Receive(buf)
		if err != nil {
			switch {
			case errors.Is(err, rtp.ErrTimeout):
				s.checkInactivity()
				continue
			case errors.Is(err, rtp.ErrTooShort), errors.Is(err, rtp.ErrMalformedPacket):
				continue
			case errors.Is(err, rtp.ErrStreamClosed):
				s.Stop("stream closed")
				return
			default:
				s.logger.WithError(err).Error("Ошибка сокета RTP")
				s.Stop("socket error")
				return
			}
		}

		packets++
		if packets%200 == 0 {
			s.logger.WithField("packets", packets).Debug("RTP поток")
		}

		s.handleFrame(rtp.DecodeMuLaw(payload), time.Now())
		s.checkInactivity()
	}
}

// handleFrame пишет кадр в запись и передает детектору.
// Законченная фраза обрабатывается в отдельной горутине.
func (s *CallSession) handleFrame(pcm []int16, now time.Time) {
	s.mu.Lock()
	if s.recording != nil {
		if err := s.recording.Write(pcm); err != nil && !errors.Is(err, media.ErrWriterClosed) {
			s.logger.WithError(err).Debug("Ошибка записи")
		}
	}
	result := s.detector.Feed(pcm, now)
	s.mu.Unlock()

	if result.Utterance != nil {
		s.touch()
		go s.processUtterance(*result.Utterance)
	}
}

func (s *CallSession) checkInactivity() {
	if s.cfg.InactivityTimeout <= 0 || !s.active.Load() {
		return
	}

	s.mu.Lock()
	busy := s.detector.Muted() || s.detector.Processing() || s.detector.Recording()
	s.mu.Unlock()
	if busy {
		s.touch()
		return
	}

	idle := time.Since(time.Unix(0, s.lastActivity.Load()))
	if idle < s.cfg.InactivityTimeout {
		return
	}

	s.logger.WithField("idle", idle.Round(time.Second)).Info("Нет речи абонента, завершаем звонок")
	s.appendSystem(s.ctx, inactivityMessage)
	s.Stop("inactivity")
}

func (s *CallSession) touch() {
	s.lastActivity.Store(time.Now().UnixNano())
}

func (s *CallSession) setMuted(muted bool) {
	s.mu.Lock()
	s.detector.SetMuted(muted)
	s.mu.Unlock()
}

func (s *CallSession) appendSystem(ctx context.Context, text string) {
	if _, err := s.deps.Store.AppendMessage(ctx, s.callID, pipeline.RoleSystem, text, ""); err != nil {
		s.logger.WithError(err).Warn("Не удалось сохранить системное сообщение")
		return
	}
	s.deps.Notifier.NewMessage(s.callID, pipeline.RoleSystem, text, "")
}

// Stop завершает сессию. Повторные вызовы ничего не делают.
func (s *CallSession) Stop(reason string) {
	s.stopOnce.Do(func() {
		s.active.Store(false)
		s.stopReason = reason

		s.stopTone()
		_ = s.stream.Close()
		s.cancel()

		ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), stopTimeout)
		defer cancel()

		s.mu.Lock()
		rec := s.recording
		s.mu.Unlock()
		if rec != nil {
			if err := rec.Close(); err != nil {
				s.logger.WithError(err).Warn("Ошибка закрытия записи")
			}
			if err := s.deps.Store.SetRecordingPath(ctx, s.callID, rec.Path()); err != nil {
				s.logger.WithError(err).Warn("Не удалось сохранить путь записи")
			}
		}

		if err := s.deps.Store.EndCall(ctx, s.callID); err != nil {
			s.logger.WithError(err).Warn("Не удалось завершить запись звонка")
		}
		s.deps.Store.Log(ctx, "info", "call_ended", reason, s.callID)

		notifier := s.deps.Notifier
		notifier.CallStatus(notify.StatusEnded, s.callID, s.callerID)
		time.AfterFunc(s.cfg.IdleDelay, func() {
			notifier.CallStatus(notify.StatusIdle, "", "")
		})

		sessionsTotal.WithLabelValues(reasonLabel(reason)).Inc()
		s.logger.WithFields(logrus.Fields{
			"reason":   reason,
			"duration": time.Since(s.startedAt).Round(time.Millisecond),
		}).Info("Сессия завершена")

		if s.onStop != nil {
			s.onStop(s)
		}
		close(s.done)
	})
}

func (s *CallSession) recoverPanic(where string) {
	if r := recover(); r != nil {
		s.logger.WithFields(logrus.Fields{
			"where": where,
			"panic": r,
			"stack": string(debug.Stack()),
		}).Error("Паника в сессии")
		s.Stop("panic")
	}
}

func reasonLabel(reason string) string {
	switch reason {
	case "bye", "hangup", "inactivity", "timeout", "shutdown", "restart", "stream closed", "socket error", "panic":
		return strings.ReplaceAll(reason, " ", "_")
	default:
		return "other"
	}
}

// sanitizeFileName оставляет в call id только безопасные для имени файла символы
func sanitizeFileName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "unknown"
	}
	return b.String()
}
