package session

import (
	"context"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/media"
	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

// processUtterance конвейер одной фразы. Детектор не выдаст следующую
// фразу, пока не будет вызван Done.
func (s *CallSession) processUtterance(u media.Utterance) {
	defer func() {
		s.mu.Lock()
		s.detector.Done()
		s.mu.Unlock()
	}()
	defer s.recoverPanic("utterance")

	ctx := s.ctx
	log := s.logger.WithField("utterance", u.Duration().Round(time.Millisecond))

	if u.Duration() < s.cfg.MinUtterance {
		utterancesTotal.WithLabelValues(outcomeTooShort).Inc()
		log.Debug("Фраза слишком короткая")
		return
	}

	audio := media.Resample(u.Samples, u.SampleRate, s.cfg.STTSampleRate)
	if level := media.RMS(audio); level < s.cfg.MinRMS {
		utterancesTotal.WithLabelValues(outcomeTooQuiet).Inc()
		log.WithField("rms", level).Debug("Фраза слишком тихая")
		return
	}
	audio = media.Normalize(audio, s.cfg.NormalizeTarget)
	wav := media.EncodeWAV(audio, s.cfg.STTSampleRate)

	if s.deps.Transcriber == nil {
		utterancesTotal.WithLabelValues(outcomeUnavailable).Inc()
		log.Warn("Распознавание речи не настроено")
		return
	}

	start := time.Now()
	text, err := s.deps.Transcriber.Transcribe(ctx, wav)
	stageDuration.WithLabelValues("stt").Observe(time.Since(start).Seconds())
	if err != nil {
		utterancesTotal.WithLabelValues(outcomeUnavailable).Inc()
		log.WithError(err).Warn("Распознавание речи недоступно")
		s.deps.Store.Log(ctx, "error", "stt_failed", err.Error(), s.callID)
		return
	}
	if !s.active.Load() {
		utterancesTotal.WithLabelValues(outcomeAborted).Inc()
		return
	}

	text = strings.TrimSpace(text)
	if text == "" {
		utterancesTotal.WithLabelValues(outcomeEmpty).Inc()
		return
	}
	if pipeline.IsHallucination(text) {
		utterancesTotal.WithLabelValues(outcomeHallucinated).Inc()
		log.WithField("text", text).Debug("Отброшена галлюцинация распознавания")
		return
	}

	log.WithField("text", text).Info("Абонент")
	if _, err := s.deps.Store.AppendMessage(ctx, s.callID, pipeline.RoleUser, text, ""); err != nil {
		log.WithError(err).Warn("Не удалось сохранить реплику абонента")
	}
	s.deps.Notifier.NewMessage(s.callID, pipeline.RoleUser, text, "")
	s.deps.Notifier.Transcription(s.callID, text)

	s.startTone()
	reply, items := respond(ctx, s.deps, s.callID, text, s.cfg.HistoryLimit, log)
	s.stopTone()

	if !s.active.Load() {
		utterancesTotal.WithLabelValues(outcomeAborted).Inc()
		return
	}

	model := modelName(s.deps.Chat)
	if id, err := s.deps.Store.AppendMessage(ctx, s.callID, pipeline.RoleAssistant, reply, model); err != nil {
		log.WithError(err).Warn("Не удалось сохранить ответ")
	} else {
		linkReferences(ctx, s.deps.Store, id, reply, items, log)
	}
	s.deps.Notifier.NewMessage(s.callID, pipeline.RoleAssistant, reply, model)
	log.WithField("reply", reply).Info("Ассистент")

	s.speak(ctx, reply, true)
	utterancesTotal.WithLabelValues(outcomeAnswered).Inc()
}

// respond строит контекст и получает ответ модели. При любой ошибке
// возвращается FallbackReply.
func respond(ctx context.Context, deps Deps, callID, text string, historyLimit int, log logrus.FieldLogger) (string, []pipeline.Item) {
	history, err := deps.Store.RecentMessages(ctx, callID, historyLimit)
	if err != nil {
		log.WithError(err).Warn("История разговора недоступна")
		history = nil
	}

	if deps.Chat == nil {
		return pipeline.FallbackReply, nil
	}

	messages, items := deps.Context.Build(ctx, text, history)

	start := time.Now()
	reply, err := deps.Chat.Chat(ctx, messages)
	stageDuration.WithLabelValues("llm").Observe(time.Since(start).Seconds())

	reply = strings.TrimSpace(reply)
	if err != nil || reply == "" {
		if err == nil {
			err = pipeline.ErrUnavailable
		}
		log.WithError(err).Warn("Языковая модель недоступна, ответ по умолчанию")
		deps.Store.Log(ctx, "error", "llm_failed", err.Error(), callID)
		return pipeline.FallbackReply, nil
	}
	return reply, items
}

// linkReferences сохраняет ссылки ответа на данные, которые были в контексте
func linkReferences(ctx context.Context, store Store, messageID uint, reply string, items []pipeline.Item, log logrus.FieldLogger) {
	refs, unresolved := pipeline.ResolveMarkers(pipeline.ParseMarkers(reply), items)
	for _, ref := range refs {
		if err := store.LinkReference(ctx, messageID, ref.Item, ref.Position); err != nil {
			log.WithError(err).Warn("Не удалось сохранить ссылку")
		}
	}
	for _, m := range unresolved {
		unresolvedMarkers.WithLabelValues(m.Kind).Inc()
		log.WithFields(logrus.Fields{
			"kind":  m.Kind,
			"index": m.Index,
		}).Warn("Маркер без элемента контекста пропущен")
	}
}

func modelName(chat pipeline.ChatModel) string {
	if chat == nil {
		return ""
	}
	return chat.Model()
}
