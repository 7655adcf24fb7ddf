package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
	"github.com/arzzra/voice_bridge/pkg/rtp"
	"github.com/arzzra/voice_bridge/pkg/sip/transaction"
)

const (
	byeMessage      = "User hung up"
	simulatePrefix  = "sim-"
	defaultSimAgent = "simulator"
)

// Registry таблица активных сессий по Call-ID. Операции управления
// (завершение, перезапуск, симуляция) идут через реестр.
type Registry struct {
	cfg    Config
	deps   Deps
	server Signaling
	logger logrus.FieldLogger

	mu       sync.Mutex
	sessions map[string]*CallSession
	base     context.Context
}

// SimulationResult итог симуляции одной реплики
type SimulationResult struct {
	CallID   string `json:"call_id"`
	Reply    string `json:"reply"`
	Model    string `json:"model,omitempty"`
	Fallback bool   `json:"fallback"`
}

// Status снимок состояния для API
type Status struct {
	Running     bool        `json:"running"`
	ActiveCalls int         `json:"active_calls"`
	Dialogs     int         `json:"dialogs,omitempty"`
	Call        *CallStatus `json:"call,omitempty"`
}

// CallStatus текущий звонок
type CallStatus struct {
	CallID      string    `json:"call_id"`
	CallerID    string    `json:"caller_id"`
	StartedAt   time.Time `json:"started_at"`
	Muted       bool      `json:"muted"`
	DialogState string    `json:"dialog_state,omitempty"`
}

// NewRegistry создает реестр. server может быть nil, тогда Restart и
// Hangup работают только с сессиями.
func NewRegistry(cfg Config, deps Deps, server Signaling) (*Registry, error) {
	if deps.Store == nil {
		return nil, errors.New("session: store is required")
	}
	deps = deps.withDefaults()

	return &Registry{
		cfg:      cfg.withDefaults(),
		deps:     deps,
		server:   server,
		logger:   deps.Logger.WithField("component", "registry"),
		sessions: make(map[string]*CallSession),
	}, nil
}

// SetBaseContext контекст жизни сервиса. SIP сервер после Restart
// запускается с ним, а не с контекстом запроса.
func (r *Registry) SetBaseContext(ctx context.Context) {
	r.mu.Lock()
	r.base = ctx
	r.mu.Unlock()
}

func (r *Registry) baseContext() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.base == nil {
		return context.Background()
	}
	return r.base
}

// StartSession создает и запускает сессию для подтвержденного диалога
func (r *Registry) StartSession(ctx context.Context, info transaction.DialogInfo, stream *rtp.MediaStream) (*CallSession, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[info.CallID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, info.CallID)
	}

	s := newCallSession(ctx, info, stream, r.cfg, r.deps, r.forget)
	r.sessions[info.CallID] = s
	activeSessions.Inc()

	r.logger.WithFields(logrus.Fields{
		"call_id": info.CallID,
		"caller":  info.CallerID,
		"remote":  stream.RemoteAddr(),
	}).Info("Сессия звонка создана")

	go s.run()
	return s, nil
}

// HandleCall обработчик подтвержденного звонка для SIP сервера
func (r *Registry) HandleCall(ctx context.Context, info transaction.DialogInfo, stream *rtp.MediaStream) {
	if _, err := r.StartSession(ctx, info, stream); err != nil {
		r.logger.WithError(err).Warn("Сессия не создана")
		_ = stream.Close()
	}
}

// HandleBye обработчик BYE от абонента
func (r *Registry) HandleBye(callID string) {
	s := r.Session(callID)
	if s == nil {
		return
	}
	s.appendSystem(s.ctx, byeMessage)
	r.StopSession(callID, "bye")
}

// StopSession останавливает сессию. Возвращает false, если сессии нет.
func (r *Registry) StopSession(callID, reason string) bool {
	s := r.Session(callID)
	if s == nil {
		return false
	}
	s.Stop(reason)
	return true
}

// Session сессия по Call-ID или nil
func (r *Registry) Session(callID string) *CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[callID]
}

// ActiveCallIDs Call-ID активных сессий по возрастанию
func (r *Registry) ActiveCallIDs() []string {
	r.mu.Lock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// Hangup завершает текущий (самый ранний) звонок и возвращает его Call-ID.
// BYE абоненту не отправляется, диалог просто удаляется.
func (r *Registry) Hangup() (string, error) {
	s := r.current()
	if s == nil {
		return "", ErrNoActiveCall
	}

	s.Stop("hangup")
	return s.CallID(), nil
}

// Restart останавливает все сессии и перезапускает SIP сервер
func (r *Registry) Restart(ctx context.Context) error {
	if r.server == nil {
		return ErrNotRunning
	}

	r.StopAll("restart")
	r.server.Stop()
	r.deps.Notifier.SIPStatus(false, map[string]any{"reason": "restart"})

	select {
	case <-time.After(r.cfg.RestartDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := r.server.Start(r.baseContext()); err != nil {
		r.deps.Notifier.SIPStatus(false, map[string]any{"error": err.Error()})
		return fmt.Errorf("restart sip server: %w", err)
	}
	r.deps.Notifier.SIPStatus(true, nil)
	r.logger.Info("SIP сервер перезапущен")
	return nil
}

// StopAll останавливает все сессии
func (r *Registry) StopAll(reason string) {
	r.mu.Lock()
	sessions := make([]*CallSession, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.Stop(reason)
	}
}

// SimulateCall прогоняет текстовую реплику через тот же конвейер, что и
// звонок, без SIP и аудио. Разговор сохраняется как завершенный звонок.
func (r *Registry) SimulateCall(ctx context.Context, callerID, text string) (SimulationResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SimulationResult{}, ErrEmptyText
	}
	if callerID == "" {
		callerID = defaultSimAgent
	}

	callID := simulatePrefix + uuid.NewString()
	log := r.logger.WithField("call_id", callID)
	store := r.deps.Store

	if _, err := store.CreateCall(ctx, callID, callerID); err != nil {
		return SimulationResult{}, fmt.Errorf("simulate: %w", err)
	}
	defer func() {
		if err := store.EndCall(context.WithoutCancel(ctx), callID); err != nil {
			log.WithError(err).Warn("Не удалось завершить симуляцию")
		}
	}()

	if _, err := store.AppendMessage(ctx, callID, pipeline.RoleUser, text, ""); err != nil {
		return SimulationResult{}, fmt.Errorf("simulate: %w", err)
	}
	r.deps.Notifier.NewMessage(callID, pipeline.RoleUser, text, "")

	reply, items := respond(ctx, r.deps, callID, text, r.cfg.HistoryLimit, log)
	model := modelName(r.deps.Chat)

	id, err := store.AppendMessage(ctx, callID, pipeline.RoleAssistant, reply, model)
	if err != nil {
		return SimulationResult{}, fmt.Errorf("simulate: %w", err)
	}
	linkReferences(ctx, store, id, reply, items, log)
	r.deps.Notifier.NewMessage(callID, pipeline.RoleAssistant, reply, model)

	return SimulationResult{
		CallID:   callID,
		Reply:    reply,
		Model:    model,
		Fallback: reply == pipeline.FallbackReply,
	}, nil
}

// Status состояние сервера и текущего звонка
func (r *Registry) Status() Status {
	st := Status{
		Running:     r.server != nil && r.server.Running(),
		ActiveCalls: len(r.ActiveCallIDs()),
	}
	if r.server != nil {
		st.Dialogs = r.server.DialogCount()
	}

	s := r.current()
	if s == nil {
		return st
	}
	st.Call = &CallStatus{
		CallID:    s.CallID(),
		CallerID:  s.CallerID(),
		StartedAt: s.StartedAt(),
		Muted:     s.Muted(),
	}
	if r.server != nil {
		if info, ok := r.server.Lookup(s.CallID()); ok {
			st.Call.DialogState = string(info.State)
		}
	}
	return st
}

// current самая ранняя активная сессия
func (r *Registry) current() *CallSession {
	r.mu.Lock()
	defer r.mu.Unlock()

	var first *CallSession
	for _, s := range r.sessions {
		if first == nil || s.StartedAt().Before(first.StartedAt()) {
			first = s
		}
	}
	return first
}

// forget убирает остановленную сессию из таблицы и удаляет ее диалог,
// по какой бы причине сессия ни завершилась
func (r *Registry) forget(s *CallSession) {
	r.mu.Lock()
	cur, ok := r.sessions[s.CallID()]
	owned := ok && cur == s
	if owned {
		delete(r.sessions, s.CallID())
		activeSessions.Dec()
	}
	r.mu.Unlock()

	if !owned || r.server == nil {
		return
	}
	// после BYE диалог уже удален сервером
	if err := r.server.Drop(s.CallID()); err != nil && !errors.Is(err, transaction.ErrDialogNotFound) {
		r.logger.WithError(err).WithField("call_id", s.CallID()).Warn("Не удалось удалить диалог")
	}
}
