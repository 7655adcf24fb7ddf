package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/pipeline"
)

const (
	DefaultReconcileInterval = 2 * time.Second
	DefaultStaleAfter        = 10 * time.Minute

	timeoutMessage = "Call ended (timeout)"
)

// Reconciler завершает в базе звонки, которые остались active без живой
// сессии: падение процесса, потерянный BYE.
type Reconciler struct {
	registry   *Registry
	store      Store
	interval   time.Duration
	staleAfter time.Duration
	logger     logrus.FieldLogger
	now        func() time.Time
}

// NewReconciler создает сверку. Нулевые интервалы заменяются значениями по умолчанию.
func NewReconciler(registry *Registry, store Store, interval, staleAfter time.Duration, logger logrus.FieldLogger) *Reconciler {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Reconciler{
		registry:   registry,
		store:      store,
		interval:   interval,
		staleAfter: staleAfter,
		logger:     logger.WithField("component", "reconciler"),
		now:        time.Now,
	}
}

// Run выполняет сверку по таймеру до отмены контекста
func (c *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce один проход сверки, возвращает число завершенных звонков
func (c *Reconciler) ReconcileOnce(ctx context.Context) int {
	stale, err := c.store.StaleActiveCalls(ctx, c.now().Add(-c.staleAfter))
	if err != nil {
		c.logger.WithError(err).Warn("Сверка звонков не выполнена")
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	live := make(map[string]struct{})
	if c.registry != nil {
		for _, id := range c.registry.ActiveCallIDs() {
			live[id] = struct{}{}
		}
	}

	ended := 0
	for _, callID := range stale {
		if _, ok := live[callID]; ok {
			continue
		}
		if _, err := c.store.AppendMessage(ctx, callID, pipeline.RoleSystem, timeoutMessage, ""); err != nil {
			c.logger.WithError(err).WithField("call_id", callID).Warn("Не удалось сохранить системное сообщение")
		}
		if err := c.store.EndCall(ctx, callID); err != nil {
			c.logger.WithError(err).WithField("call_id", callID).Warn("Не удалось завершить зависший звонок")
			continue
		}
		c.store.Log(ctx, "warning", "call_timeout", "Ended by reconciliation", callID)
		staleCallsTotal.Inc()
		ended++

		c.logger.WithField("call_id", callID).Warn("Зависший звонок завершен по таймауту")
	}
	return ended
}
