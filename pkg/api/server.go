// Package api HTTP поверхность управления: состояние, завершение звонка,
// перезапуск SIP, текстовая симуляция, история разговоров, WebSocket
// события и метрики Prometheus.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/voice_bridge/pkg/session"
	"github.com/arzzra/voice_bridge/pkg/store"
)

const shutdownTimeout = 5 * time.Second

var requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "voice_bridge",
	Subsystem: "api",
	Name:      "requests_total",
	Help:      "HTTP запросы по маршруту и коду ответа",
}, []string{"route", "code"})

// Controller операции управления звонками
type Controller interface {
	Status() session.Status
	Hangup() (string, error)
	Restart(ctx context.Context) error
	SimulateCall(ctx context.Context, callerID, text string) (session.SimulationResult, error)
}

// History чтение истории разговоров
type History interface {
	Conversations(ctx context.Context, limit, offset int) ([]store.Conversation, error)
	Conversation(ctx context.Context, id uint) (*store.Conversation, error)
	ConversationByCallID(ctx context.Context, callID string) (*store.Conversation, error)
	Messages(ctx context.Context, conversationID uint) ([]store.Message, error)
	References(ctx context.Context, messageID uint) ([]store.MessageReference, error)
	Logs(ctx context.Context, callID string, limit int) ([]store.CallLog, error)
}

// Config параметры HTTP сервера
type Config struct {
	Listen string
}

// Server HTTP API
type Server struct {
	cfg     Config
	ctrl    Controller
	history History
	events  http.Handler
	logger  logrus.FieldLogger
	router  *mux.Router
}

// NewServer собирает маршруты. events обслуживает /ws и может быть nil.
func NewServer(cfg Config, ctrl Controller, history History, events http.Handler, logger logrus.FieldLogger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{
		cfg:     cfg,
		ctrl:    ctrl,
		history: history,
		events:  events,
		logger:  logger.WithField("component", "api"),
		router:  mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router
	r.Use(s.instrument)

	// маршруты без Subrouter: на несовпадение метода mux отвечает 405
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/hangup", s.handleHangup).Methods(http.MethodPost)
	r.HandleFunc("/api/restart", s.handleRestart).Methods(http.MethodPost)
	r.HandleFunc("/api/simulate", s.handleSimulate).Methods(http.MethodPost)
	r.HandleFunc("/api/conversations", s.handleConversations).Methods(http.MethodGet)
	r.HandleFunc("/api/conversations/{id:[0-9]+}/messages", s.handleMessages).Methods(http.MethodGet)
	r.HandleFunc("/api/calls/{call_id}", s.handleCall).Methods(http.MethodGet)
	r.HandleFunc("/api/logs", s.handleLogs).Methods(http.MethodGet)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler())
	if s.events != nil {
		r.Handle("/ws", s.events)
	}
}

// Handler корневой обработчик
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run слушает Listen до отмены контекста
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", s.cfg.Listen).Info("HTTP API запущен")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http api: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http api shutdown: %w", err)
	}
	s.logger.Info("HTTP API остановлен")
	return nil
}

// instrument считает запросы по шаблону маршрута
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		if route == "/ws" || route == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rw, r)

		requestsTotal.WithLabelValues(route, strconv.Itoa(rw.code)).Inc()
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"route":    route,
			"code":     rw.code,
			"duration": time.Since(start),
		}).Debug("HTTP запрос")
	})
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
