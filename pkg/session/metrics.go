package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы обработки фразы
const (
	outcomeTooShort     = "too_short"
	outcomeTooQuiet     = "too_quiet"
	outcomeUnavailable  = "stt_unavailable"
	outcomeEmpty        = "empty"
	outcomeHallucinated = "hallucination"
	outcomeAnswered     = "answered"
	outcomeAborted      = "aborted"
)

var (
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voice_bridge",
		Subsystem: "session",
		Name:      "active",
		Help:      "Активные сессии звонков",
	})
	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "session",
		Name:      "ended_total",
		Help:      "Завершенные сессии по причине",
	}, []string{"reason"})
	utterancesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "session",
		Name:      "utterances_total",
		Help:      "Фразы абонента по исходу обработки",
	}, []string{"outcome"})
	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "voice_bridge",
		Subsystem: "session",
		Name:      "pipeline_stage_seconds",
		Help:      "Длительность этапов конвейера",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
	}, []string{"stage"})
	staleCallsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "session",
		Name:      "stale_calls_total",
		Help:      "Звонки, завершенные сверкой по таймауту",
	})
	unresolvedMarkers = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "session",
		Name:      "unresolved_markers_total",
		Help:      "Маркеры ответа без элемента контекста",
	}, []string{"kind"})
)
