package transaction

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "sip",
		Name:      "requests_total",
		Help:      "Входящие SIP запросы по методу",
	}, []string{"method"})
	responsesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "sip",
		Name:      "responses_total",
		Help:      "Отправленные SIP ответы по коду",
	}, []string{"code"})
	retransmissions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "sip",
		Name:      "invite_retransmissions_total",
		Help:      "Повторные INVITE, на которые отправлены закешированные ответы",
	})
	droppedDatagrams = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "sip",
		Name:      "dropped_datagrams_total",
		Help:      "Датаграммы, которые не удалось разобрать",
	})
	activeDialogs = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "voice_bridge",
		Subsystem: "sip",
		Name:      "active_dialogs",
		Help:      "Диалоги в таблице сервера",
	})
)
