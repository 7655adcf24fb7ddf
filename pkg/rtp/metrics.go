package rtp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	packetsSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "rtp",
		Name:      "packets_sent_total",
		Help:      "Отправлено RTP пакетов",
	})
	packetsReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "rtp",
		Name:      "packets_received_total",
		Help:      "Получено RTP пакетов",
	})
	bytesSent = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "rtp",
		Name:      "payload_bytes_sent_total",
		Help:      "Отправлено байт полезной нагрузки",
	})
	bytesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "rtp",
		Name:      "payload_bytes_received_total",
		Help:      "Получено байт полезной нагрузки",
	})
	malformedPackets = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "rtp",
		Name:      "malformed_packets_total",
		Help:      "Отброшено некорректных датаграмм",
	})
	portFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "voice_bridge",
		Subsystem: "rtp",
		Name:      "port_range_exhausted_total",
		Help:      "Сколько раз диапазон портов был исчерпан и использован любой свободный порт",
	})
)
