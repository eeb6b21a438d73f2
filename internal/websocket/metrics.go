package websocket

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ============================================================
// Prometheus метрики Broadcaster
// ============================================================

// ClientsActive - подключённые клиенты
var ClientsActive = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "ws",
		Name:      "clients_active",
		Help:      "Number of connected WebSocket clients",
	},
)

// QueueDepth - суммарная длина очередей клиентов
var QueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "ws",
		Name:      "queue_depth",
		Help:      "Total queued outbound messages across clients",
	},
)

// MessagesSent - сообщения, переданные на запись клиентам
var MessagesSent = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "ws",
		Name:      "messages_sent_total",
		Help:      "Messages flushed to WebSocket clients",
	},
)

// MessagesDropped - отброшенные из-за полной очереди
var MessagesDropped = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "ws",
		Name:      "messages_dropped_total",
		Help:      "Messages dropped because a client queue was full",
	},
)

// InvalidPayloads - payload'ы, не прошедшие валидацию
var InvalidPayloads = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "ws",
		Name:      "invalid_payloads_total",
		Help:      "tokenMeta.update payloads refused by schema validation",
	},
)

// AuthRejected - отказы при handshake
var AuthRejected = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "ws",
		Name:      "handshake_rejected_total",
		Help:      "WebSocket handshakes rejected before upgrade",
	},
	[]string{"reason"}, // unauthorized, origin
)
