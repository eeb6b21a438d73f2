package bot

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"dexarb/pkg/breaker"
)

// ============================================================
// Prometheus метрики ядра решений
// ============================================================

// ============ Метрики латентности ============

// SyncProcessingLatency - время обработки sync-события от входа до решения
var SyncProcessingLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "engine",
		Name:      "sync_processing_latency_ms",
		Help:      "Time to process a sync event in milliseconds",
		Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100},
	},
	[]string{"pair"},
)

// ============ Счётчики событий ============

// SyncEventsProcessed - обработанные sync-события
var SyncEventsProcessed = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "engine",
		Name:      "sync_events_processed_total",
		Help:      "Total number of processed sync events",
	},
	[]string{"result"}, // evaluated, skipped, dropped
)

// ShardQueueSize - заполненность очередей шардов
var ShardQueueSize = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "engine",
		Name:      "shard_queue_size",
		Help:      "Current number of queued sync events per shard",
	},
	[]string{"shard"},
)

// ============ Метрики спреда и решений ============

// SpreadObserved - распределение спредов (bps)
var SpreadObserved = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "arbitrage",
		Subsystem: "engine",
		Name:      "spread_observed_bps",
		Help:      "Observed spread between venues in basis points",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
	},
	[]string{"pair"},
)

// GuardDecisions - решения guard'ов по причине ("" = execute)
var GuardDecisions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "guardrail",
		Name:      "decisions_total",
		Help:      "Guardrail decisions by outcome reason",
	},
	[]string{"pair", "reason"},
)

// ============ Метрики OpportunityStore ============

// OpportunityStoreSize - живые записи в store
var OpportunityStoreSize = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "store",
		Name:      "opportunities",
		Help:      "Current number of live opportunities",
	},
)

// OpportunitiesEvicted - вытеснения по ёмкости
var OpportunitiesEvicted = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "store",
		Name:      "evictions_total",
		Help:      "Opportunities evicted by capacity",
	},
)

// OpportunitiesExpired - удалённые по TTL фоновой очисткой
var OpportunitiesExpired = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "store",
		Name:      "expired_total",
		Help:      "Opportunities removed by TTL pruning",
	},
)

// ============ Метрики circuit breaker ============

// BreakerState - состояние breaker'а: 0 closed, 1 open, 2 half-open
var BreakerState = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "arbitrage",
		Subsystem: "breaker",
		Name:      "state",
		Help:      "Circuit breaker state (0 closed, 1 open, 2 half-open)",
	},
	[]string{"name"},
)

// BreakerTransitions - переходы состояний
var BreakerTransitions = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "arbitrage",
		Subsystem: "breaker",
		Name:      "transitions_total",
		Help:      "Circuit breaker state transitions",
	},
	[]string{"name", "to"},
)

// ============ Хелперы ============

// RecordSync записывает обработку sync-события
func RecordSync(pair, result string, latencyMs float64) {
	SyncEventsProcessed.WithLabelValues(result).Inc()
	if latencyMs > 0 {
		SyncProcessingLatency.WithLabelValues(pair).Observe(latencyMs)
	}
}

// RecordSpread записывает наблюдаемый спред
func RecordSpread(pair string, spreadBps float64) {
	SpreadObserved.WithLabelValues(pair).Observe(spreadBps)
}

// RecordDecision записывает решение guard'ов
func RecordDecision(pair, reason string) {
	if reason == "" {
		reason = "execute"
	}
	GuardDecisions.WithLabelValues(pair, reason).Inc()
}

// RecordEviction записывает вытеснение из store
func RecordEviction(string) {
	OpportunitiesEvicted.Inc()
}

// RecordBreakerTransition - хук breaker.Config.OnStateChange
func RecordBreakerTransition(name string, _ breaker.State, to breaker.State) {
	BreakerState.WithLabelValues(name).Set(float64(to))
	BreakerTransitions.WithLabelValues(name, to.String()).Inc()
}
