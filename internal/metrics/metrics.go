package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Сигналы шины
	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_signals_total",
			Help: "Dispatched signals by name and result",
		},
		[]string{"signal", "result"},
	)
	SignalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "trader_signal_duration_seconds",
			Help:    "Time from dequeue to last handler return",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
		[]string{"signal"},
	)
	QueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trader_symbol_queue_depth",
			Help: "Signals waiting in a per-symbol queue",
		},
		[]string{"symbol"},
	)

	// Binance API
	ExchangeRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binance_api_requests_total",
			Help: "Total number of Binance API requests",
		},
		[]string{"endpoint", "status"},
	)
	ExchangeRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "binance_api_request_duration_seconds",
			Help: "Duration of Binance API requests in seconds",
		},
		[]string{"endpoint"},
	)
	RetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_retries_total",
			Help: "Retried exchange operations",
		},
		[]string{"op"},
	)
	WebSocketConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "binance_websocket_connected",
			Help: "1 while the user data stream is connected",
		},
	)

	// Цикл
	CycleStage = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "trader_cycle_length",
			Help: "Current cycle length per symbol (0 = idle)",
		},
		[]string{"symbol"},
	)
	RoeReplacementsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_roe_sl_replacements_total",
			Help: "Stop-loss replacements driven by ROE tiers",
		},
		[]string{"symbol"},
	)

	WebhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "trader_webhook_requests_total",
			Help: "Webhook requests by status",
		},
		[]string{"status"},
	)
)

var once sync.Once

func InitMetrics() {
	once.Do(func() {
		prometheus.MustRegister(SignalsTotal)
		prometheus.MustRegister(SignalDuration)
		prometheus.MustRegister(QueueDepth)

		prometheus.MustRegister(ExchangeRequestsTotal)
		prometheus.MustRegister(ExchangeRequestDuration)
		prometheus.MustRegister(RetriesTotal)
		prometheus.MustRegister(WebSocketConnected)

		prometheus.MustRegister(CycleStage)
		prometheus.MustRegister(RoeReplacementsTotal)
		prometheus.MustRegister(WebhookRequestsTotal)

		// go_* и process_* уже зарегистрированы по умолчанию
		prometheus.MustRegister(collectors.NewBuildInfoCollector())
	})
}
