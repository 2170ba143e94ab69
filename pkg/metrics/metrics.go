package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Counters
	ExchangeCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emodbus_exchanges_total",
		Help: "The total number of request/response exchanges",
	}, []string{"transport", "function", "status"})

	RetryCount = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "emodbus_retries_total",
		Help: "The total number of retried attempts",
	}, []string{"transport", "reason"})

	// Histograms
	ExchangeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "emodbus_exchange_duration_seconds",
		Help:    "Duration of successful exchanges",
		Buckets: prometheus.DefBuckets,
	}, []string{"transport"})

	// Gauges
	ConnectedLinks = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "emodbus_connected_links_total",
		Help: "The number of currently open transport links",
	})
)

// Status constants
const (
	StatusSuccess   = "success"
	StatusTimeout   = "timeout"
	StatusFrame     = "frame_error"
	StatusException = "exception"
	StatusIO        = "io_error"
)

// Retry reason constants
const (
	ReasonTimeout = "timeout"
	ReasonFrame   = "frame_error"
)

// IncExchange increments the exchange counter.
func IncExchange(transport, function, status string) {
	ExchangeCount.WithLabelValues(transport, function, status).Inc()
}

// IncRetry increments the retry counter.
func IncRetry(transport, reason string) {
	RetryCount.WithLabelValues(transport, reason).Inc()
}

// ObserveExchange records the duration of one completed exchange.
func ObserveExchange(transport string, seconds float64) {
	ExchangeDuration.WithLabelValues(transport).Observe(seconds)
}
