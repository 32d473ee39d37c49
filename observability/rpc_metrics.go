package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RPCMetrics tracks the HTTP API surface.
type RPCMetrics struct {
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	rpcOnce     sync.Once
	rpcRegistry *RPCMetrics
)

// RPC returns the lazily-initialised API metrics registry.
func RPC() *RPCMetrics {
	rpcOnce.Do(func() {
		rpcRegistry = &RPCMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tribeone",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Count of API requests by route and status code.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "tribeone",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "API request latency by route.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
		}
		prometheus.MustRegister(rpcRegistry.requests, rpcRegistry.latency)
	})
	return rpcRegistry
}

// Observe records one request's route, status, and duration.
func (m *RPCMetrics) Observe(route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.latency.WithLabelValues(route).Observe(elapsed.Seconds())
}
