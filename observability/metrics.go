package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// TribeMetrics tracks the protocol engines: issuance, exchanges, settlement
// adjustments, and breaker activity.
type TribeMetrics struct {
	issuance      *prometheus.CounterVec
	exchanges     *prometheus.CounterVec
	settlements   prometheus.Counter
	reclaimed     prometheus.Counter
	rebated       prometheus.Counter
	breakerTrips  *prometheus.CounterVec
	snapshotTaken prometheus.Counter
	cachedDebt    prometheus.Gauge
}

var (
	tribeOnce     sync.Once
	tribeRegistry *TribeMetrics
)

// Tribe returns the lazily-initialised protocol metrics registry.
func Tribe() *TribeMetrics {
	tribeOnce.Do(func() {
		tribeRegistry = &TribeMetrics{
			issuance: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tribeone",
				Subsystem: "issuer",
				Name:      "operations_total",
				Help:      "Count of issuance engine operations by kind.",
			}, []string{"op"}),
			exchanges: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tribeone",
				Subsystem: "exchange",
				Name:      "trades_total",
				Help:      "Count of executed exchanges by source and destination tribe.",
			}, []string{"src", "dest"}),
			settlements: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tribeone",
				Subsystem: "exchange",
				Name:      "settlements_total",
				Help:      "Count of settled exchange entries.",
			}),
			reclaimed: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tribeone",
				Subsystem: "exchange",
				Name:      "reclaims_total",
				Help:      "Count of settlements producing a reclaim.",
			}),
			rebated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tribeone",
				Subsystem: "exchange",
				Name:      "rebates_total",
				Help:      "Count of settlements producing a rebate.",
			}),
			breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "tribeone",
				Subsystem: "oracle",
				Name:      "breaker_trips_total",
				Help:      "Count of circuit-breaker trips by feed.",
			}, []string{"feed"}),
			snapshotTaken: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "tribeone",
				Subsystem: "debtcache",
				Name:      "snapshots_total",
				Help:      "Count of debt cache snapshots taken.",
			}),
			cachedDebt: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "tribeone",
				Subsystem: "debtcache",
				Name:      "cached_debt_units",
				Help:      "Cached aggregate debt in whole base units.",
			}),
		}
		prometheus.MustRegister(
			tribeRegistry.issuance,
			tribeRegistry.exchanges,
			tribeRegistry.settlements,
			tribeRegistry.reclaimed,
			tribeRegistry.rebated,
			tribeRegistry.breakerTrips,
			tribeRegistry.snapshotTaken,
			tribeRegistry.cachedDebt,
		)
	})
	return tribeRegistry
}

// RecordIssuance counts an issuance engine operation ("issue", "burn",
// "burn_to_target").
func (m *TribeMetrics) RecordIssuance(op string) {
	if m == nil {
		return
	}
	if op = strings.TrimSpace(op); op == "" {
		op = "unknown"
	}
	m.issuance.WithLabelValues(op).Inc()
}

// RecordExchange counts a completed exchange for the pair.
func (m *TribeMetrics) RecordExchange(src, dest string) {
	if m == nil {
		return
	}
	m.exchanges.WithLabelValues(src, dest).Inc()
}

// RecordSettlement counts settled entries and their adjustment direction.
func (m *TribeMetrics) RecordSettlement(entries int, reclaimed, rebated bool) {
	if m == nil {
		return
	}
	m.settlements.Add(float64(entries))
	if reclaimed {
		m.reclaimed.Inc()
	}
	if rebated {
		m.rebated.Inc()
	}
}

// RecordBreakerTrip counts a circuit-breaker latch for the feed.
func (m *TribeMetrics) RecordBreakerTrip(feed string) {
	if m == nil {
		return
	}
	if feed = strings.TrimSpace(feed); feed == "" {
		feed = "unknown"
	}
	m.breakerTrips.WithLabelValues(feed).Inc()
}

// RecordSnapshot counts a debt cache recompute and records the new aggregate
// in whole units.
func (m *TribeMetrics) RecordSnapshot(cachedDebtUnits float64) {
	if m == nil {
		return
	}
	m.snapshotTaken.Inc()
	m.cachedDebt.Set(cachedDebtUnits)
}
