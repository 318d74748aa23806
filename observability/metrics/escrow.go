package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EscrowMetrics struct {
	operations      *prometheus.CounterVec
	feesAccrued     prometheus.Counter
	activeEscrows   prometheus.Gauge
	settlementTime  *prometheus.HistogramVec
	transferRetries *prometheus.CounterVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_operations_total",
				Help: "Count of escrow operations by method and outcome.",
			}, []string{"method", "outcome"}),
			feesAccrued: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "escrow_fees_accrued_base_units",
				Help: "Cumulative platform fees accrued in base units.",
			}),
			activeEscrows: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "escrow_active_records",
				Help: "Number of escrows currently in a non-terminal state.",
			}),
			settlementTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "escrow_settlement_seconds",
				Help:    "Wall-clock latency of fund-moving operations.",
				Buckets: prometheus.DefBuckets,
			}, []string{"method"}),
			transferRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "escrow_transfer_rollbacks_total",
				Help: "Count of state rollbacks caused by settlement failures.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			escrowRegistry.operations,
			escrowRegistry.feesAccrued,
			escrowRegistry.activeEscrows,
			escrowRegistry.settlementTime,
			escrowRegistry.transferRetries,
		)
	})
	return escrowRegistry
}

func (m *EscrowMetrics) ObserveOperation(method, outcome string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	if outcome == "" {
		outcome = "unknown"
	}
	m.operations.WithLabelValues(method, outcome).Inc()
}

func (m *EscrowMetrics) AddFeesAccrued(baseUnits uint64) {
	if m == nil {
		return
	}
	m.feesAccrued.Add(float64(baseUnits))
}

func (m *EscrowMetrics) IncActive() {
	if m == nil {
		return
	}
	m.activeEscrows.Inc()
}

func (m *EscrowMetrics) DecActive() {
	if m == nil {
		return
	}
	m.activeEscrows.Dec()
}

func (m *EscrowMetrics) ObserveSettlement(method string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.settlementTime.WithLabelValues(method).Observe(elapsed.Seconds())
}

func (m *EscrowMetrics) IncRollback(method string) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.transferRetries.WithLabelValues(method).Inc()
}
