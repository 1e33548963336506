package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// LendingMetrics aggregates the Prometheus collectors recorded by the facade
// and the simulator. Core engines stay metrics-free; callers record around
// committed operations only.
type LendingMetrics struct {
	deposits     prometheus.Counter
	withdrawals  prometheus.Counter
	originations prometheus.Counter
	repayments   prometheus.Counter
	liquidations *prometheus.CounterVec
	priceUpdates *prometheus.CounterVec

	poolLiquidity  prometheus.Gauge
	poolBorrowed   prometheus.Gauge
	poolReserves   prometheus.Gauge
	poolShares     prometheus.Gauge
	utilisationBps prometheus.Gauge
	flowDuration   *prometheus.HistogramVec
}

var (
	lendingOnce     sync.Once
	lendingRegistry *LendingMetrics
)

// Lending returns the process-wide collector set, registering it on first use.
func Lending() *LendingMetrics {
	lendingOnce.Do(func() {
		lendingRegistry = &LendingMetrics{
			deposits: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "collend_collateral_deposits_total",
				Help: "Count of collateral positions opened.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "collend_collateral_withdrawals_total",
				Help: "Count of collateral positions withdrawn.",
			}),
			originations: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "collend_loan_originations_total",
				Help: "Count of loans originated.",
			}),
			repayments: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "collend_loan_repayments_total",
				Help: "Count of loan repayments applied.",
			}),
			liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "collend_liquidations_total",
				Help: "Count of liquidation actions by stage.",
			}, []string{"stage"}),
			priceUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "collend_price_updates_total",
				Help: "Count of oracle price updates by kind.",
			}, []string{"kind"}),
			poolLiquidity: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "collend_pool_liquidity",
				Help: "Total liquidity recorded on the pool books.",
			}),
			poolBorrowed: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "collend_pool_borrowed",
				Help: "Principal currently lent out.",
			}),
			poolReserves: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "collend_pool_reserves",
				Help: "Protocol reserves accumulated from interest.",
			}),
			poolShares: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "collend_pool_shares",
				Help: "Pool shares outstanding.",
			}),
			utilisationBps: prometheus.NewGauge(prometheus.GaugeOpts{
				Name: "collend_pool_utilisation_bps",
				Help: "Pool utilisation in basis points.",
			}),
			flowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "collend_flow_duration_seconds",
				Help:    "Latency of composite facade flows.",
				Buckets: prometheus.DefBuckets,
			}, []string{"flow"}),
		}
		prometheus.MustRegister(
			lendingRegistry.deposits,
			lendingRegistry.withdrawals,
			lendingRegistry.originations,
			lendingRegistry.repayments,
			lendingRegistry.liquidations,
			lendingRegistry.priceUpdates,
			lendingRegistry.poolLiquidity,
			lendingRegistry.poolBorrowed,
			lendingRegistry.poolReserves,
			lendingRegistry.poolShares,
			lendingRegistry.utilisationBps,
			lendingRegistry.flowDuration,
		)
	})
	return lendingRegistry
}

func (m *LendingMetrics) IncDeposit() {
	if m == nil {
		return
	}
	m.deposits.Inc()
}

func (m *LendingMetrics) IncWithdrawal() {
	if m == nil {
		return
	}
	m.withdrawals.Inc()
}

func (m *LendingMetrics) IncOrigination() {
	if m == nil {
		return
	}
	m.originations.Inc()
}

func (m *LendingMetrics) IncRepayment() {
	if m == nil {
		return
	}
	m.repayments.Inc()
}

// IncLiquidation counts a liquidation action; stage is "triggered" or
// "executed".
func (m *LendingMetrics) IncLiquidation(stage string) {
	if m == nil {
		return
	}
	if stage == "" {
		stage = "unknown"
	}
	m.liquidations.WithLabelValues(stage).Inc()
}

// IncPriceUpdate counts an oracle update; kind is "spot" or "floor".
func (m *LendingMetrics) IncPriceUpdate(kind string) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	m.priceUpdates.WithLabelValues(kind).Inc()
}

// SetPoolBooks refreshes the pool gauges from the current books.
func (m *LendingMetrics) SetPoolBooks(liquidity, borrowed, reserves, shares float64) {
	if m == nil {
		return
	}
	m.poolLiquidity.Set(liquidity)
	m.poolBorrowed.Set(borrowed)
	m.poolReserves.Set(reserves)
	m.poolShares.Set(shares)
}

func (m *LendingMetrics) SetUtilisationBps(bps float64) {
	if m == nil {
		return
	}
	m.utilisationBps.Set(bps)
}

// ObserveFlowDuration records the latency of one composite flow; flow is
// "deposit_borrow" or "repay_withdraw".
func (m *LendingMetrics) ObserveFlowDuration(flow string, seconds float64) {
	if m == nil {
		return
	}
	if flow == "" {
		flow = "unknown"
	}
	m.flowDuration.WithLabelValues(flow).Observe(seconds)
}
