package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Trades = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flash_trades_total",
		Help: "Trade attempts by result (success, failed)",
	}, []string{"result"})

	Ticks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flash_ticks_total",
		Help: "Engine ticks by outcome",
	}, []string{"outcome"})

	TickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flash_tick_duration_seconds",
		Help:    "Wall time of one engine tick, including confirmation wait",
		Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
	})

	TotalPnLUSD = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flash_total_pnl_usd",
		Help: "Ledger total PnL (USD)",
	})

	GasSpentNative = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flash_gas_spent_native",
		Help: "Ledger gas spent in native units",
	})

	TreasuryBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flash_treasury_balance_native",
		Help: "Last observed treasury balance in native units",
	})

	EngineRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flash_engine_running",
		Help: "1 while the execution loop is running",
	})

	RPCRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flash_rpc_rotations_total",
		Help: "Number of RPC endpoint rotations after chain call failures",
	})

	RPCEndpointIndex = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "flash_rpc_endpoint_index",
		Help: "Index of the RPC endpoint currently in use",
	})

	RecycledUSD = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flash_recycled_usd_total",
		Help: "USD moved out of the ledger by recycle operations",
	})

	QuoterErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flash_quoter_errors_total",
		Help: "Number of quoter failures",
	})

	QuoteLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flash_quoter_latency_seconds",
		Help:    "Time to obtain a DEX round-trip quote",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(
		Trades,
		Ticks,
		TickDuration,
		TotalPnLUSD,
		GasSpentNative,
		TreasuryBalance,
		EngineRunning,
		RPCRotations,
		RPCEndpointIndex,
		RecycledUSD,
		QuoterErrors,
		QuoteLatency,
	)
}
