package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus 指标，/metrics 路由以文本格式暴露

var (
	// 路由结果计数，venue: oanda|okx|tradier|paper，result: filled|rejected|error
	OrdersRouted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_orders_routed_total",
			Help: "Routed order intents by venue and result",
		},
		[]string{"venue", "result"},
	)

	// 风控拒绝计数，按检查项
	AdmissionRejects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_admission_rejects_total",
			Help: "Admission gate rejections by check",
		},
		[]string{"check"},
	)

	// 巡检动作计数，rule: tourniquet|winner_lock|zombie，action: closed|stop_moved|none
	SentinelActions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradeflow_sentinel_actions_total",
			Help: "Position sentinel rule outcomes",
		},
		[]string{"rule", "action"},
	)

	// 当前持仓数量
	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeflow_open_positions",
			Help: "Currently registered open positions",
		},
	)

	// 当天盈亏快照
	DailyPnl = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradeflow_daily_pnl_usd",
			Help: "Realized PnL since daily reset",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersRouted,
		AdmissionRejects,
		SentinelActions,
		OpenPositions,
		DailyPnl,
	)
}
