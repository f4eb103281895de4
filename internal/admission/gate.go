package admission

import (
	"math"
	"time"
	"tradeflow/conf"
	"tradeflow/internal/model"
	"tradeflow/pkg/metrics"
)

// 下单前的准入检查管道，按固定顺序短路执行
// 第一个失败的检查立即返回原因，后面的不再跑，也绝不触发任何场所调用
// 每个检查都是纯函数，单独可测

// Input 一次评估所需的全部输入
// Quote 是懒加载的：名义价值这类检查失败时，行情接口一次都不会被调用
type Input struct {
	Intent model.OrderIntent
	Venue  string

	FeeRateBps float64

	// 懒加载行情，由路由层注入并做记忆化
	Quote func() (model.BidAsk, error)
	// 懒加载的数量换算，依赖行情，同样只在需要时触发
	Units func() (float64, error)
	// 资金费率查询，nil 表示非衍生品场所
	FundingRate func() (float64, error)
	// 交易时段判断，nil 表示场所不限时段
	InTradingHours func(now time.Time) bool

	Now time.Time
}

// Rejection 拒绝原因
type Rejection struct {
	Check  string `json:"check"`
	Reason string `json:"reason"`
}

type CheckFunc func(cfg conf.ExecutionConfig, in *Input) *Rejection

type check struct {
	name string
	fn   CheckFunc
}

type Gate struct {
	cfg    conf.ExecutionConfig
	checks []check
}

// NewGate 按规定顺序装配检查项
func NewGate(cfg conf.ExecutionConfig) *Gate {
	return &Gate{
		cfg: cfg,
		checks: []check{
			{"kill_switch", checkKillSwitch},
			{"timeframe", checkTimeframe},
			{"notional_floor", checkNotionalFloor},
			{"expected_profit", checkExpectedProfit},
			{"risk_reward", checkRiskReward},
			{"micro_trade", checkMicroTrade},
			{"funding_ceiling", checkFundingCeiling},
			{"trading_hours", checkTradingHours},
		},
	}
}

// Evaluate 跑整条管道，nil 表示放行
func (g *Gate) Evaluate(in *Input) *Rejection {
	if in.Now.IsZero() {
		in.Now = time.Now()
	}
	for _, c := range g.checks {
		if rej := c.fn(g.cfg, in); rej != nil {
			rej.Check = c.name
			metrics.AdmissionRejects.WithLabelValues(c.name).Inc()
			return rej
		}
	}
	return nil
}

// entryPrice 统一用中间价估算入场价
func entryPrice(in *Input) (float64, bool) {
	if in.Quote == nil {
		return 0, false
	}
	q, err := in.Quote()
	if err != nil || q.Mid() <= 0 {
		return 0, false
	}
	return q.Mid(), true
}

// absUnits 懒加载数量，拿不到时调用方按无法估算处理
func absUnits(in *Input) (float64, bool) {
	if in.Units == nil {
		return 0, false
	}
	u, err := in.Units()
	if err != nil || u == 0 {
		return 0, false
	}
	return math.Abs(u), true
}
