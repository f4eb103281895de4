package model

// StrategyRecord 单个策略的累计战绩
// 只能通过 StrategyLedger 修改
type StrategyRecord struct {
	StrategyId    string  `json:"strategy_id"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	CumulativePnl float64 `json:"pnl"`
	LiveApproved  bool    `json:"live_approved"`
}

// Trades 累计成交笔数
func (r StrategyRecord) Trades() int {
	return r.Wins + r.Losses
}

// WinRate 胜率，没有成交时为 0
func (r StrategyRecord) WinRate() float64 {
	t := r.Trades()
	if t == 0 {
		return 0
	}
	return float64(r.Wins) / float64(t)
}
