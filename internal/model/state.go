package model

// DailyState 当日风控状态，每次成交和巡检都会更新并立即落盘
// TradingDay 记录当前交易日，跨日后第一次巡检触发重置
type DailyState struct {
	TradingDay         string  `json:"trading_day"`
	DailyStartBalance  float64 `json:"daily_start_balance"`
	CurrentBalance     float64 `json:"current_balance"`
	OpenPositionsCount int     `json:"open_positions_count"`
	DailyPeakPnl       float64 `json:"daily_peak_pnl"`
	ProfitLockLevel    float64 `json:"profit_lock_level"`
	DailyFloor         float64 `json:"daily_floor"`
}

// PersistedState 状态账本的持久化结构，整体原子替换写入
type PersistedState struct {
	DailyState
	StrategyPerformance  map[string]StrategyPerf `json:"strategy_performance"`
	StrategyLiveApproved map[string]bool         `json:"strategy_live_approved"`
	OrderStrategyMap     map[string]string       `json:"order_strategy_map"`
}

type StrategyPerf struct {
	Wins   int     `json:"wins"`
	Losses int     `json:"losses"`
	Pnl    float64 `json:"pnl"`
}
