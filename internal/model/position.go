package model

import "time"

// PositionRecord 本地持仓账本的一条记录
// 成交确认后创建，平仓确认后删除
type PositionRecord struct {
	Venue            string    `json:"venue"`
	OrderId          string    `json:"order_id"`
	TradeId          string    `json:"trade_id,omitempty"`
	NormalizedSymbol string    `json:"normalized_symbol"`
	Units            float64   `json:"units"` // 带符号
	StopLoss         float64   `json:"stop_loss"`
	TakeProfit       float64   `json:"take_profit"`
	OpenedAt         time.Time `json:"opened_at"`
}

// VenuePosition 场所侧返回的真实持仓快照，巡检以此为准
type VenuePosition struct {
	TradeId       string
	Symbol        string
	Units         float64 // 带符号
	EntryPrice    float64
	StopLoss      float64 // 0 表示没有挂止损（裸仓）
	TakeProfit    float64
	UnrealizedPnl float64
	OpenedAt      time.Time
}

// TradeClose 场所异步回调的平仓通知
type TradeClose struct {
	TradeId     string  `json:"trade_id"`
	OrderId     string  `json:"order_id"`
	Symbol      string  `json:"symbol"`
	RealizedPnl float64 `json:"realized_pnl"`
}
