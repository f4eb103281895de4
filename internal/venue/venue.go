package venue

import (
	"context"
	"time"
	"tradeflow/internal/model"
)

// Adapter 场所能力契约，每个场所一个实现
// 任何一个调用都可能阻塞或失败，成功必须以显式回执为准
type Adapter interface {
	Name() string

	// Connect 启动时探测连通性，失败的场所会被禁用
	Connect(ctx context.Context) error

	// 行情
	GetCurrentPrice(symbol string) (float64, error)
	GetCurrentBidAsk(symbol string) (model.BidAsk, error)
	GetCurrentSpread(symbol string) (float64, error)
	GetCandles(symbol string, timeframe string, limit int) ([]model.Kline, error)

	// 下单：裸入场单，保护单在成交确认后单独挂
	PlaceOrder(ctx context.Context, order *model.SanitizedOrder) (*OrderAck, error)
	CancelOrder(ctx context.Context, orderId, symbol string) error
	AttachProtection(ctx context.Context, orderId string, stop, target float64) error
	ModifyStop(ctx context.Context, tradeId string, price float64) error

	// 持仓
	GetOpenPositions(ctx context.Context) ([]model.VenuePosition, error)
	CloseTrade(ctx context.Context, tradeId string) error

	// RegisterTradeClosedCallback 注册平仓回调，场所在自己的 goroutine 上投递
	RegisterTradeClosedCallback(fn func(model.TradeClose))
}

// OrderAck 场所确认成交的回执
type OrderAck struct {
	OrderId   string
	TradeId   string
	FillPrice float64
}

// FundingRateProvider 可选能力：资金费率查询，仅衍生品场所实现
type FundingRateProvider interface {
	GetFundingRate(symbol string) (float64, error)
}

// TradingHoursProvider 可选能力：交易时段，全天候的场所不实现
type TradingHoursProvider interface {
	InTradingHours(now time.Time) bool
}
