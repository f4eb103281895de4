package venue

import (
	"context"
	"fmt"
	"sync"
	"time"
	"tradeflow/internal/model"

	"github.com/google/uuid"
)

// 模拟场所，本地联调和单元测试用
// 也是 FX 的 paper 子适配器：未晋升的策略全部路由到这里
type Simulated struct {
	name string

	mu        sync.Mutex
	prices    map[string]model.BidAsk
	candles   map[string][]model.Kline
	positions map[string]*model.VenuePosition // key: tradeId
	orders    map[string]string               // orderId -> tradeId

	callbacks []func(model.TradeClose)

	// 调用计数，按方法名统计，测试用来断言“零场所调用”
	Calls map[string]int

	// 注入故障：map[方法名]error
	Fail map[string]error

	funding map[string]float64
}

func NewSimulated(name string) *Simulated {
	return &Simulated{
		name:      name,
		prices:    make(map[string]model.BidAsk),
		candles:   make(map[string][]model.Kline),
		positions: make(map[string]*model.VenuePosition),
		orders:    make(map[string]string),
		Calls:     make(map[string]int),
		Fail:      make(map[string]error),
		funding:   make(map[string]float64),
	}
}

func (s *Simulated) Name() string { return s.name }

// SetQuote 设置某个品种的买卖价
func (s *Simulated) SetQuote(symbol string, bid, ask float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = model.BidAsk{Bid: bid, Ask: ask}
}

func (s *Simulated) SetCandles(symbol string, klines []model.Kline) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.candles[symbol] = klines
}

func (s *Simulated) SetFundingRate(symbol string, rate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.funding[symbol] = rate
}

// SeedPosition 直接塞一个持仓进去，巡检测试用
func (s *Simulated) SeedPosition(p model.VenuePosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.positions[p.TradeId] = &cp
}

func (s *Simulated) count(method string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls[method]++
	return s.Fail[method]
}

// CallTotal 所有方法的调用总数
func (s *Simulated) CallTotal() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.Calls {
		total += n
	}
	return total
}

func (s *Simulated) Connect(ctx context.Context) error {
	return s.count("Connect")
}

func (s *Simulated) GetCurrentPrice(symbol string) (float64, error) {
	if err := s.count("GetCurrentPrice"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no quote for %s", symbol)
	}
	return q.Mid(), nil
}

func (s *Simulated) GetCurrentBidAsk(symbol string) (model.BidAsk, error) {
	if err := s.count("GetCurrentBidAsk"); err != nil {
		return model.BidAsk{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.prices[symbol]
	if !ok {
		return model.BidAsk{}, fmt.Errorf("no quote for %s", symbol)
	}
	return q, nil
}

func (s *Simulated) GetCurrentSpread(symbol string) (float64, error) {
	q, err := s.GetCurrentBidAsk(symbol)
	if err != nil {
		return 0, err
	}
	return q.Spread(), nil
}

func (s *Simulated) GetCandles(symbol string, timeframe string, limit int) ([]model.Kline, error) {
	if err := s.count("GetCandles"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ks := s.candles[symbol]
	if limit > 0 && len(ks) > limit {
		ks = ks[len(ks)-limit:]
	}
	return ks, nil
}

func (s *Simulated) PlaceOrder(ctx context.Context, order *model.SanitizedOrder) (*OrderAck, error) {
	if err := s.count("PlaceOrder"); err != nil {
		return nil, err
	}
	// 模拟慢场所
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	orderId := uuid.NewString()
	tradeId := uuid.NewString()
	fill := order.EntryPrice
	if fill == 0 {
		if q, ok := s.prices[order.Symbol]; ok {
			if order.VenueUnits > 0 {
				fill = q.Ask
			} else {
				fill = q.Bid
			}
		}
	}

	s.orders[orderId] = tradeId
	s.positions[tradeId] = &model.VenuePosition{
		TradeId:    tradeId,
		Symbol:     order.Symbol,
		Units:      order.VenueUnits,
		EntryPrice: fill,
		OpenedAt:   time.Now(),
	}

	return &OrderAck{OrderId: orderId, TradeId: tradeId, FillPrice: fill}, nil
}

func (s *Simulated) CancelOrder(ctx context.Context, orderId, symbol string) error {
	if err := s.count("CancelOrder"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tradeId, ok := s.orders[orderId]
	if !ok {
		return fmt.Errorf("order not found: %s", orderId)
	}
	delete(s.orders, orderId)
	delete(s.positions, tradeId)
	return nil
}

func (s *Simulated) AttachProtection(ctx context.Context, orderId string, stop, target float64) error {
	if err := s.count("AttachProtection"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tradeId, ok := s.orders[orderId]
	if !ok {
		return fmt.Errorf("order not found: %s", orderId)
	}
	pos := s.positions[tradeId]
	pos.StopLoss = stop
	pos.TakeProfit = target
	return nil
}

func (s *Simulated) ModifyStop(ctx context.Context, tradeId string, price float64) error {
	if err := s.count("ModifyStop"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	pos, ok := s.positions[tradeId]
	if !ok {
		return fmt.Errorf("trade not found: %s", tradeId)
	}
	pos.StopLoss = price
	return nil
}

func (s *Simulated) GetOpenPositions(ctx context.Context) ([]model.VenuePosition, error) {
	if err := s.count("GetOpenPositions"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.VenuePosition
	for _, p := range s.positions {
		out = append(out, *p)
	}
	return out, nil
}

func (s *Simulated) CloseTrade(ctx context.Context, tradeId string) error {
	if err := s.count("CloseTrade"); err != nil {
		return err
	}
	s.mu.Lock()
	pos, ok := s.positions[tradeId]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("trade not found: %s", tradeId)
	}
	delete(s.positions, tradeId)
	var orderId string
	for oid, tid := range s.orders {
		if tid == tradeId {
			orderId = oid
			delete(s.orders, oid)
			break
		}
	}
	pnl := pos.UnrealizedPnl
	symbol := pos.Symbol
	callbacks := append([]func(model.TradeClose){}, s.callbacks...)
	s.mu.Unlock()

	// 回调在锁外投递，避免回调方再进来拿锁死锁
	for _, fn := range callbacks {
		fn(model.TradeClose{TradeId: tradeId, OrderId: orderId, Symbol: symbol, RealizedPnl: pnl})
	}
	return nil
}

func (s *Simulated) RegisterTradeClosedCallback(fn func(model.TradeClose)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, fn)
}

// GetFundingRate 实现 FundingRateProvider，便于在测试里模拟衍生品场所
func (s *Simulated) GetFundingRate(symbol string) (float64, error) {
	if err := s.count("GetFundingRate"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.funding[symbol], nil
}
